package ra

import (
	"fmt"

	"github.com/signalsfoundry/nrstack/model"
)

// CQIEntry is one row of a CQI table.
type CQIEntry struct {
	Mod   model.Modulation
	R1024 float64
	SE    float64 // spectral efficiency
}

var (
	qpsk   = model.ModulationQPSK
	qam16  = model.ModulationQAM16
	qam64  = model.ModulationQAM64
	qam256 = model.ModulationQAM256
)

// Index 0 is "out of range" and is never returned.
var cqiTables = map[model.CQITable][16]CQIEntry{
	model.CQITable1: {
		{},
		{qpsk, 78, 0.1523}, {qpsk, 120, 0.2344}, {qpsk, 193, 0.3770}, {qpsk, 308, 0.6016},
		{qpsk, 449, 0.8770}, {qpsk, 602, 1.1758}, {qam16, 378, 1.4766}, {qam16, 490, 1.9141},
		{qam16, 616, 2.4063}, {qam64, 466, 2.7305}, {qam64, 567, 3.3223}, {qam64, 666, 3.9023},
		{qam64, 772, 4.5234}, {qam64, 873, 5.1152}, {qam64, 948, 5.5547},
	},
	model.CQITable2: {
		{},
		{qpsk, 78, 0.1523}, {qpsk, 193, 0.3770}, {qpsk, 449, 0.8770}, {qam16, 378, 1.4766},
		{qam16, 490, 1.9141}, {qam16, 616, 2.4063}, {qam64, 466, 2.7305}, {qam64, 567, 3.3223},
		{qam64, 666, 3.9023}, {qam64, 772, 4.5234}, {qam64, 873, 5.1152}, {qam256, 711, 5.5547},
		{qam256, 797, 6.2266}, {qam256, 885, 6.9141}, {qam256, 948, 7.4063},
	},
	model.CQITable3: {
		{},
		{qpsk, 30, 0.0586}, {qpsk, 50, 0.0977}, {qpsk, 78, 0.1523}, {qpsk, 120, 0.2344},
		{qpsk, 193, 0.3770}, {qpsk, 308, 0.6016}, {qpsk, 449, 0.8770}, {qpsk, 602, 1.1758},
		{qam16, 378, 1.4766}, {qam16, 490, 1.9141}, {qam16, 616, 2.4063}, {qam64, 466, 2.7305},
		{qam64, 567, 3.3223}, {qam64, 666, 3.9023}, {qam64, 772, 4.5234},
	},
}

// CQI to MCS index for the matching CQI/MCS table pair; -1 marks CQI 0.
var cqiToMCS = map[model.CQITable][16]int{
	model.CQITable1: {-1, 0, 0, 2, 4, 6, 8, 11, 13, 15, 18, 20, 22, 24, 26, 28},
	model.CQITable2: {-1, 0, 1, 3, 5, 7, 9, 11, 13, 15, 17, 19, 21, 23, 25, 27},
	model.CQITable3: {-1, 0, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28},
}

// MCSTableForCQI returns the MCS table paired with a CQI table.
func MCSTableForCQI(t model.CQITable) model.MCSTable {
	switch t {
	case model.CQITable2:
		return model.MCSTable2
	case model.CQITable3:
		return model.MCSTable3
	}
	return model.MCSTable1
}

// CQIInfo returns row cqi of table.
func CQIInfo(table model.CQITable, cqi uint32) (CQIEntry, error) {
	t, ok := cqiTables[table]
	if !ok {
		return CQIEntry{}, fmt.Errorf("%w: cqi table %d", ErrInvalidTable, int(table))
	}
	if cqi == 0 || cqi > 15 {
		return CQIEntry{}, fmt.Errorf("%w: %d", ErrInvalidCQI, cqi)
	}
	return t[cqi], nil
}

// CQIToMCS maps a reported CQI to an MCS index of the paired MCS table.
func CQIToMCS(table model.CQITable, cqi uint32) (uint32, error) {
	if _, err := CQIInfo(table, cqi); err != nil {
		return 0, err
	}
	return uint32(cqiToMCS[table][cqi]), nil
}

// CQIToSE returns the spectral efficiency of a CQI.
func CQIToSE(table model.CQITable, cqi uint32) (float64, error) {
	e, err := CQIInfo(table, cqi)
	if err != nil {
		return 0, err
	}
	return e.SE, nil
}

// SEToCQI returns the highest CQI whose spectral efficiency does not exceed
// se, or 0 when even CQI 1 is too high.
func SEToCQI(table model.CQITable, se float64) uint32 {
	t, ok := cqiTables[table]
	if !ok {
		return 0
	}
	best := uint32(0)
	for i := uint32(1); i < 16; i++ {
		if t[i].SE <= se {
			best = i
		}
	}
	return best
}

// SEToMCS returns the highest non-reserved MCS index of table whose spectral
// efficiency does not exceed se; index 0 when none does.
func SEToMCS(table model.MCSTable, se float64) (uint32, error) {
	t, ok := mcsTables[table]
	if !ok {
		return 0, fmt.Errorf("%w: mcs table %d", ErrInvalidTable, int(table))
	}
	best := uint32(0)
	for i, e := range t {
		if !e.Reserved && e.SE() <= se {
			best = uint32(i)
		}
	}
	return best, nil
}
