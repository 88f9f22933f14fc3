package ra

import (
	"fmt"

	"github.com/signalsfoundry/nrstack/model"
)

// MCSEntry is one row of an MCS index table.
type MCSEntry struct {
	Mod      model.Modulation
	R1024    float64 // target code rate x 1024
	Reserved bool    // retransmission only, rate taken from the initial TB
}

// R returns the target code rate.
func (e MCSEntry) R() float64 { return e.R1024 / 1024 }

// SE returns the spectral efficiency Qm * R.
func (e MCSEntry) SE() float64 { return float64(e.Mod.BitsPerSymbol()) * e.R() }

func rows(mod model.Modulation, rates ...float64) []MCSEntry {
	out := make([]MCSEntry, len(rates))
	for i, r := range rates {
		out[i] = MCSEntry{Mod: mod, R1024: r}
	}
	return out
}

func reserved(mods ...model.Modulation) []MCSEntry {
	out := make([]MCSEntry, len(mods))
	for i, m := range mods {
		out[i] = MCSEntry{Mod: m, Reserved: true}
	}
	return out
}

func concat(parts ...[]MCSEntry) []MCSEntry {
	var out []MCSEntry
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var mcsTables = map[model.MCSTable][]MCSEntry{
	model.MCSTable1: concat(
		rows(model.ModulationQPSK, 120, 157, 193, 251, 308, 379, 449, 526, 602, 679),
		rows(model.ModulationQAM16, 340, 378, 434, 490, 553, 616, 658),
		rows(model.ModulationQAM64, 438, 466, 517, 567, 616, 666, 719, 772, 822, 873, 910, 948),
		reserved(model.ModulationQPSK, model.ModulationQAM16, model.ModulationQAM64),
	),
	model.MCSTable2: concat(
		rows(model.ModulationQPSK, 120, 193, 308, 449, 602),
		rows(model.ModulationQAM16, 378, 434, 490, 553, 616, 658),
		rows(model.ModulationQAM64, 466, 517, 567, 616, 666, 719, 772, 822, 873),
		rows(model.ModulationQAM256, 682.5, 711, 754, 797, 841, 885, 916.5, 948),
		reserved(model.ModulationQPSK, model.ModulationQAM16, model.ModulationQAM64, model.ModulationQAM256),
	),
	model.MCSTable3: concat(
		rows(model.ModulationQPSK, 30, 40, 50, 64, 78, 99, 120, 157, 193, 251, 308, 379, 449, 526, 602),
		rows(model.ModulationQAM16, 340, 378, 434, 490, 553, 616),
		rows(model.ModulationQAM64, 438, 466, 517, 567, 616, 666, 719, 772),
		reserved(model.ModulationQPSK, model.ModulationQAM16, model.ModulationQAM64),
	),
}

// MCSInfo returns row idx of table.
func MCSInfo(table model.MCSTable, idx uint32) (MCSEntry, error) {
	t, ok := mcsTables[table]
	if !ok {
		return MCSEntry{}, fmt.Errorf("%w: mcs table %d", ErrInvalidTable, int(table))
	}
	if idx >= uint32(len(t)) {
		return MCSEntry{}, fmt.Errorf("%w: index %d in %s", ErrInvalidMCS, idx, table)
	}
	return t[idx], nil
}

// MaxMCS returns the highest non-reserved index of table.
func MaxMCS(table model.MCSTable) uint32 {
	t := mcsTables[table]
	for i := len(t) - 1; i >= 0; i-- {
		if !t[i].Reserved {
			return uint32(i)
		}
	}
	return 0
}

// SelectMCSTable picks the MCS table for a grant. The checks run in a fixed
// order; the first match wins.
func SelectMCSTable(link model.Link, cfg model.MCSTableConfig, format model.DCIFormat,
	ss model.SearchSpaceType, rnti model.RNTIType) model.MCSTable {
	cRNTI := rnti == model.RNTITypeC
	if link == model.Uplink {
		cRNTI = cRNTI || rnti == model.RNTITypeSPCSI
	}
	scheduling := model.DCIFormat11
	if link == model.Uplink {
		scheduling = model.DCIFormat01
	}

	switch {
	case cfg == model.MCSTableConfigQAM256 && format == scheduling && cRNTI:
		return model.MCSTable2
	case cfg == model.MCSTableConfigQAM64LowSE && ss == model.SearchSpaceUE && cRNTI:
		return model.MCSTable3
	case rnti == model.RNTITypeMCSC:
		return model.MCSTable3
	}
	return model.MCSTable1
}
