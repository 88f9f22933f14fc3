package ra

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/nrstack/model"
)

// HARQ-ACK beta offsets, indexes 16..31 reserved.
var betaACKTable = [16]float64{
	1.000, 2.000, 2.500, 3.125, 4.000, 5.000, 6.250, 8.000,
	10.000, 12.625, 15.875, 20.000, 31.000, 50.000, 80.000, 126.000,
}

// CSI beta offsets, indexes 19..31 reserved.
var betaCSITable = [19]float64{
	1.125, 1.250, 1.375, 1.625, 1.750, 2.000, 2.250, 2.500, 2.875, 3.125,
	3.500, 4.000, 5.000, 6.250, 8.000, 10.000, 12.625, 15.875, 20.000,
}

func fixed(v float64) bool { return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) }

// BetaACK returns the HARQ-ACK beta offset for nofACK bits. A fixed value
// takes precedence over the index tables.
func BetaACK(b model.BetaOffsets, nofACK uint32) (float64, error) {
	if fixed(b.FixACK) {
		return b.FixACK, nil
	}
	idx := b.ACKIndex1
	if nofACK > 2 {
		idx = b.ACKIndex2
	}
	if nofACK > 11 {
		idx = b.ACKIndex3
	}
	if idx >= uint32(len(betaACKTable)) {
		return 0, fmt.Errorf("%w: HARQ-ACK index %d", ErrInvalidBeta, idx)
	}
	return betaACKTable[idx], nil
}

func betaCSI(fix float64, idx1, idx2, nofCSI uint32) (float64, error) {
	if fixed(fix) {
		return fix, nil
	}
	idx := idx1
	if nofCSI > 11 {
		idx = idx2
	}
	if idx >= uint32(len(betaCSITable)) {
		return 0, fmt.Errorf("%w: CSI index %d", ErrInvalidBeta, idx)
	}
	return betaCSITable[idx], nil
}

// BetaCSI1 returns the CSI part 1 beta offset for nofCSI bits.
func BetaCSI1(b model.BetaOffsets, nofCSI uint32) (float64, error) {
	return betaCSI(b.FixCSI1, b.CSI1Index1, b.CSI1Index2, nofCSI)
}

// BetaCSI2 returns the CSI part 2 beta offset for nofCSI bits.
func BetaCSI2(b model.BetaOffsets, nofCSI uint32) (float64, error) {
	return betaCSI(b.FixCSI2, b.CSI2Index1, b.CSI2Index2, nofCSI)
}

// Alpha returns the configured scaling, 1 when unset.
func Alpha(hl *model.SchHLConfig) (float64, error) {
	switch hl.Scaling {
	case 0:
		return 1, nil
	case 0.5, 0.65, 0.8, 1:
		return hl.Scaling, nil
	}
	return 0, fmt.Errorf("%w: scaling %v", ErrUnsupported, hl.Scaling)
}

// SetULGrantUCI fills the UCI part of a PUSCH configuration for the given
// payload sizes.
func SetULGrantUCI(hl *model.SchHLConfig, cfg *model.SchCfg, nofACK, nofCSI1, nofCSI2 uint32) error {
	var b model.BetaOffsets
	if hl.BetaOffsets != nil {
		b = *hl.BetaOffsets
	}
	u := model.UCIConfig{NofACK: nofACK, NofCSI1: nofCSI1, NofCSI2: nofCSI2}
	var err error
	if u.Alpha, err = Alpha(hl); err != nil {
		return err
	}
	if nofACK > 0 {
		if u.BetaACK, err = BetaACK(b, nofACK); err != nil {
			return err
		}
	}
	if nofCSI1 > 0 {
		if u.BetaCSI1, err = BetaCSI1(b, nofCSI1); err != nil {
			return err
		}
	}
	if nofCSI2 > 0 {
		if u.BetaCSI2, err = BetaCSI2(b, nofCSI2); err != nil {
			return err
		}
	}
	cfg.UCI = u
	return nil
}
