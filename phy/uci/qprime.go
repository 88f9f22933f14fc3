package uci

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/nrstack/model"
)

// Resources describes what a PUSCH transmission offers UCI.
type Resources struct {
	// UCI holds M_sc^UCI(l): data REs of symbol l usable for UCI, zero on
	// DMRS symbols.
	UCI    [model.NofSymbolsPerSlot]uint32
	L0     uint32 // first symbol after the first DMRS symbols
	Layers uint32
	Qm     uint32
	R      float64
	SumKr  uint32 // sum of code block sizes; zero without UL-SCH
}

// Total returns the UCI capable REs per layer.
func (r Resources) Total() uint32 { return r.sumFrom(0) }

func (r Resources) sumFrom(l0 uint32) uint32 {
	n := uint32(0)
	for l := l0; l < model.NofSymbolsPerSlot; l++ {
		n += r.UCI[l]
	}
	return n
}

// Sizes holds the coded modulation symbols per layer for each UCI part.
// ACKRvd is the reservation taken when at most two HARQ-ACK bits are
// carried next to UL-SCH.
type Sizes struct {
	ACK    uint32
	ACKRvd uint32
	CSI1   uint32
	CSI2   uint32
}

// Bits converts a coded modulation symbol count into coded bits.
func (r Resources) Bits(q uint32) uint32 { return q * r.Layers * r.Qm }

func ceilU(v float64) uint32 { return uint32(math.Ceil(v - 1e-9)) }

// Compute derives Q'_ACK, Q'_ACK,rvd, Q'_CSI1 and Q'_CSI2 for cfg.
func Compute(cfg model.UCIConfig, res Resources) (Sizes, error) {
	if res.Layers == 0 || res.Qm == 0 {
		return Sizes{}, fmt.Errorf("%w: layers=%d qm=%d", ErrCapacity, res.Layers, res.Qm)
	}
	if res.SumKr == 0 && res.R <= 0 {
		return Sizes{}, fmt.Errorf("%w: code rate %v without UL-SCH", ErrCapacity, res.R)
	}
	alpha := cfg.Alpha
	if alpha == 0 {
		alpha = 1
	}
	total := res.Total()
	fromL0 := res.sumFrom(res.L0)
	withULSCH := res.SumKr > 0

	// scaled returns the unbounded count for o payload bits at offset beta.
	scaled := func(o uint32, beta float64) uint32 {
		if o == 0 {
			return 0
		}
		payload := float64(o + CRCLen(o))
		if withULSCH {
			return ceilU(payload * beta * float64(total) / float64(res.SumKr))
		}
		return ceilU(payload * beta / (res.R * float64(res.Qm)))
	}

	var s Sizes
	ackBound := fromL0
	if withULSCH {
		ackBound = min(fromL0, ceilU(alpha*float64(fromL0)))
	}
	s.ACK = min(scaled(cfg.NofACK, cfg.BetaACK), ackBound)
	if withULSCH && cfg.NofACK <= MaxSmall {
		s.ACKRvd = min(scaled(MaxSmall, cfg.BetaACK), ackBound)
	}
	taken := s.ACK
	if cfg.NofACK <= MaxSmall {
		taken = max(s.ACK, s.ACKRvd)
	}

	budget := total
	if withULSCH {
		budget = min(total, ceilU(alpha*float64(total)))
	}
	if taken > budget {
		return Sizes{}, fmt.Errorf("%w: HARQ-ACK needs %d of %d", ErrCapacity, taken, budget)
	}
	if cfg.NofCSI1 > 0 {
		left := budget - taken
		if withULSCH || cfg.NofCSI2 > 0 {
			s.CSI1 = min(scaled(cfg.NofCSI1, cfg.BetaCSI1), left)
		} else {
			s.CSI1 = left
		}
	}
	if cfg.NofCSI2 > 0 {
		left := budget - s.ACK - s.CSI1
		if withULSCH {
			s.CSI2 = min(scaled(cfg.NofCSI2, cfg.BetaCSI2), left)
		} else {
			s.CSI2 = left
		}
	}
	if cfg.NofCSI1 > 0 && s.CSI1 == 0 {
		return Sizes{}, fmt.Errorf("%w: no room for CSI part 1", ErrCapacity)
	}
	return s, nil
}
