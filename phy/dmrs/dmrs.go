// Package dmrs computes the demodulation reference signal layout of a PDSCH
// or PUSCH: which symbols carry DMRS, which subcarriers of those symbols are
// taken away from data, and the pilot values themselves.
package dmrs

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/nrstack/model"
)

var (
	ErrUnsupported = errors.New("dmrs: unsupported configuration")
	ErrDuration    = errors.New("dmrs: invalid duration")
)

// MaxSymbols is the largest number of DMRS symbols in a slot.
const MaxSymbols = 4

// type A, single symbol, rows indexed by ld, additional positions 0..3,
// offsets applied after l0.
var typeASingle = map[uint32][4][]uint32{
	8:  {{}, {7}, {7}, {7}},
	9:  {{}, {7}, {7}, {7}},
	10: {{}, {9}, {6, 9}, {6, 9}},
	11: {{}, {9}, {6, 9}, {6, 9}},
	12: {{}, {9}, {6, 9}, {5, 8, 11}},
	13: {{}, {11}, {7, 11}, {5, 8, 11}},
	14: {{}, {11}, {7, 11}, {5, 8, 11}},
}

// PDSCH type B, single symbol, offsets relative to the first symbol.
var pdschTypeBSingle = map[uint32][4][]uint32{
	5:  {{}, {4}, {4}, {4}},
	6:  {{}, {4}, {4}, {4}},
	7:  {{}, {4}, {4}, {4}},
	8:  {{}, {6}, {3, 6}, {3, 6}},
	9:  {{}, {7}, {4, 7}, {4, 7}},
	10: {{}, {7}, {4, 7}, {4, 7}},
	11: {{}, {8}, {4, 8}, {4, 8}},
	12: {{}, {9}, {5, 9}, {5, 9}},
	13: {{}, {9}, {5, 9}, {5, 9}},
}

// PUSCH type B, single symbol, offsets relative to the first symbol.
var puschTypeBSingle = map[uint32][4][]uint32{
	5:  {{}, {4}, {4}, {4}},
	6:  {{}, {4}, {4}, {4}},
	7:  {{}, {4}, {4}, {4}},
	8:  {{}, {6}, {3, 6}, {3, 6}},
	9:  {{}, {6}, {3, 6}, {3, 6}},
	10: {{}, {8}, {4, 8}, {3, 6, 9}},
	11: {{}, {8}, {4, 8}, {3, 6, 9}},
	12: {{}, {10}, {5, 10}, {3, 6, 9}},
	13: {{}, {10}, {5, 10}, {3, 6, 9}},
	14: {{}, {10}, {5, 10}, {3, 6, 9}},
}

func addPosIndex(p model.DMRSAddPos) int { return p.Count() }

// Symbols returns the absolute symbol indices in the slot carrying DMRS, in
// ascending order. For double-symbol DMRS both symbols of each position are
// listed.
func Symbols(cfg model.DMRSConfig, link model.Link, mapping model.MappingType, s, l uint32) ([]uint32, error) {
	if l == 0 || s+l > model.NofSymbolsPerSlot {
		return nil, fmt.Errorf("%w: S=%d L=%d", ErrDuration, s, l)
	}
	if cfg.AddPos == model.DMRSAddPos3 && cfg.TypeAPos != model.DMRSTypeAPos2 && mapping == model.MappingTypeA {
		return nil, fmt.Errorf("%w: additional position 3 requires type A position 2", ErrUnsupported)
	}

	var l0, ld uint32
	if mapping == model.MappingTypeA {
		l0 = cfg.TypeAPos.Symbol()
		ld = s + l
		if ld <= l0 {
			return nil, fmt.Errorf("%w: type A duration %d before l0=%d", ErrDuration, ld, l0)
		}
	} else {
		l0 = 0
		ld = l
	}

	var offsets []uint32
	if cfg.Length == model.DMRSLength2 {
		offsets = doubleSymbolOffsets(ld, cfg.AddPos)
	} else {
		var table map[uint32][4][]uint32
		switch {
		case mapping == model.MappingTypeA:
			table = typeASingle
		case link == model.Downlink:
			table = pdschTypeBSingle
			if ld > 13 {
				return nil, fmt.Errorf("%w: PDSCH type B length %d", ErrDuration, ld)
			}
		default:
			table = puschTypeBSingle
		}
		if row, ok := table[ld]; ok {
			offsets = row[addPosIndex(cfg.AddPos)]
		}
	}

	base := uint32(0)
	if mapping == model.MappingTypeB {
		base = s
	}
	out := make([]uint32, 0, 2*MaxSymbols)
	out = append(out, base+l0)
	if cfg.Length == model.DMRSLength2 {
		out = append(out, base+l0+1)
	}
	for _, off := range offsets {
		out = append(out, base+off)
		if cfg.Length == model.DMRSLength2 {
			out = append(out, base+off+1)
		}
	}
	for _, sym := range out {
		if sym < s || sym >= s+l {
			return nil, fmt.Errorf("%w: DMRS symbol %d outside [%d,%d)", ErrDuration, sym, s, s+l)
		}
	}
	return out, nil
}

func doubleSymbolOffsets(ld uint32, pos model.DMRSAddPos) []uint32 {
	if pos == model.DMRSAddPos0 {
		return nil
	}
	switch {
	case ld >= 13:
		return []uint32{10}
	case ld >= 10:
		return []uint32{8}
	}
	return nil
}

// SymbolMask returns a per-symbol flag for the DMRS symbols.
func SymbolMask(symbols []uint32) [model.NofSymbolsPerSlot]bool {
	var m [model.NofSymbolsPerSlot]bool
	for _, s := range symbols {
		m[s] = true
	}
	return m
}

// REPerPRBPerGroup returns the number of DMRS REs a CDM group occupies in
// one PRB of one symbol.
func REPerPRBPerGroup(t model.DMRSType) uint32 {
	if t == model.DMRSType2 {
		return 4
	}
	return 6
}

// MaxCDMGroups returns the number of CDM groups the DMRS type defines.
func MaxCDMGroups(t model.DMRSType) uint32 {
	if t == model.DMRSType2 {
		return 3
	}
	return 2
}

// CDMGroup returns the CDM group of subcarrier k (0..11) inside a PRB.
func CDMGroup(t model.DMRSType, k uint32) uint32 {
	if t == model.DMRSType2 {
		return (k % 6) / 2
	}
	return k % 2
}

// IsDMRSRE reports whether subcarrier k of a PRB in a DMRS symbol is not
// available for data given the number of CDM groups without data.
func IsDMRSRE(t model.DMRSType, cdmGroups, k uint32) bool {
	return CDMGroup(t, k) < cdmGroups
}

// NofREPerPRB returns the DMRS overhead per PRB over the whole allocation.
func NofREPerPRB(t model.DMRSType, cdmGroups uint32, nofSymbols int) uint32 {
	return REPerPRBPerGroup(t) * cdmGroups * uint32(nofSymbols)
}

// DefaultCDMGroups is the number of CDM groups without data assumed for
// fallback DCI formats.
func DefaultCDMGroups(link model.Link, mapping model.MappingType, l uint32) uint32 {
	if link == model.Downlink && mapping == model.MappingTypeB && l == 2 {
		return 1
	}
	return 2
}
