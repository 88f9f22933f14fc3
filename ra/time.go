package ra

import (
	"fmt"

	"github.com/signalsfoundry/nrstack/model"
)

// TimeAlloc is a resolved time domain allocation.
type TimeAlloc struct {
	K       uint32
	S       uint32
	L       uint32
	Mapping model.MappingType
}

// Default PDSCH time domain table A, indexed by row, for dmrs-TypeA-Position
// pos2 and pos3.
var (
	pdschDefaultAMapping = [16]model.MappingType{
		model.MappingTypeA, model.MappingTypeA, model.MappingTypeA, model.MappingTypeA, model.MappingTypeA,
		model.MappingTypeB, model.MappingTypeB, model.MappingTypeB, model.MappingTypeB, model.MappingTypeB,
		model.MappingTypeB, model.MappingTypeA, model.MappingTypeA, model.MappingTypeA, model.MappingTypeB,
		model.MappingTypeB,
	}
	pdschDefaultAS2 = [16]uint32{2, 2, 2, 2, 2, 9, 4, 5, 5, 9, 12, 1, 1, 2, 4, 8}
	pdschDefaultAL2 = [16]uint32{12, 10, 9, 7, 5, 4, 4, 7, 2, 2, 2, 13, 6, 4, 7, 4}
	pdschDefaultAS3 = [16]uint32{3, 3, 3, 3, 3, 10, 6, 5, 5, 9, 12, 1, 1, 2, 4, 8}
	pdschDefaultAL3 = [16]uint32{11, 9, 8, 6, 4, 4, 4, 7, 2, 2, 2, 13, 6, 4, 7, 4}
)

// Default PUSCH time domain table A. kOffset is added to j.
var puschDefaultA = [16]struct {
	mapping model.MappingType
	kOffset uint32
	s, l    uint32
}{
	{model.MappingTypeA, 0, 0, 14},
	{model.MappingTypeA, 0, 0, 12},
	{model.MappingTypeA, 0, 0, 10},
	{model.MappingTypeB, 0, 2, 10},
	{model.MappingTypeB, 0, 4, 10},
	{model.MappingTypeB, 0, 4, 8},
	{model.MappingTypeB, 0, 4, 6},
	{model.MappingTypeA, 1, 0, 14},
	{model.MappingTypeA, 1, 0, 12},
	{model.MappingTypeA, 1, 0, 10},
	{model.MappingTypeA, 2, 0, 14},
	{model.MappingTypeA, 2, 0, 12},
	{model.MappingTypeA, 2, 0, 10},
	{model.MappingTypeB, 0, 8, 6},
	{model.MappingTypeA, 3, 0, 14},
	{model.MappingTypeA, 3, 0, 10},
}

// SLIVToSL decodes a start and length indicator.
func SLIVToSL(sliv uint32) (s, l uint32) {
	const n = model.NofSymbolsPerSlot
	low, high := sliv%n, sliv/n
	if high+1+low <= n {
		return low, high + 1
	}
	return n - 1 - low, n - high + 1
}

// SLToSLIV encodes S and L, the inverse of SLIVToSL.
func SLToSLIV(s, l uint32) uint32 {
	const n = model.NofSymbolsPerSlot
	if l-1 <= 7 {
		return n*(l-1) + s
	}
	return n*(n-l+1) + (n - 1 - s)
}

// PDSCHDefaultA returns row m of default table A.
func PDSCHDefaultA(typeAPos model.DMRSTypeAPos, m uint32) (TimeAlloc, error) {
	if m >= 16 {
		return TimeAlloc{}, fmt.Errorf("%w: default A row %d", ErrInvalidTimeAlloc, m)
	}
	ta := TimeAlloc{Mapping: pdschDefaultAMapping[m]}
	if typeAPos == model.DMRSTypeAPos3 {
		ta.S, ta.L = pdschDefaultAS3[m], pdschDefaultAL3[m]
	} else {
		ta.S, ta.L = pdschDefaultAS2[m], pdschDefaultAL2[m]
	}
	return ta, nil
}

// PUSCHDefaultA returns row m of default table A for numerology mu.
func PUSCHDefaultA(mu, m uint32) (TimeAlloc, error) {
	if m >= 16 {
		return TimeAlloc{}, fmt.Errorf("%w: default A row %d", ErrInvalidTimeAlloc, m)
	}
	var j uint32
	switch mu {
	case 0, 1:
		j = 1
	case 2:
		j = 2
	case 3:
		j = 3
	default:
		return TimeAlloc{}, fmt.Errorf("%w: numerology %d", ErrUnsupported, mu)
	}
	row := puschDefaultA[m]
	return TimeAlloc{K: j + row.kOffset, S: row.s, L: row.l, Mapping: row.mapping}, nil
}

func fromList(list []model.TimeAlloc, m uint32) (TimeAlloc, error) {
	if m >= uint32(len(list)) {
		return TimeAlloc{}, fmt.Errorf("%w: row %d of %d", ErrInvalidTimeAlloc, m, len(list))
	}
	row := list[m]
	s, l := SLIVToSL(row.SLIV)
	return TimeAlloc{K: row.K, S: s, L: l, Mapping: row.Mapping}, nil
}

// useDefaultA reports whether default table A applies regardless of the
// configured lists: SI-RNTI in the type0 common search space.
func useDefaultA(rnti model.RNTIType, ss model.SearchSpaceType) bool {
	return rnti == model.RNTITypeSI && ss == model.SearchSpaceCommon0
}

// listFor picks the dedicated list for UE traffic outside the CORESET 0
// search spaces, otherwise the common list.
func listFor(hl *model.SchHLConfig, rnti model.RNTIType, ss model.SearchSpaceType) []model.TimeAlloc {
	ueTraffic := rnti == model.RNTITypeC || rnti == model.RNTITypeMCSC || rnti == model.RNTITypeCS ||
		rnti == model.RNTITypeSPCSI
	if ueTraffic && (ss == model.SearchSpaceUE || ss == model.SearchSpaceCommon3) && len(hl.DedicatedTime) > 0 {
		return hl.DedicatedTime
	}
	return hl.CommonTime
}

// PDSCHTime resolves row m of the PDSCH time domain allocation.
func PDSCHTime(hl *model.SchHLConfig, rnti model.RNTIType, ss model.SearchSpaceType, m uint32) (TimeAlloc, error) {
	var (
		ta  TimeAlloc
		err error
	)
	if list := listFor(hl, rnti, ss); !useDefaultA(rnti, ss) && len(list) > 0 {
		ta, err = fromList(list, m)
	} else {
		ta, err = PDSCHDefaultA(hl.TypeAPos, m)
	}
	if err != nil {
		return TimeAlloc{}, err
	}
	return ta, validateTime(model.Downlink, ta)
}

// PUSCHTime resolves row m of the PUSCH time domain allocation.
func PUSCHTime(hl *model.SchHLConfig, mu uint32, rnti model.RNTIType, ss model.SearchSpaceType, m uint32) (TimeAlloc, error) {
	var (
		ta  TimeAlloc
		err error
	)
	if list := listFor(hl, rnti, ss); len(list) > 0 {
		ta, err = fromList(list, m)
	} else {
		ta, err = PUSCHDefaultA(mu, m)
	}
	if err != nil {
		return TimeAlloc{}, err
	}
	return ta, validateTime(model.Uplink, ta)
}

func validateTime(link model.Link, ta TimeAlloc) error {
	if ta.L == 0 || ta.S+ta.L > model.NofSymbolsPerSlot {
		return fmt.Errorf("%w: S=%d L=%d", ErrInvalidTimeAlloc, ta.S, ta.L)
	}
	if ta.Mapping == model.MappingTypeA {
		minL := uint32(3)
		if link == model.Uplink {
			minL = 4
		}
		if ta.L < minL || (link == model.Downlink && ta.S > 3) {
			return fmt.Errorf("%w: type A S=%d L=%d", ErrInvalidTimeAlloc, ta.S, ta.L)
		}
	}
	return nil
}
