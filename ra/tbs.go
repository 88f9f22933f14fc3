package ra

import (
	"fmt"
	"math"
	"sort"
)

// tbsTable holds the transport block sizes for N_info <= 3824.
var tbsTable = [93]uint32{
	24, 32, 40, 48, 56, 64, 72, 80, 88, 96, 104, 112, 120, 128, 136, 144, 152, 160, 168, 176,
	184, 192, 208, 224, 240, 256, 272, 288, 304, 320, 336, 352, 368, 384, 408, 432, 456, 480,
	504, 528, 552, 576, 608, 640, 672, 704, 736, 768, 808, 848, 888, 928, 984, 1032, 1064, 1128,
	1160, 1192, 1224, 1256, 1288, 1320, 1352, 1416, 1480, 1544, 1608, 1672, 1736, 1800, 1864,
	1928, 2024, 2088, 2152, 2216, 2280, 2408, 2472, 2536, 2600, 2664, 2728, 2792, 2856, 2976,
	3104, 3240, 3368, 3496, 3624, 3752, 3824,
}

const (
	tbsSmallMax   = 3824
	tbsLowRate    = 0.25
	tbsSegSize    = 8424
	tbsLowRateSeg = 3816
)

// MaxNRE is the cap on data REs per PRB used for TBS.
const MaxNRE = 156

// TBSParams are the inputs of the transport block size computation.
type TBSParams struct {
	NRE     uint32  // data REs over the whole allocation
	Scaling float64 // S; 1 when zero
	R       float64 // target code rate
	Qm      uint32
	Layers  uint32
}

// NInfo returns the intermediate number of information bits.
func (p TBSParams) NInfo() float64 {
	s := p.Scaling
	if s == 0 {
		s = 1
	}
	return float64(p.NRE) * s * p.R * float64(p.Qm) * float64(p.Layers)
}

// TBS computes the transport block size in bits.
func TBS(p TBSParams) (uint32, error) {
	if p.NRE == 0 || p.R <= 0 || p.R >= 1 || p.Qm == 0 || p.Layers == 0 {
		return 0, fmt.Errorf("%w: %+v", ErrInvalidTBS, p)
	}
	ninfo := p.NInfo()
	if ninfo <= tbsSmallMax {
		n := max(3, int(math.Floor(math.Log2(ninfo)))-6)
		q := math.Exp2(float64(n))
		np := uint32(max(24, q*math.Floor(ninfo/q)))
		i := sort.Search(len(tbsTable), func(i int) bool { return tbsTable[i] >= np })
		if i == len(tbsTable) {
			return tbsTable[len(tbsTable)-1], nil
		}
		return tbsTable[i], nil
	}

	n := int(math.Floor(math.Log2(ninfo-24))) - 5
	q := math.Exp2(float64(n))
	np := max(3840, q*math.Round((ninfo-24)/q))
	var c float64
	switch {
	case p.R <= tbsLowRate:
		c = math.Ceil((np + 24) / tbsLowRateSeg)
	case np > tbsSegSize:
		c = math.Ceil((np + 24) / tbsSegSize)
	default:
		c = 1
	}
	return uint32(8*c*math.Ceil((np+24)/(8*c)) - 24), nil
}

// NofREForTBS returns the N_RE used for TBS: the per-PRB data REs capped at
// 156, times the PRB count, minus REs removed by reserved patterns.
func NofREForTBS(nofPRB, l, dmrsPerPRB, xOverhead, reserved uint32) uint32 {
	perPRB := int(12*l) - int(dmrsPerPRB) - int(xOverhead)
	if perPRB <= 0 {
		return 0
	}
	n := uint32(min(perPRB, MaxNRE)) * nofPRB
	if reserved >= n {
		return 0
	}
	return n - reserved
}
