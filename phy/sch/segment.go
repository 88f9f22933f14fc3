// Package sch implements the transport channel processing shared by DL-SCH
// and UL-SCH: transport block CRC, code block segmentation, rate matching
// lengths and bit interleaving around an external channel coder.
package sch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/signalsfoundry/nrstack/phy/crc"
)

var (
	ErrTBSize = errors.New("sch: payload size does not match TBS")
	ErrLength = errors.New("sch: buffer length mismatch")
	ErrParams = errors.New("sch: invalid parameters")
)

const (
	maxCBSizeBG1 = 8448
	maxCBSizeBG2 = 3840
	cbCRCLen     = 24
)

// liftingSizes lists every Zc of TS 38.212 Table 5.3.2-1 in ascending order.
var liftingSizes = func() []int {
	var out []int
	for _, a := range []int{2, 3, 5, 7, 9, 11, 13, 15} {
		for z := a; z <= 384; z *= 2 {
			out = append(out, z)
		}
	}
	slices.Sort(out)
	return out
}()

// BaseGraph selects the LDPC base graph for a transport block of tbs bits
// and target code rate r.
func BaseGraph(tbs uint32, r float64) int {
	if tbs <= 292 || (tbs <= 3824 && r <= 0.67) || r <= 0.25 {
		return 2
	}
	return 1
}

// TBCRC returns the transport block CRC for tbs bits.
func TBCRC(tbs uint32) *crc.CRC {
	if tbs > 3824 {
		return crc.CRC24A
	}
	return crc.CRC16
}

// Segmentation is the code block segmentation of one transport block.
type Segmentation struct {
	TBS       uint32
	BaseGraph int
	L         int // transport block CRC length
	B         int // TBS + L
	C         int // number of code blocks
	CBCRC     int // code block CRC length, 0 for a single block
	KPrime    int // bits per code block, CRC included
	K         int // bits per code block, filler included
	Zc        int
}

// Filler returns the number of filler bits per code block.
func (s Segmentation) Filler() int { return s.K - s.KPrime }

// InfoBits returns the transport block bits carried by each code block.
func (s Segmentation) InfoBits() int { return s.KPrime - s.CBCRC }

func (s Segmentation) String() string {
	return fmt.Sprintf("tbs=%d bg=%d C=%d K'=%d K=%d Zc=%d", s.TBS, s.BaseGraph, s.C, s.KPrime, s.K, s.Zc)
}

// Segment computes the segmentation of a transport block of tbs bits.
func Segment(tbs uint32, r float64) (Segmentation, error) {
	if tbs == 0 {
		return Segmentation{}, fmt.Errorf("%w: empty transport block", ErrParams)
	}
	s := Segmentation{TBS: tbs, BaseGraph: BaseGraph(tbs, r), L: TBCRC(tbs).Order()}
	s.B = int(tbs) + s.L

	kcb := maxCBSizeBG1
	if s.BaseGraph == 2 {
		kcb = maxCBSizeBG2
	}
	bPrime := s.B
	s.C = 1
	if s.B > kcb {
		s.CBCRC = cbCRCLen
		s.C = (s.B + kcb - cbCRCLen - 1) / (kcb - cbCRCLen)
		bPrime = s.B + s.C*cbCRCLen
	}
	if bPrime%s.C != 0 {
		return Segmentation{}, fmt.Errorf("%w: %d bits do not split into %d blocks", ErrParams, bPrime, s.C)
	}
	s.KPrime = bPrime / s.C

	kb := 22
	if s.BaseGraph == 2 {
		switch {
		case s.B > 640:
			kb = 10
		case s.B > 560:
			kb = 9
		case s.B > 192:
			kb = 8
		default:
			kb = 6
		}
	}
	for _, z := range liftingSizes {
		if kb*z >= s.KPrime {
			s.Zc = z
			break
		}
	}
	if s.Zc == 0 {
		return Segmentation{}, fmt.Errorf("%w: no lifting size for K'=%d", ErrParams, s.KPrime)
	}
	s.K = 22 * s.Zc
	if s.BaseGraph == 2 {
		s.K = 10 * s.Zc
	}
	return s, nil
}

// RateMatchLengths splits g coded bits over c code blocks. Every length is a
// multiple of layers*qm and the longer blocks come last.
func RateMatchLengths(g, layers, qm uint32, c int) []int {
	out := make([]int, c)
	if c == 0 {
		return out
	}
	unit := int(layers * qm)
	if unit == 0 {
		return out
	}
	groups := int(g) / unit
	short := groups / c
	for r := range out {
		if r <= c-groups%c-1 {
			out[r] = unit * short
		} else {
			out[r] = unit * (short + 1)
		}
	}
	return out
}

// Interleave writes the bit interleaved form of e into f: row i of a Qm row
// matrix filled row by row is read column by column.
func Interleave(e []uint8, qm int, f []uint8) {
	cols := len(e) / qm
	for j := 0; j < cols; j++ {
		for i := 0; i < qm; i++ {
			f[i+j*qm] = e[i*cols+j]
		}
	}
}

// Deinterleave reverses Interleave on soft bits.
func Deinterleave(f []float32, qm int, e []float32) {
	cols := len(f) / qm
	for j := 0; j < cols; j++ {
		for i := 0; i < qm; i++ {
			e[i*cols+j] = f[i+j*qm]
		}
	}
}
