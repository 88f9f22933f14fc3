// Package uci encodes and decodes uplink control information carried on
// PUSCH and computes how many coded modulation symbols each UCI part gets.
package uci

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/nrstack/phy/crc"
	"github.com/signalsfoundry/nrstack/phy/seq"
)

var (
	ErrSize     = errors.New("uci: unsupported payload size")
	ErrRate     = errors.New("uci: too few coded bits")
	ErrCapacity = errors.New("uci: PUSCH resources exhausted")
)

// MaxSmall is the largest payload coded with the repetition code that
// uses placeholder bits.
const MaxSmall = 2

// Positions of the small code pattern that do not carry a coded bit.
const (
	patY int8 = -1
	patX int8 = -2
)

// smallPattern returns the coded sequence for o bits at modulation order qm,
// each entry being the index of the coded bit it carries or a marker.
func smallPattern(o int, qm uint32) []int8 {
	n := int(qm)
	if o == 1 {
		out := []int8{0}
		if n >= 2 {
			out = append(out, patY)
		}
		for i := 2; i < n; i++ {
			out = append(out, patX)
		}
		return out
	}
	if n == 1 {
		return []int8{0, 1, 2}
	}
	out := make([]int8, 0, 3*n)
	for _, pair := range [3][2]int8{{0, 1}, {2, 0}, {1, 2}} {
		out = append(out, pair[0], pair[1])
		for i := 2; i < n; i++ {
			out = append(out, patX)
		}
	}
	return out
}

func smallCoded(bits []uint8) [3]uint8 {
	var c [3]uint8
	c[0] = bits[0] & 1
	if len(bits) == 2 {
		c[1] = bits[1] & 1
		c[2] = c[0] ^ c[1]
	}
	return c
}

// EncodeSmall codes one or two bits into e, writing seq.Placeholder and
// seq.Repetition markers where the code leaves positions to the scrambler.
func EncodeSmall(bits []uint8, qm uint32, e []uint8) error {
	if len(bits) == 0 || len(bits) > MaxSmall {
		return fmt.Errorf("%w: %d bits for the small code", ErrSize, len(bits))
	}
	if len(e) < len(bits) {
		return fmt.Errorf("%w: %d coded bits for %d", ErrRate, len(e), len(bits))
	}
	pat := smallPattern(len(bits), qm)
	c := smallCoded(bits)
	for i := range e {
		switch p := pat[i%len(pat)]; p {
		case patX:
			e[i] = seq.Placeholder
		case patY:
			e[i] = seq.Repetition
		default:
			e[i] = c[p]
		}
	}
	return nil
}

// DecodeSmall picks the most likely one or two bit payload given soft bits
// coded by EncodeSmall. Marker positions are ignored.
func DecodeSmall(llr []float32, qm uint32, out []uint8) error {
	o := len(out)
	if o == 0 || o > MaxSmall {
		return fmt.Errorf("%w: %d bits for the small code", ErrSize, o)
	}
	if len(llr) < o {
		return fmt.Errorf("%w: %d soft bits for %d", ErrRate, len(llr), o)
	}
	pat := smallPattern(o, qm)
	best, bestMetric := 0, float32(0)
	for h := 0; h < 1<<o; h++ {
		hyp := make([]uint8, o)
		for i := range hyp {
			hyp[i] = uint8(h >> (o - 1 - i) & 1)
		}
		c := smallCoded(hyp)
		var metric float32
		for i, v := range llr {
			if p := pat[i%len(pat)]; p >= 0 {
				metric += v * float32(1-2*int(c[p]))
			}
		}
		if h == 0 || metric > bestMetric {
			best, bestMetric = h, metric
		}
	}
	for i := range out {
		out[i] = uint8(best >> (o - 1 - i) & 1)
	}
	return nil
}

// CRCLen returns the CRC attached to a UCI payload of o bits before polar
// coding.
func CRCLen(o uint32) uint32 {
	switch {
	case o <= 11:
		return 0
	case o <= 19:
		return 6
	}
	return 11
}

func crcFor(o uint32) *crc.CRC {
	switch CRCLen(o) {
	case 6:
		return crc.CRC6
	case 11:
		return crc.CRC11
	}
	return nil
}

// BlockCoder is the channel coder for UCI payloads of any size on PUSCH
// (Reed-Muller or polar in a full stack). Decode reports whether the payload
// passed its CRC; payloads without a CRC are always reported valid.
type BlockCoder interface {
	Encode(bits []uint8, e []uint8) error
	Decode(llr []float32, out []uint8) (bool, error)
}

// RepetitionBlock attaches the UCI CRC and repeats the result circularly
// over the coded bits.
type RepetitionBlock struct{}

func (RepetitionBlock) Encode(bits []uint8, e []uint8) error {
	if len(bits) == 0 {
		return fmt.Errorf("%w: empty payload", ErrSize)
	}
	a := append([]uint8(nil), bits...)
	if c := crcFor(uint32(len(bits))); c != nil {
		a = c.Attach(a)
	}
	if len(e) < len(a) {
		return fmt.Errorf("%w: %d coded bits for %d", ErrRate, len(e), len(a))
	}
	for i := range e {
		e[i] = a[i%len(a)]
	}
	return nil
}

func (RepetitionBlock) Decode(llr []float32, out []uint8) (bool, error) {
	o := uint32(len(out))
	if o == 0 {
		return false, fmt.Errorf("%w: empty payload", ErrSize)
	}
	n := int(o + CRCLen(o))
	if len(llr) < n {
		return false, fmt.Errorf("%w: %d soft bits for %d", ErrRate, len(llr), n)
	}
	acc := make([]float32, n)
	for i, v := range llr {
		acc[i%n] += v
	}
	a := make([]uint8, n)
	for i, v := range acc {
		if v < 0 {
			a[i] = 1
		}
	}
	copy(out, a[:o])
	if c := crcFor(o); c != nil {
		return c.Check(a), nil
	}
	return true, nil
}
