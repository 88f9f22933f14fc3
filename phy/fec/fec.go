// Package fec defines the channel coder consumed by the shared-channel
// pipeline and provides reference implementations of it.
package fec

import (
	"errors"
	"fmt"
)

var (
	ErrRate   = errors.New("fec: code rate not supported")
	ErrLength = errors.New("fec: block length mismatch")
)

// Block describes one code block handed to a Coder.
type Block struct {
	BaseGraph int    // LDPC base graph, 1 or 2
	Zc        int    // lifting size
	K         int    // code block size including filler bits
	KPrime    int    // information bits, CRC included, filler excluded
	RV        uint32 // redundancy version
}

// Coder encodes one code block into e rate-matched bits and decodes soft
// bits back into the KPrime information bits. Soft bits follow the
// convention that a positive value favours 0.
type Coder interface {
	Encode(bits []uint8, b Block, out []uint8) error
	// Decode returns false when the decoder could not converge; the caller
	// still checks the CRC.
	Decode(llr []float32, b Block, out []uint8) (bool, error)
}

// Repetition is a rate-matched repetition code reading a circular buffer of
// the information bits from a redundancy version dependent start.
type Repetition struct{}

func (Repetition) start(b Block) int {
	return int(b.RV%4) * b.KPrime / 4
}

func (r Repetition) Encode(bits []uint8, b Block, out []uint8) error {
	if len(bits) != b.KPrime || b.KPrime == 0 {
		return fmt.Errorf("%w: %d bits for K'=%d", ErrLength, len(bits), b.KPrime)
	}
	k0 := r.start(b)
	for i := range out {
		out[i] = bits[(k0+i)%b.KPrime]
	}
	return nil
}

func (r Repetition) Decode(llr []float32, b Block, out []uint8) (bool, error) {
	if len(out) != b.KPrime || b.KPrime == 0 {
		return false, fmt.Errorf("%w: %d bits for K'=%d", ErrLength, len(out), b.KPrime)
	}
	acc := make([]float32, b.KPrime)
	k0 := r.start(b)
	for i, v := range llr {
		acc[(k0+i)%b.KPrime] += v
	}
	for i, v := range acc {
		out[i] = 0
		if v < 0 {
			out[i] = 1
		}
	}
	return len(llr) >= b.KPrime, nil
}
