// Package seq generates the length-31 Gold pseudo-random sequence used for
// scrambling and reference signals, and applies it to bits and soft bits.
package seq

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// Nc is the sequence offset defined for the Gold sequence.
const Nc = 1600

// Marker values a UCI encoder may place in a bit sequence in place of 0/1.
const (
	Placeholder uint8 = 2 // "x": scrambles to 1
	Repetition  uint8 = 3 // "y": repeats the previous scrambled bit
)

// Gold returns n bits of the sequence initialised with cinit.
func Gold(cinit uint32, n int) []uint8 {
	out := make([]uint8, n)
	x1 := uint32(1)
	x2 := cinit & 0x7fffffff
	for i := 0; i < Nc+n; i++ {
		if i >= Nc {
			out[i-Nc] = uint8((x1 ^ x2) & 1)
		}
		f1 := (x1 ^ (x1 >> 3)) & 1
		f2 := (x2 ^ (x2 >> 1) ^ (x2 >> 2) ^ (x2 >> 3)) & 1
		x1 = (x1 >> 1) | (f1 << 30)
		x2 = (x2 >> 1) | (f2 << 30)
	}
	return out
}

// Generator hands out Gold sequences, keeping the most recently used ones in
// an LRU cache keyed by cinit. A Generator is safe for concurrent use.
type Generator struct {
	cache *lru.Cache
}

// NewGenerator returns a generator caching up to size sequences.
func NewGenerator(size int) (*Generator, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("seq: create cache: %w", err)
	}
	return &Generator{cache: c}, nil
}

// Bits returns the first n bits for cinit. The returned slice is shared and
// must not be modified.
func (g *Generator) Bits(cinit uint32, n int) []uint8 {
	if g == nil || g.cache == nil {
		return Gold(cinit, n)
	}
	if v, ok := g.cache.Get(cinit); ok {
		if s := v.([]uint8); len(s) >= n {
			return s[:n]
		}
	}
	s := Gold(cinit, n)
	g.cache.Add(cinit, s)
	return s
}

// Len returns the number of cached sequences.
func (g *Generator) Len() int { return g.cache.Len() }

// Scramble XORs the 0/1 bits of b with c in place.
func Scramble(b, c []uint8) {
	for i := range b {
		b[i] ^= c[i]
	}
}

// ScrambleMarked scrambles b in place. At the ascending positions listed in
// marked, a Placeholder becomes 1 and a Repetition copies the previous
// scrambled bit; every other bit is XORed with c.
func ScrambleMarked(b, c []uint8, marked []uint32) {
	next := 0
	for i := range b {
		if next < len(marked) && uint32(i) == marked[next] {
			next++
			switch b[i] {
			case Placeholder:
				b[i] = 1
				continue
			case Repetition:
				if i > 0 {
					b[i] = b[i-1]
				} else {
					b[i] = 1
				}
				continue
			}
		}
		b[i] = (b[i] & 1) ^ c[i]
	}
}

// DescrambleLLR flips the sign of every soft bit whose sequence bit is 1.
func DescrambleLLR(llr []float32, c []uint8) {
	for i := range llr {
		if c[i] != 0 {
			llr[i] = -llr[i]
		}
	}
}
