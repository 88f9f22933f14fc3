// Package rb models frequency-domain resources of a bandwidth part: PRB
// intervals, PRB/RBG bitmaps and the grants the scheduler hands out.
package rb

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	// MaxPRB is the largest number of PRBs in a carrier or BWP.
	MaxPRB = 275
	// MaxRBG is the largest number of RBGs a BWP can be split into.
	MaxRBG = 18

	wordBits  = 64
	wordCount = (MaxPRB + wordBits - 1) / wordBits
)

// Bitmap is a fixed-capacity bit vector with an explicit logical size. The
// zero value is an empty bitmap of size 0. Bitmaps are values; copying one
// copies its bits.
type Bitmap struct {
	words [wordCount]uint64
	size  uint32
}

// NewBitmap returns a cleared bitmap of the given size.
func NewBitmap(size uint32) Bitmap {
	if size > MaxPRB {
		panic(fmt.Sprintf("rb: bitmap size %d exceeds capacity %d", size, MaxPRB))
	}
	return Bitmap{size: size}
}

// Size returns the logical number of bits.
func (b Bitmap) Size() uint32 { return b.size }

func (b Bitmap) check(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("rb: bit index %d out of range [0,%d)", i, b.size))
	}
}

func (b Bitmap) checkRange(start, stop uint32) {
	if start > stop || stop > b.size {
		panic(fmt.Sprintf("rb: bit range [%d,%d) out of range [0,%d)", start, stop, b.size))
	}
}

// Test reports whether bit i is set.
func (b Bitmap) Test(i uint32) bool {
	b.check(i)
	return b.words[i/wordBits]&(1<<(i%wordBits)) != 0
}

// Set sets bit i.
func (b *Bitmap) Set(i uint32) {
	b.check(i)
	b.words[i/wordBits] |= 1 << (i % wordBits)
}

// Clear clears bit i.
func (b *Bitmap) Clear(i uint32) {
	b.check(i)
	b.words[i/wordBits] &^= 1 << (i % wordBits)
}

// SetRange sets bits [start, stop).
func (b *Bitmap) SetRange(start, stop uint32) {
	b.checkRange(start, stop)
	for i := start; i < stop; i++ {
		b.words[i/wordBits] |= 1 << (i % wordBits)
	}
}

// AnyRange reports whether any bit in [start, stop) is set.
func (b Bitmap) AnyRange(start, stop uint32) bool {
	b.checkRange(start, stop)
	for i := start; i < stop; i++ {
		if b.words[i/wordBits]&(1<<(i%wordBits)) != 0 {
			return true
		}
	}
	return false
}

// Any reports whether at least one bit is set.
func (b Bitmap) Any() bool {
	for _, w := range b.words {
		if w != 0 {
			return true
		}
	}
	return false
}

// None reports whether no bit is set.
func (b Bitmap) None() bool { return !b.Any() }

// All reports whether every bit of the logical size is set.
func (b Bitmap) All() bool { return b.Count() == b.size }

// Count returns the number of set bits.
func (b Bitmap) Count() uint32 {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return uint32(n)
}

// Reset clears every bit, keeping the size.
func (b *Bitmap) Reset() { b.words = [wordCount]uint64{} }

// Resize changes the logical size and clears the bitmap.
func (b *Bitmap) Resize(size uint32) { *b = NewBitmap(size) }

// And returns the intersection of b and o. Sizes must match.
func (b Bitmap) And(o Bitmap) Bitmap {
	b.sameSize(o)
	for i := range b.words {
		b.words[i] &= o.words[i]
	}
	return b
}

// Or returns the union of b and o. Sizes must match.
func (b Bitmap) Or(o Bitmap) Bitmap {
	b.sameSize(o)
	for i := range b.words {
		b.words[i] |= o.words[i]
	}
	return b
}

// AndNot returns the bits of b not set in o. Sizes must match.
func (b Bitmap) AndNot(o Bitmap) Bitmap {
	b.sameSize(o)
	for i := range b.words {
		b.words[i] &^= o.words[i]
	}
	return b
}

// Flip returns the complement of b within its logical size.
func (b Bitmap) Flip() Bitmap {
	out := NewBitmap(b.size)
	for i := uint32(0); i < b.size; i++ {
		if b.words[i/wordBits]&(1<<(i%wordBits)) == 0 {
			out.words[i/wordBits] |= 1 << (i % wordBits)
		}
	}
	return out
}

func (b Bitmap) sameSize(o Bitmap) {
	if b.size != o.size {
		panic(fmt.Sprintf("rb: bitmap size mismatch %d != %d", b.size, o.size))
	}
}

// FindLowest returns the lowest index in [start, stop) whose bit equals
// value, or -1.
func (b Bitmap) FindLowest(start, stop uint32, value bool) int {
	b.checkRange(start, stop)
	for i := start; i < stop; i++ {
		if (b.words[i/wordBits]&(1<<(i%wordBits)) != 0) == value {
			return int(i)
		}
	}
	return -1
}

// Indices returns the set bit positions in ascending order.
func (b Bitmap) Indices() []uint32 {
	out := make([]uint32, 0, b.Count())
	for i := uint32(0); i < b.size; i++ {
		if b.words[i/wordBits]&(1<<(i%wordBits)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// String renders the bitmap with bit 0 first.
func (b Bitmap) String() string {
	var sb strings.Builder
	sb.Grow(int(b.size))
	for i := uint32(0); i < b.size; i++ {
		if b.words[i/wordBits]&(1<<(i%wordBits)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
