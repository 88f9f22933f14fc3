package seq

import (
	"testing"
)

func TestGoldZeroInitIsX1Only(t *testing.T) {
	// With cinit = 0 the x2 register never leaves the all-zero state, so the
	// output equals the x1 m-sequence advanced by Nc.
	got := Gold(0, 64)
	x1 := make([]uint8, Nc+64+31)
	x1[0] = 1
	for n := 0; n+31 < len(x1); n++ {
		x1[n+31] = (x1[n+3] + x1[n]) % 2
	}
	for i := range got {
		if got[i] != x1[i+Nc] {
			t.Fatalf("bit %d mismatch: got %d, want %d", i, got[i], x1[i+Nc])
		}
	}
}

func TestGoldMatchesReferenceRecursion(t *testing.T) {
	const cinit uint32 = 0x1234567
	n := 200
	x1 := make([]uint8, Nc+n+31)
	x2 := make([]uint8, Nc+n+31)
	x1[0] = 1
	for i := 0; i < 31; i++ {
		x2[i] = uint8((cinit >> i) & 1)
	}
	for i := 0; i+31 < len(x1); i++ {
		x1[i+31] = (x1[i+3] + x1[i]) % 2
		x2[i+31] = (x2[i+3] + x2[i+2] + x2[i+1] + x2[i]) % 2
	}
	got := Gold(cinit, n)
	for i := 0; i < n; i++ {
		want := (x1[i+Nc] + x2[i+Nc]) % 2
		if got[i] != want {
			t.Fatalf("bit %d mismatch: got %d, want %d", i, got[i], want)
		}
	}
}

func TestGeneratorCachesPrefix(t *testing.T) {
	g, err := NewGenerator(4)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	long := g.Bits(77, 100)
	short := g.Bits(77, 10)
	for i := range short {
		if short[i] != long[i] {
			t.Fatalf("prefix mismatch at %d", i)
		}
	}
	if g.Len() != 1 {
		t.Fatalf("cache len got %d, want 1", g.Len())
	}
	longer := g.Bits(77, 150)
	if len(longer) != 150 {
		t.Fatalf("longer sequence len got %d", len(longer))
	}
}

func TestScrambleMarked(t *testing.T) {
	c := []uint8{1, 0, 1, 1, 0, 1}
	b := []uint8{1, Repetition, Placeholder, Placeholder, 0, Placeholder}
	// Position 5 is not marked: its placeholder value is treated as a bit.
	ScrambleMarked(b, c, []uint32{0, 1, 2, 3})
	want := []uint8{0, 0, 1, 1, 0, 1}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("bit %d mismatch: got %d, want %d (%v)", i, b[i], want[i], b)
		}
	}
}

func TestScrambleThenDescrambleLLR(t *testing.T) {
	c := Gold(99, 32)
	bits := make([]uint8, 32)
	for i := range bits {
		bits[i] = uint8(i % 2)
	}
	tx := append([]uint8(nil), bits...)
	Scramble(tx, c)

	llr := make([]float32, len(tx))
	for i, b := range tx {
		llr[i] = 1 - 2*float32(b)
	}
	DescrambleLLR(llr, c)
	for i := range llr {
		got := uint8(0)
		if llr[i] < 0 {
			got = 1
		}
		if got != bits[i] {
			t.Fatalf("bit %d mismatch after descramble: got %d, want %d", i, got, bits[i])
		}
	}
}
