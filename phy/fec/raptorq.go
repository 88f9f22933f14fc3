package fec

import (
	"fmt"
	"math"

	rqq "github.com/xssnick/raptorq"

	"github.com/signalsfoundry/nrstack/phy/crc"
)

// RaptorQ is an erasure coder over byte symbols. A code block is packed into
// bytes and split into source symbols; the rate-matched output carries as
// many whole symbols as fit. On decode, a symbol whose least reliable soft bit
// is weaker than Threshold is treated as lost, and the remaining symbols feed
// the RaptorQ decoder. Each redundancy version transmits fresh symbol IDs.
type RaptorQ struct {
	SymbolSize int
	Threshold  float32
}

// NewRaptorQ returns a coder with symbols of symbolSize bytes.
func NewRaptorQ(symbolSize int, threshold float32) *RaptorQ {
	return &RaptorQ{SymbolSize: symbolSize, Threshold: threshold}
}

func (r *RaptorQ) symbols(e int) (n, symBits int) {
	symBits = 8 * r.SymbolSize
	return e / symBits, symBits
}

func (r *RaptorQ) Encode(bits []uint8, b Block, out []uint8) error {
	if len(bits) != b.KPrime || b.KPrime == 0 {
		return fmt.Errorf("%w: %d bits for K'=%d", ErrLength, len(bits), b.KPrime)
	}
	data := crc.Pack(make([]byte, (len(bits)+7)/8), bits)
	enc, err := rqq.NewRaptorQ(uint32(r.SymbolSize)).CreateEncoder(data)
	if err != nil {
		return fmt.Errorf("fec: raptorq encoder: %w", err)
	}
	n, symBits := r.symbols(len(out))
	if n < int(enc.BaseSymbolsNum()) {
		return fmt.Errorf("%w: %d symbols for %d source symbols", ErrRate, n, enc.BaseSymbolsNum())
	}
	first := b.RV * uint32(n)
	for i := range n {
		sym := enc.GenSymbol(first + uint32(i))
		copy(out[i*symBits:(i+1)*symBits], crc.Unpack(sym))
	}
	clear(out[n*symBits:])
	return nil
}

func (r *RaptorQ) Decode(llr []float32, b Block, out []uint8) (bool, error) {
	if len(out) != b.KPrime || b.KPrime == 0 {
		return false, fmt.Errorf("%w: %d bits for K'=%d", ErrLength, len(out), b.KPrime)
	}
	clear(out)
	dec, err := rqq.NewRaptorQ(uint32(r.SymbolSize)).CreateDecoder(uint32((b.KPrime + 7) / 8))
	if err != nil {
		return false, fmt.Errorf("fec: raptorq decoder: %w", err)
	}
	n, symBits := r.symbols(len(llr))
	first := b.RV * uint32(n)
	sym := make([]uint8, symBits)
	for i := range n {
		seg := llr[i*symBits : (i+1)*symBits]
		erased := false
		for j, v := range seg {
			if float32(math.Abs(float64(v))) < r.Threshold {
				erased = true
				break
			}
			sym[j] = 0
			if v < 0 {
				sym[j] = 1
			}
		}
		if erased {
			continue
		}
		// A rejected symbol only lowers the chance of recovery.
		_, _ = dec.AddSymbol(first+uint32(i), crc.Pack(make([]byte, r.SymbolSize), sym))
	}
	ok, data, err := dec.Decode()
	if err != nil || !ok {
		return false, nil
	}
	copy(out, crc.Unpack(data))
	return true, nil
}
