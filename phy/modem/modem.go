// Package modem maps bits to the Gray-coded constellations of TS 38.211
// section 5.1 and computes max-log soft bits from received symbols.
package modem

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/nrstack/model"
)

// minNoiseVar keeps soft bits finite on a noiseless channel.
const minNoiseVar = 1e-6

// level is one amplitude of a PAM axis together with the bits selecting it.
type level struct {
	amp  float32
	bits uint8 // bit i is the i-th axis bit
}

// axis holds the PAM levels of one constellation axis.
type axis struct {
	n      int // bits per axis
	levels []level
}

var axes = map[model.Modulation]axis{
	model.ModulationQPSK:   newAxis(1),
	model.ModulationQAM16:  newAxis(2),
	model.ModulationQAM64:  newAxis(3),
	model.ModulationQAM256: newAxis(4),
}

// newAxis builds the 2^n levels of an axis. With c_0 the sign bit, the
// amplitude is (1-2c_0)(2^(n-1) - (1-2c_1)(2^(n-2) - ...)), normalised so the
// two dimensional constellation has unit average energy.
func newAxis(n int) axis {
	norm := math.Sqrt(2 * (math.Pow(4, float64(n)) - 1) / 3)
	a := axis{n: n, levels: make([]level, 1<<n)}
	for v := range a.levels {
		amp := 1.0
		for i := n - 1; i >= 1; i-- {
			amp = float64(int(1)<<(n-i)) - sign(v>>i&1)*amp
		}
		amp *= sign(v & 1)
		a.levels[v] = level{amp: float32(amp / norm), bits: uint8(v)}
	}
	return a
}

func sign(b int) float64 { return float64(1 - 2*b) }

// Modulate maps len(symbols)*Qm bits to symbols.
func Modulate(mod model.Modulation, bits []uint8, symbols []complex64) error {
	qm := int(mod.BitsPerSymbol())
	if qm == 0 || len(bits) != qm*len(symbols) {
		return fmt.Errorf("modem: %d bits for %d %s symbols", len(bits), len(symbols), mod)
	}
	if mod == model.ModulationBPSK {
		amp := float32(1 / math.Sqrt2)
		for i, b := range bits {
			v := amp * float32(1-2*int(b&1))
			symbols[i] = complex(v, v)
		}
		return nil
	}
	ax := axes[mod]
	for s := range symbols {
		b := bits[s*qm : (s+1)*qm]
		var iv, qv int
		for i := 0; i < ax.n; i++ {
			iv |= int(b[2*i]&1) << i
			qv |= int(b[2*i+1]&1) << i
		}
		symbols[s] = complex(ax.levels[iv].amp, ax.levels[qv].amp)
	}
	return nil
}

// Demodulate writes Qm max-log soft bits per symbol into llr. A positive
// value favours bit 0. noiseVar is the complex noise variance per symbol.
func Demodulate(mod model.Modulation, symbols []complex64, noiseVar float32, llr []float32) error {
	qm := int(mod.BitsPerSymbol())
	if qm == 0 || len(llr) != qm*len(symbols) {
		return fmt.Errorf("modem: %d soft bits for %d %s symbols", len(llr), len(symbols), mod)
	}
	n0 := max(noiseVar, minNoiseVar)
	if mod == model.ModulationBPSK {
		scale := float32(2*math.Sqrt2) / n0
		for i, y := range symbols {
			llr[i] = scale * (real(y) + imag(y))
		}
		return nil
	}
	ax := axes[mod]
	for s, y := range symbols {
		out := llr[s*qm : (s+1)*qm]
		ax.soft(real(y), n0, out, 0)
		ax.soft(imag(y), n0, out, 1)
	}
	return nil
}

// soft computes the axis bits of one received amplitude into out at
// positions offset, offset+2, ...
func (a axis) soft(y, n0 float32, out []float32, offset int) {
	var d0, d1 [4]float32
	for i := 0; i < a.n; i++ {
		d0[i], d1[i] = math.MaxFloat32, math.MaxFloat32
	}
	for _, lv := range a.levels {
		d := (y - lv.amp) * (y - lv.amp)
		for i := 0; i < a.n; i++ {
			if lv.bits>>i&1 == 0 {
				d0[i] = min(d0[i], d)
			} else {
				d1[i] = min(d1[i], d)
			}
		}
	}
	for i := 0; i < a.n; i++ {
		out[offset+2*i] = (d1[i] - d0[i]) / n0
	}
}

// HardDecision returns the bits a soft bit sequence favours.
func HardDecision(llr []float32, bits []uint8) {
	for i, v := range llr {
		bits[i] = 0
		if v < 0 {
			bits[i] = 1
		}
	}
}
