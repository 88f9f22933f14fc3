package gnb

import (
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/ra"
)

// seBackoff scales Shannon capacity down to what the reference coders
// sustain.
const seBackoff = 0.5

// channel is an AWGN channel with slow log-normal fading per UE.
type channel struct {
	rng *rand.Rand
}

func newChannel(seed, stream uint64) *channel {
	return &channel{rng: rand.New(rand.NewPCG(seed, stream))}
}

// noiseVar returns N0 for unit-energy symbols at snrdB.
func noiseVar(snrdB float64) float32 {
	return float32(math.Pow(10, -snrdB/10))
}

// fade draws the SNR of one transmission around mean with a standard
// deviation of sigma dB.
func (c *channel) fade(mean, sigma float64) float64 {
	return mean + sigma*c.rng.NormFloat64()
}

// awgn adds circularly symmetric Gaussian noise of variance n0 to every RE
// of grids.
func (c *channel) awgn(grids [][]complex64, n0 float32) {
	sigma := math.Sqrt(float64(n0) / 2)
	for _, g := range grids {
		for i := range g {
			g[i] += complex(float32(sigma*c.rng.NormFloat64()), float32(sigma*c.rng.NormFloat64()))
		}
	}
}

// fill writes pseudo-random payload bytes.
func (c *channel) fill(b []byte) {
	for i := range b {
		b[i] = byte(c.rng.Uint32())
	}
}

// cqiTableFor returns the CQI table paired with an MCS table.
func cqiTableFor(t model.MCSTable) model.CQITable {
	switch t {
	case model.MCSTable2:
		return model.CQITable2
	case model.MCSTable3:
		return model.CQITable3
	}
	return model.CQITable1
}

// measureCQI is the CQI a UE reports for a measured SNR.
func measureCQI(table model.CQITable, snrdB float64) uint32 {
	se := math.Log2(1+math.Pow(10, snrdB/10)) * seBackoff
	return ra.SEToCQI(table, se)
}

// mcsForCQI returns the MCS scheduled for a reported CQI; CQI 0 (out of
// range) falls back to MCS 0.
func mcsForCQI(table model.CQITable, cqi uint32) uint32 {
	mcs, err := ra.CQIToMCS(table, cqi)
	if err != nil {
		return 0
	}
	return mcs
}

// cqiBits packs a 4 bit CQI MSB first into the first bits of a CSI report.
func cqiBits(cqi uint32, n uint32) []uint8 {
	out := make([]uint8, n)
	for i := uint32(0); i < 4 && i < n; i++ {
		out[i] = uint8(cqi >> (3 - i) & 1)
	}
	return out
}

// cqiFromBits reverses cqiBits.
func cqiFromBits(bits []uint8) uint32 {
	var cqi uint32
	for i := 0; i < 4 && i < len(bits); i++ {
		cqi = cqi<<1 | uint32(bits[i]&1)
	}
	return cqi
}
