package dmrs

import (
	"math"

	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/seq"
)

// CInit returns the pilot sequence initialisation for symbol l of slot.
func CInit(slot, l, nID, nSCID uint32) uint32 {
	v := uint64(1<<17)*uint64(model.NofSymbolsPerSlot*slot+l+1)*uint64(2*nID+1) + uint64(2*nID) + uint64(nSCID)
	return uint32(v % (1 << 31))
}

// ScramblingID returns N_ID for nSCID = 0.
func ScramblingID(cfg model.DMRSConfig, pci uint32) uint32 {
	if cfg.ScramblingID0 != nil {
		return *cfg.ScramblingID0
	}
	return pci
}

// pilotIndex returns the position of subcarrier kAbs in the port 1000
// pilot sequence, and whether kAbs carries a port 1000 pilot.
func pilotIndex(t model.DMRSType, kAbs uint32) (uint32, bool) {
	prb, k := kAbs/model.NofSubcarriersPerPRB, kAbs%model.NofSubcarriersPerPRB
	if CDMGroup(t, k) != 0 {
		return 0, false
	}
	if t == model.DMRSType2 {
		// k in {0,1,6,7}
		return prb*4 + (k/6)*2 + k%2, true
	}
	return prb*6 + k/2, true
}

// Put writes the port 1000 pilots of every DMRS symbol of the grant into
// grid, scaled by the grant's BetaDMRS.
func Put(gen *seq.Generator, cfg *model.SchCfg, slot uint32, grid []complex64) error {
	g := &cfg.Grant
	symbols, err := Symbols(cfg.DMRS, g.Link, g.Mapping, g.S, g.L)
	if err != nil {
		return err
	}
	beta := g.BetaDMRS
	if beta == 0 {
		beta = 1
	}
	amp := float32(beta / math.Sqrt2)
	nsc := cfg.Carrier.NofSubcarriers()
	perPRB := REPerPRBPerGroup(cfg.DMRS.Type)
	nID := ScramblingID(cfg.DMRS, cfg.Carrier.PCI)
	for _, l := range symbols {
		c := gen.Bits(CInit(slot, l, nID, 0), int(2*perPRB*cfg.Carrier.NofPRB))
		for _, prb := range g.PRBs.Indices() {
			for k := uint32(0); k < model.NofSubcarriersPerPRB; k++ {
				kAbs := prb*model.NofSubcarriersPerPRB + k
				m, ok := pilotIndex(cfg.DMRS.Type, kAbs)
				if !ok {
					continue
				}
				re := amp * float32(1-2*int(c[2*m]))
				im := amp * float32(1-2*int(c[2*m+1]))
				grid[l*nsc+kAbs] = complex(re, im)
			}
		}
	}
	return nil
}

// Estimate is what the channel estimator hands to the decoders. H, when
// present, holds one coefficient per grid RE; a nil H means a flat unit
// channel.
type Estimate struct {
	NoiseVar float32
	SNRdB    float32
	H        []complex64
}

// Flat returns an estimate for a unit channel with the given noise
// variance.
func Flat(noiseVar float32) Estimate {
	snr := float32(math.Inf(1))
	if noiseVar > 0 {
		snr = float32(-10 * math.Log10(float64(noiseVar)))
	}
	return Estimate{NoiseVar: noiseVar, SNRdB: snr}
}

// Coefficient returns the channel at grid index i.
func (e *Estimate) Coefficient(i int) complex64 {
	if e.H == nil {
		return 1
	}
	return e.H[i]
}
