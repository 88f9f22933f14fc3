// Package re decides which resource elements of a slot grid carry the data
// of a PDSCH or PUSCH, and moves symbols between the grid and the data
// stream in that order.
package re

import (
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/dmrs"
)

var (
	ErrReservedCollision = errors.New("re: reserved pattern overlaps DMRS")
	ErrMismatch          = errors.New("re: mapped RE count differs from grant")
	ErrGridSize          = errors.New("re: grid size mismatch")
)

// Plan lists the grid indices used for data in mapping order: symbol by
// symbol, ascending subcarrier within a symbol. Encoder and decoder build the
// same plan from the same configuration.
type Plan struct {
	indices   []int32
	perSymbol [model.NofSymbolsPerSlot]uint32
	dmrs      [model.NofSymbolsPerSlot]bool
}

// CDMGroups returns the CDM groups without data a grant uses, applying the
// fallback rule when the grant leaves it at zero.
func CDMGroups(g *model.SchGrant) uint32 {
	if g.CDMGroupsWithoutData != 0 {
		return g.CDMGroupsWithoutData
	}
	return dmrs.DefaultCDMGroups(g.Link, g.Mapping, g.L)
}

// NewPlan computes the data RE layout of cfg. DMRS REs of CDM groups without
// data and REs of any reserved pattern are skipped.
func NewPlan(cfg *model.SchCfg) (*Plan, error) {
	g := &cfg.Grant
	symbols, err := dmrs.Symbols(cfg.DMRS, g.Link, g.Mapping, g.S, g.L)
	if err != nil {
		return nil, err
	}
	if err := CheckCollision(cfg, symbols); err != nil {
		return nil, err
	}
	p := &Plan{dmrs: dmrs.SymbolMask(symbols)}
	cdm := CDMGroups(g)
	nsc := cfg.Carrier.NofSubcarriers()
	prbs := g.PRBs.Indices()
	p.indices = make([]int32, 0, uint32(len(prbs))*model.NofSubcarriersPerPRB*g.L)
	for l := g.S; l < g.S+g.L; l++ {
		for _, prb := range prbs {
			for k := uint32(0); k < model.NofSubcarriersPerPRB; k++ {
				if p.dmrs[l] && dmrs.IsDMRSRE(cfg.DMRS.Type, cdm, k) {
					continue
				}
				if model.ReservedAny(cfg.Reserved, prb, k, l) {
					continue
				}
				p.indices = append(p.indices, int32(l*nsc+prb*model.NofSubcarriersPerPRB+k))
				p.perSymbol[l]++
			}
		}
	}
	return p, nil
}

// CheckCollision fails when a reserved pattern covers an RE that carries
// DMRS for the grant.
func CheckCollision(cfg *model.SchCfg, symbols []uint32) error {
	if len(cfg.Reserved) == 0 {
		return nil
	}
	g := &cfg.Grant
	cdm := CDMGroups(g)
	for _, l := range symbols {
		for _, prb := range g.PRBs.Indices() {
			for k := uint32(0); k < model.NofSubcarriersPerPRB; k++ {
				if dmrs.IsDMRSRE(cfg.DMRS.Type, cdm, k) && model.ReservedAny(cfg.Reserved, prb, k, l) {
					return fmt.Errorf("%w: prb=%d k=%d l=%d", ErrReservedCollision, prb, k, l)
				}
			}
		}
	}
	return nil
}

// Count returns the number of data REs per layer.
func (p *Plan) Count() uint32 { return uint32(len(p.indices)) }

// SymbolCount returns the number of data REs in symbol l.
func (p *Plan) SymbolCount(l uint32) uint32 { return p.perSymbol[l] }

// IsDMRS reports whether symbol l carries DMRS.
func (p *Plan) IsDMRS(l uint32) bool { return p.dmrs[l] }

// Index returns the grid index of the i-th data RE.
func (p *Plan) Index(i int) int { return int(p.indices[i]) }

// Verify fails unless the plan has exactly want REs.
func (p *Plan) Verify(want uint32) error {
	if p.Count() != want {
		return fmt.Errorf("%w: mapped %d, grant %d", ErrMismatch, p.Count(), want)
	}
	return nil
}

// Put writes symbols into grid in plan order.
func (p *Plan) Put(grid []complex64, symbols []complex64) error {
	if len(symbols) != len(p.indices) {
		return fmt.Errorf("%w: %d symbols for %d REs", ErrMismatch, len(symbols), len(p.indices))
	}
	for i, idx := range p.indices {
		if int(idx) >= len(grid) {
			return fmt.Errorf("%w: index %d beyond %d", ErrGridSize, idx, len(grid))
		}
		grid[idx] = symbols[i]
	}
	return nil
}

// Get reads the data REs of grid in plan order into out.
func (p *Plan) Get(grid []complex64, out []complex64) error {
	if len(out) != len(p.indices) {
		return fmt.Errorf("%w: buffer %d for %d REs", ErrMismatch, len(out), len(p.indices))
	}
	for i, idx := range p.indices {
		if int(idx) >= len(grid) {
			return fmt.Errorf("%w: index %d beyond %d", ErrGridSize, idx, len(grid))
		}
		out[i] = grid[idx]
	}
	return nil
}

// CountReserved returns the number of REs inside the allocation, outside
// DMRS, that reserved patterns remove.
func CountReserved(cfg *model.SchCfg, dmrsSymbols []uint32) uint32 {
	if len(cfg.Reserved) == 0 {
		return 0
	}
	g := &cfg.Grant
	mask := dmrs.SymbolMask(dmrsSymbols)
	cdm := CDMGroups(g)
	n := uint32(0)
	for l := g.S; l < g.S+g.L; l++ {
		for _, prb := range g.PRBs.Indices() {
			for k := uint32(0); k < model.NofSubcarriersPerPRB; k++ {
				if mask[l] && dmrs.IsDMRSRE(cfg.DMRS.Type, cdm, k) {
					continue
				}
				if model.ReservedAny(cfg.Reserved, prb, k, l) {
					n++
				}
			}
		}
	}
	return n
}

// Equalize divides the data REs of every layer, read in plan order, by the
// estimated channel and returns the noise variance after equalisation
// averaged over the allocation.
func Equalize(p *Plan, est dmrs.Estimate, layers [][]complex64) float32 {
	if est.H == nil {
		return est.NoiseVar
	}
	var gain float64
	for i, idx := range p.indices {
		h := est.Coefficient(int(idx))
		if h == 0 {
			continue
		}
		gain += real(complex128(h) * cmplx.Conj(complex128(h)))
		for _, l := range layers {
			l[i] /= h
		}
	}
	if gain == 0 {
		return est.NoiseVar
	}
	return est.NoiseVar * float32(float64(len(p.indices))/gain)
}
