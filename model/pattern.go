package model

// REPattern marks resource elements a PDSCH or PUSCH must not use, such as
// CSI-RS or a configured rate-matching pattern. A PRB p is covered when
// RBBegin <= p < RBEnd and (p-RBBegin) is a multiple of RBStride.
type REPattern struct {
	RBBegin     uint32
	RBEnd       uint32
	RBStride    uint32 // 0 is treated as 1
	Subcarriers [NofSubcarriersPerPRB]bool
	Symbols     [NofSymbolsPerSlot]bool
}

// CoversPRB reports whether the pattern applies to prb.
func (p *REPattern) CoversPRB(prb uint32) bool {
	if prb < p.RBBegin || prb >= p.RBEnd {
		return false
	}
	stride := p.RBStride
	if stride == 0 {
		stride = 1
	}
	return (prb-p.RBBegin)%stride == 0
}

// Reserved reports whether the RE at subcarrier k of prb in symbol l is
// reserved by the pattern.
func (p *REPattern) Reserved(prb, k, l uint32) bool {
	return p.Symbols[l] && p.Subcarriers[k] && p.CoversPRB(prb)
}

// ReservedAny reports whether any of patterns reserves the RE.
func ReservedAny(patterns []REPattern, prb, k, l uint32) bool {
	for i := range patterns {
		if patterns[i].Reserved(prb, k, l) {
			return true
		}
	}
	return false
}
