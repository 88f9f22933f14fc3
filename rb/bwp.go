package rb

import "fmt"

// BWP locates a bandwidth part inside the carrier and selects the RBG size
// configuration (rbg-Size config1 or config2).
type BWP struct {
	Start      uint32
	NofPRB     uint32
	RBGConfig2 bool
}

// NominalRBGSize returns P for a BWP of nofPRB PRBs.
func NominalRBGSize(nofPRB uint32, config2 bool) uint32 {
	if nofPRB == 0 || nofPRB > MaxPRB {
		panic(fmt.Sprintf("rb: invalid BWP size %d", nofPRB))
	}
	switch {
	case nofPRB <= 36:
		if config2 {
			return 4
		}
		return 2
	case nofPRB <= 72:
		if config2 {
			return 8
		}
		return 4
	case nofPRB <= 144:
		if config2 {
			return 16
		}
		return 8
	default:
		return 16
	}
}

// NofRBGs returns ceil((nofPRB + start mod P) / P).
func NofRBGs(start, nofPRB, p uint32) uint32 {
	return (nofPRB + start%p + p - 1) / p
}

// BWPBitmap tracks PRB and RBG occupancy of one BWP for one allocation
// cycle. Both views are updated together. PRB indices are BWP relative.
type BWPBitmap struct {
	bwp    BWP
	p      uint32
	offset uint32
	prbs   Bitmap
	rbgs   Bitmap
}

// NewBWPBitmap returns an empty bitmap sized for bwp.
func NewBWPBitmap(bwp BWP) *BWPBitmap {
	p := NominalRBGSize(bwp.NofPRB, bwp.RBGConfig2)
	return &BWPBitmap{
		bwp:    bwp,
		p:      p,
		offset: bwp.Start % p,
		prbs:   NewBitmap(bwp.NofPRB),
		rbgs:   NewBitmap(NofRBGs(bwp.Start, bwp.NofPRB, p)),
	}
}

func (m *BWPBitmap) BWP() BWP           { return m.bwp }
func (m *BWPBitmap) RBGSize() uint32    { return m.p }
func (m *BWPBitmap) NofRBGs() uint32    { return m.rbgs.Size() }
func (m *BWPBitmap) PRBs() Bitmap       { return m.prbs }
func (m *BWPBitmap) RBGs() Bitmap       { return m.rbgs }
func (m *BWPBitmap) NewRBGs() Bitmap    { return NewBitmap(m.rbgs.Size()) }
func (m *BWPBitmap) NofFreePRB() uint32 { return m.prbs.Size() - m.prbs.Count() }

// Reset clears both views.
func (m *BWPBitmap) Reset() {
	m.prbs.Reset()
	m.rbgs.Reset()
}

// PRBToRBG maps a BWP-relative PRB to its RBG index.
func (m *BWPBitmap) PRBToRBG(prb uint32) uint32 {
	return (prb + m.offset) / m.p
}

// RBGToPRBs returns the PRBs covered by rbg. The first and last RBG may be
// shorter than P.
func (m *BWPBitmap) RBGToPRBs(rbg uint32) Interval {
	if rbg >= m.rbgs.Size() {
		panic(fmt.Sprintf("rb: rbg %d out of range [0,%d)", rbg, m.rbgs.Size()))
	}
	start := uint32(0)
	if rbg > 0 {
		start = rbg*m.p - m.offset
	}
	stop := min((rbg+1)*m.p-m.offset, m.bwp.NofPRB)
	return NewInterval(start, stop)
}

// PRBsOfRBGs expands an RBG bitmap to PRB level.
func (m *BWPBitmap) PRBsOfRBGs(rbgs Bitmap) Bitmap {
	out := NewBitmap(m.bwp.NofPRB)
	for _, r := range rbgs.Indices() {
		iv := m.RBGToPRBs(r)
		out.SetRange(iv.Start(), iv.Stop())
	}
	return out
}

// Add marks prbs as used in both views.
func (m *BWPBitmap) Add(prbs Interval) {
	if prbs.Empty() {
		return
	}
	m.prbs.SetRange(prbs.Start(), prbs.Stop())
	first, last := m.PRBToRBG(prbs.Start()), m.PRBToRBG(prbs.Stop()-1)
	m.rbgs.SetRange(first, last+1)
}

// AddRBGs marks whole RBGs as used in both views.
func (m *BWPBitmap) AddRBGs(rbgs Bitmap) {
	m.rbgs = m.rbgs.Or(rbgs)
	m.prbs = m.prbs.Or(m.PRBsOfRBGs(rbgs))
}

// AddGrant dispatches on the grant variant.
func (m *BWPBitmap) AddGrant(g Grant) {
	if g.IsType0() {
		m.AddRBGs(g.RBGs())
		return
	}
	m.Add(g.Interval())
}

// Collides reports whether g overlaps what is already allocated. Type-0
// grants are checked at RBG granularity, type-1 grants at PRB granularity.
func (m *BWPBitmap) Collides(g Grant) bool {
	if g.IsType0() {
		return m.rbgs.And(g.RBGs()).Any()
	}
	iv := g.Interval()
	if iv.Empty() {
		return false
	}
	return m.prbs.AnyRange(iv.Start(), iv.Stop())
}
