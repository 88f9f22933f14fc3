package pusch

import (
	"fmt"

	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/phy/re"
	"github.com/signalsfoundry/nrstack/phy/uci"
)

type owner uint8

const (
	ownULSCH owner = iota
	ownRvd
	ownACK
	ownCSI1
	ownCSI2
)

// Mux assigns every coded bit of a PUSCH to HARQ-ACK, CSI part 1, CSI part 2
// or UL-SCH. Each list is ascending and the four lists partition [0, G).
type Mux struct {
	ACK   []uint32
	CSI1  []uint32
	CSI2  []uint32
	ULSCH []uint32
}

// Total returns G, the number of coded bits of the transmission.
func (m Mux) Total() int { return len(m.ACK) + len(m.CSI1) + len(m.CSI2) + len(m.ULSCH) }

// ULSCHOnly returns the layout of a transmission without UCI.
func ULSCHOnly(g uint32) Mux {
	m := Mux{ULSCH: make([]uint32, g)}
	for i := range m.ULSCH {
		m.ULSCH[i] = uint32(i)
	}
	return m
}

// muxer holds the RE ownership while the layout is built.
type muxer struct {
	res   uci.Resources
	first [model.NofSymbolsPerSlot]int // first RE of each symbol in plan order
	own   []owner
}

// place gives n REs to who, taking them from REs currently owned by one of
// from, symbol by symbol from l0, spread with an even stride inside each
// symbol.
func (m *muxer) place(l0 uint32, n uint32, who owner, from ...owner) error {
	eligible := func(o owner) bool {
		for _, f := range from {
			if o == f {
				return true
			}
		}
		return false
	}
	phi := make([]int, 0, 275*model.NofSubcarriersPerPRB)
	for l := l0; l < model.NofSymbolsPerSlot && n > 0; l++ {
		if m.res.UCI[l] == 0 {
			continue
		}
		phi = phi[:0]
		for k := range int(m.res.UCI[l]) {
			if i := m.first[l] + k; eligible(m.own[i]) {
				phi = append(phi, i)
			}
		}
		if len(phi) == 0 {
			continue
		}
		d, count := 1, len(phi)
		if n < uint32(len(phi)) {
			d, count = len(phi)/int(n), int(n)
		}
		for j := range count {
			m.own[phi[j*d]] = who
		}
		n -= uint32(count)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d REs left for part %d", uci.ErrCapacity, n, who)
	}
	return nil
}

// GenMux lays out the coded bits of a PUSCH carrying UCI. The reservation
// for one or two HARQ-ACK bits is taken first from symbol res.L0 on; HARQ-ACK
// is placed inside it (or from res.L0 on when larger), CSI part 1 avoids the
// reservation, CSI part 2 may use what HARQ-ACK left of it, and every other
// RE, including those of symbols without UCI capacity, carries UL-SCH.
func GenMux(plan *re.Plan, res uci.Resources, sizes uci.Sizes, nofACK uint32) (Mux, error) {
	m := &muxer{res: res, own: make([]owner, plan.Count())}
	next := 0
	for l := range uint32(model.NofSymbolsPerSlot) {
		m.first[l] = next
		next += int(plan.SymbolCount(l))
		if res.UCI[l] > plan.SymbolCount(l) {
			return Mux{}, fmt.Errorf("%w: symbol %d offers %d UCI REs of %d", uci.ErrCapacity, l, res.UCI[l], plan.SymbolCount(l))
		}
	}

	if sizes.ACKRvd > 0 {
		if err := m.place(res.L0, sizes.ACKRvd, ownRvd, ownULSCH); err != nil {
			return Mux{}, err
		}
	}
	ackFrom := ownULSCH
	if nofACK <= uci.MaxSmall && sizes.ACKRvd > 0 {
		ackFrom = ownRvd
	}
	if err := m.place(res.L0, sizes.ACK, ownACK, ackFrom); err != nil {
		return Mux{}, err
	}
	if err := m.place(0, sizes.CSI1, ownCSI1, ownULSCH); err != nil {
		return Mux{}, err
	}
	if err := m.place(0, sizes.CSI2, ownCSI2, ownULSCH, ownRvd); err != nil {
		return Mux{}, err
	}

	perRE := res.Layers * res.Qm
	out := Mux{
		ACK:  make([]uint32, 0, res.Bits(sizes.ACK)),
		CSI1: make([]uint32, 0, res.Bits(sizes.CSI1)),
		CSI2: make([]uint32, 0, res.Bits(sizes.CSI2)),
	}
	out.ULSCH = make([]uint32, 0, len(m.own)*int(perRE)-cap(out.ACK)-cap(out.CSI1)-cap(out.CSI2))
	for i, o := range m.own {
		dst := &out.ULSCH
		switch o {
		case ownACK:
			dst = &out.ACK
		case ownCSI1:
			dst = &out.CSI1
		case ownCSI2:
			dst = &out.CSI2
		}
		for b := range perRE {
			*dst = append(*dst, uint32(i)*perRE+b)
		}
	}
	return out, nil
}
