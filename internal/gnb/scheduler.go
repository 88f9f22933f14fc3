package gnb

import (
	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/ra"
	"github.com/signalsfoundry/nrstack/rb"
)

// allocate reserves about n PRBs in m for one grant and returns the grant
// with its DCI frequency domain field. Type 0 and dynamic switch pick free
// RBGs lowest first; type 1 takes the first contiguous gap, or the largest
// one when none is long enough.
func allocate(m *rb.BWPBitmap, raType model.RAType, n uint32) (rb.Grant, uint32, bool) {
	if n == 0 {
		return rb.Grant{}, 0, false
	}
	switch raType {
	case model.RAType0, model.RATypeDynamic:
		rbgs := m.NewRBGs()
		var got uint32
		for _, i := range m.RBGs().Flip().Indices() {
			if got >= n {
				break
			}
			rbgs.Set(i)
			got += m.RBGToPRBs(i).Len()
		}
		g := rb.GrantFromRBGs(rbgs)
		if rbgs.None() || m.Collides(g) {
			return rb.Grant{}, 0, false
		}
		m.AddGrant(g)
		// Dynamic switch: a clear MSB selects type 0.
		return g, ra.RBGsToType0(rbgs), true
	default:
		iv := rb.FindEmptyIntervalOfLength(m.PRBs(), n, 0)
		g := rb.GrantFromInterval(iv)
		if iv.Empty() || m.Collides(g) {
			return rb.Grant{}, 0, false
		}
		m.AddGrant(g)
		return g, ra.IntervalToRIV(iv, m.BWP().NofPRB), true
	}
}

// roundRobin returns up to n of cands starting at offset, wrapping.
func roundRobin[T any](cands []T, offset uint64, n int) []T {
	n = min(n, len(cands))
	out := make([]T, 0, n)
	for i := range n {
		out = append(out, cands[(offset+uint64(i))%uint64(len(cands))])
	}
	return out
}

// sduRoom returns the largest SDU that fits in rem bytes with its subheader.
func sduRoom(rem int) int {
	switch {
	case rem <= 2:
		return 0
	case rem-2 <= 0xff:
		return rem - 2
	}
	return min(rem-3, 0xffff)
}
