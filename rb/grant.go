package rb

import "fmt"

// Grant is a frequency-domain allocation: either a type-0 RBG bitmap or a
// type-1 contiguous PRB interval. The zero value is an empty type-1 grant.
type Grant struct {
	rbgs     Bitmap
	interval Interval
	type0    bool
}

// GrantFromRBGs builds a type-0 grant.
func GrantFromRBGs(rbgs Bitmap) Grant { return Grant{rbgs: rbgs, type0: true} }

// GrantFromInterval builds a type-1 grant.
func GrantFromInterval(prbs Interval) Grant { return Grant{interval: prbs} }

func (g Grant) IsType0() bool { return g.type0 }
func (g Grant) IsType1() bool { return !g.type0 }

// RBGs returns the type-0 bitmap. Calling it on a type-1 grant panics.
func (g Grant) RBGs() Bitmap {
	if !g.type0 {
		panic("rb: RBGs called on type-1 grant")
	}
	return g.rbgs
}

// Interval returns the type-1 PRB interval. Calling it on a type-0 grant
// panics.
func (g Grant) Interval() Interval {
	if g.type0 {
		panic("rb: Interval called on type-0 grant")
	}
	return g.interval
}

// SetRBGs switches the grant to type 0.
func (g *Grant) SetRBGs(rbgs Bitmap) { *g = GrantFromRBGs(rbgs) }

// SetInterval switches the grant to type 1.
func (g *Grant) SetInterval(prbs Interval) { *g = GrantFromInterval(prbs) }

func (g Grant) String() string {
	if g.type0 {
		return fmt.Sprintf("rbgs=%s", g.rbgs)
	}
	return fmt.Sprintf("prbs=%s", g.interval)
}
