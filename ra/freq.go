package ra

import (
	"fmt"
	"math/bits"

	"github.com/signalsfoundry/nrstack/model"
	"github.com/signalsfoundry/nrstack/rb"
)

// RIVToInterval decodes a type 1 resource indication value over a BWP of n
// PRBs.
func RIVToInterval(riv, n uint32) (rb.Interval, error) {
	if n == 0 {
		return rb.Interval{}, fmt.Errorf("%w: empty BWP", ErrInvalidFreqAlloc)
	}
	if riv >= n*(n+1)/2 {
		return rb.Interval{}, fmt.Errorf("%w: riv=%d n=%d", ErrInvalidFreqAlloc, riv, n)
	}
	low, high := riv%n, riv/n
	var start, length uint32
	if high+1+low <= n {
		start, length = low, high+1
	} else {
		start, length = n-1-low, n-high+1
	}
	if length == 0 || start+length > n || start >= n {
		return rb.Interval{}, fmt.Errorf("%w: riv=%d n=%d", ErrInvalidFreqAlloc, riv, n)
	}
	return rb.NewInterval(start, start+length), nil
}

// IntervalToRIV encodes a PRB interval as a type 1 RIV over n PRBs.
func IntervalToRIV(iv rb.Interval, n uint32) uint32 {
	l, s := iv.Len(), iv.Start()
	if l-1 <= n/2 {
		return n*(l-1) + s
	}
	return n*(n-l+1) + (n - 1 - s)
}

// RIVBits returns the width of the type 1 field for n PRBs.
func RIVBits(n uint32) uint32 {
	v := n * (n + 1) / 2
	if v <= 1 {
		return 0
	}
	return uint32(bits.Len32(v - 1))
}

// Type0ToRBGs decodes a type 0 bitmap field; the most significant of the
// nofRBG bits is RBG 0.
func Type0ToRBGs(field, nofRBG uint32) rb.Bitmap {
	out := rb.NewBitmap(nofRBG)
	for i := uint32(0); i < nofRBG; i++ {
		if field>>(nofRBG-1-i)&1 != 0 {
			out.Set(i)
		}
	}
	return out
}

// RBGsToType0 encodes an RBG bitmap as a type 0 field.
func RBGsToType0(rbgs rb.Bitmap) uint32 {
	n := rbgs.Size()
	var field uint32
	for _, i := range rbgs.Indices() {
		field |= 1 << (n - 1 - i)
	}
	return field
}

// FreqAlloc decodes the frequency domain assignment of a DCI into a
// carrier-relative PRB bitmap. Fallback DCI formats always use type 1.
func FreqAlloc(hl *model.SchHLConfig, carrier model.Carrier, bwp rb.BWP, format model.DCIFormat, field uint32) (rb.Bitmap, error) {
	out := rb.NewBitmap(carrier.NofPRB)
	if bwp.Start+bwp.NofPRB > carrier.NofPRB {
		return out, fmt.Errorf("%w: BWP [%d,+%d) beyond carrier %d", ErrInvalidFreqAlloc, bwp.Start, bwp.NofPRB, carrier.NofPRB)
	}
	raType := hl.RAType
	if format.Fallback() {
		raType = model.RAType1
	}
	bwpMap := rb.NewBWPBitmap(bwp)
	if raType == model.RATypeDynamic {
		width := max(bwpMap.NofRBGs(), RIVBits(bwp.NofPRB))
		if field>>width&1 != 0 {
			raType = model.RAType1
		} else {
			raType = model.RAType0
		}
		field &= (1 << width) - 1
	}

	switch raType {
	case model.RAType0:
		rbgs := Type0ToRBGs(field, bwpMap.NofRBGs())
		if rbgs.None() {
			return out, fmt.Errorf("%w: empty type 0 bitmap", ErrInvalidFreqAlloc)
		}
		prbs := bwpMap.PRBsOfRBGs(rbgs)
		for _, p := range prbs.Indices() {
			out.Set(bwp.Start + p)
		}
	default:
		iv, err := RIVToInterval(field, bwp.NofPRB)
		if err != nil {
			return out, err
		}
		out.SetRange(bwp.Start+iv.Start(), bwp.Start+iv.Stop())
	}
	return out, nil
}
