package rb

import "fmt"

// Interval is a half-open range [Start, Stop) of PRB indices. The zero value
// is the empty interval at 0.
type Interval struct {
	start uint32
	stop  uint32
}

// NewInterval builds [start, stop). start > stop is a programming error.
func NewInterval(start, stop uint32) Interval {
	if start > stop {
		panic(fmt.Sprintf("rb: invalid interval [%d,%d)", start, stop))
	}
	return Interval{start: start, stop: stop}
}

func (i Interval) Start() uint32 { return i.start }
func (i Interval) Stop() uint32  { return i.stop }
func (i Interval) Len() uint32   { return i.stop - i.start }
func (i Interval) Empty() bool   { return i.stop == i.start }

// Contains reports whether prb lies inside the interval.
func (i Interval) Contains(prb uint32) bool { return prb >= i.start && prb < i.stop }

// Overlaps reports whether the intervals share at least one PRB.
func (i Interval) Overlaps(o Interval) bool {
	return !i.Empty() && !o.Empty() && i.start < o.stop && o.start < i.stop
}

// Intersect returns the common part, or an empty interval.
func (i Interval) Intersect(o Interval) Interval {
	if !i.Overlaps(o) {
		return Interval{}
	}
	return Interval{start: max(i.start, o.start), stop: min(i.stop, o.stop)}
}

// Union returns the hull of two overlapping or adjacent intervals. ok is
// false when the intervals are disjoint and not adjacent.
func (i Interval) Union(o Interval) (Interval, bool) {
	if i.Empty() {
		return o, true
	}
	if o.Empty() {
		return i, true
	}
	if i.start > o.stop || o.start > i.stop {
		return Interval{}, false
	}
	return Interval{start: min(i.start, o.start), stop: max(i.stop, o.stop)}, true
}

func (i Interval) String() string {
	return fmt.Sprintf("[%d,%d)", i.start, i.stop)
}

// FindNextEmptyInterval returns the first run of clear bits starting at or
// after start and ending no later than last. It returns an empty interval
// when every bit in range is set.
func FindNextEmptyInterval(mask Bitmap, start, last uint32) Interval {
	limit := min(mask.Size(), last)
	if start >= limit {
		return Interval{}
	}
	first := mask.FindLowest(start, limit, false)
	if first < 0 {
		return Interval{}
	}
	end := mask.FindLowest(uint32(first)+1, limit, true)
	if end < 0 {
		end = int(limit)
	}
	return NewInterval(uint32(first), uint32(end))
}

// FindEmptyIntervalOfLength searches mask for n consecutive clear bits at or
// after start, first fit. If no gap is long enough it returns the largest gap
// seen.
func FindEmptyIntervalOfLength(mask Bitmap, n, start uint32) Interval {
	var best Interval
	for start < mask.Size() {
		gap := FindNextEmptyInterval(mask, start, mask.Size())
		if gap.Empty() {
			break
		}
		if gap.Len() >= n {
			return NewInterval(gap.Start(), gap.Start()+n)
		}
		if gap.Len() > best.Len() {
			best = gap
		}
		// gap.Stop() is a set bit.
		start = gap.Stop() + 1
	}
	return best
}
