// Package timectrl drives the slot timeline of the simulator.
package timectrl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// NofSFN is the system frame number period.
	NofSFN = 1024
	subframesPerFrame = 10
)

// SlotPoint identifies one slot: a system frame number and the slot inside
// that frame at a given numerology.
type SlotPoint struct {
	Numerology uint32
	SFN        uint32
	Slot       uint32
}

// SlotsPerFrame returns the number of slots in one 10 ms frame.
func SlotsPerFrame(mu uint32) uint32 { return subframesPerFrame << mu }

// SlotDuration returns the slot length at numerology mu.
func SlotDuration(mu uint32) time.Duration { return time.Millisecond >> mu }

// FromIndex returns the slot point of absolute slot count n.
func FromIndex(mu uint32, n uint64) SlotPoint {
	per := uint64(SlotsPerFrame(mu))
	return SlotPoint{
		Numerology: mu,
		SFN:        uint32(n / per % NofSFN),
		Slot:       uint32(n % per),
	}
}

// Index returns the slot count since SFN 0, slot 0 of the current SFN cycle.
func (p SlotPoint) Index() uint64 {
	return uint64(p.SFN)*uint64(SlotsPerFrame(p.Numerology)) + uint64(p.Slot)
}

// Add returns the slot point n slots later, wrapping at the SFN period.
func (p SlotPoint) Add(n uint64) SlotPoint {
	period := uint64(NofSFN) * uint64(SlotsPerFrame(p.Numerology))
	return FromIndex(p.Numerology, (p.Index()+n)%period)
}

func (p SlotPoint) String() string {
	return fmt.Sprintf("%d.%d", p.SFN, p.Slot)
}

// Clock gives components access to the current slot without depending on
// the concrete controller.
type Clock interface {
	Now() SlotPoint
}

// Mode describes how the SlotController advances time.
type Mode int

const (
	// RealTime waits one slot duration of wall-clock time per slot.
	RealTime Mode = iota
	// Accelerated advances as quickly as the listeners return.
	Accelerated
)

// Listener is invoked once per slot. A non-nil error stops the controller.
type Listener func(ctx context.Context, p SlotPoint) error

// SlotController drives slot time and notifies registered listeners.
// It implements Clock.
type SlotController struct {
	mu         sync.RWMutex
	numerology uint32
	mode       Mode
	current    SlotPoint
	ticks      uint64

	listeners []Listener
}

// NewSlotController returns a controller starting at SFN 0, slot 0.
func NewSlotController(numerology uint32, mode Mode) *SlotController {
	return &SlotController{
		numerology: numerology,
		mode:       mode,
		current:    SlotPoint{Numerology: numerology},
	}
}

// Now returns the current slot. Implements Clock.
func (sc *SlotController) Now() SlotPoint {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.current
}

// Ticks returns the number of slots processed since the controller started.
func (sc *SlotController) Ticks() uint64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.ticks
}

// SetSlot moves the controller to p.
func (sc *SlotController) SetSlot(p SlotPoint) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	p.Numerology = sc.numerology
	sc.current = p
}

// AddListener registers a callback invoked on every slot. Listeners must be
// added before Run.
func (sc *SlotController) AddListener(fn Listener) {
	sc.listeners = append(sc.listeners, fn)
}

// Run processes nofSlots slots (unbounded when zero) and returns when they
// are done, the context is cancelled or a listener fails. Each slot first
// runs the listeners on the current slot point, then advances it.
func (sc *SlotController) Run(ctx context.Context, nofSlots uint64) error {
	var tick <-chan time.Time
	if sc.mode == RealTime {
		ticker := time.NewTicker(SlotDuration(sc.numerology))
		defer ticker.Stop()
		tick = ticker.C
	}

	for n := uint64(0); nofSlots == 0 || n < nofSlots; n++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		now := sc.Now()
		for _, fn := range sc.listeners {
			if err := fn(ctx, now); err != nil {
				return fmt.Errorf("slot %s: %w", now, err)
			}
		}

		sc.mu.Lock()
		sc.current = sc.current.Add(1)
		sc.ticks++
		sc.mu.Unlock()
	}
	return nil
}

// Start runs the controller in a separate goroutine. It returns a channel
// that receives the result of Run and is then closed.
func (sc *SlotController) Start(ctx context.Context, nofSlots uint64) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- sc.Run(ctx, nofSlots)
	}()
	return done
}
