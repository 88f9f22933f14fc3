package kb

import (
	"errors"
	"fmt"
	"sync"
)

// C-RNTI range handed out to UEs (TS 38.321 Table 7.1-1).
const (
	FirstCRNTI uint16 = 0x0001
	LastCRNTI  uint16 = 0xFFEF
)

var (
	ErrPoolExhausted = errors.New("kb: RNTI pool exhausted")
	ErrPoolClosed    = errors.New("kb: RNTI pool torn down")
	ErrPoolRange     = errors.New("kb: RNTI pool out of C-RNTI range")
	ErrNotAllocated  = errors.New("kb: RNTI not allocated")
)

// RNTIPool hands out C-RNTIs from a contiguous slab [first, first+size).
// The slab is created by Init, extended by Grow and released by Teardown;
// nothing is allocated implicitly.
type RNTIPool struct {
	mu     sync.Mutex
	first  uint16
	size   uint32
	used   []bool
	free   []uint16 // stack, lowest RNTI on top
	inUse  int
	closed bool
}

// Init creates a slab of n RNTIs starting at first. Calling Init on a pool
// that is already initialised replaces the slab.
func (p *RNTIPool) Init(first uint16, n uint32) error {
	if first < FirstCRNTI || n == 0 || uint32(first)+n-1 > uint32(LastCRNTI) {
		return fmt.Errorf("%w: first=0x%04x n=%d", ErrPoolRange, first, n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.first, p.size = first, 0
	p.used, p.free = nil, nil
	p.inUse, p.closed = 0, false
	p.grow(n)
	return nil
}

// Grow extends the slab by n RNTIs.
func (p *RNTIPool) Grow(n uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.used == nil {
		return ErrPoolClosed
	}
	if uint32(p.first)+p.size+n-1 > uint32(LastCRNTI) {
		return fmt.Errorf("%w: cannot grow %d by %d", ErrPoolRange, p.size, n)
	}
	p.grow(n)
	return nil
}

func (p *RNTIPool) grow(n uint32) {
	start := p.size
	p.size += n
	p.used = append(p.used, make([]bool, n)...)
	// New entries go under the existing free list so low RNTIs are reused first.
	fresh := make([]uint16, 0, int(n)+len(p.free))
	for i := p.size; i > start; i-- {
		fresh = append(fresh, p.first+uint16(i-1))
	}
	p.free = append(fresh, p.free...)
}

// Teardown releases the slab. Allocate and Grow fail until the next Init.
func (p *RNTIPool) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used, p.free = nil, nil
	p.size, p.inUse = 0, 0
	p.closed = true
}

// Allocate returns the lowest free RNTI.
func (p *RNTIPool) Allocate() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.used == nil {
		return 0, ErrPoolClosed
	}
	if len(p.free) == 0 {
		return 0, fmt.Errorf("%w: %d in use", ErrPoolExhausted, p.inUse)
	}
	rnti := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.used[rnti-p.first] = true
	p.inUse++
	return rnti, nil
}

// Release returns rnti to the pool.
func (p *RNTIPool) Release(rnti uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.used == nil {
		return ErrPoolClosed
	}
	if rnti < p.first || uint32(rnti-p.first) >= p.size || !p.used[rnti-p.first] {
		return fmt.Errorf("%w: 0x%04x", ErrNotAllocated, rnti)
	}
	p.used[rnti-p.first] = false
	p.inUse--
	// Keep the free list ordered so Allocate stays lowest-first.
	i := len(p.free)
	for i > 0 && p.free[i-1] < rnti {
		i--
	}
	p.free = append(p.free, 0)
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = rnti
	return nil
}

// Cap returns the slab size.
func (p *RNTIPool) Cap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.size)
}

// InUse returns the number of allocated RNTIs.
func (p *RNTIPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}
