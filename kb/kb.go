// Package kb keeps the UE contexts of one cell.
package kb

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrUnknownUE = errors.New("kb: unknown UE")

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventUEAdded EventType = iota
	EventUEUpdated
	EventUERemoved
)

func (t EventType) String() string {
	switch t {
	case EventUEAdded:
		return "added"
	case EventUEUpdated:
		return "updated"
	case EventUERemoved:
		return "removed"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is emitted to subscribers when a UE context changes.
type Event struct {
	Type EventType
	UE   UE
}

// Stats accumulates HARQ outcomes of one UE.
type Stats struct {
	DLAck, DLNack uint64
	ULAck, ULNack uint64
	DLBytes       uint64
	ULBytes       uint64
}

// UE is the scheduling context of one connected UE.
type UE struct {
	RNTI       uint16
	CQI        uint32 // last reported wideband CQI
	DLPending  uint32 // bytes queued for the downlink
	DLInFlight uint32 // SDU bytes of the PDSCH awaiting HARQ-ACK
	ULPending  uint32 // bytes reported by the last BSR
	PH         uint8  // last reported power headroom index
	NDI        uint32
	Stats      Stats
}

// Store is an in-memory, thread-safe UE context store. RNTIs come from an
// injected pool; the store never creates one of its own.
type Store struct {
	mu   sync.RWMutex
	pool *RNTIPool
	grow uint32
	ues  map[uint16]*UE

	nextSub int
	subs    map[int]func(Event)
}

// NewStore returns an empty store drawing RNTIs from pool. When growBy is
// non-zero an exhausted pool is grown by that many RNTIs before failing.
func NewStore(pool *RNTIPool, growBy uint32) *Store {
	return &Store{
		pool: pool,
		grow: growBy,
		ues:  make(map[uint16]*UE),
		subs: make(map[int]func(Event)),
	}
}

// Add allocates an RNTI and stores init under it.
func (s *Store) Add(init UE) (UE, error) {
	rnti, err := s.pool.Allocate()
	if errors.Is(err, ErrPoolExhausted) && s.grow > 0 {
		if gerr := s.pool.Grow(s.grow); gerr != nil {
			return UE{}, fmt.Errorf("%w (grow: %v)", err, gerr)
		}
		rnti, err = s.pool.Allocate()
	}
	if err != nil {
		return UE{}, err
	}
	init.RNTI = rnti
	ue := init

	s.mu.Lock()
	s.ues[rnti] = &ue
	subs := s.snapshotSubs()
	s.mu.Unlock()

	notify(subs, Event{Type: EventUEAdded, UE: ue})
	return ue, nil
}

// Get returns a copy of the context of rnti.
func (s *Store) Get(rnti uint16) (UE, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ue, ok := s.ues[rnti]
	if !ok {
		return UE{}, false
	}
	return *ue, true
}

// Update applies fn to the context of rnti under the store lock and
// notifies subscribers with the result.
func (s *Store) Update(rnti uint16, fn func(*UE)) error {
	s.mu.Lock()
	ue, ok := s.ues[rnti]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: 0x%04x", ErrUnknownUE, rnti)
	}
	fn(ue)
	ue.RNTI = rnti
	event := Event{Type: EventUEUpdated, UE: *ue}
	subs := s.snapshotSubs()
	s.mu.Unlock()

	notify(subs, event)
	return nil
}

// Remove deletes the context of rnti and returns its RNTI to the pool.
func (s *Store) Remove(rnti uint16) error {
	s.mu.Lock()
	ue, ok := s.ues[rnti]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: 0x%04x", ErrUnknownUE, rnti)
	}
	delete(s.ues, rnti)
	event := Event{Type: EventUERemoved, UE: *ue}
	subs := s.snapshotSubs()
	s.mu.Unlock()

	if err := s.pool.Release(rnti); err != nil {
		return err
	}
	notify(subs, event)
	return nil
}

// List returns a snapshot of all contexts ordered by RNTI.
func (s *Store) List() []UE {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]UE, 0, len(s.ues))
	for _, ue := range s.ues {
		res = append(res, *ue)
	}
	slices.SortFunc(res, func(a, b UE) int { return int(a.RNTI) - int(b.RNTI) })
	return res
}

// Len returns the number of stored UEs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ues)
}

// Subscribe registers a callback for store events. It returns an
// unsubscribe function.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// snapshotSubs must be called with s.mu held.
func (s *Store) snapshotSubs() []func(Event) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(Event), len(ids))
	for i, id := range ids {
		out[i] = s.subs[id]
	}
	return out
}

// notify runs outside the lock so callbacks may use the store.
func notify(subs []func(Event), e Event) {
	for _, sub := range subs {
		sub(e)
	}
}
