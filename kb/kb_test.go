package kb

import (
	"errors"
	"sync"
	"testing"
)

func newPool(t *testing.T, first uint16, n uint32) *RNTIPool {
	t.Helper()
	p := &RNTIPool{}
	if err := p.Init(first, n); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return p
}

func TestPoolAllocatesLowestFirst(t *testing.T) {
	p := newPool(t, 0x4601, 3)
	for _, want := range []uint16{0x4601, 0x4602, 0x4603} {
		got, err := p.Allocate()
		if err != nil || got != want {
			t.Fatalf("Allocate got 0x%04x (%v), want 0x%04x", got, err, want)
		}
	}
	if _, err := p.Allocate(); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if err := p.Release(0x4602); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got, _ := p.Allocate(); got != 0x4602 {
		t.Fatalf("reused RNTI got 0x%04x, want 0x4602", got)
	}
}

func TestPoolGrowKeepsOrder(t *testing.T) {
	p := newPool(t, 100, 2)
	a, _ := p.Allocate()
	if err := p.Grow(2); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if err := p.Release(a); err != nil {
		t.Fatalf("Release: %v", err)
	}
	var got []uint16
	for range 4 {
		r, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		got = append(got, r)
	}
	want := []uint16{100, 101, 102, 103}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("allocation order got %v, want %v", got, want)
		}
	}
	if p.Cap() != 4 || p.InUse() != 4 {
		t.Fatalf("cap=%d inUse=%d, want 4/4", p.Cap(), p.InUse())
	}
}

func TestPoolRangeAndTeardown(t *testing.T) {
	p := &RNTIPool{}
	if err := p.Init(0, 4); !errors.Is(err, ErrPoolRange) {
		t.Fatalf("Init(0) got %v, want ErrPoolRange", err)
	}
	if err := p.Init(LastCRNTI, 2); !errors.Is(err, ErrPoolRange) {
		t.Fatalf("Init past LastCRNTI got %v, want ErrPoolRange", err)
	}
	if _, err := p.Allocate(); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Allocate before Init got %v, want ErrPoolClosed", err)
	}
	p = newPool(t, LastCRNTI-1, 2)
	if err := p.Grow(1); !errors.Is(err, ErrPoolRange) {
		t.Fatalf("Grow past LastCRNTI got %v, want ErrPoolRange", err)
	}
	p.Teardown()
	if _, err := p.Allocate(); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Allocate after Teardown got %v, want ErrPoolClosed", err)
	}
	if err := p.Grow(1); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Grow after Teardown got %v, want ErrPoolClosed", err)
	}
	if err := p.Release(LastCRNTI); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Release after Teardown got %v, want ErrPoolClosed", err)
	}
}

func TestPoolReleaseUnknown(t *testing.T) {
	p := newPool(t, 10, 2)
	if err := p.Release(10); !errors.Is(err, ErrNotAllocated) {
		t.Fatalf("Release of free RNTI got %v, want ErrNotAllocated", err)
	}
	if err := p.Release(50); !errors.Is(err, ErrNotAllocated) {
		t.Fatalf("Release outside slab got %v, want ErrNotAllocated", err)
	}
}

func TestStoreAddGetRemove(t *testing.T) {
	s := NewStore(newPool(t, 0x4601, 4), 0)
	ue, err := s.Add(UE{CQI: 9, DLPending: 1000})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ue.RNTI != 0x4601 {
		t.Fatalf("RNTI got 0x%04x, want 0x4601", ue.RNTI)
	}
	got, ok := s.Get(ue.RNTI)
	if !ok || got.CQI != 9 || got.DLPending != 1000 {
		t.Fatalf("Get returned %+v, %v", got, ok)
	}
	if err := s.Remove(ue.RNTI); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := s.Get(ue.RNTI); ok {
		t.Fatalf("UE still present after Remove")
	}
	if err := s.Remove(ue.RNTI); !errors.Is(err, ErrUnknownUE) {
		t.Fatalf("second Remove got %v, want ErrUnknownUE", err)
	}
}

func TestStoreGrowsPool(t *testing.T) {
	pool := newPool(t, 1, 1)
	s := NewStore(pool, 2)
	for range 3 {
		if _, err := s.Add(UE{}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if pool.Cap() != 3 {
		t.Fatalf("pool cap got %d, want 3", pool.Cap())
	}
	strict := NewStore(newPool(t, 1, 1), 0)
	strict.Add(UE{})
	if _, err := strict.Add(UE{}); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Add without growth got %v, want ErrPoolExhausted", err)
	}
}

func TestStoreListSorted(t *testing.T) {
	s := NewStore(newPool(t, 1, 8), 0)
	for range 5 {
		s.Add(UE{})
	}
	s.Remove(2)
	list := s.List()
	if len(list) != 4 || s.Len() != 4 {
		t.Fatalf("List len got %d, want 4", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].RNTI >= list[i].RNTI {
			t.Fatalf("List not sorted: %v", list)
		}
	}
}

func TestStoreUpdateNotifies(t *testing.T) {
	s := NewStore(newPool(t, 1, 2), 0)
	var events []Event
	unsubscribe := s.Subscribe(func(e Event) { events = append(events, e) })

	ue, _ := s.Add(UE{})
	if err := s.Update(ue.RNTI, func(u *UE) { u.ULPending = 300; u.RNTI = 99 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Get(ue.RNTI)
	if got.ULPending != 300 || got.RNTI != ue.RNTI {
		t.Fatalf("Update result %+v", got)
	}
	unsubscribe()
	s.Remove(ue.RNTI)

	if len(events) != 2 || events[0].Type != EventUEAdded || events[1].Type != EventUEUpdated {
		t.Fatalf("events got %v", events)
	}
	if events[1].UE.ULPending != 300 {
		t.Fatalf("update event carried %+v", events[1].UE)
	}
	if err := s.Update(77, func(*UE) {}); !errors.Is(err, ErrUnknownUE) {
		t.Fatalf("Update unknown got %v, want ErrUnknownUE", err)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(newPool(t, 1, 64), 0)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 8 {
				ue, err := s.Add(UE{})
				if err != nil {
					t.Errorf("Add: %v", err)
					return
				}
				_ = s.Update(ue.RNTI, func(u *UE) { u.Stats.DLAck++ })
				_ = s.List()
			}
		}()
	}
	wg.Wait()
	if s.Len() != 64 {
		t.Fatalf("Len got %d, want 64", s.Len())
	}
}
