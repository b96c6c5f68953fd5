package session

import (
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// LinkSlots grants at most one in-flight link operation per device identity.
// A caller that finds the slot taken is rejected rather than queued.
type LinkSlots struct {
	slots *hashmap.Map[string, *slot]
}

type slot struct {
	mu    sync.Mutex
	held  atomic.Bool
	lease atomic.Pointer[lease]
}

// lease is one hold of a slot. The slot is freed once the holder has released it and
// every transport call started under the lease has returned.
type lease struct {
	slot     *slot
	mu       sync.Mutex
	pending  int
	released bool
}

// NewLinkSlots creates an empty slot table
func NewLinkSlots() *LinkSlots {
	return &LinkSlots{slots: hashmap.New[string, *slot]()}
}

// Acquire takes the slot for identity. ok is false if another operation holds it.
// release is idempotent.
func (s *LinkSlots) Acquire(identity string) (release func(), ok bool) {
	sl, _ := s.slots.GetOrInsert(identity, &slot{})
	if !sl.mu.TryLock() {
		return nil, false
	}

	l := &lease{slot: sl}
	sl.lease.Store(l)
	sl.held.Store(true)
	return l.release, true
}

// Track registers a transport call running under the current hold of identity's slot.
// The slot stays taken until done is called, even when the holder releases first.
func (s *LinkSlots) Track(identity string) (done func()) {
	sl, ok := s.slots.Get(identity)
	if !ok {
		return func() {}
	}
	l := sl.lease.Load()
	if l == nil {
		return func() {}
	}
	return l.track()
}

// Held reports whether an operation, or a transport call it left behind, holds the slot
func (s *LinkSlots) Held(identity string) bool {
	sl, ok := s.slots.Get(identity)
	return ok && sl.held.Load()
}

func (l *lease) track() func() {
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.pending--
			free := l.released && l.pending == 0
			l.mu.Unlock()
			if free {
				l.free()
			}
		})
	}
}

func (l *lease) release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	free := l.pending == 0
	l.mu.Unlock()
	if free {
		l.free()
	}
}

func (l *lease) free() {
	l.slot.lease.Store(nil)
	l.slot.held.Store(false)
	l.slot.mu.Unlock()
}
