// Package ringchan provides a bounded, overwrite-oldest event channel.
package ringchan

import "sync/atomic"

// RingChannel is a bounded channel that never blocks its producer: when the buffer
// is full the oldest buffered element is discarded to make room.
//
// Consumers read from C() like a normal channel.
type RingChannel[T any] struct {
	ch     chan T
	stats  Stats
	closed atomic.Bool
	onDrop func(T)
}

// Stats counts channel traffic. Read it with Snapshot.
type Stats struct {
	Sent    int64
	Dropped int64
}

// New creates a RingChannel with the given capacity
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// OnDrop registers fn to be called with every element evicted by Send.
// It must be set before the first Send.
func (rc *RingChannel[T]) OnDrop(fn func(T)) *RingChannel[T] {
	rc.onDrop = fn
	return rc
}

// C returns the receive side of the channel
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, evicting the oldest element if the buffer is full.
// It reports whether an element was dropped. Send on a closed channel is a no-op.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	if rc.closed.Load() {
		return false
	}

	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.stats.Sent, 1)
			return dropped
		default:
		}

		// A concurrent reader may drain the buffer between the two selects
		select {
		case old := <-rc.ch:
			atomic.AddInt64(&rc.stats.Dropped, 1)
			dropped = true
			if rc.onDrop != nil {
				rc.onDrop(old)
			}
		default:
		}
	}
}

// TryReceive returns a buffered element without blocking
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		return v, false
	}
}

// Len returns the number of buffered elements
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the channel once. Producers must stop sending before Close.
func (rc *RingChannel[T]) Close() {
	if rc.closed.CompareAndSwap(false, true) {
		close(rc.ch)
	}
}

// Snapshot returns the current traffic counters
func (rc *RingChannel[T]) Snapshot() Stats {
	return Stats{
		Sent:    atomic.LoadInt64(&rc.stats.Sent),
		Dropped: atomic.LoadInt64(&rc.stats.Dropped),
	}
}
