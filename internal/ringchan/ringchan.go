// Package ringchan provides a bounded channel with overwrite-oldest
// semantics, used for event streams whose producers must never block on a
// slow consumer (scan events, refresh results).
package ringchan

// RingChannel wraps a buffered channel; when the buffer is full the oldest
// element is discarded so senders always make progress.
type RingChannel[T any] struct {
	ch chan T
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Consumers can range over
// this until it is closed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts an item, discarding the oldest buffered element if the
// buffer is full. It never blocks; the return value reports whether an
// element was dropped.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	select {
	case rc.ch <- v:
		return false
	default:
	}

	dropped := false
	select {
	case <-rc.ch:
		dropped = true
	default:
	}
	rc.ch <- v
	return dropped
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. After this, ForceSend panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
