// Package mailbox provides an unbounded FIFO queue with many producers and a
// single blocking consumer.
package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the mailbox is closed and drained.
var ErrClosed = errors.New("mailbox: closed")

// Mailbox is an ordered, unbounded, thread-safe queue. Enqueue never blocks,
// so a router can post to a slow consumer without stalling.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{} // buffered(1): set when items is non-empty
	done   chan struct{} // closed by Close
}

// New creates an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends v and wakes the waiting consumer. It returns false, and
// drops v, if the mailbox is closed.
func (m *Mailbox[T]) Enqueue(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// TryNext pops the head of the queue without blocking.
func (m *Mailbox[T]) TryNext() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pop()
}

func (m *Mailbox[T]) pop() (T, bool) {
	var zero T
	if len(m.items) == 0 {
		return zero, false
	}
	v := m.items[0]
	m.items[0] = zero
	m.items = m.items[1:]
	if len(m.items) == 0 {
		m.items = nil
	}
	return v, true
}

// Next blocks until an item is available, ctx is cancelled, or the mailbox is
// closed. Items enqueued before Close are still delivered; after that Next
// returns ErrClosed.
func (m *Mailbox[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if v, ok := m.pop(); ok {
			m.mu.Unlock()
			return v, nil
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-m.ready:
		case <-m.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops accepting items and wakes a blocked consumer. Safe to call more
// than once.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
