// Package mailbox provides an ordered, single-consumer queue that never blocks
// producers. It is the message-passing primitive between the engine's
// goroutines: the transport's inbound reader, the playback writer, and the UI
// dispatcher all hand work across through a Mailbox.
package mailbox

import "sync"

// Option configures a [Mailbox].
type Option[T any] func(*Mailbox[T])

// WithLimit bounds the number of queued items for which evictable returns
// true to n. When a Put of such an item would exceed the bound, the oldest
// evictable item is discarded first. Other items never count toward the bound
// and are never evicted.
func WithLimit[T any](n int, evictable func(T) bool) Option[T] {
	return func(m *Mailbox[T]) {
		m.limit = n
		m.evictable = evictable
	}
}

// Mailbox is a FIFO queue with a notification channel. Put never blocks.
// Any number of goroutines may Put; exactly one goroutine should consume.
type Mailbox[T any] struct {
	mu        sync.Mutex
	items     []T
	limit     int
	evictable func(T) bool
	closed    bool
	evicted   uint64
	notify    chan struct{}
}

// New returns an empty, unbounded mailbox.
func New[T any](opts ...Option[T]) *Mailbox[T] {
	m := &Mailbox[T]{notify: make(chan struct{}, 1)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Put appends v. It returns the number of items evicted to make room and false
// if the mailbox is closed (v is then discarded).
func (m *Mailbox[T]) Put(v T) (evicted int, ok bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, false
	}
	if m.limit > 0 && m.evictable != nil && m.evictable(v) {
		n := 0
		for _, it := range m.items {
			if m.evictable(it) {
				n++
			}
		}
		for ; n >= m.limit; n-- {
			for i, it := range m.items {
				if m.evictable(it) {
					m.items = append(m.items[:i], m.items[i+1:]...)
					evicted++
					break
				}
			}
		}
		m.evicted += uint64(evicted)
	}
	m.items = append(m.items, v)
	m.mu.Unlock()
	m.signal()
	return evicted, true
}

// Take removes and returns the oldest item.
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if len(m.items) == 0 {
		return zero, false
	}
	v := m.items[0]
	m.items[0] = zero
	m.items = m.items[1:]
	return v, true
}

// TakeAll removes and returns every queued item in order.
func (m *Mailbox[T]) TakeAll() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.items
	m.items = nil
	return out
}

// Clear discards every queued item and returns how many were dropped.
func (m *Mailbox[T]) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.items)
	m.items = nil
	return n
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Evicted returns the total number of items evicted by the limit so far.
func (m *Mailbox[T]) Evicted() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evicted
}

// Notify returns a channel that receives a value after Put or Close. Signals
// coalesce: one receive may stand for several Puts.
func (m *Mailbox[T]) Notify() <-chan struct{} { return m.notify }

// Close rejects further Puts. Items already queued can still be taken.
// Calling Close more than once is safe.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	already := m.closed
	m.closed = true
	m.mu.Unlock()
	if !already {
		m.signal()
	}
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stream forwards queued items, in order, to the returned channel. The channel
// is closed once the mailbox is closed and drained, or when done is closed.
// Stream must be called at most once and replaces any other consumer.
func (m *Mailbox[T]) Stream(done <-chan struct{}) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			v, ok := m.Take()
			if !ok {
				if m.Closed() && m.Len() == 0 {
					return
				}
				select {
				case <-m.notify:
				case <-done:
					return
				}
				continue
			}
			select {
			case out <- v:
			case <-done:
				return
			}
		}
	}()
	return out
}

func (m *Mailbox[T]) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
