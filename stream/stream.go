// Package stream provides the in-process pub/sub primitives used to expose
// per-window state, output logs, and stale-window notifications to UI
// components that may attach after state already exists.
package stream

import "sync"

// Latest is a publish/subscribe cell that always delivers the most recent
// value: late subscribers immediately receive the current value, and slow
// subscribers are conflated to the newest one rather than blocking the
// publisher.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	set    bool
	subs   map[int]chan T
	nextID int
	closed bool
}

// NewLatest creates an empty Latest with no current value.
func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{subs: make(map[int]chan T)}
}

// NewLatestValue creates a Latest seeded with an initial value.
func NewLatestValue[T any](initial T) *Latest[T] {
	l := NewLatest[T]()
	l.value = initial
	l.set = true
	return l
}

// Set stores v as the current value and delivers it to every subscriber.
// Never blocks: a subscriber that has not consumed the previous value has
// it replaced by v.
func (l *Latest[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.value = v
	l.set = true
	for _, ch := range l.subs {
		deliverLatest(ch, v)
	}
}

// Get returns the current value and whether one has been set.
func (l *Latest[T]) Get() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.set
}

// Subscribe registers a new subscriber. If a current value exists it is
// delivered immediately. The returned cancel func must be called to release
// the subscription.
func (l *Latest[T]) Subscribe() (<-chan T, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan T, 1)
	if l.closed {
		close(ch)
		return ch, func() {}
	}

	id := l.nextID
	l.nextID++
	l.subs[id] = ch

	if l.set {
		ch <- l.value
	}

	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}
}

// Close releases all subscriptions. Subsequent Set calls are no-ops.
func (l *Latest[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}

// deliverLatest replaces any undelivered value in a capacity-1 channel.
func deliverLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// Feed is a fan-out notification feed with no replay. Each subscriber has a
// buffered channel; publishes to a full subscriber are dropped so one slow
// consumer cannot stall the rest.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	buffer int
	nextID int
	closed bool
}

// NewFeed creates a Feed whose subscriber channels hold up to buffer
// undelivered items. A non-positive buffer defaults to 1.
func NewFeed[T any](buffer int) *Feed[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Feed[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Publish delivers v to every subscriber that has buffer space.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel func.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, f.buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
}

// Close releases all subscriptions. Subsequent Publish calls are no-ops.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
