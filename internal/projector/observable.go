package projector

import (
	"context"
	"sync"
)

// Observable holds a value and pushes every change to its subscribers.
// Subscribers are conflated: a slow reader only ever sees the latest value.
type Observable[T any] struct {
	mu     sync.Mutex
	value  T
	next   int
	subs   map[int]chan T
	closed bool
	done   chan struct{}
}

func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{value: initial, subs: make(map[int]chan T), done: make(chan struct{})}
}

func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

func (o *Observable[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value = v
	for _, ch := range o.subs {
		offer(ch, v)
	}
}

// Update replaces the value with fn applied to it, atomically.
func (o *Observable[T]) Update(fn func(T) T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value = fn(o.value)
	for _, ch := range o.subs {
		offer(ch, o.value)
	}
}

// Subscribe returns a channel that first carries the current value and then
// every later one. It is closed when ctx is done or the observable is closed.
func (o *Observable[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	o.mu.Lock()
	ch <- o.value
	if o.closed {
		o.mu.Unlock()
		close(ch)
		return ch
	}
	id := o.next
	o.next++
	o.subs[id] = ch
	o.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-o.done:
			return
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}()
	return ch
}

// Close closes every subscriber channel. The value can still be read.
func (o *Observable[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}

// offer replaces whatever is buffered in ch with v. Only called with the
// owning observable's lock held, so no other sender competes for the slot.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}

// slot gives one state a single active subscription. Starting a new one
// cancels the previous one, and its late deliveries are discarded by
// generation.
type slot struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// begin supersedes the current subscription. init runs under the slot lock,
// before any delivery of the new generation can be applied.
func (s *slot) begin(parent context.Context, init func()) (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.gen++
	if init != nil {
		init()
	}
	return ctx, s.gen
}

// apply runs fn if gen is still the live generation.
func (s *slot) apply(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	fn()
	return true
}

// run executes fn under the slot lock regardless of generation.
func (s *slot) run(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *slot) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// Await reads from ch until ok accepts a value, ctx is done or ch closes.
func Await[T any](ctx context.Context, ch <-chan T, ok func(T) bool) (T, error) {
	var last T
	for {
		select {
		case v, open := <-ch:
			if !open {
				return last, ErrClosed
			}
			last = v
			if ok(v) {
				return v, nil
			}
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
}
