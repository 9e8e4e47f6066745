// Package stream implements live query results: a mutation feed that stores
// publish to, and watchers that re-run a query and push a fresh snapshot to
// their subscriber after every mutation.
package stream

import (
	"context"
	"sync"
	"time"

	"expensetracker/internal/core"
)

// Op names a store mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpDelete Op = "delete"
)

// Change describes one committed mutation.
type Change struct {
	Op      Op
	Expense core.Expense
	At      time.Time
}

// Update is one delivery of a live query. A non-nil Err is terminal: the
// channel is closed right after it.
type Update[T any] struct {
	Value T
	Err   error
}

// Feed fans committed changes out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the change, and watchers only
// keep one pending signal since they re-run their query anyway.
type Feed struct {
	mu      sync.Mutex
	next    int
	subs    map[int]chan Change
	signals map[int]chan struct{}
	closed  bool
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{
		subs:    make(map[int]chan Change),
		signals: make(map[int]chan struct{}),
	}
}

// Subscribe registers a subscriber with the given buffer size (minimum 1).
// The returned function unsubscribes and closes the channel; it is safe to
// call more than once.
func (f *Feed) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = ch

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

func (f *Feed) signal() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.next
	f.next++
	f.signals[id] = ch

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.signals[id]; ok {
			delete(f.signals, id)
			close(c)
		}
	}
}

// Publish delivers c to every subscriber and wakes every watcher. It returns
// how many Subscribe channels were full and missed the change.
func (f *Feed) Publish(c Change) (dropped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- c:
		default:
			dropped++
		}
	}
	for _, ch := range f.signals {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return dropped
}

// Close closes every subscriber and watcher channel. Later subscriptions
// receive an already closed channel.
func (f *Feed) Close() {
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
	for id, ch := range f.signals {
		delete(f.signals, id)
		close(ch)
	}
}

// Len returns the number of active subscribers and watchers.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs) + len(f.signals)
}

// Watch runs query once and again after every change on feed, delivering each
// result on the returned channel. Changes that arrive while a query is running
// or waiting to be delivered are coalesced into a single re-run.
//
// The channel is closed when ctx is done, when the feed is closed, or right
// after a failed query has been delivered. onClose hooks run after that.
func Watch[T any](ctx context.Context, feed *Feed, query func(context.Context) (T, error), onClose ...func()) <-chan Update[T] {
	out := make(chan Update[T])
	// Subscribe before the first query so no mutation slips in between.
	changes, unsubscribe := feed.signal()

	go func() {
		defer func() {
			unsubscribe()
			close(out)
			for _, fn := range onClose {
				fn()
			}
		}()

		for {
			v, err := query(ctx)
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- Update[T]{Value: v, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}

			select {
			case _, ok := <-changes:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Map transforms every value delivered on in. Errors pass through unchanged.
func Map[T, U any](ctx context.Context, in <-chan Update[T], fn func(T) U) <-chan Update[U] {
	out := make(chan Update[U])
	go func() {
		defer close(out)
		for u := range in {
			var mapped Update[U]
			if u.Err != nil {
				mapped.Err = u.Err
			} else {
				mapped.Value = fn(u.Value)
			}
			select {
			case out <- mapped:
			case <-ctx.Done():
				// Drain so the upstream goroutine can observe ctx and exit.
				for range in {
				}
				return
			}
		}
	}()
	return out
}
