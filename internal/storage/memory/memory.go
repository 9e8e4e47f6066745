// Package memory is a process-local record store with the same live-query
// behaviour as the SQLite store. Nothing survives a restart.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
	"expensetracker/internal/metrics"
	"expensetracker/internal/storage"
	"expensetracker/internal/stream"
)

type Store struct {
	mu      sync.Mutex
	nextID  int64
	items   map[int64]core.Expense
	feed    *stream.Feed
	metrics metrics.Recorder
}

type Option func(*Store)

// WithRecorder reports store activity to r, under the same stream names as
// the SQLite store.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Store) {
		if r != nil {
			s.metrics = r
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		nextID:  1,
		items:   make(map[int64]core.Expense),
		feed:    stream.NewFeed(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWithExpenses returns a store pre-filled with seed. Seed records keep
// their ids; records with a zero id get one assigned.
func NewWithExpenses(seed []core.Expense, opts ...Option) *Store {
	s := New(opts...)
	for _, e := range seed {
		s.put(e)
	}
	return s
}

// Insert stores e, replacing any record with the same non-zero id.
func (s *Store) Insert(ctx context.Context, e core.Expense) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	e = s.put(e)
	s.mu.Unlock()

	slog.DebugContext(ctx, "Expense stored in memory", "id", e.ID, "category", e.Category)
	s.metrics.MutationCompleted(string(stream.OpInsert), nil)
	s.publish(stream.Change{Op: stream.OpInsert, Expense: e, At: time.Now()})
	return e.ID, nil
}

// put must be called with mu held, or before the store is shared.
func (s *Store) put(e core.Expense) core.Expense {
	if e.ID == 0 {
		e.ID = s.nextID
	}
	if e.ID >= s.nextID {
		s.nextID = e.ID + 1
	}
	e.Note = copyNote(e.Note)
	s.items[e.ID] = e
	return e
}

// DeleteByIdentity removes the record only when every field of e matches.
func (s *Store) DeleteByIdentity(ctx context.Context, e core.Expense) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	cur, ok := s.items[e.ID]
	if !ok || !cur.Equal(e) {
		s.mu.Unlock()
		slog.WarnContext(ctx, "Delete matched no expense, record may be stale",
			log.NewFields().WithOperation(log.OpDelete).WithExpense(e.ID, e.Amount, e.Category, e.Date).ToSlice()...)
		s.metrics.MutationCompleted(string(stream.OpDelete), nil)
		return 0, nil
	}
	delete(s.items, e.ID)
	s.mu.Unlock()

	s.metrics.MutationCompleted(string(stream.OpDelete), nil)
	s.publish(stream.Change{Op: stream.OpDelete, Expense: cur, At: time.Now()})
	return 1, nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (*core.Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	e.Note = copyNote(e.Note)
	return &e, nil
}

func (s *Store) StreamAll(ctx context.Context) <-chan stream.Update[[]core.Expense] {
	return watch(ctx, s, storage.StreamAll, func(context.Context) ([]core.Expense, error) {
		return s.selectSorted(func(core.Expense) bool { return true }), nil
	})
}

func (s *Store) StreamByDateRange(ctx context.Context, start, end int64) <-chan stream.Update[[]core.Expense] {
	return watch(ctx, s, storage.StreamByDateRange, func(context.Context) ([]core.Expense, error) {
		return s.selectSorted(func(e core.Expense) bool { return e.Date >= start && e.Date < end }), nil
	})
}

func (s *Store) StreamCategoryTotals(ctx context.Context) <-chan stream.Update[[]core.CategoryTotal] {
	return watch(ctx, s, storage.StreamCategoryTotals, func(context.Context) ([]core.CategoryTotal, error) {
		s.mu.Lock()
		sums := make(map[string]float64)
		for _, e := range s.items {
			sums[e.Category] += e.Amount
		}
		s.mu.Unlock()

		totals := make([]core.CategoryTotal, 0, len(sums))
		for c, t := range sums {
			totals = append(totals, core.CategoryTotal{Category: c, Total: t})
		}
		sort.Slice(totals, func(i, j int) bool { return totals[i].Category < totals[j].Category })
		return totals, nil
	})
}

func (s *Store) StreamMonthlyTotal(ctx context.Context, start, end int64) <-chan stream.Update[*float64] {
	return watch(ctx, s, storage.StreamMonthlyTotal, func(context.Context) (*float64, error) {
		in := s.selectSorted(func(e core.Expense) bool { return e.Date >= start && e.Date < end })
		if len(in) == 0 {
			return nil, nil
		}
		total := core.SumAmounts(in)
		return &total, nil
	})
}

func (s *Store) Changes(buffer int) (<-chan stream.Change, func()) {
	return s.feed.Subscribe(buffer)
}

func (s *Store) publish(c stream.Change) {
	s.metrics.ChangesDropped(s.feed.Publish(c))
}

func watch[T any](ctx context.Context, s *Store, name string, query func(context.Context) (T, error)) <-chan stream.Update[T] {
	s.metrics.StreamOpened(name)
	timed := func(ctx context.Context) (T, error) {
		start := time.Now()
		v, err := query(ctx)
		s.metrics.QueryCompleted(name, time.Since(start), err)
		return v, err
	}
	return stream.Watch(ctx, s.feed, timed, func() { s.metrics.StreamClosed(name) })
}

// Close ends every open stream.
func (s *Store) Close() error {
	s.feed.Close()
	return nil
}

// selectSorted returns copies of the matching records, newest first with
// ties broken by descending id.
func (s *Store) selectSorted(keep func(core.Expense) bool) []core.Expense {
	s.mu.Lock()
	out := make([]core.Expense, 0, len(s.items))
	for _, e := range s.items {
		if keep(e) {
			e.Note = copyNote(e.Note)
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func copyNote(n *string) *string {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
