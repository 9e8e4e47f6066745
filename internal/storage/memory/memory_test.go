package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"expensetracker/internal/core"
	"expensetracker/internal/stream"
)

func recv[T any](t *testing.T, ch <-chan stream.Update[T]) T {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		if u.Err != nil {
			t.Fatalf("stream error: %v", u.Err)
		}
		return u.Value
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func TestMemoryStoreInsertAssignsIDsAndStreams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New()
	defer s.Close()

	all := s.StreamAll(ctx)
	if got := recv(t, all); len(got) != 0 {
		t.Fatalf("expected empty store, got %v", got)
	}

	id1, err := s.Insert(ctx, core.Expense{Amount: 10, Category: core.CategoryFood, Date: 100})
	if err != nil || id1 != 1 {
		t.Fatalf("unexpected insert: id=%d err=%v", id1, err)
	}
	recv(t, all)

	id2, _ := s.Insert(ctx, core.Expense{Amount: 20, Category: core.CategoryFood, Date: 100})
	got := recv(t, all)
	if len(got) != 2 || got[0].ID != id2 || got[1].ID != id1 {
		t.Fatalf("expected newest id first on equal dates, got %+v", got)
	}
}

func TestMemoryStoreDeleteRequiresExactMatch(t *testing.T) {
	ctx := context.Background()
	n := "lunch"
	s := NewWithExpenses([]core.Expense{{ID: 7, Amount: 5, Category: core.CategoryFood, Date: 1, Note: &n}})

	stale := core.Expense{ID: 7, Amount: 6, Category: core.CategoryFood, Date: 1, Note: &n}
	if rows, err := s.DeleteByIdentity(ctx, stale); err != nil || rows != 0 {
		t.Fatalf("stale delete: rows=%d err=%v", rows, err)
	}
	if e, _ := s.FindByID(ctx, 7); e == nil {
		t.Fatal("record removed by a stale delete")
	}

	exact := core.Expense{ID: 7, Amount: 5, Category: core.CategoryFood, Date: 1, Note: &n}
	if rows, err := s.DeleteByIdentity(ctx, exact); err != nil || rows != 1 {
		t.Fatalf("exact delete: rows=%d err=%v", rows, err)
	}
	if e, _ := s.FindByID(ctx, 7); e != nil {
		t.Fatalf("record still present: %+v", e)
	}

	// ids keep growing past the seed
	id, _ := s.Insert(ctx, core.Expense{Amount: 1, Category: core.CategoryOther, Date: 1})
	if id != 8 {
		t.Fatalf("expected id 8, got %d", id)
	}
}

func TestMemoryStoreAggregates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewWithExpenses([]core.Expense{
		{Amount: 50, Category: core.CategoryFood, Date: 10},
		{Amount: 30, Category: core.CategoryTransport, Date: 20},
		{Amount: 25, Category: core.CategoryFood, Date: 30},
	})

	totals := recv(t, s.StreamCategoryTotals(ctx))
	want := []core.CategoryTotal{
		{Category: core.CategoryFood, Total: 75},
		{Category: core.CategoryTransport, Total: 30},
	}
	if len(totals) != len(want) || totals[0] != want[0] || totals[1] != want[1] {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	if total := recv(t, s.StreamMonthlyTotal(ctx, 10, 30)); total == nil || *total != 80 {
		t.Fatalf("expected 80 for [10,30), got %v", total)
	}
	if total := recv(t, s.StreamMonthlyTotal(ctx, 100, 200)); total != nil {
		t.Fatalf("expected nil for empty range, got %v", *total)
	}

	ranged := recv(t, s.StreamByDateRange(ctx, 20, 31))
	if len(ranged) != 2 || ranged[0].Date != 30 || ranged[1].Date != 20 {
		t.Fatalf("unexpected range result: %+v", ranged)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	n := "original"
	s := New()
	id, _ := s.Insert(ctx, core.Expense{Amount: 1, Category: core.CategoryOther, Date: 1, Note: &n})
	n = "mutated"

	got, _ := s.FindByID(ctx, id)
	if got == nil || got.NoteText() != "original" {
		t.Fatalf("store shares note memory with caller: %+v", got)
	}
}

func TestMemoryStoreCloseEndsStreams(t *testing.T) {
	s := New()
	all := s.StreamAll(context.Background())
	recv(t, all)
	s.Close()

	select {
	case _, ok := <-all:
		if ok {
			t.Fatal("expected stream to close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after Close")
	}
}

type countingRecorder struct {
	mu        sync.Mutex
	mutations map[string]int
	queries   map[string]int
	open      map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		mutations: make(map[string]int),
		queries:   make(map[string]int),
		open:      make(map[string]int),
	}
}

func (r *countingRecorder) MutationCompleted(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations[op]++
}

func (r *countingRecorder) QueryCompleted(query string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[query]++
}

func (r *countingRecorder) StreamOpened(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[name]++
}

func (r *countingRecorder) StreamClosed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[name]--
}

func (r *countingRecorder) ChangesDropped(int) {}

func (r *countingRecorder) openStreams(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[name]
}

func TestRecorderSeesStoreActivity(t *testing.T) {
	rec := newCountingRecorder()
	s := New(WithRecorder(rec))
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())

	updates := s.StreamAll(ctx)
	recv(t, updates)

	id, err := s.Insert(ctx, core.Expense{Amount: 4, Category: core.CategoryOther, Date: 1})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	recv(t, updates)
	if _, err := s.DeleteByIdentity(ctx, core.Expense{ID: id, Amount: 4, Category: core.CategoryOther, Date: 1}); err != nil {
		t.Fatalf("DeleteByIdentity() error = %v", err)
	}

	rec.mu.Lock()
	if rec.mutations["insert"] != 1 || rec.mutations["delete"] != 1 {
		t.Errorf("mutations = %v", rec.mutations)
	}
	if rec.queries["all"] < 2 {
		t.Errorf("queries = %v, want at least 2 runs of all", rec.queries)
	}
	rec.mu.Unlock()
	if got := rec.openStreams("all"); got != 1 {
		t.Errorf("open streams = %d, want 1", got)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for rec.openStreams("all") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream not reported closed after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
