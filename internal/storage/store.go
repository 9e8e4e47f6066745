package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
	"expensetracker/internal/metrics"
	"expensetracker/internal/stream"

	_ "modernc.org/sqlite"
)

// Stream names used for metrics and logs.
const (
	StreamAll            = "all"
	StreamByDateRange    = "by_date_range"
	StreamCategoryTotals = "category_totals"
	StreamMonthlyTotal   = "monthly_total"
)

// Store is the SQLite-backed record store. Every committed mutation is
// published on its feed so live streams re-run their queries.
type Store struct {
	db      *sql.DB
	queries *Queries
	feed    *stream.Feed
	metrics metrics.Recorder
}

type Option func(*Store)

// WithRecorder reports store activity to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Store) {
		if r != nil {
			s.metrics = r
		}
	}
}

// Open creates the database file if needed, applies migrations and returns
// a ready store.
func Open(dbPath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if _, err := MigrateSchema(context.Background(), dbPath); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps each mutation and the re-reads it triggers
	// strictly ordered and avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewStore(db, opts...), nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		queries: New(db),
		feed:    stream.NewFeed(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func dsn(dbPath string) string {
	return dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
}

// Close ends every open stream and closes the database.
func (s *Store) Close() error {
	s.feed.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Insert stores e and returns its id. A zero ID is assigned by the database;
// a non-zero ID replaces any existing row with that id.
func (s *Store) Insert(ctx context.Context, e core.Expense) (int64, error) {
	id, err := s.queries.UpsertExpense(ctx, UpsertExpenseParams{
		ID:       sql.NullInt64{Int64: e.ID, Valid: e.ID != 0},
		Amount:   e.Amount,
		Category: e.Category,
		Date:     e.Date,
		Note:     toNullString(e.Note),
	})
	s.metrics.MutationCompleted(string(stream.OpInsert), err)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}

	e.ID = id
	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", id,
		"amount", e.Amount,
		"category", e.Category,
		"date", e.Date)

	s.publish(stream.Change{Op: stream.OpInsert, Expense: e, At: time.Now()})
	return id, nil
}

// DeleteByIdentity removes the row matching every field of e and returns the
// number of rows removed. A stale copy matches nothing; that is not an error.
func (s *Store) DeleteByIdentity(ctx context.Context, e core.Expense) (int64, error) {
	n, err := s.queries.DeleteExpenseByIdentity(ctx, DeleteExpenseByIdentityParams{
		ID:       e.ID,
		Amount:   e.Amount,
		Category: e.Category,
		Date:     e.Date,
		Note:     toNullString(e.Note),
	})
	s.metrics.MutationCompleted(string(stream.OpDelete), err)
	if err != nil {
		return 0, fmt.Errorf("delete expense: %w", err)
	}

	if n == 0 {
		slog.WarnContext(ctx, "Delete matched no expense, record may be stale",
			log.NewFields().WithOperation(log.OpDelete).WithExpense(e.ID, e.Amount, e.Category, e.Date).ToSlice()...)
		return 0, nil
	}

	slog.InfoContext(ctx, "Expense deleted from SQLite", "id", e.ID)
	s.publish(stream.Change{Op: stream.OpDelete, Expense: e, At: time.Now()})
	return n, nil
}

// FindByID returns the expense with the given id, or nil when there is none.
func (s *Store) FindByID(ctx context.Context, id int64) (*core.Expense, error) {
	row, err := s.queries.GetExpense(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get expense by id: %w", err)
	}
	e := toCore(row)
	return &e, nil
}

// StreamAll delivers every expense, newest first, now and after each mutation.
func (s *Store) StreamAll(ctx context.Context) <-chan stream.Update[[]core.Expense] {
	return watch(ctx, s, StreamAll, func(ctx context.Context) ([]core.Expense, error) {
		rows, err := s.queries.ListExpenses(ctx)
		if err != nil {
			return nil, fmt.Errorf("list expenses: %w", err)
		}
		return toCoreSlice(rows), nil
	})
}

// StreamByDateRange delivers expenses with start <= date < end, newest first.
func (s *Store) StreamByDateRange(ctx context.Context, start, end int64) <-chan stream.Update[[]core.Expense] {
	return watch(ctx, s, StreamByDateRange, func(ctx context.Context) ([]core.Expense, error) {
		rows, err := s.queries.ListExpensesByDateRange(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("list expenses by date range: %w", err)
		}
		return toCoreSlice(rows), nil
	})
}

// StreamCategoryTotals delivers one (category, sum) pair per stored category.
func (s *Store) StreamCategoryTotals(ctx context.Context) <-chan stream.Update[[]core.CategoryTotal] {
	return watch(ctx, s, StreamCategoryTotals, func(ctx context.Context) ([]core.CategoryTotal, error) {
		rows, err := s.queries.GetCategoryTotals(ctx)
		if err != nil {
			return nil, fmt.Errorf("get category totals: %w", err)
		}
		totals := make([]core.CategoryTotal, len(rows))
		for i, r := range rows {
			totals[i] = core.CategoryTotal{Category: r.Category, Total: r.Total}
		}
		return totals, nil
	})
}

// StreamMonthlyTotal delivers the sum of amounts with start <= date < end,
// or nil when no expense falls in the range.
func (s *Store) StreamMonthlyTotal(ctx context.Context, start, end int64) <-chan stream.Update[*float64] {
	return watch(ctx, s, StreamMonthlyTotal, func(ctx context.Context) (*float64, error) {
		total, err := s.queries.GetTotalByDateRange(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("get monthly total: %w", err)
		}
		if !total.Valid {
			return nil, nil
		}
		v := total.Float64
		return &v, nil
	})
}

// Changes subscribes to committed mutations.
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
		if err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "Live query failed", "stream", name, "error", err)
		}
		return v, err
	}
	return stream.Watch(ctx, s.feed, timed, func() { s.metrics.StreamClosed(name) })
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func toCore(r Expense) core.Expense {
	e := core.Expense{
		ID:       r.ID,
		Amount:   r.Amount,
		Category: r.Category,
		Date:     r.Date,
	}
	if r.Note.Valid {
		note := r.Note.String
		e.Note = &note
	}
	return e
}

func toCoreSlice(rows []Expense) []core.Expense {
	out := make([]core.Expense, len(rows))
	for i, r := range rows {
		out[i] = toCore(r)
	}
	return out
}
