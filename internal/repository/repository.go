// Package repository is the single access point the projector uses to reach
// a record store. It forwards everything unchanged except category totals,
// which it reshapes into a map keyed by category.
package repository

import (
	"context"

	"expensetracker/internal/core"
	"expensetracker/internal/stream"
)

// RecordStore is implemented by storage.Store and memory.Store.
type RecordStore interface {
	Insert(ctx context.Context, e core.Expense) (int64, error)
	DeleteByIdentity(ctx context.Context, e core.Expense) (int64, error)
	FindByID(ctx context.Context, id int64) (*core.Expense, error)
	StreamAll(ctx context.Context) <-chan stream.Update[[]core.Expense]
	StreamByDateRange(ctx context.Context, start, end int64) <-chan stream.Update[[]core.Expense]
	StreamCategoryTotals(ctx context.Context) <-chan stream.Update[[]core.CategoryTotal]
	StreamMonthlyTotal(ctx context.Context, start, end int64) <-chan stream.Update[*float64]
	Changes(buffer int) (<-chan stream.Change, func())
}

type Repository struct {
	store RecordStore
}

func New(store RecordStore) *Repository {
	return &Repository{store: store}
}

func (r *Repository) InsertExpense(ctx context.Context, e core.Expense) (int64, error) {
	return r.store.Insert(ctx, e)
}

// DeleteExpense removes e only if the stored row still matches it exactly.
func (r *Repository) DeleteExpense(ctx context.Context, e core.Expense) (int64, error) {
	return r.store.DeleteByIdentity(ctx, e)
}

func (r *Repository) ExpenseByID(ctx context.Context, id int64) (*core.Expense, error) {
	return r.store.FindByID(ctx, id)
}

func (r *Repository) AllExpenses(ctx context.Context) <-chan stream.Update[[]core.Expense] {
	return r.store.StreamAll(ctx)
}

// ExpensesByMonth streams records with start <= date < end. Callers compute
// the bounds with core.MonthBounds.
func (r *Repository) ExpensesByMonth(ctx context.Context, start, end int64) <-chan stream.Update[[]core.Expense] {
	return r.store.StreamByDateRange(ctx, start, end)
}

func (r *Repository) MonthlyTotal(ctx context.Context, start, end int64) <-chan stream.Update[*float64] {
	return r.store.StreamMonthlyTotal(ctx, start, end)
}

func (r *Repository) CategoryTotals(ctx context.Context) <-chan stream.Update[map[string]float64] {
	return stream.Map(ctx, r.store.StreamCategoryTotals(ctx), func(pairs []core.CategoryTotal) map[string]float64 {
		m := make(map[string]float64, len(pairs))
		for _, p := range pairs {
			m[p.Category] = p.Total
		}
		return m
	})
}

// Changes exposes the store's raw mutation feed.
func (r *Repository) Changes(buffer int) (<-chan stream.Change, func()) {
	return r.store.Changes(buffer)
}
