package projector

import (
	"sort"

	"expensetracker/internal/core"
)

// ListState is the list slot's current shape. It is one of Loading, Success,
// Error or Empty; consumers switch on the concrete type.
type ListState interface {
	listState()
}

type (
	// Loading is the initial state and the state while a month load starts.
	Loading struct{}

	// Success carries the formatted records of the last delivery.
	Success struct {
		Expenses     []core.DisplayExpense
		MonthlyTotal float64
	}

	// Error carries a human-readable failure message.
	Error struct {
		Message string
	}

	// Empty means the last delivery contained no records.
	Empty struct{}
)

func (Loading) listState() {}
func (Success) listState() {}
func (Error) listState() {}
func (Empty) listState() {}

// StatisticsState is the statistics slot's current value.
type StatisticsState struct {
	IsLoading      bool
	CategoryTotals map[string]float64
	MonthlyTotal   float64
	AverageDaily   float64
	TopCategory    *core.CategoryTotal
	ErrorMessage   string
}

// TopCategory returns the category with the largest total. Equal totals go
// to the lexicographically smallest label. It returns nil for an empty map.
func TopCategory(totals map[string]float64) *core.CategoryTotal {
	if len(totals) == 0 {
		return nil
	}
	labels := make([]string, 0, len(totals))
	for c := range totals {
		labels = append(labels, c)
	}
	sort.Strings(labels)

	top := core.CategoryTotal{Category: labels[0], Total: totals[labels[0]]}
	for _, c := range labels[1:] {
		if totals[c] > top.Total {
			top = core.CategoryTotal{Category: c, Total: totals[c]}
		}
	}
	return &top
}

// AverageDaily spreads total over the days elapsed in the month.
func AverageDaily(total float64, dayOfMonth int) float64 {
	if dayOfMonth < 1 {
		return 0
	}
	return total / float64(dayOfMonth)
}

func copyTotals(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
