package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"expensetracker/internal/cli"
	"expensetracker/internal/core"
	"expensetracker/internal/projector"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show spending per category and this month's totals",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		a.projector.LoadStatistics()
		s, err := a.settledStatistics(ctx)
		if err != nil {
			return fmt.Errorf("wait for statistics: %w", err)
		}
		if s.ErrorMessage != "" {
			return errors.New(s.ErrorMessage)
		}
		return renderStatistics(cmd.OutOrStdout(), a.formatter, s)
	})
}

func renderStatistics(w io.Writer, f core.Formatter, s projector.StatisticsState) error {
	if len(s.CategoryTotals) == 0 {
		fmt.Fprintln(w, cli.Muted("No expenses yet."))
		return nil
	}

	labels := make([]string, 0, len(s.CategoryTotals))
	var sum float64
	for c, v := range s.CategoryTotals {
		labels = append(labels, c)
		sum += v
	}
	sort.Strings(labels)

	rows := make([][]string, 0, len(labels))
	for _, c := range labels {
		v := s.CategoryTotals[c]
		share := 0.0
		if sum > 0 {
			share = v / sum
		}
		rows = append(rows, []string{c, f.Amount(v), cli.RenderBar(share, 20)})
	}
	fmt.Fprint(w, cli.RenderTable(cli.Table{
		Title:   "Spending by category",
		Headers: []string{"Category", "Total", "Share"},
		Rows:    rows,
		Left:    map[int]bool{2: true},
	}))

	summary := [][]string{
		{"This month", f.Amount(s.MonthlyTotal)},
		{"Daily average", f.Amount(s.AverageDaily)},
	}
	if s.TopCategory != nil {
		summary = append(summary, []string{"Top category", fmt.Sprintf("%s (%s)", s.TopCategory.Category, f.Amount(s.TopCategory.Total))})
	}
	fmt.Fprint(w, cli.RenderTable(cli.Table{Rows: summary}))
	return nil
}
