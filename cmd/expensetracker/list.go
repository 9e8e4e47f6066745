package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"expensetracker/internal/cli"
	"expensetracker/internal/core"
	"expensetracker/internal/projector"
)

var flagMonth string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List expenses, newest first",
	Long:  "List every expense, or only one month with --month YYYY-MM.",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVarP(&flagMonth, "month", "m", "", "Month as YYYY-MM (default all)")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	var (
		year  int
		month time.Month
	)
	if flagMonth != "" {
		var err error
		if year, month, err = parseMonth(flagMonth); err != nil {
			return err
		}
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if flagMonth != "" {
			a.projector.LoadExpensesByMonth(year, month)
		}
		state, err := a.settledList(ctx)
		if err != nil {
			return fmt.Errorf("wait for expenses: %w", err)
		}
		return renderList(cmd.OutOrStdout(), a.formatter, state)
	})
}

func renderList(w io.Writer, f core.Formatter, state projector.ListState) error {
	switch s := state.(type) {
	case projector.Loading:
		fmt.Fprintln(w, cli.Muted("Loading..."))
	case projector.Empty:
		fmt.Fprintln(w, cli.Muted("No expenses yet."))
	case projector.Error:
		return errors.New(s.Message)
	case projector.Success:
		rows := make([][]string, 0, len(s.Expenses)+2)
		for _, e := range s.Expenses {
			rows = append(rows, []string{
				strconv.FormatInt(e.ID, 10), e.FormattedDate, e.Category, e.FormattedAmount, e.NoteText(),
			})
		}
		rows = append(rows, cli.Separator, []string{"", "", "Monthly total", f.Amount(s.MonthlyTotal), ""})
		fmt.Fprint(w, cli.RenderTable(cli.Table{
			Headers: []string{"ID", "Date", "Category", "Amount", "Note"},
			Rows:    rows,
			Left:    map[int]bool{1: true, 2: true, 4: true},
		}))
	default:
		return fmt.Errorf("unknown list state %T", state)
	}
	return nil
}
