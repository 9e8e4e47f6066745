package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"expensetracker/internal/core"
)

var (
	flagAmount   string
	flagCategory string
	flagDate     string
	flagNote     string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a new expense",
	Long: "Record a new expense. Categories: " + strings.Join(core.Categories, ", ") + ".\n" +
		"Amounts accept a dot or a comma as decimal separator.",
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&flagAmount, "amount", "a", "", "Amount spent, e.g. 12.50")
	addCmd.Flags().StringVarP(&flagCategory, "category", "c", "", "Category label")
	addCmd.Flags().StringVarP(&flagDate, "date", "d", "", "Date as YYYY-MM-DD (default today)")
	addCmd.Flags().StringVarP(&flagNote, "note", "n", "", "Optional note")
	_ = addCmd.MarkFlagRequired("amount")
	_ = addCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, _ []string) error {
	amount, err := core.ParseAmount(flagAmount)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		date, err := parseDate(flagDate, a.formatter.Location)
		if err != nil {
			return err
		}
		e, err := core.NewExpense(amount, flagCategory, date, flagNote)
		if err != nil {
			return err
		}

		id, err := a.projector.AddExpense(ctx, e.Amount, e.Category, e.Date, e.NoteText())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added expense #%d: %s %s on %s\n",
			id, a.formatter.Amount(e.Amount), e.Category, a.formatter.Date(e.Date))
		return nil
	})
}
