package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete an expense by id",
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid expense id %q", args[0])
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		e, err := a.repo.ExpenseByID(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("expense #%d not found", id)
		}
		if err := a.projector.DeleteExpense(ctx, *e); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted expense #%d: %s %s on %s\n",
			e.ID, a.formatter.Amount(e.Amount), e.Category, a.formatter.Date(e.Date))
		return nil
	})
}
