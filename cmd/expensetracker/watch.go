package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"expensetracker/internal/cli"
	"expensetracker/internal/log"
	"expensetracker/internal/worker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the expense list and statistics whenever they change",
	Long: "Keep the expense list and statistics live until interrupted.\n" +
		"When AMQP_URL is set, every insert and delete is also published to the broker.",
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&flagMonth, "month", "m", "", "Month as YYYY-MM (default all)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if flagMonth != "" {
			year, month, err := parseMonth(flagMonth)
			if err != nil {
				return err
			}
			a.projector.LoadExpensesByMonth(year, month)
		}
		a.projector.LoadStatistics()

		logger := log.FromContext(ctx)
		ctx, stop := cli.GracefulShutdown(ctx, logger)
		defer stop()

		out := cmd.OutOrStdout()
		g, ctx := errgroup.WithContext(ctx)

		if a.backend.Publisher != nil {
			relay := worker.NewChangeRelay(a.repo, a.backend.Publisher, a.cfg.RelayBuffer, logger)
			g.Go(func() error {
				err := relay.Run(ctx)
				published, failed := relay.Stats()
				logger.Info("Change relay stopped",
					"published", published,
					"failed", failed)
				return err
			})
		}

		g.Go(func() error {
			for state := range a.projector.SubscribeList(ctx) {
				fmt.Fprintln(out, "== Expenses ==")
				if err := renderList(out, a.formatter, state); err != nil {
					fmt.Fprintln(out, cli.Failure(err.Error()))
				}
			}
			return ctx.Err()
		})

		g.Go(func() error {
			for s := range a.projector.SubscribeStatistics(ctx) {
				if s.IsLoading {
					continue
				}
				fmt.Fprintln(out, "== Statistics ==")
				if s.ErrorMessage != "" {
					fmt.Fprintln(out, cli.Failure(s.ErrorMessage))
				}
				if err := renderStatistics(out, a.formatter, s); err != nil {
					logger.Warn("Failed to render statistics", log.FieldError, err)
				}
			}
			return ctx.Err()
		})

		logger.Info("Watching expenses, press Ctrl+C to stop", log.FieldBackend, a.cfg.DataBackend)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}
