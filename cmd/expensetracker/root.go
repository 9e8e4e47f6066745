package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"expensetracker/internal/backend"
	"expensetracker/internal/cli"
	"expensetracker/internal/config"
	"expensetracker/internal/core"
	"expensetracker/internal/log"
	"expensetracker/internal/metrics"
	"expensetracker/internal/projector"
	"expensetracker/internal/repository"
)

var (
	flagBackend string
	flagDBPath  string
	flagMetrics bool
)

var rootCmd = &cobra.Command{
	Use:           "expensetracker",
	Short:         "Track personal expenses",
	Long:          "Record expenses, list them by month and see where the money goes.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "Data backend: sqlite or memory (overrides DATA_BACKEND)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "SQLite database path (overrides SQLITE_DB_PATH)")
	rootCmd.PersistentFlags().BoolVar(&flagMetrics, "metrics", false, "Print store metrics to stderr on exit")
}

// app is everything a subcommand needs, wired from the environment.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	formatter core.Formatter
	backend   *backend.BackendResult
	repo      *repository.Repository
	projector *projector.Projector
	registry  *prometheus.Registry
}

func openApp(ctx context.Context) (*app, error) {
	cli.LoadEnvFile()

	if flagBackend != "" {
		os.Setenv("DATA_BACKEND", flagBackend)
	}
	if flagDBPath != "" {
		os.Setenv("SQLITE_DB_PATH", flagDBPath)
	}

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}

	logger, err := cli.SetupLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return nil, err
	}

	formatter, err := cli.Formatter(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	res, err := cli.OpenBackend(ctx, logger, cfg, recorder)
	if err != nil {
		return nil, err
	}

	repo := repository.New(res.Store)
	p := projector.New(repo,
		projector.WithLogger(logger),
		projector.WithFormatter(formatter),
	)

	logger.Debug("Application ready",
		log.FieldBackend, cfg.DataBackend,
		"relay_enabled", res.Publisher != nil)

	return &app{
		cfg:       cfg,
		logger:    logger,
		formatter: formatter,
		backend:   res,
		repo:      repo,
		projector: p,
		registry:  registry,
	}, nil
}

func (a *app) Close() error {
	a.projector.Close()
	var errs []error
	if flagMetrics {
		errs = append(errs, metrics.WriteText(os.Stderr, a.registry))
	}
	if a.backend.Cleanup != nil {
		errs = append(errs, a.backend.Cleanup())
	}
	return errors.Join(errs...)
}

// withApp opens the app, runs fn and closes the app, keeping fn's error.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(log.NewContext(ctx, a.logger), a)
}

// settledList waits until the list state is no longer Loading.
func (a *app) settledList(ctx context.Context) (projector.ListState, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.WaitTimeout)
	defer cancel()
	return projector.Await(ctx, a.projector.SubscribeList(ctx), func(s projector.ListState) bool {
		_, loading := s.(projector.Loading)
		return !loading
	})
}

func (a *app) settledStatistics(ctx context.Context) (projector.StatisticsState, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.WaitTimeout)
	defer cancel()
	return projector.Await(ctx, a.projector.SubscribeStatistics(ctx), func(s projector.StatisticsState) bool {
		return !s.IsLoading
	})
}

func parseDate(s string, loc *time.Location) (int64, error) {
	if s == "" {
		return time.Now().UnixMilli(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t.UnixMilli(), nil
}

func parseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q: want YYYY-MM", s)
	}
	return t.Year(), t.Month(), nil
}
