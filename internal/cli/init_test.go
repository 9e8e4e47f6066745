package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"expensetracker/internal/config"
	"expensetracker/internal/metrics"
)

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := SetupLogger("warn", &buf)
	if err != nil {
		t.Fatalf("SetupLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected log output %q", out)
	}

	if _, err := SetupLogger("chatty", &buf); err == nil {
		t.Error("SetupLogger() should reject unknown levels")
	}
}

func TestOpenBackendMemory(t *testing.T) {
	logger, _ := SetupLogger("error", &bytes.Buffer{})
	cfg := &config.Config{DataBackend: "memory"}

	res, err := OpenBackend(context.Background(), logger, cfg, metrics.Nop{})
	if err != nil {
		t.Fatalf("OpenBackend() error = %v", err)
	}
	defer res.Cleanup()
	if res.Store == nil {
		t.Fatal("OpenBackend() returned no store")
	}
}

func TestOpenBackendSQLite(t *testing.T) {
	logger, _ := SetupLogger("error", &bytes.Buffer{})
	cfg := &config.Config{
		DataBackend:  "sqlite",
		SQLiteDBPath: filepath.Join(t.TempDir(), "expenses.db"),
	}

	res, err := OpenBackend(context.Background(), logger, cfg, nil)
	if err != nil {
		t.Fatalf("OpenBackend() error = %v", err)
	}
	if err := res.Cleanup(); err != nil {
		t.Errorf("Cleanup() error = %v", err)
	}
}

func TestFormatter(t *testing.T) {
	f, err := Formatter(&config.Config{Timezone: "UTC", CurrencySymbol: "€"})
	if err != nil {
		t.Fatalf("Formatter() error = %v", err)
	}
	if got := f.Amount(1234.5); got != "€1,234.50" {
		t.Errorf("Amount() = %q", got)
	}
	if f.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", f.Location)
	}

	if _, err := Formatter(&config.Config{Timezone: "Nowhere/Special"}); err == nil {
		t.Error("Formatter() should fail for unknown zones")
	}
}

func TestGracefulShutdownCancel(t *testing.T) {
	logger, _ := SetupLogger("error", &bytes.Buffer{})
	ctx, stop := GracefulShutdown(context.Background(), logger)
	stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by stop")
	}
}
