// Package logging includes tests for the zap logger helpers.
package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Development: true})
	if err != nil {
		t.Fatalf("New(dev) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("New(prod) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestNewWritesLogFile checks entries are appended to the configured file.
func TestNewWritesLogFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "scraping.log")
	logger, err := New(Config{File: path})
	if err != nil {
		t.Fatalf("New(file) error = %v", err)
	}
	logger.Info("logo saved", zap.String("company", "Acme"))
	_ = logger.Sync()

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "logo saved") || !strings.Contains(string(data), `"ts"`) {
		t.Fatalf("expected timestamped entry in log file, got %q", data)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	ctx := WithContext(context.Background(), zap.New(core).With(zap.Int("worker", 3)))
	FromContext(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 || entries[0].ContextMap()["worker"] != int64(3) {
		t.Fatalf("expected worker-tagged entry, got %+v", entries)
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("expected no-op logger fallback")
	}
}
