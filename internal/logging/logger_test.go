// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs at debug.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Development: true, Level: "debug"})
	if err != nil {
		t.Fatalf("New(development) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug to be enabled")
	}
	logger.Debug("development logger ready")
}

// TestNewProductionLogger ensures the production logger honors the level.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Level: "warn", Service: "copertine"})
	if err != nil {
		t.Fatalf("New(production) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info to be disabled at warn level")
	}
	logger.Warn("production logger ready")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestInstallReplacesGlobal(t *testing.T) {
	logger := zap.NewNop()
	restore := Install(logger)
	defer restore()
	if zap.L() != logger {
		t.Fatal("expected global logger to be replaced")
	}
}
