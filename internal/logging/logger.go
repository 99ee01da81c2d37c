// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options tune the logger built by New.
type Options struct {
	Development bool
	// Level is a zap level name ("debug", "info", ...). Empty means info.
	Level string
	// Service is attached to every entry when set.
	Service string
}

// New builds a zap.Logger configured for development or production.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Development {
		level = zapcore.DebugLevel
	}
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.Level = zap.NewAtomicLevelAt(level)
	if opts.Service != "" {
		cfg.InitialFields = map[string]any{"service": opts.Service}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Install makes logger the zap global and returns a function restoring the previous one.
func Install(logger *zap.Logger) func() {
	return zap.ReplaceGlobals(logger)
}
