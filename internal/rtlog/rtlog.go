// Package rtlog provides the structured logger shared by every platform and
// the registry. Diagnostics are structured events, not bare fmt strings, so
// a fatal backend error is machine-parseable downstream.
package rtlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	once sync.Once
	base *zap.Logger
)

// New builds a production-style logger whose level is controlled by
// ACCELRT_LOG_LEVEL (default "info").
func New() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	verbosity := os.Getenv("ACCELRT_LOG_LEVEL")
	if verbosity == "" {
		verbosity = "info"
	}
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	return cfg.Build()
}

// L returns the process-wide logger, building it lazily on first use.
func L() *zap.Logger {
	once.Do(func() {
		l, err := New()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// Fatal logs a structured fatal diagnostic and terminates the process with a
// non-zero exit code, per the runtime's trust-the-caller error taxonomy:
// unrecoverable backend/configuration/programmer errors are process-fatal.
func Fatal(op string, fields ...zap.Field) {
	L().Error(op, fields...)
	os.Exit(1)
}

// Warn logs a validation-warning diagnostic: execution continues.
func Warn(op string, fields ...zap.Field) {
	L().Warn(op, fields...)
}
