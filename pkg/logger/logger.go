// Package logger holds the process-wide zap logger. Components obtain
// module-scoped children through WithModule; Init swaps the backing logger
// without invalidating earlier references.
package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var root atomic.Pointer[zap.Logger]

func init() {
	// A nop logger keeps callers safe before Init runs.
	root.Store(zap.NewNop())
}

// Init builds a production logger at the given level and installs it as the
// process root. Unrecognised levels fall back to info.
func Init(level string) error {
	parsed, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		parsed = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	root.Store(built)
	return nil
}

// Logger returns the current process root logger.
func Logger() *zap.Logger {
	return root.Load()
}

// WithModule returns a child logger tagged with the module name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// Sync flushes buffered entries; call it on shutdown.
func Sync() error {
	return Logger().Sync()
}
