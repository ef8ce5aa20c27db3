package coredb

import "go.uber.org/zap"

// Logger wraps a zap.SugaredLogger with the handful of levels this
// module's lifecycle events actually use (buffer-pool eviction, table
// creation, the CLI's per-invocation line); index population and
// transaction begin/commit/abort are not logged. A nil *Logger is valid
// everywhere it's accepted and simply discards the call, so tests that
// don't care about logging can pass nil.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a production-configured logger. Pass nil to any
// constructor that accepts *Logger to run with logging disabled.
func NewLogger() (*Logger, error) {
	zl, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: zl.Sugar()}, nil
}

// NewNopLogger returns a logger that discards everything, for tests.
func NewNopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func (l *Logger) Debug(msg string, keysAndValues ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Errorw(msg, keysAndValues...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil || l.sugar == nil {
		return nil
	}
	return l.sugar.Sync()
}
