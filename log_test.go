package coredb

import "testing"

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Debug("noop")
	l.Info("noop")
	l.Warn("noop")
	l.Error("noop")
	if err := l.Sync(); err != nil {
		t.Fatalf("nil logger Sync should be a no-op, got %v", err)
	}
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	l := NewNopLogger()
	l.Info("event", "key", "value")
}
