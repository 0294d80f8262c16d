package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected logger instance")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug disabled by default")
	}
	_ = logger.Sync()
}

func TestNewDebug(t *testing.T) {
	logger, err := New(true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level enabled")
	}
	_ = logger.Sync()
}
