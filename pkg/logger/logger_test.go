// pkg/logger/logger_test.go
package logger_test

import (
	"context"
	"testing"

	"github.com/YaganovValera/livefeed/pkg/logger"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logger.New(logger.Config{Level: "invalid"})
	if err == nil {
		t.Error("expected error for invalid level, got nil")
	}
}

func TestNew_ValidLevels(t *testing.T) {
	for _, lvl := range []string{"", "debug", "info", "warn", "error"} {
		for _, dev := range []bool{true, false} {
			if _, err := logger.New(logger.Config{Level: lvl, DevMode: dev}); err != nil {
				t.Errorf("level %q dev=%v: unexpected error %v", lvl, dev, err)
			}
		}
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := logger.ContextWithRequestID(context.Background(), "req-456")
	got, ok := logger.RequestIDFromContext(ctx)
	if !ok || got != "req-456" {
		t.Fatalf("RequestIDFromContext = %q, %v; want req-456, true", got, ok)
	}
	if _, ok := logger.RequestIDFromContext(context.Background()); ok {
		t.Error("expected no request ID in empty context")
	}
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	l := logger.NewNop()
	if l.WithContext(context.Background()) != l {
		t.Error("WithContext without fields should return the receiver")
	}
	enh := l.WithContext(logger.ContextWithRequestID(context.Background(), "r"))
	if enh == l {
		t.Error("WithContext with request ID should return a derived logger")
	}
	enh.Info("test message")
	l.Named("sub").Sync()
}
