package logger_test

import (
	"context"
	"testing"

	"github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
)

func TestWithContext_FromContext_RoundTrip(t *testing.T) {
	t.Parallel()

	l := logger.Must(logger.Config{Level: "error", OutputPaths: []string{"stderr"}})
	ctx := logger.WithContext(context.Background(), l)

	if got := logger.FromContext(ctx); got != l {
		t.Errorf("FromContext returned %v, want %v", got, l)
	}
}

func TestFromContext_NoLogger_ReturnsUsableFallback(t *testing.T) {
	t.Parallel()

	fallback := logger.FromContext(context.Background())
	if fallback == nil {
		t.Fatal("FromContext on empty context returned nil")
	}

	fallback.Debug("debug message")
	fallback.Warn("message with field", logger.String("key", "value"))
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	t.Parallel()

	l, err := logger.New(logger.Config{Level: "verbose", OutputPaths: []string{"stderr"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("still works", logger.Int("n", 1))
}

func TestFromContextOr(t *testing.T) {
	t.Parallel()

	fallback := logger.NewNop()
	if got := logger.FromContextOr(context.Background(), fallback); got != fallback {
		t.Errorf("FromContextOr on empty context returned %v, want fallback", got)
	}

	l := logger.Must(logger.Config{Level: "error", OutputPaths: []string{"stderr"}})
	ctx := logger.WithContext(context.Background(), l)
	if got := logger.FromContextOr(ctx, fallback); got != l {
		t.Errorf("FromContextOr returned %v, want context logger", got)
	}
}
