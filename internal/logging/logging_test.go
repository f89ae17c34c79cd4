package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger := New(level, "text")
		assert.NotNil(t, logger, "level %q", level)
	}
	assert.NotNil(t, New("info", "json"))
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestID(ctx))
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, slog.Default(), FromContext(ctx))

	logger := New("info", "text")
	ctx = WithLogger(ctx, logger)
	assert.Equal(t, logger, FromContext(ctx))
}

func TestL_AnnotatesRequestID(t *testing.T) {
	logger := New("info", "text")
	ctx := WithLogger(context.Background(), logger)

	// Without a request ID the context logger comes back as-is.
	assert.Equal(t, logger, L(ctx))

	// With one, L returns a derived logger.
	ctx = WithRequestID(ctx, "req-456")
	assert.NotEqual(t, logger, L(ctx))
}
