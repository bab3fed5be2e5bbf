package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoReturnsNonRetryableImmediately(t *testing.T) {
	boom := errors.New("constraint violated")
	calls := 0
	err := Do(context.Background(), DefaultConfig, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoReplaysSerializationFailures(t *testing.T) {
	cfg := Config{MaxAttempts: 3, Backoff: time.Millisecond}
	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAfterMaxAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, Backoff: time.Millisecond}
	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return &pq.Error{Code: "40P01"}
	})
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{MaxAttempts: 5, Backoff: time.Hour}
	err := Do(ctx, cfg, func() error {
		return &pq.Error{Code: "40001"}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&pq.Error{Code: "40001"}))
	assert.True(t, Retryable(&pq.Error{Code: "40P01"}))
	assert.False(t, Retryable(&pq.Error{Code: "23505"}))
	assert.False(t, Retryable(errors.New("plain")))
	assert.False(t, Retryable(nil))
}
