// Package retry re-runs transactions that lost a serialization race.
// Two operations on the same tank contend on its row lock; under
// serializable isolation the loser aborts with SQLSTATE 40001 (or 40P01 on
// a deadlock) and is safe to replay because the whole unit of work rolled
// back.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Config controls the retry loop.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultConfig matches the conflict policy: three attempts with linear
// backoff, then surface as transient.
var DefaultConfig = Config{MaxAttempts: 3, Backoff: 50 * time.Millisecond}

// ErrExhausted wraps the final error after all attempts failed with a
// retryable condition.
var ErrExhausted = errors.New("retries exhausted")

// Do runs fn, replaying it on retryable storage conflicts. Non-retryable
// errors return immediately.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg = DefaultConfig
	}

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(time.Duration(attempt) * cfg.Backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, cfg.MaxAttempts, err)
}

// Retryable reports whether err is a transaction-level conflict worth
// replaying.
func Retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
