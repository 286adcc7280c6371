package errors

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures the backoff-based retry of transient storage
// failures.
type RetryConfig struct {
	MaxElapsedSeconds int
	InitialIntervalMS int
	MaxAttempts       int // 0 means unbounded until MaxElapsedSeconds
}

// DefaultRetryConfig matches the worker loop's default of three retries on
// a failed write.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxElapsedSeconds: 30, InitialIntervalMS: 200, MaxAttempts: 3}
}

// RetryableFunc is retried by Retry while it returns a transient error.
type RetryableFunc func(ctx context.Context) error

// Retry runs fn, retrying with exponential backoff (cenkalti/backoff/v4)
// while IsTransient(err); any permanent error returns immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn RetryableFunc) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(cfg.InitialIntervalMS) * time.Millisecond
	bo.MaxElapsedTime = time.Duration(cfg.MaxElapsedSeconds) * time.Second

	var withCtx backoff.BackOff = backoff.WithContext(bo, ctx)
	if cfg.MaxAttempts > 0 {
		withCtx = backoff.WithMaxRetries(withCtx, uint64(cfg.MaxAttempts))
	}

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, withCtx)
}
