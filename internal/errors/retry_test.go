package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxElapsedSeconds: 5, InitialIntervalMS: 1, MaxAttempts: 5}

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return NewStorageUnavailable(errors.New("connection reset"), "")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsImmediatelyOnPermanentError(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig()

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return NewValidationError("field", "bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "a permanent error must not be retried")
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxElapsedSeconds: 5, InitialIntervalMS: 1, MaxAttempts: 2}

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return NewStorageUnavailable(errors.New("still down"), "")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts, "max attempts means the initial try plus two retries")
}
