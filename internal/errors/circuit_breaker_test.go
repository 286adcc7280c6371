package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("fn must not run while the circuit is open")
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err), "an open-circuit rejection must surface as StorageUnavailable")
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Millisecond})
	boom := errors.New("boom")

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", DefaultCircuitBreakerConfig())
	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, cb.State())
}
