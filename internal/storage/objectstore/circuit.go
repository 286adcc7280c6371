package objectstore

import (
	"context"
	"time"

	huberrors "taskhub/internal/errors"
)

// CircuitStore wraps a Store's Upload path with a CircuitBreaker: after
// FailureThreshold consecutive MinIO errors it fails fast instead of
// queuing retries indefinitely, degrading gracefully during an object
// store outage. Get/PresignGet pass through unguarded; a read failure
// doesn't cascade the way a pile of blocked uploads would.
type CircuitStore struct {
	inner   Store
	breaker *huberrors.CircuitBreaker
}

func NewCircuitStore(inner Store, breaker *huberrors.CircuitBreaker) *CircuitStore {
	return &CircuitStore{inner: inner, breaker: breaker}
}

func (s *CircuitStore) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.inner.Upload(ctx, bucket, objectPath, data, contentType)
	})
}

func (s *CircuitStore) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	return s.inner.Get(ctx, bucket, objectPath)
}

func (s *CircuitStore) PresignGet(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	return s.inner.PresignGet(ctx, bucket, objectPath, ttl)
}

func (s *CircuitStore) EnsureBuckets(ctx context.Context) error {
	return s.inner.EnsureBuckets(ctx)
}
