package objectstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	huberrors "taskhub/internal/errors"
)

// RetryingStore wraps a Store and retries transient failures with
// exponential backoff.
type RetryingStore struct {
	inner   Store
	newBack func() backoff.BackOff
}

// NewRetryingStore wraps inner with retry logic. newBackOff is called once
// per operation so each retry sequence starts fresh rather than sharing a
// stateful BackOff.
func NewRetryingStore(inner Store, newBackOff func() backoff.BackOff) *RetryingStore {
	return &RetryingStore{inner: inner, newBack: newBackOff}
}

// DefaultBackOff returns a bounded exponential backoff suitable for object
// store retries (at most 10 seconds of retrying in total).
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return b
}

func (s *RetryingStore) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error {
	return backoff.Retry(func() error {
		err := s.inner.Upload(ctx, bucket, objectPath, data, contentType)
		if err == nil {
			return nil
		}
		if !huberrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(s.newBack(), ctx))
}

func (s *RetryingStore) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	var data []byte
	err := backoff.Retry(func() error {
		var innerErr error
		data, innerErr = s.inner.Get(ctx, bucket, objectPath)
		if innerErr == nil {
			return nil
		}
		if !huberrors.IsTransient(innerErr) {
			return backoff.Permanent(innerErr)
		}
		return innerErr
	}, backoff.WithContext(s.newBack(), ctx))
	return data, err
}

func (s *RetryingStore) PresignGet(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	return s.inner.PresignGet(ctx, bucket, objectPath, ttl)
}

func (s *RetryingStore) EnsureBuckets(ctx context.Context) error {
	return s.inner.EnsureBuckets(ctx)
}
