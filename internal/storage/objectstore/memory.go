package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	huberrors "taskhub/internal/errors"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// InMemoryStore is a Store backed by an in-process map, used by worker and
// Hub API unit tests that should not require a live MinIO.
type InMemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	baseURL string
}

func NewInMemoryStore(baseURL string) *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]memoryObject), baseURL: baseURL}
}

func key(bucket, objectPath string) string { return bucket + "/" + objectPath }

func (s *InMemoryStore) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(bucket, objectPath)
	if existing, ok := s.objects[k]; ok {
		if bytes.Equal(existing.data, data) {
			return nil
		}
		return huberrors.NewConflictError(fmt.Sprintf("object %s already exists with different content", k))
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[k] = memoryObject{data: cp, contentType: contentType}
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key(bucket, objectPath)]
	if !ok {
		return nil, huberrors.NewNotFoundError("object", key(bucket, objectPath))
	}
	return obj.data, nil
}

func (s *InMemoryStore) PresignGet(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key(bucket, objectPath)]; !ok {
		return "", huberrors.NewNotFoundError("object", key(bucket, objectPath))
	}
	return fmt.Sprintf("%s/%s?expires=%d", s.baseURL, key(bucket, objectPath), time.Now().Add(ttl).Unix()), nil
}

func (s *InMemoryStore) EnsureBuckets(ctx context.Context) error { return nil }
