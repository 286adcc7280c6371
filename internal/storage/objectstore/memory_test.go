package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	huberrors "taskhub/internal/errors"
)

func TestUploadIdempotentForIdenticalBytes(t *testing.T) {
	s := NewInMemoryStore("http://localhost:9000")
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, BucketScreenshots, "agent1/a.png", []byte("same"), "image/png"))
	assert.NoError(t, s.Upload(ctx, BucketScreenshots, "agent1/a.png", []byte("same"), "image/png"),
		"replaying an identical upload must be a no-op success")
}

func TestUploadRejectsPathCollisionWithDifferentBytes(t *testing.T) {
	s := NewInMemoryStore("http://localhost:9000")
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, BucketScreenshots, "agent1/a.png", []byte("one"), "image/png"))
	err := s.Upload(ctx, BucketScreenshots, "agent1/a.png", []byte("two"), "image/png")
	require.Error(t, err)
	var ce *huberrors.ConflictError
	assert.ErrorAs(t, err, &ce)

	data, err := s.Get(ctx, BucketScreenshots, "agent1/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data, "the original object must be untouched")
}

func TestGetMissingObjectIsNotFound(t *testing.T) {
	s := NewInMemoryStore("http://localhost:9000")
	_, err := s.Get(context.Background(), BucketScreenshots, "agent1/missing.png")
	require.Error(t, err)
	var ne *huberrors.NotFoundError
	assert.ErrorAs(t, err, &ne)
}

func TestPresignGetEmbedsExpiry(t *testing.T) {
	s := NewInMemoryStore("http://localhost:9000")
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, BucketScreenshots, "agent1/a.png", []byte("x"), "image/png"))
	url, err := s.PresignGet(ctx, BucketScreenshots, "agent1/a.png", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "agent1/a.png")
	assert.Contains(t, url, "expires=")
}
