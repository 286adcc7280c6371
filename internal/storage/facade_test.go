package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/storage/inmemory"
	"taskhub/internal/storage/logstore"
	"taskhub/internal/storage/objectstore"
	"taskhub/internal/task"
)

func newFacade(t *testing.T) *Facade {
	t.Helper()
	return New(
		inmemory.NewStore(),
		objectstore.NewInMemoryStore("http://localhost:9000"),
		logstore.NewInMemoryStore(),
		15*time.Minute,
	)
}

func TestUploadObjectNormalizesAgentInPathAndMetadata(t *testing.T) {
	f := newFacade(t)

	artifact, err := f.UploadObject(context.Background(), "Agent2-CUA", nil,
		objectstore.BucketScreenshots, "", "a.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	assert.Equal(t, "agent2", artifact.AgentID)
	assert.Equal(t, "agent2/a.png", artifact.ObjectPath)
	assert.Equal(t, objectstore.BucketScreenshots, artifact.Bucket)

	blob, meta, err := f.GetObject(context.Background(), artifact.ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), blob)
	assert.Equal(t, artifact.ObjectPath, meta.ObjectPath)
}

func TestUploadObjectRejectsBucketRePrefix(t *testing.T) {
	f := newFacade(t)

	_, err := f.UploadObject(context.Background(), "agent_1", nil,
		objectstore.BucketScreenshots, "screenshots", "a.png", []byte("x"), "image/png")
	require.Error(t, err)
	var ve *huberrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestUploadObjectRejectsUnknownBucket(t *testing.T) {
	f := newFacade(t)

	_, err := f.UploadObject(context.Background(), "agent_1", nil,
		"scratch", "", "a.png", []byte("x"), "image/png")
	require.Error(t, err)
	var ve *huberrors.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestUploadObjectPathCollisionWritesNoMetadataRow(t *testing.T) {
	f := newFacade(t)

	_, err := f.UploadObject(context.Background(), "agent_1", nil,
		objectstore.BucketScreenshots, "", "a.png", []byte("first"), "image/png")
	require.NoError(t, err)

	// Same path, different bytes: the blob write fails before any metadata
	// insert, so exactly one artifact row survives.
	_, err = f.UploadObject(context.Background(), "agent_1", nil,
		objectstore.BucketScreenshots, "", "a.png", []byte("second"), "image/png")
	require.Error(t, err)
	var ce *huberrors.ConflictError
	assert.ErrorAs(t, err, &ce)

	artifacts, err := f.ListArtifacts(context.Background(), task.ListFilter{AgentID: "agent_1"})
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
}

func TestSweepDelegatesToTaskStore(t *testing.T) {
	f := newFacade(t)
	ctx := context.Background()

	in := &task.Task{Title: "t", Status: task.StatusPending, AgentID: "agent_1"}
	require.NoError(t, f.CreateTask(ctx, in))
	claimed, err := f.ClaimNextPending(ctx, "agent_1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	reset, err := f.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, reset, claimed.TaskID)
}
