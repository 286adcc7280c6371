// Package storage composes the relational task store, the object store,
// and the log store behind the single Facade the worker loop and Hub API
// depend on. Artifact registration sequences a blob write before the
// metadata insert: a crash between the two leaves an orphaned blob, never
// a metadata row pointing at nothing.
package storage

import (
	"context"
	"time"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/storage/logstore"
	"taskhub/internal/storage/objectstore"
	"taskhub/internal/task"
)

// Facade is the single dependency the worker loop and Hub API see.
type Facade struct {
	Tasks      task.Store
	Objects    objectstore.Store
	Logs       logstore.Store
	PresignTTL time.Duration
}

func New(tasks task.Store, objects objectstore.Store, logs logstore.Store, presignTTL time.Duration) *Facade {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Facade{Tasks: tasks, Objects: objects, Logs: logs, PresignTTL: presignTTL}
}

func (f *Facade) EnsureReady(ctx context.Context) error {
	if err := f.Tasks.EnsureSchema(ctx); err != nil {
		return err
	}
	return f.Objects.EnsureBuckets(ctx)
}

func (f *Facade) CreateTask(ctx context.Context, t *task.Task) error {
	return f.Tasks.CreateTask(ctx, t)
}

func (f *Facade) GetTask(ctx context.Context, taskID int64) (*task.Task, error) {
	return f.Tasks.GetTask(ctx, taskID)
}

func (f *Facade) ListTasks(ctx context.Context, filter task.ListFilter) ([]*task.Task, int, error) {
	return f.Tasks.ListTasks(ctx, filter)
}

func (f *Facade) UpdateTaskStatus(ctx context.Context, taskID int64, newStatus task.Status, opts ...task.TransitionOption) error {
	return f.Tasks.UpdateTaskStatus(ctx, taskID, newStatus, opts...)
}

func (f *Facade) ClaimNextPending(ctx context.Context, agentID string) (*task.Task, error) {
	return f.Tasks.ClaimNextPending(ctx, agentID)
}

func (f *Facade) AppendProgress(ctx context.Context, p *task.ProgressEntry) (int64, error) {
	return f.Tasks.AppendProgress(ctx, p)
}

func (f *Facade) ListProgress(ctx context.Context, taskID int64, sinceProgressID int64, limit int) ([]*task.ProgressEntry, error) {
	return f.Tasks.ListProgress(ctx, taskID, sinceProgressID, limit)
}

func (f *Facade) MaxProgressPercent(ctx context.Context, taskID int64) (*float64, error) {
	return f.Tasks.MaxProgressPercent(ctx, taskID)
}

func (f *Facade) LatestProgressPerAgent(ctx context.Context, limitPerAgent int) (map[string][]*task.ProgressEntry, error) {
	return f.Tasks.LatestProgressPerAgent(ctx, limitPerAgent)
}

func (f *Facade) RecentAgentResponses(ctx context.Context, limit int) ([]*task.ProgressEntry, error) {
	return f.Tasks.RecentAgentResponses(ctx, limit)
}

// UploadObject writes the blob to object storage, then registers its
// metadata row: the blob exists before any caller can learn its
// artifact_id, so a reader that has an artifact_id can always fetch its blob.
// The bucket name is never repeated inside object_path: a screenshot lives at
// screenshots/<agent>/<uuid>.png, not screenshots/<agent>/screenshots/....
func (f *Facade) UploadObject(ctx context.Context, agentID string, taskID *int64, bucket, subcategory, name string, data []byte, contentType string) (*task.ArtifactMetadata, error) {
	if bucket != objectstore.BucketScreenshots && bucket != objectstore.BucketBinaries {
		return nil, huberrors.NewValidationError("bucket", "unknown bucket "+bucket)
	}
	if subcategory == bucket {
		return nil, huberrors.NewValidationError("subcategory", "must not repeat the bucket name in object_path")
	}
	path := objectstore.ObjectPath(agentID, subcategory, name)

	if err := f.Objects.Upload(ctx, bucket, path, data, contentType); err != nil {
		return nil, err
	}

	artifact := &task.ArtifactMetadata{
		AgentID:     objectstore.NormalizeAgentID(agentID),
		TaskID:      taskID,
		Bucket:      bucket,
		ObjectPath:  path,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}
	if _, err := f.Tasks.RegisterArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// GetArtifact returns artifact metadata without fetching its blob, for
// callers (e.g. the presigned-URL endpoint) that only need to inspect the
// bucket or path.
func (f *Facade) GetArtifact(ctx context.Context, artifactID int64) (*task.ArtifactMetadata, error) {
	return f.Tasks.GetArtifact(ctx, artifactID)
}

func (f *Facade) GetObject(ctx context.Context, artifactID int64) ([]byte, *task.ArtifactMetadata, error) {
	a, err := f.Tasks.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, nil, err
	}
	data, err := f.Objects.Get(ctx, a.Bucket, a.ObjectPath)
	if err != nil {
		return nil, nil, err
	}
	return data, a, nil
}

func (f *Facade) PresignGet(ctx context.Context, artifactID int64) (string, error) {
	a, err := f.Tasks.GetArtifact(ctx, artifactID)
	if err != nil {
		return "", err
	}
	return f.Objects.PresignGet(ctx, a.Bucket, a.ObjectPath, f.PresignTTL)
}

func (f *Facade) ListArtifacts(ctx context.Context, filter task.ListFilter) ([]*task.ArtifactMetadata, error) {
	return f.Tasks.ListArtifacts(ctx, filter)
}

// AppendLog writes to the diagnostic log store. Failures here are never
// propagated as task-control errors: logging is best-effort.
func (f *Facade) AppendLog(ctx context.Context, entry *task.LogEntry) {
	if f.Logs == nil {
		return
	}
	_ = f.Logs.Append(ctx, entry)
}

func (f *Facade) RecentLogs(ctx context.Context, agentID string, limit int) ([]*task.LogEntry, error) {
	if f.Logs == nil {
		return nil, huberrors.NewStorageUnavailable(nil, "log store not configured")
	}
	return f.Logs.Recent(ctx, agentID, limit)
}

// Sweep resets tasks whose workers have gone quiet for longer than grace.
func (f *Facade) Sweep(ctx context.Context, grace time.Duration) ([]int64, error) {
	return f.Tasks.MarkStaleRunning(ctx, grace)
}
