package task

import (
	"context"
	"time"
)

// ListFilter narrows ListTasks/ListArtifacts results. TaskID is only
// meaningful for ListArtifacts; ListTasks ignores it.
type ListFilter struct {
	AgentID string
	Status  Status
	TaskID  *int64
	Limit   int
	Offset  int
}

// Store is the task persistence port: a durable, ordered, indexed record of
// tasks, progress entries, and artifact metadata, plus the claim and sweeper
// operations built on top of it. Concrete implementations live under
// internal/storage/postgres and, as an in-process double,
// internal/storage/inmemory; the worker loop and the Hub API only ever see
// this interface, composed inside storage.Facade.
type Store interface {
	EnsureSchema(ctx context.Context) error

	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, taskID int64) (*Task, error)
	ListTasks(ctx context.Context, filter ListFilter) ([]*Task, int, error)

	// UpdateTaskStatus enforces CanTransition and merges metadata without
	// dropping existing keys. Returns a conflict error if the edge from the
	// task's current status to newStatus is illegal.
	UpdateTaskStatus(ctx context.Context, taskID int64, newStatus Status, opts ...TransitionOption) error

	// ClaimNextPending is the locked claim: one serializable transaction
	// that selects, row-locks, and reassigns the earliest pending task
	// whose agent_id equals agentID, or returns (nil, nil) if none are
	// pending. A task handed to one caller is never handed to another.
	ClaimNextPending(ctx context.Context, agentID string) (*Task, error)

	AppendProgress(ctx context.Context, p *ProgressEntry) (int64, error)
	ListProgress(ctx context.Context, taskID int64, sinceProgressID int64, limit int) ([]*ProgressEntry, error)
	MaxProgressPercent(ctx context.Context, taskID int64) (*float64, error)
	LatestProgressPerAgent(ctx context.Context, limitPerAgent int) (map[string][]*ProgressEntry, error)
	RecentAgentResponses(ctx context.Context, limit int) ([]*ProgressEntry, error)

	RegisterArtifact(ctx context.Context, a *ArtifactMetadata) (int64, error)
	ListArtifacts(ctx context.Context, filter ListFilter) ([]*ArtifactMetadata, error)
	GetArtifact(ctx context.Context, artifactID int64) (*ArtifactMetadata, error)

	Transitions(ctx context.Context, taskID int64) ([]Transition, error)

	// MarkStaleRunning is the sweeper's recovery operation: tasks in
	// {assigned, in_progress} whose most recent progress row is older
	// than grace are reset to pending with a "recovered from stalled
	// worker" progress row. Refused for terminal tasks. Returns the ids
	// reset.
	MarkStaleRunning(ctx context.Context, grace time.Duration) ([]int64, error)
}

// ArtifactStoreView is the narrow read surface the Hub API needs for
// presigned-URL lookups without depending on the full Store interface.
type ArtifactStoreView interface {
	GetArtifact(ctx context.Context, artifactID int64) (*ArtifactMetadata, error)
}
