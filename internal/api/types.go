// Package api implements the Hub API: task submission, task/progress/
// artifact queries, the aggregated live-feed endpoints, and a websocket
// push feed for dashboards that would otherwise poll.
package api

import (
	"encoding/json"
	"time"

	"taskhub/internal/task"
)

// taskDTO is the wire shape of a Task.
type taskDTO struct {
	TaskID      int64         `json:"task_id"`
	AgentID     string        `json:"agent_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      task.Status   `json:"status"`
	Metadata    task.Metadata `json:"metadata"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func toTaskDTO(t *task.Task) taskDTO {
	return taskDTO{
		TaskID: t.TaskID, AgentID: t.AgentID, Title: t.Title, Description: t.Description,
		Status: t.Status, Metadata: t.Metadata, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
}

type progressDTO struct {
	ProgressID      int64           `json:"progress_id"`
	TaskID          int64           `json:"task_id"`
	AgentID         string          `json:"agent_id"`
	ProgressPercent *float64        `json:"progress_percent,omitempty"`
	Message         string          `json:"message"`
	Data            json.RawMessage `json:"data,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

func toProgressDTO(p *task.ProgressEntry) progressDTO {
	return progressDTO{
		ProgressID: p.ProgressID, TaskID: p.TaskID, AgentID: p.AgentID,
		ProgressPercent: p.ProgressPercent, Message: p.Message, Data: p.Data, Timestamp: p.Timestamp,
	}
}

type artifactDTO struct {
	ArtifactID  int64     `json:"artifact_id"`
	AgentID     string    `json:"agent_id"`
	TaskID      *int64    `json:"task_id,omitempty"`
	Bucket      string    `json:"bucket"`
	ObjectPath  string    `json:"object_path"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

func toArtifactDTO(a *task.ArtifactMetadata) artifactDTO {
	return artifactDTO{
		ArtifactID: a.ArtifactID, AgentID: a.AgentID, TaskID: a.TaskID, Bucket: a.Bucket,
		ObjectPath: a.ObjectPath, ContentType: a.ContentType, SizeBytes: a.SizeBytes, UploadedAt: a.UploadedAt,
	}
}

// createTaskRequest is POST /task's body.
type createTaskRequest struct {
	Text string `json:"text"`
}

type createTaskResponse struct {
	TaskID int64  `json:"task_id"`
	Status string `json:"status"`
}

type getTaskResponse struct {
	Task      taskDTO       `json:"task"`
	Progress  []progressDTO `json:"progress"`
	Artifacts []artifactDTO `json:"artifacts"`
}

type listTasksResponse struct {
	Tasks []taskDTO `json:"tasks"`
	Total int       `json:"total"`
}

// agentResponseMessage is one row of GET /chat/agent-responses: a progress
// entry joined with its task's title and status.
type agentResponseMessage struct {
	ID              int64       `json:"id"`
	TaskID          int64       `json:"task_id"`
	AgentID         string      `json:"agent_id"`
	ProgressPercent *float64    `json:"progress_percent,omitempty"`
	Message         string      `json:"message"`
	Timestamp       time.Time   `json:"timestamp"`
	Task            *taskSummary `json:"task,omitempty"`
}

type taskSummary struct {
	TaskID int64       `json:"task_id"`
	Title  string      `json:"title"`
	Status task.Status `json:"status"`
}

type agentResponsesResponse struct {
	Messages []agentResponseMessage `json:"messages"`
}

// liveAgentView is one entry of GET /agents/live.
type liveAgentView struct {
	AgentID         string            `json:"agent_id"`
	LatestProgress  *progressDTO      `json:"latest_progress,omitempty"`
	RecentProgress  []progressDTO     `json:"recent_progress"`
	RecentArtifacts []artifactWithURL `json:"recent_artifacts"`
}

type artifactWithURL struct {
	artifactDTO
	PresignedURL string `json:"presigned_url,omitempty"`
}

type liveFeedResponse struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Agents      []liveAgentView `json:"agents"`
}

type presignedResponse struct {
	URL string `json:"url"`
}

type cancelResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}
