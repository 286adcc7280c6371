// Package task defines the durable domain model shared by the storage
// façade, the claim protocol, and the worker loop: Task, ProgressEntry,
// ArtifactMetadata, LogEntry, and the status state machine that governs
// a task's lifetime.
package task

import (
	"encoding/json"
	"time"
)

// Status is a task's position in the state machine:
//
//	pending -> assigned -> in_progress -> {completed | failed | cancelled}
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s is one of the three terminal statuses, after
// which only metadata.response* fields and updated_at may still change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the only legal status edges. There is no
// edge back to pending except the sweeper's explicit reset, which bypasses
// this table (it is not a caller-initiated transition).
var validTransitions = map[Status]map[Status]bool{
	StatusPending:    {StatusAssigned: true},
	StatusAssigned:   {StatusInProgress: true, StatusFailed: true, StatusCancelled: true},
	StatusInProgress: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

// CanTransition reports whether from -> to is a legal forward edge, or a
// same-status update (from == to), which is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	edges, ok := validTransitions[from]
	return ok && edges[to]
}

// ResultPayload is the driver's structured result, stored under
// metadata.result: the executor adapter's stdout/exit_code/duration_ms
// triple plus an optional error for failed executions.
type ResultPayload struct {
	Stdout     string `json:"stdout,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Metadata is a tagged variant over the task's JSON metadata column. Known
// keys get named, typed fields, so a value of the wrong JSON type fails to
// decode; the storage façade applies no further validation to them.
// Anything else passes through via Extra untouched.
type Metadata struct {
	AssignedAgentID   string                     `json:"assigned_agent_id,omitempty"`
	Response          string                     `json:"response,omitempty"`
	ResponseUpdatedAt *time.Time                 `json:"response_updated_at,omitempty"`
	LastAgent         string                     `json:"last_agent,omitempty"`
	Result            *ResultPayload             `json:"result,omitempty"`
	CancelRequested   bool                       `json:"cancel_requested,omitempty"`
	Extra             map[string]json.RawMessage `json:"-"`
}

// MarshalJSON flattens Extra alongside the known fields so the stored
// representation is one flat object, not a nested "extra" key.
func (m Metadata) MarshalJSON() ([]byte, error) {
	type known Metadata
	base, err := json.Marshal(known(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return base, nil
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(base, &flat); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, known := flat[k]; known {
			continue
		}
		flat[k] = v
	}
	return json.Marshal(flat)
}

// UnmarshalJSON recognizes the known keys and stashes everything else in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	type known Metadata
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*m = Metadata(k)
	knownKeys := map[string]bool{
		"assigned_agent_id": true, "response": true, "response_updated_at": true,
		"last_agent": true, "result": true, "cancel_requested": true,
	}
	extra := make(map[string]json.RawMessage)
	for key, v := range flat {
		if knownKeys[key] {
			continue
		}
		extra[key] = v
	}
	if len(extra) > 0 {
		m.Extra = extra
	}
	return nil
}

// Merge applies non-zero fields of patch onto m, and unions Extra, without
// dropping keys absent from patch.
func (m *Metadata) Merge(patch Metadata) {
	if patch.AssignedAgentID != "" {
		m.AssignedAgentID = patch.AssignedAgentID
	}
	if patch.Response != "" {
		m.Response = patch.Response
	}
	if patch.ResponseUpdatedAt != nil {
		m.ResponseUpdatedAt = patch.ResponseUpdatedAt
	}
	if patch.LastAgent != "" {
		m.LastAgent = patch.LastAgent
	}
	if patch.Result != nil {
		m.Result = patch.Result
	}
	if patch.CancelRequested {
		m.CancelRequested = true
	}
	for k, v := range patch.Extra {
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}
}

// ResponseOnlyFields strips patch down to the fields a terminal task may
// still change: the response text and its timestamp, nothing else.
// Stores apply this before merging a metadata
// patch onto a task whose current status is already terminal, so a
// terminal->same-terminal UpdateTaskStatus call can't smuggle in a changed
// Result, LastAgent, or AssignedAgentID.
func ResponseOnlyFields(patch Metadata) Metadata {
	return Metadata{
		Response:          patch.Response,
		ResponseUpdatedAt: patch.ResponseUpdatedAt,
	}
}

// Task is the durable unit of work assigned to exactly one worker agent.
type Task struct {
	TaskID      int64
	AgentID     string
	Title       string
	Description string
	Status      Status
	Metadata    Metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProgressEntry is an append-only record of a task's forward motion.
type ProgressEntry struct {
	ProgressID      int64
	TaskID          int64
	AgentID         string
	ProgressPercent *float64
	Message         string
	Data            json.RawMessage
	Timestamp       time.Time
}

// ArtifactMetadata describes one blob registered against a task.
type ArtifactMetadata struct {
	ArtifactID  int64
	AgentID     string
	TaskID      *int64
	Bucket      string
	ObjectPath  string
	ContentType string
	SizeBytes   int64
	Metadata    json.RawMessage
	UploadedAt  time.Time
}

// LogLevel enumerates the Log Store's four severities.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEntry is an append-only diagnostic record, not load-bearing for control flow.
type LogEntry struct {
	LogID     string
	AgentID   string
	TaskID    *int64
	Level     LogLevel
	Message   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Transition is one audit row appended on every status change.
type Transition struct {
	ID           int64
	TaskID       int64
	FromStatus   Status
	ToStatus     Status
	Reason       string
	MetadataJSON json.RawMessage
	CreatedAt    time.Time
}

// TransitionParams accumulates the optional fields a status change may carry.
type TransitionParams struct {
	Reason          string
	MetadataPatch   Metadata
	AgentIDOverride *string
}

// TransitionOption mutates TransitionParams; modeled on the functional-option
// pattern used throughout this codebase for optional, named transition data.
type TransitionOption func(*TransitionParams)

// WithTransitionReason records why the transition happened.
func WithTransitionReason(reason string) TransitionOption {
	return func(p *TransitionParams) { p.Reason = reason }
}

// WithTransitionMetadata merges additional metadata onto the task as part
// of this transition (e.g. the final response, or a result payload).
func WithTransitionMetadata(patch Metadata) TransitionOption {
	return func(p *TransitionParams) { p.MetadataPatch = patch }
}

// WithTransitionAgentID overrides agent_id as part of the transition (claim).
func WithTransitionAgentID(agentID string) TransitionOption {
	return func(p *TransitionParams) {
		p.AgentIDOverride = &agentID
	}
}

// ApplyTransitionOptions folds opts into a fresh TransitionParams.
func ApplyTransitionOptions(opts []TransitionOption) TransitionParams {
	var p TransitionParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
