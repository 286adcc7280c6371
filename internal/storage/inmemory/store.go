// Package inmemory provides a task.Store implementation backed by an
// in-process map. It exists for worker-loop and Hub API tests that
// exercise the claim protocol and state machine without a live Postgres
// instance, and for single-binary dev mode.
package inmemory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/task"
)

type Store struct {
	mu          sync.Mutex
	nextTaskID  int64
	nextProg    int64
	nextArt     int64
	nextTrans   int64
	tasks       map[int64]*task.Task
	progress    map[int64][]*task.ProgressEntry
	artifacts   map[int64]*task.ArtifactMetadata
	transitions map[int64][]task.Transition
}

func NewStore() *Store {
	return &Store{
		tasks:       make(map[int64]*task.Task),
		progress:    make(map[int64][]*task.ProgressEntry),
		artifacts:   make(map[int64]*task.ArtifactMetadata),
		transitions: make(map[int64][]task.Transition),
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error { return nil }

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTaskID++
	t.TaskID = s.nextTaskID
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	s.tasks[t.TaskID] = &cp
	return nil
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, huberrors.NewNotFoundError("task", itoa(taskID))
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTasks(ctx context.Context, filter task.ListFilter) ([]*task.Task, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*task.Task
	for _, t := range s.tasks {
		if filter.AgentID != "" && t.AgentID != filter.AgentID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].TaskID > matched[j].TaskID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID int64, newStatus task.Status, opts ...task.TransitionOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return huberrors.NewNotFoundError("task", itoa(taskID))
	}
	if !task.CanTransition(t.Status, newStatus) {
		return huberrors.NewConflictError("illegal transition " + string(t.Status) + " -> " + string(newStatus))
	}

	params := task.ApplyTransitionOptions(opts)
	from := t.Status
	if from.IsTerminal() {
		// Once terminal, only metadata.response* and updated_at may still
		// change; CanTransition already restricted newStatus to == from here.
		params.MetadataPatch = task.ResponseOnlyFields(params.MetadataPatch)
		params.AgentIDOverride = nil
	}
	t.Metadata.Merge(params.MetadataPatch)
	if params.AgentIDOverride != nil {
		t.AgentID = *params.AgentIDOverride
	}
	t.Status = newStatus
	t.UpdatedAt = time.Now()

	s.nextTrans++
	s.transitions[taskID] = append(s.transitions[taskID], task.Transition{
		ID: s.nextTrans, TaskID: taskID, FromStatus: from, ToStatus: newStatus,
		Reason: params.Reason, CreatedAt: t.UpdatedAt,
	})
	return nil
}

func (s *Store) ClaimNextPending(ctx context.Context, agentID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*task.Task
	for _, t := range s.tasks {
		if t.AgentID == agentID && t.Status == task.StatusPending {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].TaskID < candidates[j].TaskID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	t := candidates[0]
	t.Status = task.StatusAssigned
	t.AgentID = agentID
	t.UpdatedAt = time.Now()

	s.nextTrans++
	s.transitions[t.TaskID] = append(s.transitions[t.TaskID], task.Transition{
		ID: s.nextTrans, TaskID: t.TaskID, FromStatus: task.StatusPending,
		ToStatus: task.StatusAssigned, Reason: "claimed", CreatedAt: t.UpdatedAt,
	})

	cp := *t
	return &cp, nil
}

func (s *Store) AppendProgress(ctx context.Context, p *task.ProgressEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProg++
	p.ProgressID = s.nextProg
	p.Timestamp = time.Now()
	cp := *p
	s.progress[p.TaskID] = append(s.progress[p.TaskID], &cp)
	return p.ProgressID, nil
}

func (s *Store) ListProgress(ctx context.Context, taskID int64, sinceProgressID int64, limit int) ([]*task.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task.ProgressEntry
	for _, p := range s.progress[taskID] {
		if p.ProgressID > sinceProgressID {
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MaxProgressPercent(ctx context.Context, taskID int64) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max *float64
	for _, p := range s.progress[taskID] {
		if p.ProgressPercent != nil && (max == nil || *p.ProgressPercent > *max) {
			v := *p.ProgressPercent
			max = &v
		}
	}
	return max, nil
}

func (s *Store) LatestProgressPerAgent(ctx context.Context, limitPerAgent int) (map[string][]*task.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]*task.ProgressEntry)
	for _, entries := range s.progress {
		for _, p := range entries {
			out[p.AgentID] = append(out[p.AgentID], p)
		}
	}
	for agent, entries := range out {
		sort.Slice(entries, func(i, j int) bool { return entries[i].ProgressID > entries[j].ProgressID })
		if limitPerAgent > 0 && len(entries) > limitPerAgent {
			entries = entries[:limitPerAgent]
		}
		out[agent] = entries
	}
	return out, nil
}

func (s *Store) RecentAgentResponses(ctx context.Context, limit int) ([]*task.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*task.ProgressEntry
	for _, entries := range s.progress {
		all = append(all, entries...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ProgressID > all[j].ProgressID })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) RegisterArtifact(ctx context.Context, a *task.ArtifactMetadata) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.artifacts {
		if existing.ObjectPath == a.ObjectPath {
			return 0, huberrors.NewConflictError("object_path already registered: " + a.ObjectPath)
		}
	}
	s.nextArt++
	a.ArtifactID = s.nextArt
	a.UploadedAt = time.Now()
	cp := *a
	s.artifacts[a.ArtifactID] = &cp
	return a.ArtifactID, nil
}

func (s *Store) ListArtifacts(ctx context.Context, filter task.ListFilter) ([]*task.ArtifactMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*task.ArtifactMetadata
	for _, a := range s.artifacts {
		if filter.AgentID != "" && a.AgentID != filter.AgentID {
			continue
		}
		if filter.TaskID != nil && (a.TaskID == nil || *a.TaskID != *filter.TaskID) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (s *Store) GetArtifact(ctx context.Context, artifactID int64) (*task.ArtifactMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[artifactID]
	if !ok {
		return nil, huberrors.NewNotFoundError("artifact", itoa(artifactID))
	}
	cp := *a
	return &cp, nil
}

func (s *Store) Transitions(ctx context.Context, taskID int64) ([]task.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.Transition(nil), s.transitions[taskID]...), nil
}

func (s *Store) MarkStaleRunning(ctx context.Context, grace time.Duration) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reset []int64
	now := time.Now()
	for id, t := range s.tasks {
		if t.Status != task.StatusAssigned && t.Status != task.StatusInProgress {
			continue
		}
		lastActivity := t.CreatedAt
		if entries := s.progress[id]; len(entries) > 0 {
			lastActivity = entries[len(entries)-1].Timestamp
		}
		if now.Sub(lastActivity) < grace {
			continue
		}

		from := t.Status
		t.Status = task.StatusPending
		t.UpdatedAt = now
		reset = append(reset, id)

		s.nextProg++
		s.progress[id] = append(s.progress[id], &task.ProgressEntry{
			ProgressID: s.nextProg, TaskID: id, AgentID: t.AgentID,
			Message: "recovered from stalled worker", Timestamp: now,
		})
		s.nextTrans++
		s.transitions[id] = append(s.transitions[id], task.Transition{
			ID: s.nextTrans, TaskID: id, FromStatus: from, ToStatus: task.StatusPending,
			Reason: "sweeper: stalled worker recovery", CreatedAt: now,
		})
	}
	return reset, nil
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
