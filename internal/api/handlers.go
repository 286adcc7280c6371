package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/logging"
	"taskhub/internal/storage"
	"taskhub/internal/task"
)

const (
	maxTitleLen            = 80
	defaultLiveLimit       = 10
	defaultArtifactsPerAgt = 5
)

// Handler implements the hub's HTTP surface against storage.Facade, the
// only storage dependency the API layer sees.
type Handler struct {
	facade     *storage.Facade
	agentCount int
	log        *logging.Logger
}

func NewHandler(facade *storage.Facade, agentCount int) *Handler {
	if agentCount <= 0 {
		agentCount = 1
	}
	return &Handler{facade: facade, agentCount: agentCount, log: logging.NewComponentLogger("api")}
}

func (h *Handler) assignedAgent(taskID int64) string {
	n := int64(h.agentCount)
	idx := taskID % n
	if idx < 0 {
		idx += n
	}
	return "agent_" + strconv.FormatInt(1+idx, 10)
}

func (h *Handler) agentIDs() []string {
	ids := make([]string, h.agentCount)
	for i := range ids {
		ids[i] = "agent_" + strconv.Itoa(i+1)
	}
	return ids
}

// HandleCreateTask is POST /task: title = first 80 chars of text,
// description = text, nominal agent assigned by round-robin on task_id.
func (h *Handler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, huberrors.NewValidationError("text", "request body must be valid JSON"))
		return
	}
	if req.Text == "" {
		writeError(w, huberrors.NewValidationError("text", "must not be empty"))
		return
	}

	title := req.Text
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}

	t := &task.Task{Title: title, Description: req.Text, Status: task.StatusPending}
	if err := h.facade.CreateTask(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}

	// The nominal agent is a function of task_id, which only exists after
	// insert. Applying it as a same-status "transition" (pending ->
	// pending is a no-op edge per task.CanTransition) avoids a second,
	// bespoke write path just for the initial assignment.
	agent := h.assignedAgent(t.TaskID)
	err := h.facade.UpdateTaskStatus(r.Context(), t.TaskID, task.StatusPending,
		task.WithTransitionAgentID(agent),
		task.WithTransitionReason("round-robin assignment"),
		task.WithTransitionMetadata(task.Metadata{AssignedAgentID: agent}))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createTaskResponse{TaskID: t.TaskID, Status: "created"})
}

// HandleGetTask is GET /task/{id}.
func (h *Handler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, huberrors.NewValidationError("id", "must be an integer"))
		return
	}

	t, err := h.facade.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	progress, err := h.facade.ListProgress(r.Context(), taskID, 0, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	artifacts, err := h.facade.ListArtifacts(r.Context(), task.ListFilter{TaskID: &taskID})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := getTaskResponse{Task: toTaskDTO(t), Progress: make([]progressDTO, 0, len(progress))}
	for _, p := range progress {
		resp.Progress = append(resp.Progress, toProgressDTO(p))
	}
	for _, a := range artifacts {
		resp.Artifacts = append(resp.Artifacts, toArtifactDTO(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListTasks is GET /tasks?status&agent_id&limit&offset.
func (h *Handler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.ListFilter{
		AgentID: q.Get("agent_id"),
		Status:  task.Status(q.Get("status")),
		Limit:   atoiDefault(q.Get("limit"), 50),
		Offset:  atoiDefault(q.Get("offset"), 0),
	}

	tasks, total, err := h.facade.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := listTasksResponse{Tasks: make([]taskDTO, 0, len(tasks)), Total: total}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, toTaskDTO(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleAgentResponses is GET /chat/agent-responses?limit: the
// latest N progress entries across all agents, joined with their task's
// title and status, for the frontend live feed.
func (h *Handler) HandleAgentResponses(w http.ResponseWriter, r *http.Request) {
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)

	entries, err := h.facade.RecentAgentResponses(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := agentResponsesResponse{Messages: make([]agentResponseMessage, 0, len(entries))}
	taskCache := make(map[int64]*taskSummary)
	for _, p := range entries {
		summary, ok := taskCache[p.TaskID]
		if !ok {
			if t, err := h.facade.GetTask(r.Context(), p.TaskID); err == nil {
				summary = &taskSummary{TaskID: t.TaskID, Title: t.Title, Status: t.Status}
			}
			taskCache[p.TaskID] = summary
		}
		resp.Messages = append(resp.Messages, agentResponseMessage{
			ID: p.ProgressID, TaskID: p.TaskID, AgentID: p.AgentID,
			ProgressPercent: p.ProgressPercent, Message: p.Message, Timestamp: p.Timestamp,
			Task: summary,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleAgentsLive is GET /agents/live?limit_per_agent: for each
// known agent, its latest progress entry, its K most recent progress
// entries, and its M most recent artifacts with presigned URLs (when the
// artifact's bucket is "screenshots").
func (h *Handler) HandleAgentsLive(w http.ResponseWriter, r *http.Request) {
	limit := atoiDefault(r.URL.Query().Get("limit_per_agent"), defaultLiveLimit)

	byAgent, err := h.facade.LatestProgressPerAgent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	allArtifacts, err := h.facade.ListArtifacts(r.Context(), task.ListFilter{})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := liveFeedResponse{GeneratedAt: time.Now(), Agents: make([]liveAgentView, 0, h.agentCount)}
	for _, agentID := range h.agentIDs() {
		view := liveAgentView{AgentID: agentID}
		recent := byAgent[agentID]
		view.RecentProgress = make([]progressDTO, 0, len(recent))
		for i, p := range recent {
			dto := toProgressDTO(p)
			view.RecentProgress = append(view.RecentProgress, dto)
			if i == 0 {
				cp := dto
				view.LatestProgress = &cp
			}
		}

		var agentArtifacts []*task.ArtifactMetadata
		for _, a := range allArtifacts {
			if a.AgentID == agentID {
				agentArtifacts = append(agentArtifacts, a)
			}
		}
		sort.Slice(agentArtifacts, func(i, j int) bool { return agentArtifacts[i].UploadedAt.After(agentArtifacts[j].UploadedAt) })
		if len(agentArtifacts) > defaultArtifactsPerAgt {
			agentArtifacts = agentArtifacts[:defaultArtifactsPerAgt]
		}
		for _, a := range agentArtifacts {
			withURL := artifactWithURL{artifactDTO: toArtifactDTO(a)}
			if a.Bucket == "screenshots" {
				if url, err := h.facade.PresignGet(r.Context(), a.ArtifactID); err == nil {
					withURL.PresignedURL = url
				}
			}
			view.RecentArtifacts = append(view.RecentArtifacts, withURL)
		}
		resp.Agents = append(resp.Agents, view)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePresignedURL is GET /artifacts/{id}/presigned?ttl_seconds, for the
// screenshots bucket only.
func (h *Handler) HandlePresignedURL(w http.ResponseWriter, r *http.Request) {
	artifactID, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, huberrors.NewValidationError("id", "must be an integer"))
		return
	}

	artifact, err := h.facade.GetArtifact(r.Context(), artifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	if artifact.Bucket != "screenshots" {
		writeError(w, huberrors.NewValidationError("id", "presigned URLs are only issued for the screenshots bucket"))
		return
	}

	url, err := h.facade.PresignGet(r.Context(), artifactID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, presignedResponse{URL: url})
}

// HandleCancelTask is POST /admin/tasks/{id}/cancel: sets a cancel
// flag the worker loop polls for. It does not itself transition the
// task; that happens when the owning worker observes the flag.
func (h *Handler) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, huberrors.NewValidationError("id", "must be an integer"))
		return
	}

	t, err := h.facade.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if t.Status.IsTerminal() {
		writeError(w, huberrors.NewConflictError("task is already terminal: "+string(t.Status)))
		return
	}

	if err := h.facade.UpdateTaskStatus(r.Context(), taskID, t.Status,
		task.WithTransitionMetadata(task.Metadata{CancelRequested: true}),
		task.WithTransitionReason("admin cancel requested")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Status: "cancel_requested"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the hub's error taxonomy to an HTTP status, falling back
// to a generic 500 for anything unclassified.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, huberrors.HTTPStatus(err), errorResponse{Error: err.Error()})
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
