// Package worker implements the per-agent execution loop: one state machine
// instance per normalized agent id, cycling Idle, Preparing, Running,
// Uploading, and Finalize. Each instance claims tasks for exactly one agent,
// drives the computer-use driver through the executor adapter, streams
// progress rows and screenshot uploads through the storage façade, and
// writes the task's terminal status and response.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/executor"
	"taskhub/internal/logging"
	"taskhub/internal/storage"
	"taskhub/internal/storage/objectstore"
	"taskhub/internal/task"
)

const (
	responseStartMarker = "AGENT_RESPONSE_START"
	responseEndMarker   = "AGENT_RESPONSE_END"
	stdoutTailBytes     = 64 * 1024

	defaultPollInterval  = 5 * time.Second
	defaultTaskTimeout   = 300 * time.Second
	defaultHeartbeat     = 10 * time.Second
	defaultShutdownGrace = 60 * time.Second
	defaultRetryCount    = 3
)

// Config holds one worker's tunables. The driver-side force-kill grace
// lives on executor.SubprocessDriver, which owns the process it would have
// to kill.
type Config struct {
	AgentID       string
	WorkdirRoot   string
	PollInterval  time.Duration
	TaskTimeout   time.Duration
	Heartbeat     time.Duration
	ShutdownGrace time.Duration
	RetryCount    int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.RetryCount <= 0 {
		c.RetryCount = defaultRetryCount
	}
}

// Loop is one worker instance. It claims tasks for exactly one normalized
// agent_id and runs them to completion, one at a time.
type Loop struct {
	cfg     Config
	facade  *storage.Facade
	adapter *executor.Adapter
	log     *logging.Logger

	shutdown    atomic.Bool
	currentTask atomic.Int64 // 0 when idle
}

func New(cfg Config, facade *storage.Facade, adapter *executor.Adapter) *Loop {
	cfg.applyDefaults()
	// AGENT_ID arrives raw from the environment; every store key, object
	// path, and claim lookup uses the normalized form.
	cfg.AgentID = objectstore.NormalizeAgentID(cfg.AgentID)
	return &Loop{
		cfg:     cfg,
		facade:  facade,
		adapter: adapter,
		log:     logging.NewComponentLogger("worker." + cfg.AgentID),
	}
}

// RequestShutdown sets the shutdown flag the Idle phase checks; the
// in-flight task gets up to ShutdownGrace to finalize before its terminal
// write is abandoned.
func (l *Loop) RequestShutdown() { l.shutdown.Store(true) }

// Run is the Idle loop: sleep poll_interval, check the shutdown flag, claim.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if l.shutdown.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t, err := l.facade.ClaimNextPending(ctx, l.cfg.AgentID)
		if err != nil {
			l.log.Error("claim failed: %v", err)
			l.appendLog(ctx, nil, task.LogLevelError, "claim failed: "+err.Error())
			continue
		}
		if t == nil {
			continue
		}
		l.runTask(ctx, t)
	}
}

func (l *Loop) runTask(ctx context.Context, t *task.Task) {
	l.currentTask.Store(t.TaskID)
	defer l.currentTask.Store(0)

	workdir, baseline, err := l.prepare(ctx, t)
	if err != nil {
		// Infra failure during Preparing leaves the task assigned so the
		// sweeper can reset it; never mark failed on a transient hiccup.
		l.log.Error("preparing task %d failed, leaving assigned for sweeper: %v", t.TaskID, err)
		l.appendLog(context.WithoutCancel(ctx), &t.TaskID, task.LogLevelError, "prepare failed: "+err.Error())
		return
	}

	out, runErr := l.runWithHeartbeat(ctx, t, workdir)

	// Finalization must survive the shutdown signal that cancelled ctx;
	// once the driver call has returned, the task gets ShutdownGrace to
	// reach a terminal write.
	finalCtx, cancelFinal := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ShutdownGrace)
	defer cancelFinal()

	if runErr == nil {
		l.uploadArtifacts(finalCtx, t, workdir, baseline)
	}
	if runErr != nil && l.shutdown.Load() && ctx.Err() != nil {
		runErr = &huberrors.ShutdownInterrupted{}
	}
	l.finalize(finalCtx, t, out, runErr)
}

// prepare is the Preparing phase: a unique workdir, empty
// screenshots/ baseline, a 0% progress row, transition to in_progress.
func (l *Loop) prepare(ctx context.Context, t *task.Task) (workdir string, baseline map[string]bool, err error) {
	ts := time.Now().UTC().Format("20060102T150405.000000000Z")
	workdir = filepath.Join(l.cfg.WorkdirRoot, l.cfg.AgentID, strconv.FormatInt(t.TaskID, 10), ts)
	shotsDir := filepath.Join(workdir, "screenshots")
	if err := os.MkdirAll(shotsDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating workdir: %w", err)
	}

	baseline = snapshotDir(shotsDir)

	if _, err := l.facade.AppendProgress(ctx, &task.ProgressEntry{
		TaskID: t.TaskID, AgentID: l.cfg.AgentID, ProgressPercent: floatPtr(0), Message: "task picked up",
	}); err != nil {
		return "", nil, err
	}

	if err := l.facade.UpdateTaskStatus(ctx, t.TaskID, task.StatusInProgress,
		task.WithTransitionReason("worker started execution")); err != nil {
		return "", nil, err
	}
	return workdir, baseline, nil
}

// runWithHeartbeat is the Running phase: invoke the executor adapter, and
// concurrently run the progress pump, which wakes every Heartbeat and
// either detects an external cancel request (signalling the driver via
// context cancellation) or writes a heartbeat row carrying the last known
// percent. The pump is the only goroutine appending progress while the
// driver call is outstanding, so at most one append is ever in flight.
func (l *Loop) runWithHeartbeat(ctx context.Context, t *task.Task, workdir string) (executor.Output, error) {
	driverCtx, stopDriver := context.WithCancel(ctx)
	defer stopDriver()

	pumpDone := make(chan struct{})
	var cancelled atomic.Bool

	go func() {
		defer close(pumpDone)
		ticker := time.NewTicker(l.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-driverCtx.Done():
				return
			case <-ticker.C:
			}

			if cur, err := l.facade.GetTask(ctx, t.TaskID); err == nil && cur.Metadata.CancelRequested {
				cancelled.Store(true)
				stopDriver()
				return
			}

			var pct float64
			if known, err := l.facade.MaxProgressPercent(ctx, t.TaskID); err == nil && known != nil {
				pct = *known
			}
			_, _ = l.facade.AppendProgress(ctx, &task.ProgressEntry{
				TaskID: t.TaskID, AgentID: l.cfg.AgentID,
				ProgressPercent: &pct, Message: "heartbeat",
			})
		}
	}()

	out, err := l.adapter.Run(driverCtx, executor.Input{
		TaskText: t.Description, Workdir: workdir, Timeout: l.cfg.TaskTimeout,
	})
	stopDriver()
	<-pumpDone

	if cancelled.Load() {
		return out, huberrors.NewTaskCancelled()
	}
	return out, err
}

// uploadArtifacts is the Uploading phase: diff screenshots/ against the
// baseline, upload each new file, register it, append a progress row.
// Per-file best-effort: a failed upload is logged and skipped, never
// aborts the remaining files.
func (l *Loop) uploadArtifacts(ctx context.Context, t *task.Task, workdir string, baseline map[string]bool) {
	shotsDir := filepath.Join(workdir, "screenshots")
	current := snapshotDir(shotsDir)

	var newFiles []string
	for name := range current {
		if !baseline[name] {
			newFiles = append(newFiles, name)
		}
	}
	sort.Strings(newFiles)

	for _, name := range newFiles {
		data, err := os.ReadFile(filepath.Join(shotsDir, name))
		if err != nil {
			l.log.Warn("reading screenshot %s: %v", name, err)
			continue
		}

		// The canonical path is "<agent>/<uuid>.<ext>" inside the
		// screenshots bucket, never re-prefixed with the bucket name; the
		// object name is a fresh uuid rather than the driver-chosen filename,
		// so two tasks that both write "screenshot.png" never collide.
		objectName := uuid.NewString() + filepath.Ext(name)
		artifact, err := l.facade.UploadObject(ctx, l.cfg.AgentID, &t.TaskID,
			objectstore.BucketScreenshots, "", objectName, data, contentTypeFor(name))
		if err != nil {
			l.log.Warn("uploading screenshot %s: %v", name, err)
			l.appendLog(ctx, &t.TaskID, task.LogLevelWarning, "screenshot upload failed: "+err.Error())
			continue
		}

		if _, err := l.facade.AppendProgress(ctx, &task.ProgressEntry{
			TaskID: t.TaskID, AgentID: l.cfg.AgentID,
			Message: "uploaded screenshot: " + artifact.ObjectPath,
		}); err != nil {
			l.log.Warn("recording upload progress for %s: %v", name, err)
		}
	}
}

// finalize is the Finalize phase: extract response text, merge metadata,
// append the terminal progress row, transition to a terminal status. A
// final-write failure is retried R times with backoff before falling back
// to "response persistence failed" + failed.
func (l *Loop) finalize(ctx context.Context, t *task.Task, out executor.Output, runErr error) {
	now := time.Now()
	status := task.StatusCompleted
	message := "completed"
	result := &task.ResultPayload{Stdout: out.Stdout, ExitCode: out.ExitCode, DurationMS: out.DurationMS}

	if runErr != nil {
		status = terminalStatusFor(runErr)
		result.Error = runErr.Error()
		message = "failed: " + reasonFor(runErr)
	}

	// Whatever response text the driver produced before failing is
	// preserved.
	response := strings.TrimSpace(extractResponse(out.Stdout))
	meta := task.Metadata{
		Response:          response,
		ResponseUpdatedAt: &now,
		LastAgent:         l.cfg.AgentID,
		Result:            result,
	}

	retryCfg := huberrors.DefaultRetryConfig()
	retryCfg.MaxAttempts = l.cfg.RetryCount
	err := huberrors.Retry(ctx, retryCfg, func(ctx context.Context) error {
		return l.facade.UpdateTaskStatus(ctx, t.TaskID, status,
			task.WithTransitionMetadata(meta), task.WithTransitionReason(message))
	})

	if err != nil {
		l.log.Error("final status write exhausted retries for task %d: %v", t.TaskID, err)
		l.appendLog(ctx, &t.TaskID, task.LogLevelError, "response persistence failed: "+err.Error())
		_, _ = l.facade.AppendProgress(ctx, &task.ProgressEntry{
			TaskID: t.TaskID, AgentID: l.cfg.AgentID, Message: "response persistence failed",
		})
		_ = l.facade.UpdateTaskStatus(ctx, t.TaskID, task.StatusFailed,
			task.WithTransitionReason("response persistence failed"))
		return
	}

	pct := 100.0
	_, _ = l.facade.AppendProgress(ctx, &task.ProgressEntry{
		TaskID: t.TaskID, AgentID: l.cfg.AgentID, ProgressPercent: &pct, Message: message,
	})
}

func (l *Loop) appendLog(ctx context.Context, taskID *int64, level task.LogLevel, message string) {
	l.facade.AppendLog(ctx, &task.LogEntry{
		LogID: uuid.NewString(), AgentID: l.cfg.AgentID, TaskID: taskID,
		Level: level, Message: message, CreatedAt: time.Now(),
	})
}

// terminalStatusFor maps an execution failure to its terminal status: an
// operator cancel lands on cancelled, everything else on failed.
func terminalStatusFor(err error) task.Status {
	var tc *huberrors.TaskCancelled
	if errors.As(err, &tc) {
		return task.StatusCancelled
	}
	return task.StatusFailed
}

func reasonFor(err error) string {
	var to *huberrors.ExecutionTimeout
	var tc *huberrors.TaskCancelled
	var si *huberrors.ShutdownInterrupted
	switch {
	case errors.As(err, &to):
		return "timeout"
	case errors.As(err, &tc):
		return "cancelled"
	case errors.As(err, &si):
		return "shutdown"
	}
	return err.Error()
}

// extractResponse locates AGENT_RESPONSE_START/END in stdout; absent
// markers fall back to the stdout tail up to 64 KiB. The same bound caps
// the marker-delimited region.
func extractResponse(stdout string) string {
	startIdx := strings.Index(stdout, responseStartMarker)
	endIdx := strings.Index(stdout, responseEndMarker)
	if startIdx >= 0 && endIdx > startIdx {
		region := stdout[startIdx+len(responseStartMarker) : endIdx]
		if len(region) > stdoutTailBytes {
			region = region[:stdoutTailBytes]
		}
		return region
	}
	if len(stdout) <= stdoutTailBytes {
		return stdout
	}
	return stdout[len(stdout)-stdoutTailBytes:]
}

func snapshotDir(dir string) map[string]bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out[e.Name()] = true
		}
	}
	return out
}

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func floatPtr(f float64) *float64 { return &f }
