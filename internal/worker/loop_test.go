package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/executor"
	"taskhub/internal/storage"
	"taskhub/internal/storage/inmemory"
	"taskhub/internal/storage/logstore"
	"taskhub/internal/storage/objectstore"
	"taskhub/internal/task"
)

// fakeDriver is a scripted executor.Driver double: it can write a file into
// the workdir (simulating a screenshot) and returns a canned Output/error.
type fakeDriver struct {
	writeScreenshot bool
	sleep           time.Duration
	err             error
	output          executor.Output
}

func (d *fakeDriver) Invoke(ctx context.Context, in executor.Input) (executor.Output, error) {
	if d.writeScreenshot {
		shotsDir := filepath.Join(in.Workdir, "screenshots")
		_ = os.MkdirAll(shotsDir, 0o755)
		_ = os.WriteFile(filepath.Join(shotsDir, "screenshot.png"), []byte("fake-png"), 0o644)
	}
	if d.sleep > 0 {
		select {
		case <-time.After(d.sleep):
		case <-ctx.Done():
			return executor.Output{}, ctx.Err()
		}
	}
	if d.err != nil {
		return executor.Output{}, d.err
	}
	return d.output, nil
}

func newTestFacade(t *testing.T) *storage.Facade {
	t.Helper()
	return storage.New(
		inmemory.NewStore(),
		objectstore.NewInMemoryStore("http://localhost:8080"),
		logstore.NewInMemoryStore(),
		15*time.Minute,
	)
}

func newTestLoop(t *testing.T, facade *storage.Facade, driver executor.Driver) *Loop {
	t.Helper()
	workdir := t.TempDir()
	cfg := Config{
		AgentID:      "agent_1",
		WorkdirRoot:  workdir,
		PollInterval: 10 * time.Millisecond,
		TaskTimeout:  2 * time.Second,
		Heartbeat:    50 * time.Millisecond,
	}
	return New(cfg, facade, executor.New(driver))
}

func createPendingTask(t *testing.T, facade *storage.Facade, agentID string) *task.Task {
	t.Helper()
	in := &task.Task{Title: "do it", Description: "AGENT_RESPONSE_START\nall good\nAGENT_RESPONSE_END", Status: task.StatusPending, AgentID: agentID}
	require.NoError(t, facade.CreateTask(context.Background(), in))
	return in
}

func TestRunTaskHappyPath(t *testing.T) {
	facade := newTestFacade(t)
	created := createPendingTask(t, facade, "agent_1")

	driver := &fakeDriver{output: executor.Output{Stdout: "AGENT_RESPONSE_START\nall good\nAGENT_RESPONSE_END", ExitCode: 0}}
	loop := newTestLoop(t, facade, driver)

	claimed, err := facade.ClaimNextPending(context.Background(), "agent_1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, created.TaskID, claimed.TaskID)

	loop.runTask(context.Background(), claimed)

	final, err := facade.GetTask(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status)
	assert.Equal(t, "all good", final.Metadata.Response)
	assert.Equal(t, "agent_1", final.Metadata.LastAgent)
}

func TestRunTaskDriverTimeout(t *testing.T) {
	facade := newTestFacade(t)
	created := createPendingTask(t, facade, "agent_1")

	driver := &fakeDriver{sleep: 500 * time.Millisecond}
	loop := newTestLoop(t, facade, driver)
	loop.cfg.TaskTimeout = 50 * time.Millisecond

	claimed, err := facade.ClaimNextPending(context.Background(), "agent_1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	loop.runTask(context.Background(), claimed)

	final, err := facade.GetTask(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, final.Status)
	assert.Contains(t, final.Metadata.Result.Error, "timed out")
}

func TestRunTaskCancelRequestedFinalizesCancelled(t *testing.T) {
	facade := newTestFacade(t)
	created := createPendingTask(t, facade, "agent_1")

	driver := &fakeDriver{sleep: 2 * time.Second}
	loop := newTestLoop(t, facade, driver)
	loop.cfg.Heartbeat = 20 * time.Millisecond

	claimed, err := facade.ClaimNextPending(context.Background(), "agent_1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// The admin cancel endpoint sets this flag; the progress pump observes it
	// on its next tick and signals the driver.
	require.NoError(t, facade.UpdateTaskStatus(context.Background(), claimed.TaskID, claimed.Status,
		task.WithTransitionMetadata(task.Metadata{CancelRequested: true})))

	start := time.Now()
	loop.runTask(context.Background(), claimed)
	assert.Less(t, time.Since(start), time.Second, "cancellation must interrupt the driver, not wait it out")

	final, err := facade.GetTask(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, final.Status)

	progress, err := facade.ListProgress(context.Background(), created.TaskID, 0, 0)
	require.NoError(t, err)
	last := progress[len(progress)-1]
	assert.Contains(t, last.Message, "cancelled")
	require.NotNil(t, last.ProgressPercent)
	assert.Equal(t, 100.0, *last.ProgressPercent)
}

func TestRunTaskEmitsHeartbeatsDuringLongExecution(t *testing.T) {
	facade := newTestFacade(t)
	created := createPendingTask(t, facade, "agent_1")

	driver := &fakeDriver{sleep: 250 * time.Millisecond, output: executor.Output{Stdout: "ok"}}
	loop := newTestLoop(t, facade, driver)
	loop.cfg.Heartbeat = 50 * time.Millisecond

	claimed, err := facade.ClaimNextPending(context.Background(), "agent_1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	loop.runTask(context.Background(), claimed)

	progress, err := facade.ListProgress(context.Background(), created.TaskID, 0, 0)
	require.NoError(t, err)

	heartbeats := 0
	for _, p := range progress {
		if p.Message == "heartbeat" {
			heartbeats++
		}
	}
	assert.GreaterOrEqual(t, heartbeats, 1, "the pump must fill progress gaps while the driver runs")

	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i].ProgressID, progress[i-1].ProgressID)
		assert.False(t, progress[i].Timestamp.Before(progress[i-1].Timestamp))
	}
}

func TestRunTaskUploadsArtifacts(t *testing.T) {
	facade := newTestFacade(t)
	created := createPendingTask(t, facade, "agent_1")

	driver := &fakeDriver{writeScreenshot: true, output: executor.Output{Stdout: "AGENT_RESPONSE_START\nfine\nAGENT_RESPONSE_END"}}
	loop := newTestLoop(t, facade, driver)

	claimed, err := facade.ClaimNextPending(context.Background(), "agent_1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	loop.runTask(context.Background(), claimed)

	artifacts, err := facade.ListArtifacts(context.Background(), task.ListFilter{TaskID: &created.TaskID})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "screenshots", artifacts[0].Bucket)
	assert.True(t, strings.HasPrefix(artifacts[0].ObjectPath, "agent_1/"),
		"object_path must start with the normalized agent id, got %s", artifacts[0].ObjectPath)
	assert.NotContains(t, artifacts[0].ObjectPath, "screenshots/",
		"the bucket name must not be repeated inside object_path")

	blob, _, err := facade.GetObject(context.Background(), artifacts[0].ArtifactID)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-png"), blob)

	final, err := facade.GetTask(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, final.Status)
}

func TestExtractResponseFallsBackToStdoutTail(t *testing.T) {
	resp := extractResponse("no markers here, just plain output")
	assert.Equal(t, "no markers here, just plain output", resp)
}

func TestExtractResponseUsesMarkers(t *testing.T) {
	resp := extractResponse("noise\nAGENT_RESPONSE_START\nthe answer\nAGENT_RESPONSE_END\ntrailer")
	assert.Equal(t, "\nthe answer\n", resp)
}
