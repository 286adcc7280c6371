package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/storage"
	"taskhub/internal/storage/inmemory"
	"taskhub/internal/storage/logstore"
	"taskhub/internal/storage/objectstore"
	"taskhub/internal/task"
)

func TestSweepOnceRecoversStalledTask(t *testing.T) {
	facade := storage.New(
		inmemory.NewStore(),
		objectstore.NewInMemoryStore("http://localhost"),
		logstore.NewInMemoryStore(),
		15*time.Minute,
	)
	ctx := context.Background()

	in := &task.Task{Title: "t", Status: task.StatusPending, AgentID: "agent_1"}
	require.NoError(t, facade.CreateTask(ctx, in))
	claimed, err := facade.ClaimNextPending(ctx, "agent_1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	s := New(facade, 0, time.Millisecond)
	s.sweepOnce(ctx)

	out, err := facade.GetTask(ctx, claimed.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, out.Status, "a worker crash mid-task must be recoverable by the sweeper")

	reclaimed, err := facade.ClaimNextPending(ctx, "agent_1")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, claimed.TaskID, reclaimed.TaskID)
}

func TestSweepOnceLeavesFreshTasksAlone(t *testing.T) {
	facade := storage.New(
		inmemory.NewStore(),
		objectstore.NewInMemoryStore("http://localhost"),
		logstore.NewInMemoryStore(),
		15*time.Minute,
	)
	ctx := context.Background()

	in := &task.Task{Title: "t", Status: task.StatusPending, AgentID: "agent_1"}
	require.NoError(t, facade.CreateTask(ctx, in))
	claimed, err := facade.ClaimNextPending(ctx, "agent_1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	s := New(facade, time.Hour, time.Millisecond)
	s.sweepOnce(ctx)

	out, err := facade.GetTask(ctx, claimed.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAssigned, out.Status)
}
