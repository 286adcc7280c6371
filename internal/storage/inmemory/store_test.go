package inmemory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/task"
)

func TestCreateGetTaskRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	in := &task.Task{Title: "t", Description: "d", Status: task.StatusPending, AgentID: "agent_1"}
	require.NoError(t, s.CreateTask(ctx, in))
	require.NotZero(t, in.TaskID)

	out, err := s.GetTask(ctx, in.TaskID)
	require.NoError(t, err)
	assert.Equal(t, in.Title, out.Title)
	assert.Equal(t, task.StatusPending, out.Status)
}

func TestGetTaskNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.GetTask(context.Background(), 999)
	require.Error(t, err)
}

func TestUpdateTaskStatusRejectsIllegalTransition(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	in := &task.Task{Title: "t", Status: task.StatusPending, AgentID: "agent_1"}
	require.NoError(t, s.CreateTask(ctx, in))

	err := s.UpdateTaskStatus(ctx, in.TaskID, task.StatusCompleted)
	assert.Error(t, err, "pending -> completed skips the assigned/in_progress edges")
}

func TestClaimNextPendingAtMostOnceUnderConcurrency(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	const numTasks = 100
	const numClaimers = 4
	agentID := "agent_1"

	for i := 0; i < numTasks; i++ {
		in := &task.Task{Title: "t", Status: task.StatusPending, AgentID: agentID}
		require.NoError(t, s.CreateTask(ctx, in))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimedBy := make(map[int64]int)

	for worker := 0; worker < numClaimers; worker++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				claimed, err := s.ClaimNextPending(ctx, agentID)
				if err != nil || claimed == nil {
					return
				}
				mu.Lock()
				claimedBy[claimed.TaskID]++
				mu.Unlock()
			}
		}(worker)
	}
	wg.Wait()

	assert.Len(t, claimedBy, numTasks, "every task must eventually be claimed exactly once")
	for taskID, count := range claimedBy {
		assert.Equal(t, 1, count, "task %d claimed more than once", taskID)
	}
}

func TestClaimNextPendingIgnoresOtherAgents(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	in := &task.Task{Title: "t", Status: task.StatusPending, AgentID: "agent_1"}
	require.NoError(t, s.CreateTask(ctx, in))

	claimed, err := s.ClaimNextPending(ctx, "agent_2")
	require.NoError(t, err)
	assert.Nil(t, claimed, "agent_2 must not claim a task assigned to agent_1")
}

func TestMarkStaleRunningResetsPastGrace(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	in := &task.Task{Title: "t", Status: task.StatusPending, AgentID: "agent_1"}
	require.NoError(t, s.CreateTask(ctx, in))
	claimed, err := s.ClaimNextPending(ctx, "agent_1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	reset, err := s.MarkStaleRunning(ctx, 0)
	require.NoError(t, err)
	assert.Contains(t, reset, claimed.TaskID)

	out, err := s.GetTask(ctx, claimed.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, out.Status)
}

func TestRegisterArtifactRejectsDuplicatePath(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	a := &task.ArtifactMetadata{AgentID: "agent_1", Bucket: "screenshots", ObjectPath: "agent1/screenshots/a.png"}
	_, err := s.RegisterArtifact(ctx, a)
	require.NoError(t, err)

	dup := &task.ArtifactMetadata{AgentID: "agent_1", Bucket: "screenshots", ObjectPath: "agent1/screenshots/a.png"}
	_, err = s.RegisterArtifact(ctx, dup)
	assert.Error(t, err)
}

func TestListArtifactsFiltersByTaskID(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	taskA := int64(1)
	taskB := int64(2)
	_, err := s.RegisterArtifact(ctx, &task.ArtifactMetadata{AgentID: "agent_1", TaskID: &taskA, Bucket: "screenshots", ObjectPath: "agent1/screenshots/a.png"})
	require.NoError(t, err)
	_, err = s.RegisterArtifact(ctx, &task.ArtifactMetadata{AgentID: "agent_1", TaskID: &taskB, Bucket: "screenshots", ObjectPath: "agent1/screenshots/b.png"})
	require.NoError(t, err)

	out, err := s.ListArtifacts(ctx, task.ListFilter{TaskID: &taskA})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "agent1/screenshots/a.png", out[0].ObjectPath)
}
