// Package supervisor owns the lifetime of per-agent worker.Loop instances
// inside the hub process: Start, Stop, and Status per agent, with no
// global mutable registry of running workers.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskhub/internal/logging"
	"taskhub/internal/worker"
)

// Status is one agent's reported lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

type entry struct {
	loop   *worker.Loop
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

// Supervisor owns Start/Stop/Status for every normalized agent id it
// knows about. Only one Supervisor, and only one worker loop per
// agent_id, may exist per hub process.
type Supervisor struct {
	mu      sync.Mutex
	agents  map[string]*entry
	newLoop func(agentID string) *worker.Loop
	log     *logging.Logger
}

// New builds a Supervisor. newLoop constructs a fresh worker.Loop for a
// given agent id; the supervisor never constructs Loops itself so callers
// keep full control over each agent's Config and executor.Adapter.
func New(newLoop func(agentID string) *worker.Loop) *Supervisor {
	return &Supervisor{
		agents:  make(map[string]*entry),
		newLoop: newLoop,
		log:     logging.NewComponentLogger("supervisor"),
	}
}

// Start launches agentID's worker loop as a goroutine if it is not already
// running. Starting an already-running agent is a no-op, not an error.
func (s *Supervisor) Start(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.agents[agentID]; ok && e.status == StatusRunning {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e := &entry{
		loop:   s.newLoop(agentID),
		cancel: cancel,
		done:   make(chan struct{}),
		status: StatusRunning,
	}
	s.agents[agentID] = e

	go func() {
		defer close(e.done)
		e.loop.Run(loopCtx)
	}()

	s.log.Info("started worker loop for %s", agentID)
	return nil
}

// Stop requests agentID's worker loop to shut down, waiting up to grace for
// the current task to finalize before returning. The loop itself enforces
// the grace period; Stop just observes it.
func (s *Supervisor) Stop(agentID string, grace time.Duration) error {
	s.mu.Lock()
	e, ok := s.agents[agentID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: unknown agent %q", agentID)
	}
	if e.status != StatusRunning {
		s.mu.Unlock()
		return nil
	}
	e.status = StatusStopping
	s.mu.Unlock()

	e.loop.RequestShutdown()
	e.cancel()

	select {
	case <-e.done:
	case <-time.After(grace):
		s.log.Warn("agent %s did not stop within grace period", agentID)
	}

	s.mu.Lock()
	e.status = StatusStopped
	s.mu.Unlock()
	return nil
}

// Status reports agentID's current lifecycle state.
func (s *Supervisor) Status(agentID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.agents[agentID]
	if !ok {
		return StatusStopped, false
	}
	return e.status, true
}

// StopAll stops every running agent, used on hub process shutdown.
func (s *Supervisor) StopAll(grace time.Duration) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			_ = s.Stop(agentID, grace)
		}(id)
	}
	wg.Wait()
}
