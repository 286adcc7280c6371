package postgres

import (
	"context"
	"time"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/task"
)

// ClaimNextPending is one serializable transaction that row-locks and
// reassigns the earliest pending task for agentID. SKIP LOCKED keeps
// concurrent claimers from blocking on each other's candidate row, so a
// task is handed to exactly one caller.
func (s *Store) ClaimNextPending(ctx context.Context, agentID string) (*task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "beginning claim transaction")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT task_id, agent_id, title, description, status, metadata, created_at, updated_at
		 FROM tasks
		 WHERE agent_id = $1 AND status = $2
		 ORDER BY created_at ASC, task_id ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		agentID, string(task.StatusPending))

	t, err := scanTask(row)
	if err != nil {
		if _, ok := err.(*huberrors.NotFoundError); ok {
			return nil, nil
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET status=$1, agent_id=$2, updated_at=now() WHERE task_id=$3`,
		string(task.StatusAssigned), agentID, t.TaskID); err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "claiming task")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO task_transitions (task_id, from_status, to_status, reason) VALUES ($1,$2,$3,$4)`,
		t.TaskID, string(task.StatusPending), string(task.StatusAssigned), "claimed"); err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "recording claim transition")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "committing claim")
	}

	t.Status = task.StatusAssigned
	t.AgentID = agentID
	return t, nil
}

// MarkStaleRunning is the sweeper's recovery operation. Grace is measured
// since the task's most recent progress row, not since claim: tasks in
// {assigned, in_progress} whose latest progress timestamp (or created_at,
// if no progress exists yet) is older than grace are reset to pending with
// a recovery progress row.
func (s *Store) MarkStaleRunning(ctx context.Context, grace time.Duration) ([]int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "beginning sweep transaction")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT t.task_id, t.status
		 FROM tasks t
		 WHERE t.status IN ($1, $2)
		   AND COALESCE(
		         (SELECT max(tp."timestamp") FROM task_progress tp WHERE tp.task_id = t.task_id),
		         t.created_at
		       ) < now() - $3::interval
		 FOR UPDATE SKIP LOCKED`,
		string(task.StatusAssigned), string(task.StatusInProgress), intervalLiteral(grace))
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "scanning stale tasks")
	}

	var staleIDs []int64
	var staleStatuses []string
	for rows.Next() {
		var id int64
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return nil, huberrors.NewStorageUnavailable(err, "scanning stale task id")
		}
		staleIDs = append(staleIDs, id)
		staleStatuses = append(staleStatuses, status)
	}
	rows.Close()

	for i, id := range staleIDs {
		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET status=$1, updated_at=now() WHERE task_id=$2`,
			string(task.StatusPending), id); err != nil {
			return nil, huberrors.NewStorageUnavailable(err, "resetting stale task")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_progress (task_id, agent_id, progress_percent, message)
			 SELECT task_id, agent_id, NULL, $1 FROM tasks WHERE task_id = $2`,
			"recovered from stalled worker", id); err != nil {
			return nil, huberrors.NewStorageUnavailable(err, "recording recovery progress")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_transitions (task_id, from_status, to_status, reason) VALUES ($1,$2,$3,$4)`,
			id, staleStatuses[i], string(task.StatusPending), "sweeper: stalled worker recovery"); err != nil {
			return nil, huberrors.NewStorageUnavailable(err, "recording sweeper transition")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "committing sweep")
	}
	return staleIDs, nil
}

func intervalLiteral(d time.Duration) string {
	seconds := int64(d.Seconds())
	return pgIntervalSeconds(seconds)
}

func pgIntervalSeconds(seconds int64) string {
	return itoa64(seconds) + " seconds"
}
