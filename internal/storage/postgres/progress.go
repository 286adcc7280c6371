package postgres

import (
	"context"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/task"
)

func (s *Store) AppendProgress(ctx context.Context, p *task.ProgressEntry) (int64, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO task_progress (task_id, agent_id, progress_percent, message, data)
		 VALUES ($1,$2,$3,$4,$5) RETURNING progress_id, "timestamp"`,
		p.TaskID, p.AgentID, p.ProgressPercent, p.Message, nullableJSON(p.Data))
	if err := row.Scan(&p.ProgressID, &p.Timestamp); err != nil {
		return 0, huberrors.NewStorageUnavailable(err, "appending progress")
	}
	return p.ProgressID, nil
}

func (s *Store) ListProgress(ctx context.Context, taskID int64, sinceProgressID int64, limit int) ([]*task.ProgressEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT progress_id, task_id, agent_id, progress_percent, message, data, "timestamp"
		 FROM task_progress WHERE task_id = $1 AND progress_id > $2
		 ORDER BY progress_id ASC LIMIT $3`, taskID, sinceProgressID, limit)
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "listing progress")
	}
	defer rows.Close()

	var out []*task.ProgressEntry
	for rows.Next() {
		var p task.ProgressEntry
		if err := rows.Scan(&p.ProgressID, &p.TaskID, &p.AgentID, &p.ProgressPercent, &p.Message, &p.Data, &p.Timestamp); err != nil {
			return nil, huberrors.NewStorageUnavailable(err, "scanning progress")
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *Store) MaxProgressPercent(ctx context.Context, taskID int64) (*float64, error) {
	var pct *float64
	err := s.pool.QueryRow(ctx,
		`SELECT max(progress_percent) FROM task_progress WHERE task_id = $1`, taskID).Scan(&pct)
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "computing max progress")
	}
	return pct, nil
}

func (s *Store) LatestProgressPerAgent(ctx context.Context, limitPerAgent int) (map[string][]*task.ProgressEntry, error) {
	if limitPerAgent <= 0 {
		limitPerAgent = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT progress_id, task_id, agent_id, progress_percent, message, data, "timestamp"
		 FROM task_progress ORDER BY agent_id ASC, progress_id DESC`)
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "listing live progress")
	}
	defer rows.Close()

	out := make(map[string][]*task.ProgressEntry)
	for rows.Next() {
		var p task.ProgressEntry
		if err := rows.Scan(&p.ProgressID, &p.TaskID, &p.AgentID, &p.ProgressPercent, &p.Message, &p.Data, &p.Timestamp); err != nil {
			return nil, huberrors.NewStorageUnavailable(err, "scanning live progress")
		}
		if len(out[p.AgentID]) >= limitPerAgent {
			continue
		}
		out[p.AgentID] = append(out[p.AgentID], &p)
	}
	return out, nil
}

func (s *Store) RecentAgentResponses(ctx context.Context, limit int) ([]*task.ProgressEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT progress_id, task_id, agent_id, progress_percent, message, data, "timestamp"
		 FROM task_progress ORDER BY progress_id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "listing agent responses")
	}
	defer rows.Close()

	var out []*task.ProgressEntry
	for rows.Next() {
		var p task.ProgressEntry
		if err := rows.Scan(&p.ProgressID, &p.TaskID, &p.AgentID, &p.ProgressPercent, &p.Message, &p.Data, &p.Timestamp); err != nil {
			return nil, huberrors.NewStorageUnavailable(err, "scanning agent responses")
		}
		out = append(out, &p)
	}
	return out, nil
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
