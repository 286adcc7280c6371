package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/task"
)

// Store implements task.Store against a Postgres pool via pgx.
type Store struct {
	pool PGXPool
}

func NewStore(pool PGXPool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.ensureSchemaSQL()); err != nil {
		return huberrors.NewStorageUnavailable(err, "ensuring schema")
	}
	return nil
}

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return huberrors.NewValidationError("metadata", "not JSON-serializable")
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (agent_id, title, description, status, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING task_id, created_at, updated_at`,
		t.AgentID, t.Title, t.Description, string(t.Status), metaJSON)

	if err := row.Scan(&t.TaskID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return huberrors.NewStorageUnavailable(err, "creating task")
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, agent_id, title, description, status, metadata, created_at, updated_at
		 FROM tasks WHERE task_id = $1`, taskID)
	return scanTask(row)
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var t task.Task
	var status string
	var metaJSON []byte
	if err := row.Scan(&t.TaskID, &t.AgentID, &t.Title, &t.Description, &status, &metaJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, huberrors.NewNotFoundError("task", "")
		}
		return nil, huberrors.NewStorageUnavailable(err, "reading task")
	}
	t.Status = task.Status(status)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
			return nil, huberrors.NewStorageUnavailable(err, "decoding task metadata")
		}
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, filter task.ListFilter) ([]*task.Task, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	sql := `SELECT task_id, agent_id, title, description, status, metadata, created_at, updated_at FROM tasks WHERE 1=1`
	var args []any
	idx := 1
	if filter.AgentID != "" {
		sql += andClause("agent_id", &idx)
		args = append(args, filter.AgentID)
	}
	if filter.Status != "" {
		sql += andClause("status", &idx)
		args = append(args, string(filter.Status))
	}
	sql += ` ORDER BY created_at DESC LIMIT $` + itoa(idx) + ` OFFSET $` + itoa(idx+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, huberrors.NewStorageUnavailable(err, "listing tasks")
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}

	total, err := s.countTasks(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s *Store) countTasks(ctx context.Context, filter task.ListFilter) (int, error) {
	sql := `SELECT count(*) FROM tasks WHERE 1=1`
	var args []any
	idx := 1
	if filter.AgentID != "" {
		sql += andClause("agent_id", &idx)
		args = append(args, filter.AgentID)
	}
	if filter.Status != "" {
		sql += andClause("status", &idx)
		args = append(args, string(filter.Status))
	}
	var total int
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, huberrors.NewStorageUnavailable(err, "counting tasks")
	}
	return total, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID int64, newStatus task.Status, opts ...task.TransitionOption) error {
	params := task.ApplyTransitionOptions(opts)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return huberrors.NewStorageUnavailable(err, "beginning transaction")
	}
	defer tx.Rollback(ctx)

	var currentStatus string
	var metaJSON []byte
	err = tx.QueryRow(ctx, `SELECT status, metadata FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID).
		Scan(&currentStatus, &metaJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return huberrors.NewNotFoundError("task", itoa64(taskID))
		}
		return huberrors.NewStorageUnavailable(err, "reading task for update")
	}

	from := task.Status(currentStatus)
	if !task.CanTransition(from, newStatus) {
		return huberrors.NewConflictError("illegal transition " + string(from) + " -> " + string(newStatus))
	}
	if from.IsTerminal() {
		// Once terminal, only metadata.response* and updated_at may still
		// change; CanTransition already restricted newStatus to == from here.
		params.MetadataPatch = task.ResponseOnlyFields(params.MetadataPatch)
		params.AgentIDOverride = nil
	}

	var meta task.Metadata
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &meta)
	}
	meta.Merge(params.MetadataPatch)
	newMetaJSON, err := json.Marshal(meta)
	if err != nil {
		return huberrors.NewValidationError("metadata", "not JSON-serializable")
	}

	agentID := (*string)(nil)
	if params.AgentIDOverride != nil {
		agentID = params.AgentIDOverride
	}

	if agentID != nil {
		_, err = tx.Exec(ctx, `UPDATE tasks SET status=$1, metadata=$2, agent_id=$3, updated_at=now() WHERE task_id=$4`,
			string(newStatus), newMetaJSON, *agentID, taskID)
	} else {
		_, err = tx.Exec(ctx, `UPDATE tasks SET status=$1, metadata=$2, updated_at=now() WHERE task_id=$3`,
			string(newStatus), newMetaJSON, taskID)
	}
	if err != nil {
		return huberrors.NewStorageUnavailable(err, "updating task status")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO task_transitions (task_id, from_status, to_status, reason, metadata_json) VALUES ($1,$2,$3,$4,$5)`,
		taskID, string(from), string(newStatus), params.Reason, newMetaJSON); err != nil {
		return huberrors.NewStorageUnavailable(err, "recording transition")
	}

	if err := tx.Commit(ctx); err != nil {
		return huberrors.NewStorageUnavailable(err, "committing transition")
	}
	return nil
}

func (s *Store) Transitions(ctx context.Context, taskID int64) ([]task.Transition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, from_status, to_status, reason, metadata_json, created_at
		 FROM task_transitions WHERE task_id = $1 ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "listing transitions")
	}
	defer rows.Close()

	var out []task.Transition
	for rows.Next() {
		var t task.Transition
		var from, to string
		if err := rows.Scan(&t.ID, &t.TaskID, &from, &to, &t.Reason, &t.MetadataJSON, &t.CreatedAt); err != nil {
			return nil, huberrors.NewStorageUnavailable(err, "scanning transition")
		}
		t.FromStatus, t.ToStatus = task.Status(from), task.Status(to)
		out = append(out, t)
	}
	return out, nil
}

func andClause(column string, idx *int) string {
	clause := ` AND ` + column + ` = $` + itoa(*idx)
	*idx++
	return clause
}
