package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	huberrors "taskhub/internal/errors"
	"taskhub/internal/task"
)

func (s *Store) RegisterArtifact(ctx context.Context, a *task.ArtifactMetadata) (int64, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO artifact_metadata (agent_id, task_id, bucket, object_path, content_type, size_bytes, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING artifact_id, uploaded_at`,
		a.AgentID, a.TaskID, a.Bucket, a.ObjectPath, a.ContentType, a.SizeBytes, nullableJSON(a.Metadata))
	if err := row.Scan(&a.ArtifactID, &a.UploadedAt); err != nil {
		if isUniqueViolation(err) {
			return 0, huberrors.NewConflictError("object_path already registered: " + a.ObjectPath)
		}
		return 0, huberrors.NewStorageUnavailable(err, "registering artifact")
	}
	return a.ArtifactID, nil
}

func (s *Store) ListArtifacts(ctx context.Context, filter task.ListFilter) ([]*task.ArtifactMetadata, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	sql := `SELECT artifact_id, agent_id, task_id, bucket, object_path, content_type, size_bytes, metadata, uploaded_at
		FROM artifact_metadata WHERE 1=1`
	var args []any
	idx := 1
	if filter.AgentID != "" {
		sql += andClause("agent_id", &idx)
		args = append(args, filter.AgentID)
	}
	if filter.TaskID != nil {
		sql += andClause("task_id", &idx)
		args = append(args, *filter.TaskID)
	}
	sql += ` ORDER BY uploaded_at DESC LIMIT $` + itoa(idx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, huberrors.NewStorageUnavailable(err, "listing artifacts")
	}
	defer rows.Close()

	var out []*task.ArtifactMetadata
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) GetArtifact(ctx context.Context, artifactID int64) (*task.ArtifactMetadata, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT artifact_id, agent_id, task_id, bucket, object_path, content_type, size_bytes, metadata, uploaded_at
		 FROM artifact_metadata WHERE artifact_id = $1`, artifactID)
	return scanArtifact(row)
}

func scanArtifact(row pgx.Row) (*task.ArtifactMetadata, error) {
	var a task.ArtifactMetadata
	if err := row.Scan(&a.ArtifactID, &a.AgentID, &a.TaskID, &a.Bucket, &a.ObjectPath, &a.ContentType, &a.SizeBytes, &a.Metadata, &a.UploadedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, huberrors.NewNotFoundError("artifact", "")
		}
		return nil, huberrors.NewStorageUnavailable(err, "reading artifact")
	}
	return &a, nil
}

func isUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	if se, ok := err.(sqlStater); ok {
		return se.SQLState() == "23505"
	}
	return false
}
