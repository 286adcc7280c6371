package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id     BIGSERIAL PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL,
	status      TEXT NOT NULL,
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_agent_status ON tasks (agent_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at);

CREATE TABLE IF NOT EXISTS task_progress (
	progress_id      BIGSERIAL PRIMARY KEY,
	task_id          BIGINT NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
	agent_id         TEXT NOT NULL,
	progress_percent DOUBLE PRECISION,
	message          TEXT NOT NULL,
	data             JSONB,
	"timestamp"      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_task_progress_task ON task_progress (task_id, progress_id);

CREATE TABLE IF NOT EXISTS artifact_metadata (
	artifact_id  BIGSERIAL PRIMARY KEY,
	agent_id     TEXT NOT NULL,
	task_id      BIGINT REFERENCES tasks(task_id) ON DELETE CASCADE,
	bucket       TEXT NOT NULL,
	object_path  TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes   BIGINT NOT NULL,
	metadata     JSONB NOT NULL DEFAULT '{}',
	uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_artifact_object_path ON artifact_metadata (object_path);
CREATE INDEX IF NOT EXISTS idx_artifact_agent_task ON artifact_metadata (agent_id, task_id);

CREATE TABLE IF NOT EXISTS task_transitions (
	id            BIGSERIAL PRIMARY KEY,
	task_id       BIGINT NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
	from_status   TEXT NOT NULL,
	to_status     TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	metadata_json JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_task_transitions_task ON task_transitions (task_id);
`

// ensureSchemaSQL returns the DDL EnsureSchema runs: every table and index
// this store needs, created idempotently.
func (s *Store) ensureSchemaSQL() string { return schemaSQL }
