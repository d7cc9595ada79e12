package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS checkpoint_traces (
    id               TEXT NOT NULL,
    org              TEXT NOT NULL,
    execution_id     TEXT NOT NULL,
    workflow_name    TEXT NOT NULL DEFAULT '',
    version          INTEGER NOT NULL,
    schema_version   INTEGER NOT NULL,
    started_at       BIGINT NOT NULL,
    completed_at     BIGINT,
    steps            INTEGER NOT NULL DEFAULT 0,
    runtime          TEXT NOT NULL DEFAULT '',
    runtime_version  TEXT NOT NULL DEFAULT '',
    execution_run_id TEXT NOT NULL DEFAULT '',
    raw_execution    TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (org, id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoint_traces_execution ON checkpoint_traces(org, execution_id);
CREATE INDEX IF NOT EXISTS idx_checkpoint_traces_created   ON checkpoint_traces(org, created_at);
`

// CreateSchema creates the checkpoint_traces table if it doesn't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the checkpoint_traces table.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS checkpoint_traces CASCADE;`)
	return err
}
