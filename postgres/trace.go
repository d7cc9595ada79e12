package postgres

import (
	"context"
	"fmt"

	"github.com/rs/xid"

	"github.com/meikuraledutech/checkpoint/collector"
)

const traceColumns = `id, org, execution_id, workflow_name, version, schema_version,
	started_at, completed_at, steps, runtime, runtime_version, execution_run_id,
	raw_execution, created_at, updated_at`

// CreateTrace inserts a trace. If t.ID is empty, an id is generated.
func (s *PGStore) CreateTrace(ctx context.Context, t *collector.Trace) (*collector.Trace, error) {
	if t.ID == "" {
		t.ID = xid.New().String()
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO checkpoint_traces (id, org, execution_id, workflow_name, version, schema_version,
			started_at, completed_at, steps, runtime, runtime_version, execution_run_id, raw_execution)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at, updated_at`,
		t.ID, t.Org, t.ExecutionID, t.WorkflowName, t.Version, t.SchemaVersion,
		t.StartedAt, t.CompletedAt, t.Steps, t.Runtime, t.RuntimeVersion, t.ExecutionRunID, t.RawExecution,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("collector: insert trace: %w", err)
	}

	return t, nil
}

// GetTrace fetches a single trace.
// Returns nil, nil if not found.
func (s *PGStore) GetTrace(ctx context.Context, org, id string) (*collector.Trace, error) {
	var t collector.Trace
	err := s.db.QueryRow(ctx,
		`SELECT `+traceColumns+` FROM checkpoint_traces WHERE org = $1 AND id = $2`, org, id,
	).Scan(&t.ID, &t.Org, &t.ExecutionID, &t.WorkflowName, &t.Version, &t.SchemaVersion,
		&t.StartedAt, &t.CompletedAt, &t.Steps, &t.Runtime, &t.RuntimeVersion, &t.ExecutionRunID,
		&t.RawExecution, &t.CreatedAt, &t.UpdatedAt)

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("collector: get trace: %w", err)
	}

	return &t, nil
}

// UpdateTrace replaces a trace when t.Version is newer than the stored
// one. Returns ErrTraceNotFound if the trace doesn't exist.
func (s *PGStore) UpdateTrace(ctx context.Context, t *collector.Trace) (bool, error) {
	ct, err := s.db.Exec(ctx,
		`UPDATE checkpoint_traces SET
			execution_id = $3, workflow_name = $4, version = $5, schema_version = $6,
			started_at = $7, completed_at = $8, steps = $9, runtime = $10,
			runtime_version = $11, execution_run_id = $12, raw_execution = $13, updated_at = NOW()
		 WHERE org = $1 AND id = $2 AND version < $5`,
		t.Org, t.ID, t.ExecutionID, t.WorkflowName, t.Version, t.SchemaVersion,
		t.StartedAt, t.CompletedAt, t.Steps, t.Runtime, t.RuntimeVersion, t.ExecutionRunID, t.RawExecution,
	)
	if err != nil {
		return false, fmt.Errorf("collector: update trace: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return true, nil
	}

	// Nothing updated: either missing or stale.
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM checkpoint_traces WHERE org = $1 AND id = $2)`, t.Org, t.ID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("collector: find trace: %w", err)
	}
	if !exists {
		return false, collector.ErrTraceNotFound
	}
	return false, nil
}

// DeleteTrace removes a trace.
// No error if it doesn't exist.
func (s *PGStore) DeleteTrace(ctx context.Context, org, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM checkpoint_traces WHERE org = $1 AND id = $2`, org, id)
	if err != nil {
		return fmt.Errorf("collector: delete trace: %w", err)
	}
	return nil
}

// ListTraces returns all traces of an org ordered by creation time.
func (s *PGStore) ListTraces(ctx context.Context, org string) ([]collector.Trace, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, org, execution_id, workflow_name, version, schema_version,
			started_at, completed_at, steps, runtime, runtime_version, execution_run_id,
			created_at, updated_at
		 FROM checkpoint_traces WHERE org = $1 ORDER BY created_at, id`, org)
	if err != nil {
		return nil, fmt.Errorf("collector: query traces: %w", err)
	}
	defer rows.Close()

	var traces []collector.Trace
	for rows.Next() {
		var t collector.Trace
		if err := rows.Scan(&t.ID, &t.Org, &t.ExecutionID, &t.WorkflowName, &t.Version, &t.SchemaVersion,
			&t.StartedAt, &t.CompletedAt, &t.Steps, &t.Runtime, &t.RuntimeVersion, &t.ExecutionRunID,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("collector: scan trace: %w", err)
		}
		traces = append(traces, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collector: rows traces: %w", err)
	}

	return traces, nil
}
