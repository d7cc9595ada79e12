package collector

import (
	"context"
	"errors"
	"time"

	"github.com/meikuraledutech/checkpoint"
)

var (
	ErrTraceNotFound  = errors.New("collector: trace not found")
	ErrInvalidPayload = errors.New("collector: invalid checkpoint payload")
)

// Trace is one stored execution. RawExecution holds the latest
// compressed execution tree exactly as the writer sent it.
type Trace struct {
	ID             string    `json:"id"`
	Org            string    `json:"org"`
	ExecutionID    string    `json:"executionId"`
	WorkflowName   string    `json:"workflowName"`
	Version        int       `json:"version"`
	SchemaVersion  int       `json:"schemaVersion"`
	StartedAt      int64     `json:"startedAt"`
	CompletedAt    *int64    `json:"completedAt,omitempty"`
	Steps          int       `json:"steps"`
	Runtime        string    `json:"runtime,omitempty"`
	RuntimeVersion string    `json:"runtimeVersion,omitempty"`
	ExecutionRunID string    `json:"executionRunId,omitempty"`
	RawExecution   string    `json:"rawExecution,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewTrace builds a trace for org from a checkpoint payload.
func NewTrace(org string, p *checkpoint.Payload) *Trace {
	t := &Trace{Org: org}
	t.Apply(p)
	return t
}

// Apply overwrites the trace's execution fields with p.
func (t *Trace) Apply(p *checkpoint.Payload) {
	t.ExecutionID = p.ExecutionID
	t.WorkflowName = p.WorkflowName
	t.Version = p.Version
	t.SchemaVersion = p.SchemaVersion
	t.StartedAt = p.StartedAt
	t.CompletedAt = p.CompletedAt
	t.Steps = p.Steps
	t.Runtime = p.Runtime
	t.RuntimeVersion = p.RuntimeVersion
	t.ExecutionRunID = p.ExecutionRunID
	t.RawExecution = p.RawExecution
}

// ValidatePayload rejects payloads the collector cannot store.
func ValidatePayload(p *checkpoint.Payload) error {
	switch {
	case p.ExecutionID == "":
		return errors.Join(ErrInvalidPayload, errors.New("executionId is required"))
	case p.Version < 1:
		return errors.Join(ErrInvalidPayload, errors.New("version must be positive"))
	case p.RawExecution == "":
		return errors.Join(ErrInvalidPayload, errors.New("rawExecution is required"))
	}
	if _, err := checkpoint.DecodeExecution(p.RawExecution); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return nil
}

// Store defines the contract for persisting and retrieving traces.
type Store interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	// CreateTrace stores t, assigning an id and timestamps.
	CreateTrace(ctx context.Context, t *Trace) (*Trace, error)
	// GetTrace returns nil, nil if the trace doesn't exist.
	GetTrace(ctx context.Context, org, id string) (*Trace, error)
	// UpdateTrace replaces the stored trace when t.Version is newer and
	// reports whether it did. Returns ErrTraceNotFound if missing.
	UpdateTrace(ctx context.Context, t *Trace) (bool, error)
	DeleteTrace(ctx context.Context, org, id string) error
	// ListTraces returns org's traces, oldest first, without
	// RawExecution.
	ListTraces(ctx context.Context, org string) ([]Trace, error)
}
