package collector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
)

// MemoryStore keeps traces in process memory. It is used by tests and
// by the server's memory mode.
type MemoryStore struct {
	mu     sync.RWMutex
	traces map[string]Trace
	now    func() time.Time
}

// NewMemoryStore returns an empty in-process Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{traces: make(map[string]Trace), now: time.Now}
}

// CreateSchema is a no-op for the in-memory store.
func (s *MemoryStore) CreateSchema(ctx context.Context) error { return nil }

// DropSchema removes every trace.
func (s *MemoryStore) DropSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = make(map[string]Trace)
	return nil
}

// CreateTrace stores t, assigning an xid when t has no ID.
func (s *MemoryStore) CreateTrace(ctx context.Context, t *Trace) (*Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = xid.New().String()
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.traces[traceKey(t.Org, t.ID)] = *t
	return t, nil
}

// GetTrace returns nil, nil if not found.
func (s *MemoryStore) GetTrace(ctx context.Context, org, id string) (*Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.traces[traceKey(org, id)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// UpdateTrace applies t only when its version is newer than the stored one.
// Returns ErrTraceNotFound if the trace doesn't exist.
func (s *MemoryStore) UpdateTrace(ctx context.Context, t *Trace) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := traceKey(t.Org, t.ID)
	existing, ok := s.traces[key]
	if !ok {
		return false, ErrTraceNotFound
	}
	if t.Version <= existing.Version {
		return false, nil
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = s.now()
	s.traces[key] = *t
	return true, nil
}

// DeleteTrace removes a trace. No error if it doesn't exist.
func (s *MemoryStore) DeleteTrace(ctx context.Context, org, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.traces, traceKey(org, id))
	return nil
}

// ListTraces returns the org's traces without their execution trees.
func (s *MemoryStore) ListTraces(ctx context.Context, org string) ([]Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var traces []Trace
	for _, t := range s.traces {
		if t.Org != org {
			continue
		}
		t.RawExecution = ""
		traces = append(traces, t)
	}
	sort.Slice(traces, func(i, j int) bool {
		if !traces[i].CreatedAt.Equal(traces[j].CreatedAt) {
			return traces[i].CreatedAt.Before(traces[j].CreatedAt)
		}
		return traces[i].ID < traces[j].ID
	})
	return traces, nil
}

func traceKey(org, id string) string { return org + "/" + id }
