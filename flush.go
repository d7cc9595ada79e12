package checkpoint

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// flushJob is a snapshot taken under the lock, ready to be encoded and
// sent without it.
type flushJob struct {
	method    string
	url       string
	payload   Payload
	root      *ExecutionNode
	updatedAt time.Time
}

// Write requests a flush of the current tree.
func (m *Manager) Write() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestFlushLocked()
}

// Version returns the version the next write will carry.
func (m *Manager) Version() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// TraceID returns the collector-assigned trace id, or "" before the
// first successful write.
func (m *Manager) TraceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.traceID
}

// requestFlushLocked starts a write, or records that one is needed.
// At most one write is in flight; requests made meanwhile coalesce into
// a single follow-up carrying the latest state.
func (m *Manager) requestFlushLocked() {
	if !m.cfg.Enabled() || m.closed {
		return
	}
	if !m.tree.valid() {
		m.deferred = true
		return
	}
	if m.inFlight != nil {
		m.pending = true
		return
	}
	m.startFlushLocked()
}

func (m *Manager) startFlushLocked() {
	m.deferred = false
	job := m.prepareLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.inFlight = done
	m.cancelFlush = cancel

	go m.runFlush(ctx, cancel, done, job)
}

func (m *Manager) prepareLocked() *flushJob {
	root := m.maskLocked(m.tree.root, nil)
	now := m.clock.Now()

	workflowName := m.workflowName
	if workflowName == "" {
		workflowName = m.tree.root.componentName
	}

	job := &flushJob{
		method:    "POST",
		url:       fmt.Sprintf("%s/org/%s/traces", strings.TrimRight(m.cfg.APIBaseURL, "/"), url.PathEscape(m.cfg.Org)),
		root:      root,
		updatedAt: now,
		payload: Payload{
			ExecutionID:    root.ID,
			Version:        m.version,
			SchemaVersion:  SchemaVersion,
			WorkflowName:   workflowName,
			StartedAt:      root.StartTime,
			CompletedAt:    root.EndTime,
			Steps:          countNodes(m.tree.root),
			Runtime:        m.cfg.Runtime,
			RuntimeVersion: m.cfg.RuntimeVersion,
			ExecutionRunID: m.cfg.ExecutionRunID,
		},
	}
	if m.traceID != "" {
		job.method = "PUT"
		job.url += "/" + url.PathEscape(m.traceID)
	}
	m.version++
	return job
}

func (m *Manager) runFlush(ctx context.Context, cancel context.CancelFunc, done chan struct{}, job *flushJob) {
	defer func() {
		m.mu.Lock()
		m.inFlight = nil
		m.cancelFlush = nil
		close(done)
		if m.pending {
			m.pending = false
			m.requestFlushLocked()
		}
		m.mu.Unlock()
		cancel()
	}()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("checkpoint write panicked")
		}
	}()

	if err := m.send(ctx, job); err != nil {
		m.log.Error().Err(err).
			Str("execution", job.payload.ExecutionID).
			Int("version", job.payload.Version).
			Msg("failed to save checkpoint")
	}
}

func (m *Manager) send(ctx context.Context, job *flushJob) error {
	raw, err := EncodeExecution(job.root, job.updatedAt)
	if err != nil {
		return err
	}
	job.payload.RawExecution = raw
	body, err := EncodePayload(&job.payload)
	if err != nil {
		return err
	}

	m.log.Debug().
		Str("method", job.method).
		Str("url", job.url).
		Int("version", job.payload.Version).
		Int("steps", job.payload.Steps).
		Msg("writing checkpoint")

	resp, err := m.transport.Write(ctx, &WriteRequest{
		Method: job.method,
		URL:    job.url,
		Header: writeHeaders(m.cfg.APIKey),
		Body:   body,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("checkpoint: collector returned %d: %s", resp.StatusCode, truncate(string(resp.Body), 512))
	}
	m.handleResponse(resp.Body)
	return nil
}

// handleResponse records the trace id and prints the execution URL once.
// Unparseable bodies are logged; the write still counts as a success.
func (m *Manager) handleResponse(body []byte) {
	var obj map[string]any
	if err := sonic.Unmarshal(body, &obj); err != nil {
		m.log.Warn().Err(err).Msg("could not parse collector response")
		return
	}
	data, ok := obj["data"].(map[string]any)
	if !ok {
		data = obj
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id := firstString(data, "traceId", "trace_id", "id"); id != "" {
		m.traceID = id
	}

	if !m.printURL || m.printedURL {
		return
	}
	executionID := firstString(data, "executionId")
	workflowName := firstString(data, "workflowName")
	if executionID == "" || workflowName == "" {
		return
	}
	m.printedURL = true
	link := fmt.Sprintf("%s/%s/default/executions/%s?workflowName=%s",
		strings.TrimRight(m.cfg.ConsoleBaseURL, "/"),
		url.PathEscape(m.cfg.Org),
		url.PathEscape(executionID),
		url.QueryEscape(workflowName),
	)
	fmt.Fprintf(m.out, "\n[checkpoint] View execution at: %s\n\n", link)
}

// Drain waits until no write is in flight and none is owed. A write
// deferred while the tree was incomplete is started if the tree is now
// valid. If ctx ends first the in-flight write is cancelled and ctx's
// error returned.
func (m *Manager) Drain(ctx context.Context) error {
	for {
		m.mu.Lock()
		done := m.inFlight
		if done == nil && (m.pending || m.deferred) {
			m.pending = false
			if m.cfg.Enabled() && !m.closed && m.tree.valid() {
				m.startFlushLocked()
				done = m.inFlight
			}
		}
		m.mu.Unlock()

		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			m.mu.Lock()
			if m.inFlight == done && m.cancelFlush != nil {
				m.cancelFlush()
			}
			m.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Shutdown drains outstanding writes within ctx, then stops all
// background work. No network activity happens afterwards. Calling it
// again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.shutdownOnce.Do(func() {
		err = m.Drain(ctx)

		m.mu.Lock()
		defer m.mu.Unlock()
		m.closed = true
		m.pending = false
		m.deferred = false
		if m.cancelFlush != nil {
			m.cancelFlush()
		}
		for id, timer := range m.timers {
			timer.Stop()
			delete(m.timers, id)
		}
		if err != nil {
			m.log.Warn().Err(err).Msg("shutdown before all checkpoints were written")
		}
	})
	return err
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
