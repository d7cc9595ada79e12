package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func enabledConfig() Config {
	return Config{
		APIKey:         "test-key",
		Org:            "acme",
		APIBaseURL:     "http://collector.test",
		ConsoleBaseURL: "http://console.test",
	}
}

// seqIDs yields the given ids in order, then id-N.
func seqIDs(ids ...string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n <= len(ids) {
			return ids[n-1]
		}
		return fmt.Sprintf("id-%d", n)
	}
}

// fakeTransport records writes. When gate is set, each write blocks
// until gate yields or is closed.
type fakeTransport struct {
	mu       sync.Mutex
	requests []*WriteRequest
	started  chan struct{}
	gate     chan struct{}
	respond  func(req *WriteRequest) (*WriteResponse, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{started: make(chan struct{}, 1024)}
}

func (t *fakeTransport) Write(ctx context.Context, req *WriteRequest) (*WriteResponse, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()
	t.started <- struct{}{}

	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.respond != nil {
		return t.respond(req)
	}
	p, err := DecodePayload(req.Body)
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf(`{"data":{"traceId":"trace-1","executionId":%q,"workflowName":%q}}`, p.ExecutionID, p.WorkflowName)
	return &WriteResponse{StatusCode: 201, Body: []byte(body)}, nil
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func (t *fakeTransport) request(i int) *WriteRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[i]
}

// waitStarted blocks until a write has begun.
func (t *fakeTransport) waitStarted(tb testing.TB) {
	tb.Helper()
	select {
	case <-t.started:
	case <-time.After(5 * time.Second):
		tb.Fatal("timed out waiting for write to start")
	}
}

func decodeRequest(tb testing.TB, req *WriteRequest) (*Payload, *Execution) {
	tb.Helper()
	p, err := DecodePayload(req.Body)
	require.NoError(tb, err)
	exec, err := DecodeExecution(p.RawExecution)
	require.NoError(tb, err)
	return p, exec
}

type testManager struct {
	*Manager
	clock     *FakeClock
	transport *fakeTransport
	logs      *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestManager(tb testing.TB, cfg Config, opts ...Option) *testManager {
	tb.Helper()
	tm := &testManager{
		clock:     NewFakeClock(testEpoch),
		transport: newFakeTransport(),
		logs:      &syncBuffer{},
	}
	base := []Option{
		WithClock(tm.clock),
		WithTransport(tm.transport),
		WithLogger(zerolog.New(tm.logs)),
		WithOutput(&syncBuffer{}),
	}
	m, err := New(cfg, append(base, opts...)...)
	require.NoError(tb, err)
	tb.Cleanup(func() {
		if tm.transport.gate != nil {
			select {
			case <-tm.transport.gate:
			default:
				close(tm.transport.gate)
			}
		}
		_ = m.Shutdown(context.Background())
	})
	tm.Manager = m
	return tm
}

func drain(tb testing.TB, m *Manager) {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(tb, m.Drain(ctx))
}
