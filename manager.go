package checkpoint

import (
	"context"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultOrphanTimeout is how long a node may wait for its parent before
// a diagnostic is logged.
const DefaultOrphanTimeout = 5 * time.Second

// Manager tracks the execution tree of one top-level execution and
// persists redacted snapshots of it to the collector.
//
// All methods are safe for concurrent use. Tree mutations and scrubbing
// run under a single lock; only the network write runs outside it.
type Manager struct {
	cfg           Config
	log           zerolog.Logger
	clock         Clock
	transport     Transport
	newID         func() string
	orphanTimeout time.Duration
	out           io.Writer

	mu      sync.Mutex
	tree    *tree
	secrets *secretRegistry
	timers  map[string]Timer

	inFlight     chan struct{}
	cancelFlush  context.CancelFunc
	pending      bool
	deferred     bool
	version      int
	traceID      string
	workflowName string
	printURL     bool
	printedURL   bool
	closed       bool
	shutdownOnce sync.Once
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger replaces the logger built from Config.LogLevel and
// Config.LogFormat.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.log = logger }
}

// WithClock sets the time source used for timestamps and timers.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTransport sets how checkpoint writes reach the collector.
func WithTransport(t Transport) Option {
	return func(m *Manager) { m.transport = t }
}

// WithIDGenerator replaces uuid.NewString for node identifiers.
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

// WithOrphanTimeout sets the stuck-orphan diagnostic delay. Zero
// disables the diagnostic.
func WithOrphanTimeout(d time.Duration) Option {
	return func(m *Manager) { m.orphanTimeout = d }
}

// WithOutput sets where the execution URL is printed (default stdout).
func WithOutput(w io.Writer) Option {
	return func(m *Manager) { m.out = w }
}

// New returns a Manager for cfg. Configuration misuse is reported here;
// nothing after construction returns persistence errors.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.APIBaseURL = first(cfg.APIBaseURL, DefaultAPIBaseURL)
	cfg.ConsoleBaseURL = first(cfg.ConsoleBaseURL, DefaultConsoleBaseURL)
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:           cfg,
		log:           logger,
		clock:         RealClock(),
		newID:         uuid.NewString,
		orphanTimeout: DefaultOrphanTimeout,
		out:           os.Stdout,
		tree:          newTree(),
		secrets:       newSecretRegistry(),
		timers:        make(map[string]Timer),
		version:       1,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.transport == nil {
		m.transport = NewHTTPTransport(nil)
	}
	m.log = m.log.With().Str("component", "checkpoint").Logger()

	switch {
	case cfg.Enabled():
		m.log.Info().Str("org", cfg.Org).Str("api", cfg.APIBaseURL).Msg("checkpoints enabled")
	case cfg.APIKey == "":
		m.log.Debug().Msg("checkpoints disabled: no API key configured")
	default:
		m.log.Debug().Msg("checkpoints disabled via configuration")
	}
	return m, nil
}

// NewFromEnv resolves explicit against the environment and config file,
// then calls New.
func NewFromEnv(explicit Config, opts ...Option) (*Manager, error) {
	cfg, err := ResolveConfig(explicit)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// Config returns the configuration the manager was built with, defaults
// applied.
func (m *Manager) Config() Config { return m.cfg }

// AddNode creates a node under parentID (empty for a root candidate)
// and returns its id. The parent need not exist yet.
func (m *Manager) AddNode(spec NodeSpec, parentID string) string {
	name := spec.ComponentName
	if spec.Options.Name != "" {
		name = spec.Options.Name
	}
	if name == "" {
		name = "Unknown"
	}
	props := FromAny(spec.Props)
	if props.IsNull() {
		props = Map(nil)
	}
	opts := spec.Options
	opts.SecretProps = append([]string(nil), spec.Options.SecretProps...)
	metadata := FromAny(spec.Options.Metadata)
	opts.Metadata = nil

	m.mu.Lock()
	defer m.mu.Unlock()

	n := &node{
		id:            m.newID(),
		componentName: name,
		startTime:     m.clock.Now(),
		props:         props,
		metadata:      make(map[string]Value),
		parentID:      parentID,
		opts:          opts,
	}
	for k, item := range metadata.mapping() {
		n.metadata[k] = item
	}
	if len(opts.SecretProps) > 0 {
		m.secrets.register(n.id, props, opts.SecretProps)
	}

	orphaned, _ := m.tree.insert(n)
	if orphaned {
		m.watchOrphanLocked(n)
	}
	for _, child := range n.children {
		m.unwatchLocked(child.id)
	}

	if parentID == "" && m.tree.root == n {
		m.requestFlushLocked()
	}
	return n.id
}

// CompleteNode records the end time and output of id. Unknown ids are
// logged and ignored.
func (m *Manager) CompleteNode(id string, output any) {
	out := FromAny(output)

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.tree.nodes[id]
	if !ok {
		m.log.Warn().Str("node", id).Msg("attempted to complete unknown node")
		return
	}
	n.endTime = m.clock.Now()
	n.output = out
	if n.secretOutputs() && !isPlaceholder(out) {
		m.secrets.harvest(id, out)
	}
	m.requestFlushLocked()
}

// AddMetadata merges metadata into the node's metadata.
func (m *Manager) AddMetadata(id string, metadata map[string]any) {
	entries := FromAny(metadata)

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.tree.nodes[id]
	if !ok {
		m.log.Warn().Str("node", id).Msg("attempted to add metadata to unknown node")
		return
	}
	for k, item := range entries.mapping() {
		n.metadata[k] = item
	}
	m.requestFlushLocked()
}

// UpdateNode applies named field updates to id. metadata is merged;
// other fields are overwritten. parentId moves the node, possibly into
// an orphan bucket.
func (m *Manager) UpdateNode(id string, fields Fields) {
	keys := make([]string, 0, len(fields))
	converted := make(map[string]Value, len(fields))
	for k, raw := range fields {
		keys = append(keys, k)
		switch k {
		case "props", "output", "metadata":
			converted[k] = FromAny(raw)
		}
	}
	sort.Strings(keys)

	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.tree.nodes[id]
	if !ok {
		m.log.Warn().Str("node", id).Msg("attempted to update unknown node")
		return
	}
	if out, ok := converted["output"]; ok && n.secretOutputs() && !isPlaceholder(out) {
		m.secrets.harvest(id, out)
	}

	for _, key := range keys {
		raw := fields[key]
		switch key {
		case "componentName":
			if name, ok := raw.(string); ok {
				n.componentName = name
			}
		case "props":
			n.props = converted[key]
		case "output":
			n.output = converted[key]
		case "metadata":
			for k, item := range converted[key].mapping() {
				n.metadata[k] = item
			}
		case "startTime":
			if t, ok := asTime(raw); ok {
				n.startTime = t
			}
		case "endTime":
			if t, ok := asTime(raw); ok {
				n.endTime = t
			}
		case "parentId":
			parentID, _ := raw.(string)
			m.reparentLocked(n, parentID)
		default:
			m.log.Debug().Str("node", id).Str("field", key).Msg("ignoring unknown node field")
		}
	}
	m.requestFlushLocked()
}

func (m *Manager) reparentLocked(n *node, parentID string) {
	if parentID == n.parentID {
		return
	}
	orphaned, err := m.tree.reparent(n, parentID)
	if err != nil {
		m.log.Warn().Err(err).Str("node", n.id).Str("parent", parentID).Msg("refusing reparent")
		return
	}
	m.unwatchLocked(n.id)
	if orphaned {
		m.watchOrphanLocked(n)
	}
}

// RegisterSecrets marks the strings reachable through each dot path of
// container as secret for nodeID.
func (m *Manager) RegisterSecrets(nodeID string, container any, paths []string) {
	v := FromAny(container)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets.register(nodeID, v, paths)
}

// RegisterOutputSecrets marks every string in output as secret for
// nodeID.
func (m *Manager) RegisterOutputSecrets(nodeID string, output any) {
	v := FromAny(output)
	if isPlaceholder(v) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets.harvest(nodeID, v)
}

// Scrub returns a redacted copy of data. The effective secrets are those
// registered on every node active in ctx (see WithNode).
func (m *Manager) Scrub(ctx context.Context, data any) Value {
	v := FromAny(data)
	m.mu.Lock()
	secrets := m.secrets.effective(activeChain(ctx))
	m.mu.Unlock()
	return scrubValue(v, secrets)
}

// Node returns a copy of the node with the given id.
func (m *Manager) Node(id string) (NodeView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.tree.nodes[id]
	if !ok {
		return NodeView{}, false
	}
	return n.view(), true
}

// Orphans returns the ids of nodes waiting for parentID, in creation
// order.
func (m *Manager) Orphans(parentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, n := range m.tree.orphans[parentID] {
		ids = append(ids, n.id)
	}
	return ids
}

// RootID returns the id of the root node, or "".
func (m *Manager) RootID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tree.root == nil {
		return ""
	}
	return m.tree.root.id
}

// IsStructurallyValid reports whether the tree may be persisted.
func (m *Manager) IsStructurallyValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.valid()
}

// Snapshot returns the redacted execution tree, or nil without a root.
func (m *Manager) Snapshot() *ExecutionNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tree.root == nil {
		return nil
	}
	return m.maskLocked(m.tree.root, nil)
}

// maskLocked serializes n with secrets scoped to the path from the root
// to n.
func (m *Manager) maskLocked(n *node, chain []string) *ExecutionNode {
	chain = append(chain[:len(chain):len(chain)], n.id)
	secrets := m.secrets.effective(chain)

	en := &ExecutionNode{
		ID:            n.id,
		ComponentName: n.componentName,
		StartTime:     epochMillis(n.startTime),
		EndTime:       optionalMillis(n.endTime),
		Props:         scrubValue(n.props, secrets),
		Output:        scrubValue(n.output, secrets),
		Metadata:      scrubMetadata(n.metadata, secrets),
		Children:      make([]*ExecutionNode, 0, len(n.children)),
	}
	if n.parentID != "" {
		parentID := n.parentID
		en.ParentID = &parentID
	}
	for _, child := range n.children {
		en.Children = append(en.Children, m.maskLocked(child, chain))
	}
	return en
}

// SetWorkflowName overrides the workflow name sent with each write. It
// defaults to the root component name.
func (m *Manager) SetWorkflowName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflowName = name
}

// SetPrintURL controls whether the execution URL is printed after the
// first successful write.
func (m *Manager) SetPrintURL(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.printURL = enabled
}

// watchOrphanLocked logs a diagnostic if n is still waiting for its
// parent after the orphan timeout.
func (m *Manager) watchOrphanLocked(n *node) {
	if m.orphanTimeout <= 0 || m.closed {
		return
	}
	m.unwatchLocked(n.id)
	id, parentID, name := n.id, n.parentID, n.componentName
	m.timers[id] = m.clock.AfterFunc(m.orphanTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.tree.waitingFor(parentID, id) {
			m.log.Warn().
				Str("node", id).
				Str("component_name", name).
				Str("parent", parentID).
				Dur("waited", m.orphanTimeout).
				Msg("node still waiting for parent")
		}
	})
}

func (m *Manager) unwatchLocked(id string) {
	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}
}

func isPlaceholder(v Value) bool {
	return v.Kind() == KindString && v.Text() == StreamingPlaceholder
}

func asTime(raw any) (time.Time, bool) {
	switch t := raw.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, true
		}
		return *t, true
	case nil:
		return time.Time{}, true
	}
	return time.Time{}, false
}
