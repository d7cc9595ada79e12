package checkpoint

import "time"

// StreamingPlaceholder is recorded as the output of a node whose result
// is still being streamed. It is never harvested for secrets.
const StreamingPlaceholder = "__CHECKPOINT_STREAMING_PLACEHOLDER__"

// Options configure how a tracked node is captured.
type Options struct {
	// SecretProps lists dot-delimited paths into the node's props whose
	// string values must be redacted wherever the node is active.
	SecretProps []string
	// SecretOutputs marks every string in the node's output as secret.
	SecretOutputs bool
	// Name overrides the component name.
	Name string
	// Metadata is merged into the node's metadata after creation.
	Metadata map[string]any
}

// NodeSpec describes a node to create.
type NodeSpec struct {
	ComponentName string
	Props         any
	Options       Options
}

// Fields holds named field updates for UpdateNode. Keys use the wire
// names: componentName, props, output, metadata, startTime, endTime,
// parentId.
type Fields map[string]any

// NodeView is a point-in-time copy of a node, unredacted.
type NodeView struct {
	ID            string
	ComponentName string
	StartTime     time.Time
	EndTime       time.Time // zero until completion
	Props         Value
	Output        Value
	Metadata      map[string]Value
	ParentID      string
	Children      []string
}

// Completed reports whether the node has an end time.
func (v NodeView) Completed() bool { return !v.EndTime.IsZero() }

// node is one tracked unit of work. Only the tree and manager touch it,
// always under the manager's lock.
type node struct {
	id            string
	componentName string
	startTime     time.Time
	endTime       time.Time
	props         Value
	output        Value
	metadata      map[string]Value
	parentID      string
	children      []*node
	opts          Options
}

func (n *node) view() NodeView {
	v := NodeView{
		ID:            n.id,
		ComponentName: n.componentName,
		StartTime:     n.startTime,
		EndTime:       n.endTime,
		Props:         n.props,
		Output:        n.output,
		Metadata:      make(map[string]Value, len(n.metadata)),
		ParentID:      n.parentID,
		Children:      make([]string, len(n.children)),
	}
	for k, item := range n.metadata {
		v.Metadata[k] = item
	}
	for i, child := range n.children {
		v.Children[i] = child.id
	}
	return v
}

func (n *node) secretOutputs() bool { return n.opts.SecretOutputs }
