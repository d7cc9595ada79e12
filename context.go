package checkpoint

import "context"

type chainKey struct{}

type managerKey struct{}

// nodeChain is an immutable linked list of active node ids, innermost
// first. Each derived context gets its own head, so concurrent call
// chains never observe each other's nodes.
type nodeChain struct {
	id     string
	parent *nodeChain
}

// WithNode returns a context in which id is the active node, nested
// under whatever node ctx already carries.
func WithNode(ctx context.Context, id string) context.Context {
	parent, _ := ctx.Value(chainKey{}).(*nodeChain)
	return context.WithValue(ctx, chainKey{}, &nodeChain{id: id, parent: parent})
}

// CurrentNode returns the innermost active node id carried by ctx.
func CurrentNode(ctx context.Context) (string, bool) {
	chain, _ := ctx.Value(chainKey{}).(*nodeChain)
	if chain == nil {
		return "", false
	}
	return chain.id, true
}

// activeChain returns the node ids carried by ctx, outermost first.
func activeChain(ctx context.Context) []string {
	var ids []string
	for chain, _ := ctx.Value(chainKey{}).(*nodeChain); chain != nil; chain = chain.parent {
		ids = append(ids, chain.id)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

// NewContext returns a context carrying m.
func NewContext(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerKey{}, m)
}

// FromContext returns the manager carried by ctx, or nil.
func FromContext(ctx context.Context) *Manager {
	m, _ := ctx.Value(managerKey{}).(*Manager)
	return m
}
