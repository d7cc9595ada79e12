package checkpoint

import "errors"

var (
	errReparentCycle    = errors.New("move would create a cycle")
	errReparentDetached = errors.New("only the root may have no parent")
)

// tree holds every known node, the orphan buckets and the root. It does
// no locking; the manager serializes access.
type tree struct {
	nodes map[string]*node
	// orphans maps an expected parent id to the nodes waiting for it,
	// in creation order.
	orphans map[string][]*node
	root    *node
}

func newTree() *tree {
	return &tree{
		nodes:   make(map[string]*node),
		orphans: make(map[string][]*node),
	}
}

// insert stores n and links it into the tree. It reports whether n was
// left waiting for its parent and which orphans n adopted.
func (t *tree) insert(n *node) (orphaned bool, adopted []*node) {
	t.nodes[n.id] = n

	switch {
	case n.parentID != "":
		if parent, ok := t.nodes[n.parentID]; ok {
			t.attach(n, parent)
		} else {
			t.orphans[n.parentID] = append(t.orphans[n.parentID], n)
			orphaned = true
		}
	case t.root == nil:
		t.root = n
	case t.root.parentID == n.id:
		// The current root was waiting for this id: it becomes a child
		// and n takes over as root. Any other parentless node is a
		// standalone invocation and leaves the root alone.
		old := t.root
		t.removeOrphan(old)
		t.attach(old, n)
		t.root = n
	}

	return orphaned, t.adopt(n)
}

// adopt attaches every orphan waiting for parent and clears its bucket.
func (t *tree) adopt(parent *node) []*node {
	waiting, ok := t.orphans[parent.id]
	if !ok {
		return nil
	}
	for _, orphan := range waiting {
		t.attach(orphan, parent)
		if orphan == t.root {
			t.root = t.topmost(parent)
		}
	}
	delete(t.orphans, parent.id)
	return waiting
}

func (t *tree) attach(child, parent *node) {
	child.parentID = parent.id
	for _, existing := range parent.children {
		if existing == child {
			return
		}
	}
	parent.children = append(parent.children, child)
}

// reparent moves n under parentID. A missing parent puts n into the
// orphan bucket for parentID. Moves that would create a cycle, or leave
// a node other than the root without a parent, are refused.
func (t *tree) reparent(n *node, parentID string) (orphaned bool, err error) {
	switch {
	case parentID == "" && n != t.root:
		return false, errReparentDetached
	case parentID == n.id || t.isDescendant(parentID, n):
		return false, errReparentCycle
	}
	t.detach(n)
	n.parentID = parentID
	if parentID == "" {
		return false, nil
	}

	parent, exists := t.nodes[parentID]
	if !exists {
		t.orphans[parentID] = append(t.orphans[parentID], n)
		return true, nil
	}
	t.attach(n, parent)
	if n == t.root {
		t.root = t.topmost(parent)
	}
	return false, nil
}

// detach unlinks n from its parent's children or its orphan bucket.
func (t *tree) detach(n *node) {
	if n.parentID == "" {
		return
	}
	if parent, ok := t.nodes[n.parentID]; ok {
		for i, child := range parent.children {
			if child == n {
				parent.children = append(parent.children[:i:i], parent.children[i+1:]...)
				break
			}
		}
		return
	}
	t.removeOrphan(n)
}

func (t *tree) removeOrphan(n *node) {
	bucket := t.orphans[n.parentID]
	for i, waiting := range bucket {
		if waiting == n {
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(t.orphans, n.parentID)
	} else {
		t.orphans[n.parentID] = bucket
	}
}

// isDescendant reports whether id names n or a node below it.
func (t *tree) isDescendant(id string, n *node) bool {
	for cur, ok := t.nodes[id]; ok; cur, ok = t.nodes[cur.parentID] {
		if cur == n {
			return true
		}
		if cur.parentID == "" {
			break
		}
	}
	return false
}

func (t *tree) topmost(n *node) *node {
	for {
		parent, ok := t.nodes[n.parentID]
		if !ok {
			return n
		}
		n = parent
	}
}

func (t *tree) waitingFor(parentID, nodeID string) bool {
	for _, n := range t.orphans[parentID] {
		if n.id == nodeID {
			return true
		}
	}
	return false
}

// valid reports whether the tree may be serialized: a parentless root
// exists, no node is waiting for a parent, and every child records its
// actual parent.
func (t *tree) valid() bool {
	if t.root == nil || t.root.parentID != "" || len(t.orphans) > 0 {
		return false
	}
	seen := make(map[*node]bool)
	var verify func(n *node) bool
	verify = func(n *node) bool {
		if seen[n] {
			return false
		}
		seen[n] = true
		for _, child := range n.children {
			if child.parentID != n.id || !verify(child) {
				return false
			}
		}
		return true
	}
	return verify(t.root)
}

func countNodes(n *node) int {
	total := 1
	for _, child := range n.children {
		total += countNodes(child)
	}
	return total
}
