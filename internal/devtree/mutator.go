package devtree

import "reflect"

// Mutator is a transactional update scope over channel node values. All
// updates run under the tree write lock; the commit computes the set of
// channel nodes whose values actually changed and dispatches exactly one
// batch per affected subscriber.
type Mutator struct {
	tree    *Tree
	changed map[int]struct{}
}

// Update stores a new value into a channel node. Values equal to the
// stored one (deep equality) do not mark the node as changed.
func (m *Mutator) Update(ref NodeRef, value any) bool {
	idx := m.tree.resolveRef(ref)
	if idx == invalidIndex {
		return false
	}
	n := &m.tree.nodes[idx]
	if n.kind != KindChannel {
		return false
	}
	if reflect.DeepEqual(n.value, value) {
		return true
	}
	n.value = value
	m.changed[idx] = struct{}{}
	return true
}

// UpdateByPath stores a new value into the channel node at a path.
func (m *Mutator) UpdateByPath(path string, value any) bool {
	idx, ok := m.tree.resolvePath(path)
	if !ok {
		return false
	}
	return m.Update(m.tree.ref(idx), value)
}

// Mutate runs fn inside a mutator scope and commits the collected
// changes: for every changed channel, the ancestor chain (including the
// channel itself) is unioned; every unioned node with at least one
// subscriber contributes its path and subtree snapshot to the batch of
// each of its subscribers; each subscriber then receives a single
// publisher call with all paths it is subscribed to.
func (t *Tree) Mutate(fn func(*Mutator)) {
	t.mu.Lock()

	m := &Mutator{tree: t, changed: make(map[int]struct{})}
	fn(m)

	// Union of ancestor chains of all changed channels.
	affected := make(map[int]struct{})
	for idx := range m.changed {
		for i := idx; i != invalidIndex; i = t.nodes[i].parent {
			if _, seen := affected[i]; seen {
				break
			}
			affected[i] = struct{}{}
		}
	}

	// One batch per subscriber, keyed by subscribed node path.
	batches := make(map[string]map[string]any)
	for idx := range affected {
		n := &t.nodes[idx]
		if len(n.subscribers) == 0 {
			continue
		}
		path := t.cachePath(idx)
		snapshot := t.snapshot(idx)
		for client := range n.subscribers {
			if batches[client] == nil {
				batches[client] = make(map[string]any)
			}
			batches[client][path] = snapshot
		}
	}

	publisher := t.publisher
	t.mu.Unlock()

	if publisher == nil {
		return
	}
	for client, values := range batches {
		publisher(client, values)
	}
}
