package devtree

import "strings"

// Subscribe increments the subscription count of (client, node at path).
func (t *Tree) Subscribe(clientID, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolvePath(path)
	if !ok {
		return ErrNoSuchNode
	}
	t.nodes[idx].subscribers[clientID]++
	return nil
}

// Unsubscribe decrements the subscription count of (client, node at
// path), removing the client at zero. With force set, the client is
// removed regardless of its count.
func (t *Tree) Unsubscribe(clientID, path string, force bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.resolvePath(path)
	if !ok {
		return ErrNoSuchNode
	}
	subs := t.nodes[idx].subscribers
	count := subs[clientID]
	switch {
	case force:
		delete(subs, clientID)
	case count == 0:
		return ErrNotSubscribed
	case count == 1:
		delete(subs, clientID)
	default:
		subs[clientID] = count - 1
	}
	return nil
}

// CountSubscriptions returns the multiplicity of (client, node at path).
func (t *Tree) CountSubscriptions(clientID, path string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.resolvePath(path)
	if !ok {
		return 0
	}
	return t.nodes[idx].subscribers[clientID]
}

// pathMatchesFilter reports whether path lies in the subtree of filter.
func pathMatchesFilter(path, filter string) bool {
	if filter == "/" || filter == "" {
		return true
	}
	filter = strings.TrimSuffix(filter, "/")
	return path == filter || strings.HasPrefix(path, filter+"/")
}

// ListSubscriptions returns the multiplicity map of paths the client is
// subscribed to that lie in the subtree of any filter path. An empty
// filter list matches everything.
func (t *Tree) ListSubscriptions(clientID string, filters []string) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int)
	for idx := range t.nodes {
		n := &t.nodes[idx]
		if !n.inUse {
			continue
		}
		count := n.subscribers[clientID]
		if count == 0 {
			continue
		}
		path := t.cachePath(idx)
		if len(filters) == 0 {
			out[path] = count
			continue
		}
		for _, filter := range filters {
			if pathMatchesFilter(path, filter) {
				out[path] = count
				break
			}
		}
	}
	return out
}

// UnsubscribeSubtree decrements, once each, every subscription the
// client holds on nodes under the filter path. Returns the paths that
// were decremented.
func (t *Tree) UnsubscribeSubtree(clientID, filter string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var paths []string
	for idx := range t.nodes {
		n := &t.nodes[idx]
		if !n.inUse {
			continue
		}
		count := n.subscribers[clientID]
		if count == 0 {
			continue
		}
		path := t.cachePath(idx)
		if !pathMatchesFilter(path, filter) {
			continue
		}
		if count == 1 {
			delete(n.subscribers, clientID)
		} else {
			n.subscribers[clientID] = count - 1
		}
		paths = append(paths, path)
	}
	return paths
}

// RemoveClient force-clears every subscription the client holds, in a
// single traversal. Used when a client disconnects.
func (t *Tree) RemoveClient(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for idx := range t.nodes {
		n := &t.nodes[idx]
		if n.inUse && n.subscribers != nil {
			delete(n.subscribers, clientID)
		}
	}
}
