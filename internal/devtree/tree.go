// Package devtree implements the per-object hierarchical channel model:
// a tree of typed value channels rooted at an anonymous root, with
// refcounted client subscriptions and transactional mutation scopes that
// commit one notification burst per subscriber.
package devtree

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// NodeKind tags the variant of a device tree node.
type NodeKind int

const (
	KindRoot NodeKind = iota
	KindObject
	KindDevice
	KindChannel
)

func (k NodeKind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindObject:
		return "object"
	case KindDevice:
		return "device"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// ChannelSubtype is the value type of a channel node.
type ChannelSubtype string

const (
	SubtypeNumber  ChannelSubtype = "number"
	SubtypeString  ChannelSubtype = "string"
	SubtypeBoolean ChannelSubtype = "boolean"
	SubtypeObject  ChannelSubtype = "object"
)

var (
	// ErrNoSuchNode is returned when a path does not resolve.
	ErrNoSuchNode = errors.New("no such device tree node")

	// ErrNotSubscribed is returned by a non-forcing unsubscribe with no
	// matching subscription.
	ErrNotSubscribed = errors.New("not subscribed to node")

	// ErrDuplicateChild is returned when a child id is already taken.
	ErrDuplicateChild = errors.New("duplicate child id")
)

const invalidIndex = -1

// node is one arena slot. Parent and child links are indices; the path
// cache is invalidated when the node or an ancestor is re-parented.
type node struct {
	inUse      bool
	generation uint64

	kind     NodeKind
	id       string
	parent   int
	children map[string]int

	// channel payload
	subtype    ChannelSubtype
	operations []string
	unit       string
	value      any

	path      string
	pathValid bool

	// subscription multiplicities by client id
	subscribers map[string]int
}

// Publisher delivers one batch of committed updates to one subscriber.
// The values map is keyed by subscribed node path.
type Publisher func(clientID string, values map[string]any)

// Tree is the device tree. All methods are safe for concurrent use.
type Tree struct {
	mu        sync.RWMutex
	nodes     []node
	free      []int
	publisher Publisher
}

// NodeRef is a handle to a tree node. A ref becomes invalid when its
// node is removed; using a stale ref is a no-op.
type NodeRef struct {
	tree       *Tree
	index      int
	generation uint64
}

// NewTree creates a tree holding only the anonymous root.
func NewTree() *Tree {
	t := &Tree{}
	t.nodes = append(t.nodes, node{
		inUse:       true,
		kind:        KindRoot,
		parent:      invalidIndex,
		children:    make(map[string]int),
		subscribers: make(map[string]int),
		path:        "/",
		pathValid:   true,
	})
	return t
}

// SetPublisher installs the callback receiving committed update batches.
func (t *Tree) SetPublisher(p Publisher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publisher = p
}

// Root returns a ref to the anonymous root node.
func (t *Tree) Root() NodeRef {
	return NodeRef{tree: t, index: 0, generation: t.nodes[0].generation}
}

func (t *Tree) ref(index int) NodeRef {
	return NodeRef{tree: t, index: index, generation: t.nodes[index].generation}
}

// resolveRef returns the arena index of a live ref, or invalidIndex.
// Caller must hold the lock.
func (t *Tree) resolveRef(ref NodeRef) int {
	if ref.tree != t || ref.index < 0 || ref.index >= len(t.nodes) {
		return invalidIndex
	}
	n := &t.nodes[ref.index]
	if !n.inUse || n.generation != ref.generation {
		return invalidIndex
	}
	return ref.index
}

func (t *Tree) alloc() int {
	if len(t.free) > 0 {
		idx := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		return idx
	}
	t.nodes = append(t.nodes, node{})
	return len(t.nodes) - 1
}

func (t *Tree) addChild(parent int, id string, kind NodeKind) (int, error) {
	if strings.Contains(id, "/") || id == "" {
		return invalidIndex, fmt.Errorf("invalid node id %q", id)
	}
	p := &t.nodes[parent]
	if _, exists := p.children[id]; exists {
		return invalidIndex, fmt.Errorf("%q under %q: %w", id, p.path, ErrDuplicateChild)
	}
	idx := t.alloc()
	gen := t.nodes[idx].generation + 1
	t.nodes[idx] = node{
		inUse:       true,
		generation:  gen,
		kind:        kind,
		id:          id,
		parent:      parent,
		children:    make(map[string]int),
		subscribers: make(map[string]int),
	}
	t.nodes[parent].children[id] = idx
	return idx, nil
}

// AddObject adds an object node under the root, keyed by object id.
func (t *Tree) AddObject(id string) (NodeRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, err := t.addChild(0, id, KindObject)
	if err != nil {
		return NodeRef{}, err
	}
	return t.ref(idx), nil
}

// AddDevice adds a device node under the given parent.
func (t *Tree) AddDevice(parent NodeRef, id string) (NodeRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pidx := t.resolveRef(parent)
	if pidx == invalidIndex {
		return NodeRef{}, ErrNoSuchNode
	}
	idx, err := t.addChild(pidx, id, KindDevice)
	if err != nil {
		return NodeRef{}, err
	}
	return t.ref(idx), nil
}

// AddChannel adds a channel node with a typed value under the parent.
func (t *Tree) AddChannel(parent NodeRef, id string, subtype ChannelSubtype, unit string, operations ...string) (NodeRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pidx := t.resolveRef(parent)
	if pidx == invalidIndex {
		return NodeRef{}, ErrNoSuchNode
	}
	idx, err := t.addChild(pidx, id, KindChannel)
	if err != nil {
		return NodeRef{}, err
	}
	n := &t.nodes[idx]
	n.subtype = subtype
	n.unit = unit
	n.operations = operations
	return t.ref(idx), nil
}

// Remove detaches the subtree rooted at ref and frees its slots.
func (t *Tree) Remove(ref NodeRef) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.resolveRef(ref)
	if idx == invalidIndex || idx == 0 {
		return false
	}
	parent := t.nodes[idx].parent
	delete(t.nodes[parent].children, t.nodes[idx].id)
	t.freeSubtree(idx)
	return true
}

// RemoveObject removes the object node keyed by id under the root.
func (t *Tree) RemoveObject(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, exists := t.nodes[0].children[id]
	if !exists {
		return false
	}
	delete(t.nodes[0].children, id)
	t.freeSubtree(idx)
	return true
}

func (t *Tree) freeSubtree(idx int) {
	for _, child := range t.nodes[idx].children {
		t.freeSubtree(child)
	}
	n := &t.nodes[idx]
	n.inUse = false
	n.children = nil
	n.subscribers = nil
	n.value = nil
	n.pathValid = false
	t.free = append(t.free, idx)
}

// Resolve returns a ref to the node at the given absolute path.
func (t *Tree) Resolve(path string) (NodeRef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.resolvePath(path)
	if !ok {
		return NodeRef{}, false
	}
	return t.ref(idx), true
}

func (t *Tree) resolvePath(path string) (int, bool) {
	if path == "" || path[0] != '/' {
		return invalidIndex, false
	}
	idx := 0
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		child, exists := t.nodes[idx].children[part]
		if !exists {
			return invalidIndex, false
		}
		idx = child
	}
	return idx, true
}

// path returns the cached absolute path of a node, rebuilding it when
// needed. Caller must hold at least the read lock; the cache update is
// guarded by the write lock held during mutations, so reads recompute
// without storing when invoked under RLock.
func (t *Tree) pathOf(idx int) string {
	n := &t.nodes[idx]
	if n.pathValid {
		return n.path
	}
	var parts []string
	for i := idx; i != 0; i = t.nodes[i].parent {
		parts = append(parts, t.nodes[i].id)
	}
	var sb strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(parts[i])
	}
	if sb.Len() == 0 {
		return "/"
	}
	return sb.String()
}

// cachePath computes and stores the path of a node. Caller must hold
// the write lock.
func (t *Tree) cachePath(idx int) string {
	p := t.pathOf(idx)
	t.nodes[idx].path = p
	t.nodes[idx].pathValid = true
	return p
}

// Path returns the absolute path of the node, or "" for a stale ref.
func (t *Tree) Path(ref NodeRef) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.resolveRef(ref)
	if idx == invalidIndex {
		return ""
	}
	return t.cachePath(idx)
}

// Kind returns the node kind, or KindRoot plus false for a stale ref.
func (t *Tree) Kind(ref NodeRef) (NodeKind, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.resolveRef(ref)
	if idx == invalidIndex {
		return KindRoot, false
	}
	return t.nodes[idx].kind, true
}

// Value returns the stored value of a channel node.
func (t *Tree) Value(ref NodeRef) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.resolveRef(ref)
	if idx == invalidIndex || t.nodes[idx].kind != KindChannel {
		return nil, false
	}
	return t.nodes[idx].value, true
}

// Snapshot returns the channel-value snapshot of the subtree under ref:
// the bare value for a channel node, otherwise a nested map keyed by
// child id.
func (t *Tree) Snapshot(ref NodeRef) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.resolveRef(ref)
	if idx == invalidIndex {
		return nil, false
	}
	return t.snapshot(idx), true
}

func (t *Tree) snapshot(idx int) any {
	n := &t.nodes[idx]
	if n.kind == KindChannel {
		return n.value
	}
	out := make(map[string]any, len(n.children))
	for id, child := range n.children {
		out[id] = t.snapshot(child)
	}
	return out
}

// JSON returns the wire representation of the subtree under ref, in the
// tagged-variant form used by DEV-LIST responses.
func (t *Tree) JSON(ref NodeRef) (map[string]any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.resolveRef(ref)
	if idx == invalidIndex {
		return nil, false
	}
	return t.json(idx), true
}

func (t *Tree) json(idx int) map[string]any {
	n := &t.nodes[idx]
	out := map[string]any{"kind": n.kind.String()}
	if n.kind == KindChannel {
		out["subtype"] = string(n.subtype)
		if len(n.operations) > 0 {
			out["operations"] = n.operations
		}
		if n.unit != "" {
			out["unit"] = n.unit
		}
		out["value"] = n.value
		return out
	}
	if len(n.children) > 0 {
		children := make(map[string]any, len(n.children))
		for id, child := range n.children {
			children[id] = t.json(child)
		}
		out["children"] = children
	}
	return out
}
