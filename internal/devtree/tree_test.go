package devtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildUAVSubtree sets up /DRN-01/battery/level and returns the refs.
func buildUAVSubtree(t *testing.T, tree *Tree) (obj, dev, ch NodeRef) {
	t.Helper()
	obj, err := tree.AddObject("DRN-01")
	require.NoError(t, err)
	dev, err = tree.AddDevice(obj, "battery")
	require.NoError(t, err)
	ch, err = tree.AddChannel(dev, "level", SubtypeNumber, "%")
	require.NoError(t, err)
	return obj, dev, ch
}

func TestTreePaths(t *testing.T) {
	tree := NewTree()
	obj, dev, ch := buildUAVSubtree(t, tree)

	assert.Equal(t, "/", tree.Path(tree.Root()))
	assert.Equal(t, "/DRN-01", tree.Path(obj))
	assert.Equal(t, "/DRN-01/battery", tree.Path(dev))
	assert.Equal(t, "/DRN-01/battery/level", tree.Path(ch))
}

func TestResolve(t *testing.T) {
	tree := NewTree()
	_, _, ch := buildUAVSubtree(t, tree)

	got, ok := tree.Resolve("/DRN-01/battery/level")
	require.True(t, ok)
	assert.Equal(t, ch, got)

	root, ok := tree.Resolve("/")
	require.True(t, ok)
	assert.Equal(t, tree.Root(), root)

	_, ok = tree.Resolve("/DRN-01/camera")
	assert.False(t, ok)
	_, ok = tree.Resolve("relative/path")
	assert.False(t, ok)
}

func TestAddRejectsBadIDs(t *testing.T) {
	tree := NewTree()
	_, err := tree.AddObject("")
	assert.Error(t, err)
	_, err = tree.AddObject("a/b")
	assert.Error(t, err)

	_, err = tree.AddObject("DRN-01")
	require.NoError(t, err)
	_, err = tree.AddObject("DRN-01")
	assert.ErrorIs(t, err, ErrDuplicateChild)
}

func TestSnapshotShape(t *testing.T) {
	tree := NewTree()
	obj, _, ch := buildUAVSubtree(t, tree)

	tree.Mutate(func(m *Mutator) {
		require.True(t, m.Update(ch, 87.5))
	})

	snap, ok := tree.Snapshot(obj)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"battery": map[string]any{"level": 87.5}}, snap)

	value, ok := tree.Snapshot(ch)
	require.True(t, ok)
	assert.Equal(t, 87.5, value)
}

func TestJSONTagsVariants(t *testing.T) {
	tree := NewTree()
	obj, err := tree.AddObject("DRN-01")
	require.NoError(t, err)
	_, err = tree.AddChannel(obj, "mode", SubtypeString, "", "read", "write")
	require.NoError(t, err)

	doc, ok := tree.JSON(tree.Root())
	require.True(t, ok)
	assert.Equal(t, "root", doc["kind"])

	objDoc := doc["children"].(map[string]any)["DRN-01"].(map[string]any)
	assert.Equal(t, "object", objDoc["kind"])

	chDoc := objDoc["children"].(map[string]any)["mode"].(map[string]any)
	assert.Equal(t, "channel", chDoc["kind"])
	assert.Equal(t, "string", chDoc["subtype"])
	assert.Equal(t, []string{"read", "write"}, chDoc["operations"])
	assert.Contains(t, chDoc, "value")
}

func TestRemoveInvalidatesRefs(t *testing.T) {
	tree := NewTree()
	obj, _, ch := buildUAVSubtree(t, tree)

	require.True(t, tree.RemoveObject("DRN-01"))

	assert.Equal(t, "", tree.Path(obj))
	assert.Equal(t, "", tree.Path(ch))
	_, ok := tree.Value(ch)
	assert.False(t, ok)
	_, ok = tree.Resolve("/DRN-01")
	assert.False(t, ok)

	// Removing again is a clean miss.
	assert.False(t, tree.RemoveObject("DRN-01"))
}

func TestFreedSlotReuseKeepsOldRefsStale(t *testing.T) {
	tree := NewTree()
	obj, err := tree.AddObject("DRN-01")
	require.NoError(t, err)
	require.True(t, tree.Remove(obj))

	// The replacement likely reuses the freed arena slot. The old ref
	// must still be dead.
	obj2, err := tree.AddObject("DRN-02")
	require.NoError(t, err)

	assert.Equal(t, "", tree.Path(obj))
	assert.Equal(t, "/DRN-02", tree.Path(obj2))
}

func TestRootCannotBeRemoved(t *testing.T) {
	tree := NewTree()
	assert.False(t, tree.Remove(tree.Root()))
}
