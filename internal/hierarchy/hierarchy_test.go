package hierarchy

import (
	"testing"

	"github.com/spatialio/octree"
	"github.com/stretchr/testify/require"
)

func TestMap_SetGetZeroDeletes(t *testing.T) {
	m := New()
	key := octree.ChunkKey{Depth: 3, X: 1, Y: 2, Z: 0}

	m.Set(key, 5)
	v, ok := m.Get(key)
	require.True(t, ok)
	require.Equal(t, uint64(5), v)

	m.Set(key, 0)
	_, ok = m.Get(key)
	require.False(t, ok)
}

func TestMap_Len(t *testing.T) {
	m := New()
	m.Set(octree.ChunkKey{Depth: 0}, 10)
	m.Set(octree.ChunkKey{Depth: 1, X: 1}, 20)
	require.Equal(t, 2, m.Len())
}

func TestMap_PartitionGroupsByStep(t *testing.T) {
	m := New()
	m.Set(octree.ChunkKey{Depth: 0, X: 0, Y: 0, Z: 0}, 4)
	m.Set(octree.ChunkKey{Depth: 1, X: 1, Y: 0, Z: 0}, 2)
	m.Set(octree.ChunkKey{Depth: 7, X: 3, Y: 3, Z: 3}, 1)

	blocks := m.Partition(6)
	root0 := blocks["0-0-0-0"]
	require.Len(t, root0, 2)

	require.Len(t, blocks, 2) // root block + one block rooted at depth 6
}

func TestEncodeDecodeBlock(t *testing.T) {
	entries := map[string]uint64{"0-0-0-0": 4, "1-1-0-0": 2}
	data, err := EncodeBlock(entries)
	require.NoError(t, err)

	out, err := DecodeBlock(data)
	require.NoError(t, err)
	require.Equal(t, entries, out)
}

func TestDecodeBlock_Invalid(t *testing.T) {
	_, err := DecodeBlock([]byte("not json"))
	require.Error(t, err)
	require.True(t, octree.IsKind(err, octree.ChunkCorrupt))
}
