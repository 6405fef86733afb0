package merge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spatialio/octree"
	"github.com/spatialio/octree/internal/chunkio"
	"github.com/spatialio/octree/internal/hierarchy"
)

func writeShard(t *testing.T, id uint64, global octree.Bounds, entries map[octree.ChunkKey]uint64, points uint64) chunkio.Endpoint {
	t.Helper()
	ep := chunkio.NewMemEndpoint()
	ctx := context.Background()

	h := hierarchy.New()
	for k, c := range entries {
		h.Set(k, c)
		pts := make([]octree.Point, c)
		store := chunkio.NewStore(ep, octree.Schema{}, false, "bin")
		store.Suffix = suffixFor(id)
		require.NoError(t, store.Write(ctx, k, pts))
	}
	for name, block := range h.Partition(2) {
		data, err := hierarchy.EncodeBlock(block)
		require.NoError(t, err)
		require.NoError(t, ep.Put(ctx, octree.HierarchyDir+"/"+name+".json", data))
	}

	mf := octree.Manifest{
		Bounds:        global,
		Points:        points,
		Span:          16,
		HierarchyStep: 2,
		ChunkCapacity: 4,
		Subset:        &octree.SubsetSpec{Id: id, Of: 4},
		Sources:       []octree.Source{{Path: "a.las", Status: octree.SourceInserted}},
	}
	data, err := json.Marshal(mf)
	require.NoError(t, err)
	require.NoError(t, ep.Put(ctx, octree.ManifestPath, data))
	return ep
}

func suffixFor(id uint64) string {
	return "-" + itoa(id)
}

func itoa(id uint64) string {
	if id == 0 {
		return "0"
	}
	digits := ""
	for id > 0 {
		digits = string(rune('0'+id%10)) + digits
		id /= 10
	}
	return digits
}

func TestMerger_MergeDisjointShards(t *testing.T) {
	global := octree.Bounds{MinX: 0, MinY: 0, MinZ: 0, MaxX: 16, MaxY: 16, MaxZ: 16}
	ctx := context.Background()

	shards := []Shard{
		{Id: 1, Endpoint: writeShard(t, 1, global, map[octree.ChunkKey]uint64{
			{Depth: 1, X: 0, Y: 0, Z: 0}: 4,
			{Depth: 1, X: 0, Y: 0, Z: 1}: 3,
		}, 7)},
		{Id: 2, Endpoint: writeShard(t, 2, global, map[octree.ChunkKey]uint64{
			{Depth: 1, X: 1, Y: 0, Z: 0}: 4,
		}, 4)},
		{Id: 3, Endpoint: writeShard(t, 3, global, map[octree.ChunkKey]uint64{
			{Depth: 1, X: 0, Y: 1, Z: 0}: 2,
		}, 2)},
		{Id: 4, Endpoint: writeShard(t, 4, global, map[octree.ChunkKey]uint64{
			{Depth: 1, X: 1, Y: 1, Z: 0}: 1,
		}, 1)},
	}

	dest := chunkio.NewMemEndpoint()
	m := &Merger{Shards: shards, Dest: dest, Of: 4}

	mf, err := m.Merge(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(14), mf.Points)
	require.Nil(t, mf.Subset)

	// Every merged chunk key now exists unsuffixed on dest.
	for _, key := range []string{
		"ept-data/1-0-0-0.bin",
		"ept-data/1-0-0-1.bin",
		"ept-data/1-1-0-0.bin",
		"ept-data/1-0-1-0.bin",
		"ept-data/1-1-1-0.bin",
	} {
		ok, err := dest.Exists(ctx, key)
		require.NoError(t, err)
		require.Truef(t, ok, "expected %s on merged destination", key)
	}

	// Re-running is idempotent: markers already exist, result unchanged,
	// including RunID (derived deterministically from the shard set).
	mf2, err := m.Merge(ctx)
	require.NoError(t, err)
	require.Equal(t, mf.Points, mf2.Points)
	require.Equal(t, mf.RunID, mf2.RunID)
}

func TestMerger_RunIDDeterministicAcrossShardOrder(t *testing.T) {
	global := octree.Bounds{MinX: 0, MinY: 0, MinZ: 0, MaxX: 16, MaxY: 16, MaxZ: 16}
	ctx := context.Background()

	newShards := func() []Shard {
		return []Shard{
			{Id: 1, Endpoint: writeShard(t, 1, global, map[octree.ChunkKey]uint64{
				{Depth: 1, X: 0, Y: 0, Z: 0}: 4,
			}, 4)},
			{Id: 2, Endpoint: writeShard(t, 2, global, map[octree.ChunkKey]uint64{
				{Depth: 1, X: 1, Y: 0, Z: 0}: 3,
			}, 3)},
		}
	}

	m1 := &Merger{Shards: newShards(), Dest: chunkio.NewMemEndpoint(), Of: 4}
	mf1, err := m1.Merge(ctx)
	require.NoError(t, err)

	shards2 := newShards()
	shards2[0], shards2[1] = shards2[1], shards2[0] // reversed order
	m2 := &Merger{Shards: shards2, Dest: chunkio.NewMemEndpoint(), Of: 4}
	mf2, err := m2.Merge(ctx)
	require.NoError(t, err)

	require.Equal(t, mf1.RunID, mf2.RunID)
}

func TestMerger_CollisionDetected(t *testing.T) {
	global := octree.Bounds{MinX: 0, MinY: 0, MinZ: 0, MaxX: 16, MaxY: 16, MaxZ: 16}
	ctx := context.Background()

	key := octree.ChunkKey{Depth: 1, X: 0, Y: 0, Z: 0}
	shards := []Shard{
		{Id: 1, Endpoint: writeShard(t, 1, global, map[octree.ChunkKey]uint64{key: 4}, 4)},
		{Id: 2, Endpoint: writeShard(t, 2, global, map[octree.ChunkKey]uint64{key: 4}, 4)},
	}
	dest := chunkio.NewMemEndpoint()
	m := &Merger{Shards: shards, Dest: dest, Of: 4}

	_, err := m.Merge(ctx)
	require.Error(t, err)
	require.True(t, octree.IsKind(err, octree.MergeCollision))
}
