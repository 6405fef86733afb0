package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spatialio/octree"
	"github.com/spatialio/octree/internal/chunkio"
	"github.com/stretchr/testify/require"
)

// blockingPutEndpoint wraps an Endpoint and lets a test pause the first Put
// mid-flight: it signals started once and waits on proceed before
// delegating, so a test can interleave a concurrent Acquire during an
// eviction's write-through window. Only the first Put blocks; later Puts
// (e.g. a second eviction pass in the same test) pass straight through,
// since startOnce marks only the first call as the one that waits.
type blockingPutEndpoint struct {
	chunkio.Endpoint
	started   chan struct{}
	proceed   chan struct{}
	startOnce sync.Once
}

func (b *blockingPutEndpoint) Put(ctx context.Context, key string, data []byte) error {
	first := false
	b.startOnce.Do(func() { first = true; close(b.started) })
	if first {
		<-b.proceed
	}
	return b.Endpoint.Put(ctx, key, data)
}

type fakeHierarchy struct {
	counts map[octree.ChunkKey]uint64
}

func newFakeHierarchy() *fakeHierarchy {
	return &fakeHierarchy{counts: make(map[octree.ChunkKey]uint64)}
}

func (f *fakeHierarchy) Set(key octree.ChunkKey, count uint64) {
	f.counts[key] = count
}

func newTestCache(softCap int) (*Cache, *fakeHierarchy) {
	ep := chunkio.NewMemEndpoint()
	schema := octree.Schema{}
	store := chunkio.NewStore(ep, schema, false, "bin")
	h := newFakeHierarchy()
	return New(store, 2, 10, softCap, h, nil), h
}

func TestCache_AcquireCreatesEmptyCellWhenAbsent(t *testing.T) {
	c, _ := newTestCache(10)
	ctx := context.Background()
	key := octree.ChunkKey{Depth: 0, X: 0, Y: 0, Z: 0}

	cl, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 0, cl.Size())
	require.Equal(t, 1, c.ResidentCount())
}

func TestCache_AcquireReturnsSameCellOnSecondCall(t *testing.T) {
	c, _ := newTestCache(10)
	ctx := context.Background()
	key := octree.ChunkKey{Depth: 0, X: 0, Y: 0, Z: 0}

	cl1, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	cl1.TryInsert(octree.Point{X: 1})

	cl2, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	require.Same(t, cl1, cl2)
	require.Equal(t, 1, cl2.Size())
}

func TestCache_EvictWritesThroughAndDrops(t *testing.T) {
	c, h := newTestCache(0) // evict everything unpinned
	ctx := context.Background()
	key := octree.ChunkKey{Depth: 5, X: 1, Y: 1, Z: 1}

	cl, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	cl.TryInsert(octree.Point{X: 1, Y: 2, Z: 3})
	c.Release(key)

	require.NoError(t, c.EvictIfOverCap(ctx))
	require.Equal(t, 0, c.ResidentCount())
	require.Equal(t, uint64(1), h.counts[key])

	// Re-acquiring loads the written chunk back.
	cl2, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, cl2.Size())
}

func TestCache_EvictDoesNotDropEntryRepinnedDuringWriteThrough(t *testing.T) {
	ep := &blockingPutEndpoint{
		Endpoint: chunkio.NewMemEndpoint(),
		started:  make(chan struct{}),
		proceed:  make(chan struct{}),
	}
	store := chunkio.NewStore(ep, octree.Schema{}, false, "bin")
	h := newFakeHierarchy()
	c := New(store, 2, 10, 0, h, nil) // softCap 0: evict everything unpinned
	ctx := context.Background()
	key := octree.ChunkKey{Depth: 5, X: 1, Y: 1, Z: 1}

	cl, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	cl.TryInsert(octree.Point{X: 1})
	c.Release(key) // pins 0, dirty, eligible for eviction

	evictDone := make(chan error, 1)
	go func() { evictDone <- c.EvictIfOverCap(ctx) }()

	// Wait for the evictor to enter its write-through, which is now
	// blocked on ep.proceed.
	select {
	case <-ep.started:
	case <-time.After(5 * time.Second):
		t.Fatal("evictor never started its write-through")
	}

	// A concurrent Acquire for the same key must re-pin the still-resident
	// entry rather than race a delete that would discard it (spec §4.4
	// invariant (a)).
	cl2, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	require.Same(t, cl, cl2)
	cl2.TryInsert(octree.Point{X: 2})

	close(ep.proceed)
	require.NoError(t, <-evictDone)

	// The entry must still be resident and carrying both points: the
	// evictor must not have deleted a cell that was repinned while its
	// write-through was in flight.
	require.Equal(t, 1, c.ResidentCount())
	require.Equal(t, 2, cl2.Size())

	c.Release(key)
	require.NoError(t, c.EvictIfOverCap(ctx))
	require.Equal(t, 0, c.ResidentCount())
	require.Equal(t, uint64(2), h.counts[key])
}

func TestCache_PinnedCellNotEvicted(t *testing.T) {
	c, _ := newTestCache(0)
	ctx := context.Background()
	key := octree.ChunkKey{Depth: 5, X: 0, Y: 0, Z: 0}

	_, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	// not released: pin count stays at 1, ineligible for eviction.
	require.NoError(t, c.EvictIfOverCap(ctx))
	require.Equal(t, 1, c.ResidentCount())
}

func TestCache_Flush(t *testing.T) {
	c, h := newTestCache(100)
	ctx := context.Background()
	key := octree.ChunkKey{Depth: 5, X: 2, Y: 2, Z: 2}

	cl, err := c.Acquire(ctx, key)
	require.NoError(t, err)
	cl.TryInsert(octree.Point{X: 9})
	c.Release(key)

	require.NoError(t, c.Flush(ctx))
	require.Equal(t, uint64(1), h.counts[key])
	require.Equal(t, 1, c.ResidentCount()) // flush doesn't evict, only writes through
}

func TestClipper_ClipReleasesAllPinsIncludingDuplicates(t *testing.T) {
	c, _ := newTestCache(0)
	clipper := NewClipper(c)
	ctx := context.Background()
	key := octree.ChunkKey{Depth: 1, X: 0, Y: 0, Z: 0}

	_, err := clipper.Acquire(ctx, key)
	require.NoError(t, err)
	_, err = clipper.Acquire(ctx, key)
	require.NoError(t, err)

	clipper.Clip()
	require.NoError(t, c.EvictIfOverCap(ctx))
	require.Equal(t, 0, c.ResidentCount())
}
