// Package build drives the point-ingestion pipeline of spec §4.6: a fixed
// worker pool pulls batches from a SourceReader, descends each point
// toward a leaf cell via PointKey, overflows base cells into their
// children in bulk, and commits hierarchy updates. Grounded on the
// teacher's internal/rebalancing/smart.go worker-budget/session idiom,
// reimplemented with golang.org/x/sync/errgroup for the fixed worker pool
// — the teacher has no such pool (HDF5 writes are single-goroutine), so
// the concurrency model here is adapted from the errgroup users elsewhere
// in the retrieval pack.
package build

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/spatialio/octree"
	"github.com/spatialio/octree/internal/cache"
	"github.com/spatialio/octree/internal/cell"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const batchSize = 2048

// Counters tallies the per-point anomalies spec §4.6/§7 require surfacing
// in the manifest rather than raising as errors.
type Counters struct {
	OutOfBounds     uint64
	Invalid         uint64
	DuplicatePoints uint64
	Inserted        uint64
}

func (c *Counters) addOutOfBounds() { atomic.AddUint64(&c.OutOfBounds, 1) }
func (c *Counters) addInvalid()     { atomic.AddUint64(&c.Invalid, 1) }
func (c *Counters) addDuplicate()   { atomic.AddUint64(&c.DuplicatePoints, 1) }
func (c *Counters) addInserted(n int) {
	atomic.AddUint64(&c.Inserted, uint64(n))
}

// Snapshot returns a copy safe to read after the build finishes.
func (c *Counters) Snapshot() Counters {
	return Counters{
		OutOfBounds:     atomic.LoadUint64(&c.OutOfBounds),
		Invalid:         atomic.LoadUint64(&c.Invalid),
		DuplicatePoints: atomic.LoadUint64(&c.DuplicatePoints),
		Inserted:        atomic.LoadUint64(&c.Inserted),
	}
}

// Context bundles the shared, build-wide state every worker reads and
// writes — grounded on spec §9's BuildContext design note: "all build-wide
// state (cache, hierarchy, counters, endpoint) lives in a BuildContext
// value passed to every worker" instead of package-level globals. Root is
// always the full global Bounds, whether this is a plain build or one
// shard of a subset build: ChunkKey addressing must match the global tree
// exactly so the Merger can union shards by renaming keys rather than
// translating coordinates (spec §4.8/§4.9). For a subset build, the caller
// is responsible for only feeding One the points that fall within that
// shard's Subset.Sub — a point outside Sub belongs to a different shard,
// not to this one's OutOfBounds counter.
type Context struct {
	Root     octree.Bounds
	MaxDepth uint32

	// MinDepth is nonzero only for a subset (shard) build: the shard owns
	// no cells above its subset's minimumNullDepth (spec §4.8), so descent
	// steps through those shallow levels without ever touching the cache
	// — no cell is created, pinned, or written for them by this shard.
	MinDepth uint32

	Cache    *cache.Cache
	Counters Counters
	Logger   *zap.Logger
}

// One processes a single point against bc, descending from bc.Root until
// it lands in a cell with room or bc.MaxDepth is reached (spec §4.6).
// clipper batches the cache pins this point's descent acquires; the
// caller clips after a whole batch (spec §4.5).
func One(ctx context.Context, bc *Context, clipper *cache.Clipper, p octree.Point) error {
	if !validPoint(p) {
		bc.Counters.addInvalid()
		return nil
	}
	if !bc.Root.ContainsInclusive(p.X, p.Y, p.Z) {
		bc.Counters.addOutOfBounds()
		return nil
	}

	pk := octree.NewPointKey(bc.Root)
	for pk.Key.Depth < bc.MinDepth {
		pk = pk.Step(p.X, p.Y, p.Z)
	}

	for {
		cl, err := clipper.Acquire(ctx, pk.Key)
		if err != nil {
			return err
		}

		if pk.Key.Depth >= bc.MaxDepth {
			// Beyond maxDepth the octree can no longer spatially separate
			// points, so the cell is allowed to grow past capacity rather
			// than lose data (spec §4.6). A point whose coordinates exactly
			// match one already resident here is still written through —
			// it may be a genuine repeated reading — but is tallied
			// separately so the manifest can report it.
			if exactDuplicate(cl, p) {
				bc.Counters.addDuplicate()
			}
			cl.ForceAccept()
			cl.TryInsert(p)
			bc.Counters.addInserted(1)
			return nil
		}

		if cl.TryInsert(p) {
			bc.Counters.addInserted(1)
			return nil
		}

		if cl.IsBase() {
			if cl.TryInsertOverflow(p) {
				bc.Counters.addInserted(1)
				if cl.OverflowFull() {
					if err := drainOverflow(ctx, clipper, pk, cl); err != nil {
						return err
					}
				}
				return nil
			}
		}

		pk = pk.Step(p.X, p.Y, p.Z)
	}
}

// DrainAllOverflow performs a final drain pass over every resident base
// cell's overflow buffer before the build flushes. OverflowFull only fires
// once a buffer reaches exactly overflowCap (builder.go's insertion path),
// so any base cell whose overflow inserts stop short of that threshold
// ends the build with 1..overflowCap-1 points sitting in cell.overflow:
// Cache.Flush and EvictIfOverCap only ever persist a cell's resident
// points, never its overflow buffer, so those points would be tallied in
// Counters.Inserted (and so in Manifest.Points) but never written to any
// chunk or recorded in the hierarchy — spec invariants 3 and 4. Draining
// one base cell can in turn fill a child base cell's overflow, so this
// repeats until a full pass finds no resident base cell with a non-empty
// buffer.
func DrainAllOverflow(ctx context.Context, bc *Context) error {
	clipper := cache.NewClipper(bc.Cache)
	defer clipper.Clip()
	for {
		refs := bc.Cache.ResidentBaseCells()
		progressed := false
		for _, ref := range refs {
			if ref.Cell.OverflowLen() == 0 {
				continue
			}
			pk := octree.PointKeyForChunkKey(bc.Root, ref.Key)
			if err := drainOverflow(ctx, clipper, pk, ref.Cell); err != nil {
				return err
			}
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

// drainOverflow re-descends every point in a base cell's overflow buffer
// one more level, per spec §4.2/§4.6.
func drainOverflow(ctx context.Context, clipper *cache.Clipper, pk octree.PointKey, base *cell.Cell) error {
	pts := base.SwapOutOverflow()
	for _, p := range pts {
		child := pk.Step(p.X, p.Y, p.Z)
		cl, err := clipper.Acquire(ctx, child.Key)
		if err != nil {
			return err
		}
		if cl.TryInsert(p) {
			continue
		}
		if cl.IsBase() && cl.TryInsertOverflow(p) {
			continue
		}
		// Extremely rare: the child is itself already full with no
		// overflow room either. Force it rather than recursing further
		// within one drain pass.
		cl.ForceAccept()
		cl.TryInsert(p)
	}
	return nil
}

// exactDuplicate reports whether p's coordinates exactly match a point
// already resident in cl. Only called once a cell has stopped splitting
// (maxDepth reached), where residency is small relative to the cost of a
// linear scan.
func exactDuplicate(cl *cell.Cell, p octree.Point) bool {
	for _, existing := range cl.Points() {
		if existing.X == p.X && existing.Y == p.Y && existing.Z == p.Z {
			return true
		}
	}
	return false
}

func validPoint(p octree.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}

// RunWorkers fans batches pulled from pull out across n goroutines via
// errgroup (spec §5), calling process for every point and clipping each
// worker's Clipper after every batch and once more before returning.
func RunWorkers(
	ctx context.Context, n int,
	clipperFor func(i int) *cache.Clipper,
	pull func(ctx context.Context, n int) ([]octree.Point, error),
	process func(ctx context.Context, clipper *cache.Clipper, p octree.Point) error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			clipper := clipperFor(i)
			for {
				if gctx.Err() != nil {
					clipper.Clip()
					return gctx.Err()
				}
				batch, err := pull(gctx, batchSize)
				if err != nil {
					clipper.Clip()
					return err
				}
				if len(batch) == 0 {
					clipper.Clip()
					return nil
				}
				for _, p := range batch {
					if err := process(gctx, clipper, p); err != nil {
						clipper.Clip()
						return err
					}
				}
				clipper.Clip()
			}
		})
	}
	return g.Wait()
}
