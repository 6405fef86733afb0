// Package cache implements the ChunkCache of spec §4.4: an LRU of
// materialized Cells keyed by ChunkKey, guaranteeing at most one in-flight
// load per key and spilling evicted cells to the ChunkStore. Grounded on
// the teacher's internal/rebalancing/selector.go (a victim-selection
// strategy over a tracked population — reused here for "pick the
// least-recently-released unpinned cell") plus
// golang.org/x/sync/singleflight for the at-most-one-load-per-key rule,
// which the teacher never needed (HDF5 writes are single-process against
// one file; this module's cache serves concurrent worker goroutines).
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/spatialio/octree"
	"github.com/spatialio/octree/internal/cell"
	"github.com/spatialio/octree/internal/chunkio"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	cell    *cell.Cell
	pins    int
	lruElem *list.Element // non-nil only while pins == 0
	dirty   bool
}

// Cache is the ChunkCache. Its index mutex guards only the residency map
// and the LRU list — O(1) scope, per spec §5 — while each Cell guards its
// own point slice independently.
type Cache struct {
	mu       sync.Mutex
	resident map[octree.ChunkKey]*entry
	lru      *list.List // holds octree.ChunkKey values for unpinned entries

	group singleflight.Group

	store      *chunkio.Store
	baseDepth  uint32
	chunkCap   int
	softCap    int
	hierarchy  HierarchyCounter
	logger     *zap.Logger
}

// HierarchyCounter is the subset of hierarchy.Map this cache needs to bump
// a node's point count when a cell is finalized — kept as a narrow
// interface so cache has no import-cycle dependency on the hierarchy
// package's concrete type.
type HierarchyCounter interface {
	Set(key octree.ChunkKey, count uint64)
}

// New returns a Cache backed by store, evicting down toward softCap
// resident cells once triggered. baseDepth and chunkCap configure newly
// created cells (base vs. leaf, and capacity).
func New(store *chunkio.Store, baseDepth uint32, chunkCap, softCap int, hierarchy HierarchyCounter, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		resident:  make(map[octree.ChunkKey]*entry),
		lru:       list.New(),
		store:     store,
		baseDepth: baseDepth,
		chunkCap:  chunkCap,
		softCap:   softCap,
		hierarchy: hierarchy,
		logger:    logger,
	}
}

func (c *Cache) newCellFor(key octree.ChunkKey) *cell.Cell {
	if key.Depth < c.baseDepth {
		return cell.NewBase(c.chunkCap)
	}
	return cell.NewLeaf(c.chunkCap)
}

// Acquire returns the resident (possibly newly loaded or newly created)
// Cell for key, with its pin count incremented. The caller must call
// Release (directly, or via a Clipper) exactly once per Acquire.
func (c *Cache) Acquire(ctx context.Context, key octree.ChunkKey) (*cell.Cell, error) {
	c.mu.Lock()
	if e, ok := c.resident[key]; ok {
		c.pin(e)
		c.mu.Unlock()
		return e.cell, nil
	}
	c.mu.Unlock()

	// Load-or-create happens at most once per key, across all concurrent
	// callers, via singleflight keyed by the key's string form.
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		points, found, err := c.store.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		cl := c.newCellFor(key)
		if found {
			cl.LoadFrom(points)
		}
		return cl, nil
	})
	if err != nil {
		return nil, err
	}
	cl := v.(*cell.Cell)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.resident[key]; ok {
		// another goroutine won the race to install the entry first.
		c.pin(e)
		return e.cell, nil
	}
	e := &entry{cell: cl, pins: 1}
	c.resident[key] = e
	return cl, nil
}

func (c *Cache) pin(e *entry) {
	if e.pins == 0 && e.lruElem != nil {
		c.lru.Remove(e.lruElem)
		e.lruElem = nil
	}
	e.pins++
}

// Release decrements key's pin count. At zero, the cell becomes eligible
// for eviction and is pushed to the back of the LRU list.
func (c *Cache) Release(key octree.ChunkKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.resident[key]
	if !ok {
		return
	}
	e.pins--
	e.dirty = true
	if e.pins <= 0 {
		e.pins = 0
		e.lruElem = c.lru.PushBack(key)
	}
}

// markClean clears the dirty flag for key, called after a successful
// write-through during eviction or flush.
func (c *Cache) markClean(key octree.ChunkKey) {
	if e, ok := c.resident[key]; ok {
		e.dirty = false
	}
}

// EvictIfOverCap writes through and drops the least-recently-released
// unpinned cells until resident count is at or below softCap (spec §4.4).
func (c *Cache) EvictIfOverCap(ctx context.Context) error {
	for {
		c.mu.Lock()
		if len(c.resident) <= c.softCap || c.lru.Len() == 0 {
			c.mu.Unlock()
			return nil
		}
		front := c.lru.Front()
		key := front.Value.(octree.ChunkKey)
		e := c.resident[key]
		c.lru.Remove(front)
		e.lruElem = nil
		c.mu.Unlock()

		if e.dirty {
			if err := c.store.Write(ctx, key, e.cell.Points()); err != nil {
				return err
			}
			if c.hierarchy != nil {
				c.hierarchy.Set(key, uint64(e.cell.Size()))
			}
		}

		c.mu.Lock()
		if e.pins == 0 {
			delete(c.resident, key)
		}
		// else: a concurrent Acquire repinned this entry while the
		// write-through above was in flight (its lruElem is already nil,
		// so pin() correctly treated it as freshly pinned rather than
		// touching the LRU list again). Deleting it here would discard a
		// cell a worker is actively inserting into, with no persisted or
		// resident copy surviving — spec §4.4 invariant (a). Leave it
		// resident and dirty; the worker's eventual Release re-queues it
		// on the LRU for a later eviction pass, and Flush writes it
		// through unconditionally at the end of the build regardless.
		c.mu.Unlock()
	}
}

// Flush writes through every resident dirty cell regardless of pin state,
// used at the end of a build and on cancellation (spec §5) so no resident
// point is ever lost.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]octree.ChunkKey, 0, len(c.resident))
	for k := range c.resident {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.mu.Lock()
		e, ok := c.resident[key]
		c.mu.Unlock()
		if !ok || !e.dirty {
			continue
		}
		if err := c.store.Write(ctx, key, e.cell.Points()); err != nil {
			return err
		}
		if c.hierarchy != nil {
			c.hierarchy.Set(key, uint64(e.cell.Size()))
		}
		c.mu.Lock()
		c.markClean(key)
		c.mu.Unlock()
	}
	return nil
}

// ResidentCount reports the current number of materialized cells, for
// tests and diagnostics.
func (c *Cache) ResidentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resident)
}

// BaseCellRef pairs a resident base cell with its ChunkKey, returned by
// ResidentBaseCells for a final overflow drain pass.
type BaseCellRef struct {
	Key  octree.ChunkKey
	Cell *cell.Cell
}

// ResidentBaseCells returns every currently resident base cell (one
// reserving an overflow buffer) together with its key. Used only at the
// end of a build to find overflow buffers that never reached OverflowFull
// and so were never drained during ingestion (spec §4.2/§4.6).
func (c *Cache) ResidentBaseCells() []BaseCellRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []BaseCellRef
	for k, e := range c.resident {
		if e.cell.IsBase() {
			out = append(out, BaseCellRef{Key: k, Cell: e.cell})
		}
	}
	return out
}
