package cache

import (
	"context"

	"github.com/spatialio/octree"
	"github.com/spatialio/octree/internal/cell"
)

// Clipper is a per-worker batch pin-holder (spec §4.5): every Acquire a
// worker makes through its Clipper during one point batch is tracked here,
// and released as a single group on Clip, amortizing cache-map lookups and
// guaranteeing release even if batch processing errors out partway
// through. New relative to the teacher — HDF5 writes are single-goroutine
// against one file, so there's no equivalent batching concept — but
// shaped after the defer-guaranteed-release pattern used throughout the
// teacher's internal/writer package, generalized from one lock to a batch
// of pins.
type Clipper struct {
	cache   *Cache
	touched map[octree.ChunkKey]int
}

// NewClipper returns a Clipper bound to cache.
func NewClipper(cache *Cache) *Clipper {
	return &Clipper{cache: cache, touched: make(map[octree.ChunkKey]int)}
}

// Acquire pins key via the underlying cache and records the pin so Clip
// can release it later. Call once per logical need for the cell; calling
// it twice for the same key within a batch pins it twice and requires two
// releases, which Clip provides automatically.
func (c *Clipper) Acquire(ctx context.Context, key octree.ChunkKey) (*cell.Cell, error) {
	cl, err := c.cache.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	c.touched[key]++
	return cl, nil
}

// Clip releases every pin taken through this Clipper since the last Clip,
// in one pass, and resets the tracked set for the next batch.
func (c *Clipper) Clip() {
	for key, n := range c.touched {
		for i := 0; i < n; i++ {
			c.cache.Release(key)
		}
		delete(c.touched, key)
	}
}
