// Package cell implements the fixed-capacity, thread-safe point bucket
// backing one octree node (spec §3 Cell, §4.2). Grounded on the teacher's
// internal/writer/chunk_coordinator.go (the component that knows how a
// dataset subdivides into fixed-size pieces) for the "size-bounded unit of
// storage" shape, and on internal/rebalancing's fill-ratio/threshold idiom
// for the base-cell overflow rule.
package cell

import (
	"sync"

	"github.com/spatialio/octree"
)

// Cell holds the points belonging to one ChunkKey. A base cell reserves
// half its capacity as an overflow buffer; an overflow (ordinary leaf)
// cell uses its full capacity for resident points. Exceeding capacity at
// maxDepth is handled by the caller (Builder), not here — Cell.TryInsert
// only ever reports success or "full".
type Cell struct {
	mu sync.Mutex

	isBase      int // capacity available to "normal" inserts
	overflowCap int // additional capacity reserved for the overflow buffer (base cells only)

	points   []octree.Point
	overflow []octree.Point // populated only while isBase

	forceOversize bool // set once maxDepth is reached; disables the capacity check
}

// NewBase returns a base cell with capacity split evenly between its
// resident region and its overflow buffer.
func NewBase(capacity int) *Cell {
	half := capacity / 2
	if half < 1 {
		half = 1
	}
	return &Cell{isBase: half, overflowCap: capacity - half}
}

// NewLeaf returns an ordinary overflow-depth cell with no reserved
// overflow buffer.
func NewLeaf(capacity int) *Cell {
	return &Cell{isBase: capacity, overflowCap: 0}
}

// IsBase reports whether this cell reserves an overflow buffer.
func (c *Cell) IsBase() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowCap > 0
}

// TryInsert appends p to the cell's resident region if there is room,
// reporting false (not an error — overflow is a normal signal, spec §4.2)
// when the cell is at capacity. If forceOversize was set via ForceAccept,
// the insert always succeeds.
func (c *Cell) TryInsert(p octree.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forceOversize {
		c.points = append(c.points, p)
		return true
	}
	if len(c.points) >= c.isBase {
		return false
	}
	c.points = append(c.points, p)
	return true
}

// TryInsertOverflow appends p to a base cell's overflow buffer, reporting
// false when that buffer is full. Calling this on a non-base cell panics:
// it is a Builder logic error, not a runtime condition.
func (c *Cell) TryInsertOverflow(p octree.Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overflowCap == 0 {
		panic("cell: TryInsertOverflow called on a non-base cell")
	}
	if len(c.overflow) >= c.overflowCap {
		return false
	}
	c.overflow = append(c.overflow, p)
	return true
}

// ForceAccept marks the cell as having reached the builder's maxDepth cap:
// further inserts bypass the capacity check and the cell is allowed to
// grow unbounded (spec §4.6, duplicate-coordinate runs).
func (c *Cell) ForceAccept() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceOversize = true
}

// Size returns the number of resident (non-overflow) points.
func (c *Cell) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

// Points returns a snapshot copy of the cell's resident points, safe to
// use after the lock is released.
func (c *Cell) Points() []octree.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]octree.Point, len(c.points))
	copy(out, c.points)
	return out
}

// SwapOutOverflow atomically empties and returns the overflow buffer, used
// by the Builder to re-descend a batch of points one more level once the
// buffer threshold is reached (spec §4.2/4.6). Returns nil on a non-base
// or empty-buffer cell.
func (c *Cell) SwapOutOverflow() []octree.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.overflow) == 0 {
		return nil
	}
	out := c.overflow
	c.overflow = nil
	return out
}

// OverflowFull reports whether the base cell's overflow buffer is at
// capacity and should be drained.
func (c *Cell) OverflowFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowCap > 0 && len(c.overflow) >= c.overflowCap
}

// OverflowLen reports how many points currently sit in the overflow
// buffer (0 for a non-base cell or an empty buffer), without consuming
// them the way SwapOutOverflow does.
func (c *Cell) OverflowLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.overflow)
}

// LoadFrom replaces the cell's resident points with pts, used when
// rehydrating a cell from a stored chunk (ChunkCache miss-then-load path).
func (c *Cell) LoadFrom(pts []octree.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = pts
}
