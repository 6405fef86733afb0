package octree

// Subset computes a spatial shard of a global Bounds (spec §4.8), grounded
// on the teacher's N-D coordinate/ceiling-division idiom in
// internal/writer/chunk_coordinator.go, adapted from a regular grid to the
// spec's alternating-axis quad-split.
type Subset struct {
	Id, Of           uint64
	Global           Bounds
	Sub              Bounds
	MinimumNullDepth uint32
}

// NewSubset splits global recursively, alternating X then Y, log4(of)
// times, and returns the id-th cell (1-indexed, row-major order).
func NewSubset(id, of uint64, global Bounds) (*Subset, error) {
	if !isPowerOfFour(of) {
		return nil, NewError(InvalidInput, "subset.of must be a power of four")
	}
	if id < 1 || id > of {
		return nil, NewError(InvalidInput, "subset.id must be in [1,of]")
	}

	k := uint32(0)
	for n := of; n > 1; n /= 4 {
		k++
	}

	// Each of the k splits divides the current box into 4 cells (2x2 in
	// X/Y, alternating which axis is "outer" has no effect on a 2x2 split
	// so we simply quarter X and Y together at each level): side = 2^k
	// cells per axis, id-1 decomposed in row-major (y varies fastest).
	side := uint64(1) << k
	idx := id - 1
	ix := idx / side
	iy := idx % side

	dx := (global.MaxX - global.MinX) / float64(side)
	dy := (global.MaxY - global.MinY) / float64(side)

	sub := Bounds{
		MinX: global.MinX + float64(ix)*dx,
		MaxX: global.MinX + float64(ix+1)*dx,
		MinY: global.MinY + float64(iy)*dy,
		MaxY: global.MinY + float64(iy+1)*dy,
		MinZ: global.MinZ,
		MaxZ: global.MaxZ,
	}

	return &Subset{Id: id, Of: of, Global: global, Sub: sub, MinimumNullDepth: k}, nil
}

// KeySpan is a contiguous, inclusive range of ChunkKey positions at one
// depth that lie inside a Subset's Sub bounds.
type KeySpan struct {
	Depth    uint32
	MinX, MinY, MinZ uint64
	MaxX, MaxY, MaxZ uint64
}

// CalcSpans computes, for each depth in [MinimumNullDepth, depthEnd), the
// contiguous range of ChunkKey positions at that depth owned by this
// subset (spec §4.8), used by the Merger to know which keys to expect from
// each shard.
func (s *Subset) CalcSpans(depthEnd uint32) []KeySpan {
	if depthEnd <= s.MinimumNullDepth {
		return nil
	}
	spans := make([]KeySpan, 0, depthEnd-s.MinimumNullDepth)
	for d := s.MinimumNullDepth; d < depthEnd; d++ {
		cellsPerAxis := uint64(1) << d
		relX := (s.Sub.MinX - s.Global.MinX) / (s.Global.MaxX - s.Global.MinX)
		relXMax := (s.Sub.MaxX - s.Global.MinX) / (s.Global.MaxX - s.Global.MinX)
		relY := (s.Sub.MinY - s.Global.MinY) / (s.Global.MaxY - s.Global.MinY)
		relYMax := (s.Sub.MaxY - s.Global.MinY) / (s.Global.MaxY - s.Global.MinY)

		minX := uint64(relX * float64(cellsPerAxis))
		maxX := uint64(relXMax*float64(cellsPerAxis)) - 1
		minY := uint64(relY * float64(cellsPerAxis))
		maxY := uint64(relYMax*float64(cellsPerAxis)) - 1

		spans = append(spans, KeySpan{
			Depth: d,
			MinX:  minX, MaxX: maxX,
			MinY: minY, MaxY: maxY,
			MinZ: 0, MaxZ: cellsPerAxis - 1,
		})
	}
	return spans
}

// Contains reports whether key's position falls within this subset's
// span at its own depth (for depths >= MinimumNullDepth only).
func (s *Subset) Contains(key ChunkKey) bool {
	if key.Depth < s.MinimumNullDepth {
		return false
	}
	spans := s.CalcSpans(key.Depth + 1)
	if len(spans) == 0 {
		return false
	}
	span := spans[len(spans)-1]
	return key.X >= span.MinX && key.X <= span.MaxX &&
		key.Y >= span.MinY && key.Y <= span.MaxY
}
