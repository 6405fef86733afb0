package octree

import "math"

// PointKey is a ChunkKey paired with the spatial Bounds of that node. It
// descends deterministically toward the octant containing a given point,
// breaking ties on shared faces toward the low side — grounded on the
// descent contract in spec §4.1 and the teacher's deterministic N-D
// coordinate derivation in internal/writer/chunk_coordinator.go.
type PointKey struct {
	Key    ChunkKey
	Bounds Bounds
}

// NewPointKey starts a descent at the root of the given bounds.
func NewPointKey(root Bounds) PointKey {
	return PointKey{Key: RootChunkKey, Bounds: root}
}

// validCoord reports whether x, y, z are finite numbers, required before any
// descent step is attempted. NaN/Inf coordinates are never valid.
func validCoord(x, y, z float64) bool {
	return !math.IsNaN(x) && !math.IsNaN(y) && !math.IsNaN(z) &&
		!math.IsInf(x, 0) && !math.IsInf(y, 0) && !math.IsInf(z, 0)
}

// octantOf returns the octant index containing (x,y,z) within b, breaking
// ties at the midpoint toward the low side on each axis.
func octantOf(b Bounds, x, y, z float64) int {
	cx, cy, cz := b.Mid()
	i := 0
	if x > cx {
		i |= 1
	}
	if y > cy {
		i |= 2
	}
	if z > cz {
		i |= 4
	}
	return i
}

// Step descends one level toward the octant containing (x,y,z), returning
// the updated PointKey. The caller must have already verified the point is
// inside the current Bounds (true by construction after the first step,
// and checked once at the root by the builder).
func (pk PointKey) Step(x, y, z float64) PointKey {
	i := octantOf(pk.Bounds, x, y, z)
	return PointKey{
		Key:    pk.Key.Child(i),
		Bounds: pk.Bounds.GetOctant(i),
	}
}

// BoundsForKey reconstructs the Bounds of key by descending root through
// the octant sequence encoded in key's own (depth,x,y,z) bits, most
// significant bit first — the inverse of repeatedly calling Step from a
// source point. Used when a ChunkKey is already known (e.g. a resident
// cache entry discovered by its key, not by walking a point down to it)
// and its Bounds must be rederived without a point to descend with.
func BoundsForKey(root Bounds, key ChunkKey) Bounds {
	b := root
	for i := uint32(0); i < key.Depth; i++ {
		shift := key.Depth - 1 - i
		oct := int((key.X>>shift)&1) | int((key.Y>>shift)&1)<<1 | int((key.Z>>shift)&1)<<2
		b = b.GetOctant(oct)
	}
	return b
}

// PointKeyForChunkKey returns the PointKey for key against root, with
// Bounds rederived via BoundsForKey.
func PointKeyForChunkKey(root Bounds, key ChunkKey) PointKey {
	return PointKey{Key: key, Bounds: BoundsForKey(root, key)}
}
