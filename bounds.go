package octree

// Bounds is an axis-aligned box [Min.X,Max.X] x [Min.Y,Max.Y] x [Min.Z,Max.Z].
// The zero value is not a valid Bounds; use NewBounds to construct one with
// the Min <= Max invariant checked.
type Bounds struct {
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
}

// NewBounds validates min <= max componentwise before returning a Bounds.
func NewBounds(minX, minY, minZ, maxX, maxY, maxZ float64) (Bounds, error) {
	b := Bounds{MinX: minX, MinY: minY, MinZ: minZ, MaxX: maxX, MaxY: maxY, MaxZ: maxZ}
	if minX > maxX || minY > maxY || minZ > maxZ {
		return Bounds{}, NewError(InvalidInput, "bounds min must be <= max")
	}
	return b, nil
}

// Mid returns the center point of the box along each axis.
func (b Bounds) Mid() (x, y, z float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2, (b.MinZ + b.MaxZ) / 2
}

// GrowBy expands the box symmetrically about its center by factor (1.0 is a
// no-op, 2.0 doubles each side length).
func (b Bounds) GrowBy(factor float64) Bounds {
	cx, cy, cz := b.Mid()
	hx := (b.MaxX - b.MinX) / 2 * factor
	hy := (b.MaxY - b.MinY) / 2 * factor
	hz := (b.MaxZ - b.MinZ) / 2 * factor
	return Bounds{
		MinX: cx - hx, MinY: cy - hy, MinZ: cz - hz,
		MaxX: cx + hx, MaxY: cy + hy, MaxZ: cz + hz,
	}
}

// GetOctant returns one of the eight equal sub-boxes of b. Bit 0 of i
// selects the X half (0=low,1=high), bit 1 selects Y, bit 2 selects Z.
func (b Bounds) GetOctant(i int) Bounds {
	cx, cy, cz := b.Mid()
	out := b
	if i&1 == 0 {
		out.MaxX = cx
	} else {
		out.MinX = cx
	}
	if i&2 == 0 {
		out.MaxY = cy
	} else {
		out.MinY = cy
	}
	if i&4 == 0 {
		out.MaxZ = cz
	} else {
		out.MinZ = cz
	}
	return out
}

// Contains reports whether the point (x,y,z) lies within b, inclusive of
// the low faces and exclusive of the high faces. Boundary-inclusive
// containment (e.g. the builder's root bounds check) uses ContainsInclusive.
func (b Bounds) Contains(x, y, z float64) bool {
	return x >= b.MinX && x < b.MaxX &&
		y >= b.MinY && y < b.MaxY &&
		z >= b.MinZ && z < b.MaxZ
}

// ContainsInclusive is like Contains but treats the high faces as inside
// too; used for the root bounds, whose high face is a legal point location
// (e.g. a source point exactly at MaxX).
func (b Bounds) ContainsInclusive(x, y, z float64) bool {
	return x >= b.MinX && x <= b.MaxX &&
		y >= b.MinY && y <= b.MaxY &&
		z >= b.MinZ && z <= b.MaxZ
}
