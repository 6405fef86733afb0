package octree

// DimensionType enumerates the scalar storage types a Dimension may use.
type DimensionType int

const (
	DimFloat64 DimensionType = iota
	DimFloat32
	DimInt32
	DimUint32
	DimInt16
	DimUint16
	DimUint8
)

// Size returns the packed byte width of one value of this type.
func (t DimensionType) Size() int {
	switch t {
	case DimFloat64:
		return 8
	case DimFloat32, DimInt32, DimUint32:
		return 4
	case DimInt16, DimUint16:
		return 2
	case DimUint8:
		return 1
	default:
		return 0
	}
}

// Dimension describes one named channel of a Point record beyond the
// mandatory X/Y/Z triple — e.g. Intensity, Classification, Red/Green/Blue,
// GpsTime. The schema (ordered Dimension list) is fixed at build time and
// stored verbatim in the Manifest.
type Dimension struct {
	Name string        `json:"name"`
	Type DimensionType `json:"type"`
	// Scale and Offset are recorded in the schema (and so in the
	// Manifest); the chunk codec does not apply them and packs each value
	// as given, converted to Type.
	Scale  float64 `json:"scale,omitempty"`
	Offset float64 `json:"offset,omitempty"`
}

// Schema is the ordered list of auxiliary dimensions carried by every
// Point in a build, in addition to the mandatory X, Y, Z coordinates.
type Schema struct {
	Dimensions []Dimension `json:"dimensions"`
}

// ByteWidth is the packed size of one Point's auxiliary payload, excluding
// the X/Y/Z triple which ChunkStore always stores as three float64s.
func (s Schema) ByteWidth() int {
	n := 0
	for _, d := range s.Dimensions {
		n += d.Type.Size()
	}
	return n
}

// Point is one ingested record: a coordinate plus a schema-ordered slice
// of auxiliary values. Values are stored as float64 in memory regardless
// of their on-disk packed type; ChunkStore performs the narrowing/widening
// conversion at encode/decode time.
type Point struct {
	X, Y, Z float64
	Values  []float64
}
