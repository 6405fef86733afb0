package octree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifest_Extension(t *testing.T) {
	require.Equal(t, "zst", Manifest{DataType: DataTypeZstandard}.Extension())
	require.Equal(t, "bin", Manifest{DataType: DataTypeBinary}.Extension())
}

func TestManifest_SourceIndex(t *testing.T) {
	m := Manifest{Sources: []Source{{Path: "a.las"}, {Path: "b.las"}}}
	require.Equal(t, 1, m.SourceIndex("b.las"))
	require.Equal(t, -1, m.SourceIndex("missing"))
}

func TestManifest_JSONRoundTrip(t *testing.T) {
	b, _ := NewBounds(0, 0, 0, 256, 256, 256)
	m := Manifest{
		Schema:        Schema{Dimensions: []Dimension{{Name: "Intensity", Type: DimUint16}}},
		Bounds:        b,
		Points:        1000,
		Span:          256,
		HierarchyStep: 6,
		ChunkCapacity: 4000,
		DataType:      DataTypeZstandard,
		MaxDepth:      26,
		Sources:       []Source{{Path: "a.las", Status: SourceInserted}},
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var out Manifest
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, m.Points, out.Points)
	require.Equal(t, m.Bounds, out.Bounds)
	require.Equal(t, m.Sources, out.Sources)
}
