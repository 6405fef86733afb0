package chunkio

import (
	"testing"

	"github.com/spatialio/octree"
	"github.com/stretchr/testify/require"
)

func schemaWithIntensity() octree.Schema {
	return octree.Schema{Dimensions: []octree.Dimension{{Name: "Intensity", Type: octree.DimUint16}}}
}

func TestEncodeDecodeCell_RawRoundTrip(t *testing.T) {
	schema := schemaWithIntensity()
	points := []octree.Point{
		{X: 1, Y: 2, Z: 3, Values: []float64{100}},
		{X: 4, Y: 5, Z: 6, Values: []float64{200}},
	}

	data, err := EncodeCell(points, schema, false)
	require.NoError(t, err)

	out, err := DecodeCell(data, schema)
	require.NoError(t, err)
	require.Equal(t, points, out)
}

func TestEncodeDecodeCell_ZstdRoundTrip(t *testing.T) {
	schema := schemaWithIntensity()
	points := make([]octree.Point, 0, 100)
	for i := 0; i < 100; i++ {
		points = append(points, octree.Point{X: float64(i), Y: float64(i * 2), Z: 0, Values: []float64{float64(i % 65535)}})
	}

	data, err := EncodeCell(points, schema, true)
	require.NoError(t, err)

	out, err := DecodeCell(data, schema)
	require.NoError(t, err)
	require.Equal(t, points, out)
}

func TestDecodeCell_BadMagic(t *testing.T) {
	_, err := DecodeCell(make([]byte, 30), octree.Schema{})
	require.Error(t, err)
	require.True(t, octree.IsKind(err, octree.ChunkCorrupt))
}

func TestDecodeCell_TooShort(t *testing.T) {
	_, err := DecodeCell([]byte{'E', 'W'}, octree.Schema{})
	require.Error(t, err)
	require.True(t, octree.IsKind(err, octree.ChunkCorrupt))
}

func TestEncodeCell_SchemaMismatch(t *testing.T) {
	schema := schemaWithIntensity()
	_, err := EncodeCell([]octree.Point{{X: 1, Y: 1, Z: 1}}, schema, false)
	require.Error(t, err)
}
