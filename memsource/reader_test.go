package memsource

import (
	"context"
	"testing"

	"github.com/spatialio/octree"
	"github.com/stretchr/testify/require"
)

func TestReader_OpenNextBatchEOF(t *testing.T) {
	r := NewReader()
	r.Register("a.bin", []octree.Point{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}}, "EPSG:4326")

	ctx := context.Background()
	h, err := r.Open(ctx, "a.bin", "")
	require.NoError(t, err)

	batch, err := r.NextBatch(ctx, h, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	batch, err = r.NextBatch(ctx, h, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	batch, err = r.NextBatch(ctx, h, 10)
	require.NoError(t, err)
	require.Empty(t, batch)
}

func TestReader_Info(t *testing.T) {
	r := NewReader()
	r.Register("b.bin", []octree.Point{{X: -1, Y: 2, Z: 0}, {X: 3, Y: -2, Z: 5}}, "EPSG:3857")

	info, err := r.Info(context.Background(), "b.bin", "")
	require.NoError(t, err)
	require.Equal(t, uint64(2), info.Points)
	require.Equal(t, "EPSG:3857", info.SRS)
	require.Equal(t, -1.0, info.Bounds.MinX)
	require.Equal(t, 5.0, info.Bounds.MaxZ)
}

func TestReader_UnknownPath(t *testing.T) {
	r := NewReader()
	_, err := r.Open(context.Background(), "missing", "")
	require.Error(t, err)
	require.True(t, octree.IsKind(err, octree.InvalidInput))
}
