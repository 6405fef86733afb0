package octree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSubset_E4Scenario(t *testing.T) {
	global, _ := NewBounds(0, 0, 0, 16, 16, 16)
	s, err := NewSubset(3, 4, global)
	require.NoError(t, err)
	require.Equal(t, Bounds{MinX: 8, MinY: 0, MinZ: 0, MaxX: 16, MaxY: 8, MaxZ: 16}, s.Sub)
	require.Equal(t, uint32(1), s.MinimumNullDepth)
}

func TestNewSubset_RejectsNonPowerOfFour(t *testing.T) {
	global, _ := NewBounds(0, 0, 0, 16, 16, 16)
	_, err := NewSubset(1, 8, global)
	require.Error(t, err)
}

func TestSubset_CalcSpansCoversWholeDepth(t *testing.T) {
	global, _ := NewBounds(0, 0, 0, 16, 16, 16)
	const of = 4
	seen := make(map[[2]uint64]bool)
	for id := uint64(1); id <= of; id++ {
		s, err := NewSubset(id, of, global)
		require.NoError(t, err)
		spans := s.CalcSpans(s.MinimumNullDepth + 1)
		require.Len(t, spans, 1)
		span := spans[0]
		for x := span.MinX; x <= span.MaxX; x++ {
			for y := span.MinY; y <= span.MaxY; y++ {
				seen[[2]uint64{x, y}] = true
			}
		}
	}
	cellsPerAxis := uint64(1) << 1
	require.Len(t, seen, int(cellsPerAxis*cellsPerAxis))
}

func TestSubset_Contains(t *testing.T) {
	global, _ := NewBounds(0, 0, 0, 16, 16, 16)
	s, err := NewSubset(3, 4, global)
	require.NoError(t, err)
	require.True(t, s.Contains(ChunkKey{Depth: 1, X: 1, Y: 0, Z: 0}))
	require.False(t, s.Contains(ChunkKey{Depth: 1, X: 0, Y: 0, Z: 0}))
	require.False(t, s.Contains(ChunkKey{Depth: 0, X: 0, Y: 0, Z: 0}))
}
