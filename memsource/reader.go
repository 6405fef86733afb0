// Package memsource provides an in-memory octree.SourceReader, for tests
// and for library users who already hold Point slices in memory (for
// example, re-inserting a merged subset). It performs no file decoding —
// grounded on the teacher's internal/testing.MockReaderAt, the same
// "wrap a byte/value slice behind the production interface" shape,
// generalized from io.ReaderAt to octree.SourceReader.
package memsource

import (
	"context"
	"sync"

	"github.com/spatialio/octree"
)

// Reader serves Point slices registered under a path via Register. It is
// safe for concurrent use by multiple build workers.
type Reader struct {
	mu      sync.RWMutex
	sources map[string][]octree.Point
	srs     map[string]string
}

// NewReader returns an empty in-memory reader.
func NewReader() *Reader {
	return &Reader{
		sources: make(map[string][]octree.Point),
		srs:     make(map[string]string),
	}
}

// Register associates path with a fixed slice of points and an optional
// spatial reference string, making it openable via Open.
func (r *Reader) Register(path string, points []octree.Point, srs string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[path] = points
	r.srs[path] = srs
}

type handle struct {
	points []octree.Point
	cursor int
}

// Open returns a handle over the points registered under path. pipeline is
// ignored; this reader never reprojects or filters.
func (r *Reader) Open(_ context.Context, path string, _ string) (octree.SourceHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pts, ok := r.sources[path]
	if !ok {
		return nil, octree.NewError(octree.InvalidInput, "memsource: unknown path "+path)
	}
	return &handle{points: pts}, nil
}

// NextBatch returns up to n points from h, advancing its cursor.
func (r *Reader) NextBatch(_ context.Context, h octree.SourceHandle, n int) ([]octree.Point, error) {
	hd, ok := h.(*handle)
	if !ok {
		return nil, octree.NewError(octree.InvalidInput, "memsource: invalid handle")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if hd.cursor >= len(hd.points) {
		return nil, nil
	}
	end := hd.cursor + n
	if end > len(hd.points) {
		end = len(hd.points)
	}
	batch := hd.points[hd.cursor:end]
	hd.cursor = end
	return batch, nil
}

// Info computes bounds, count, and SRS for path without mutating any open
// handle's cursor.
func (r *Reader) Info(_ context.Context, path string, _ string) (octree.SourceInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pts, ok := r.sources[path]
	if !ok {
		return octree.SourceInfo{}, octree.NewError(octree.InvalidInput, "memsource: unknown path "+path)
	}
	if len(pts) == 0 {
		return octree.SourceInfo{Points: 0, SRS: r.srs[path]}, nil
	}
	b := octree.Bounds{MinX: pts[0].X, MinY: pts[0].Y, MinZ: pts[0].Z, MaxX: pts[0].X, MaxY: pts[0].Y, MaxZ: pts[0].Z}
	for _, p := range pts[1:] {
		if p.X < b.MinX {
			b.MinX = p.X
		}
		if p.X > b.MaxX {
			b.MaxX = p.X
		}
		if p.Y < b.MinY {
			b.MinY = p.Y
		}
		if p.Y > b.MaxY {
			b.MaxY = p.Y
		}
		if p.Z < b.MinZ {
			b.MinZ = p.Z
		}
		if p.Z > b.MaxZ {
			b.MaxZ = p.Z
		}
	}
	return octree.SourceInfo{Bounds: b, Points: uint64(len(pts)), SRS: r.srs[path]}, nil
}

// Close is a no-op; memory sources hold no OS resources.
func (r *Reader) Close(octree.SourceHandle) error {
	return nil
}
