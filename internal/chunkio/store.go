package chunkio

import (
	"context"

	"github.com/spatialio/octree"
)

// Store is the ChunkStore of spec §4.3/§4.5: it pairs the binary codec
// with an Endpoint, turning a Cell's point slice into a durable object and
// back. Grounded on the teacher's internal/writer.Writer (a FileWriter
// that allocates space and writes bytes at an address) — here Endpoint.Put
// is the write sink in place of an address-based Allocator, since each
// chunk is its own object rather than a region of one shared file.
type Store struct {
	Endpoint Endpoint
	Schema   octree.Schema
	Compress bool
	Ext      string // "bin" or "zst", mirrors Manifest.Extension()
	// Suffix, when non-empty, is appended to every key before the
	// extension (e.g. "-3" for subset id 3) so concurrent subset shards
	// writing the same ChunkKey never collide on one Endpoint (spec §4.8).
	Suffix string
	// Retry bounds how hard Write/Read retry a transient EndpointIoError
	// before giving up (spec §5). Zero value disables retrying.
	Retry RetryPolicy
}

// NewStore builds a Store from a manifest's schema/compression settings,
// with the default retry policy applied.
func NewStore(ep Endpoint, schema octree.Schema, compress bool, ext string) *Store {
	return &Store{Endpoint: ep, Schema: schema, Compress: compress, Ext: ext, Retry: DefaultRetryPolicy()}
}

func (s *Store) keyFor(key octree.ChunkKey) string {
	return "ept-data/" + key.String() + s.Suffix + "." + s.Ext
}

// Write serializes and persists the points for key. Writes are full-object
// PUTs, idempotent when the content is identical (spec §4.3).
func (s *Store) Write(ctx context.Context, key octree.ChunkKey, points []octree.Point) error {
	data, err := EncodeCell(points, s.Schema, s.Compress)
	if err != nil {
		return err
	}
	dest := s.keyFor(key)
	return withRetry(ctx, s.Retry, func() error {
		return s.Endpoint.Put(ctx, dest, data)
	})
}

// Read loads and deserializes the points for key. The bool return reports
// whether the chunk exists at all, distinguishing "not yet written" (not
// an error) from an I/O failure.
func (s *Store) Read(ctx context.Context, key octree.ChunkKey) ([]octree.Point, bool, error) {
	src := s.keyFor(key)

	var ok bool
	err := withRetry(ctx, s.Retry, func() error {
		var innerErr error
		ok, innerErr = s.Endpoint.Exists(ctx, src)
		return innerErr
	})
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	var data []byte
	err = withRetry(ctx, s.Retry, func() error {
		var innerErr error
		data, innerErr = s.Endpoint.Get(ctx, src)
		return innerErr
	})
	if err != nil {
		return nil, true, err
	}

	points, err := DecodeCell(data, s.Schema)
	if err != nil {
		return nil, true, err
	}
	return points, true, nil
}
