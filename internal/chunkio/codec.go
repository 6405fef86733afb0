// Package chunkio implements the chunk binary codec (spec §4.3, §6) and
// the Endpoint storage abstraction the core builds against. The manual
// header/body packing is grounded on the teacher's
// internal/structures/btree_chunk.go serializeChunkBTreeNode, which packs
// a B-tree node by hand with encoding/binary rather than a generic codec
// library; we keep that idiom for the chunk header and switch the body's
// optional compression to github.com/klauspost/compress/zstd, the
// compression binding the rest of the retrieval pack uses for hierarchical
// spatial formats (protomaps-go-pmtiles).
package chunkio

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
	"github.com/spatialio/octree"
	"github.com/spatialio/octree/internal/utils"
)

// magic identifies a chunk body in the "EWCK" form spec §4.3 names.
var magic = [4]byte{'E', 'W', 'C', 'K'}

const (
	flagRaw  uint16 = 0
	flagZstd uint16 = 1

	headerSize = 24
)

// Header is the fixed-size prefix of every serialized chunk.
type Header struct {
	Version          uint16
	Flags            uint16
	PointCount       uint32
	UncompressedSize uint32
	CompressedSize   uint32
}

// EncodeCell packs points according to schema into the on-disk chunk
// format, compressing the body with zstd when compress is true.
func EncodeCell(points []octree.Point, schema octree.Schema, compress bool) ([]byte, error) {
	body, err := packBody(points, schema)
	if err != nil {
		return nil, octree.WrapError(octree.InvalidInput, "chunkio: packing body", err)
	}

	flags := flagRaw
	payload := body
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, octree.WrapError(octree.EndpointIoError, "chunkio: creating zstd encoder", err)
		}
		// The destination buffer is pooled: EncodeAll may grow past its
		// initial capacity, but whatever it returns is copied into w below
		// before this function returns, so it is safe to release immediately
		// after.
		scratch := utils.GetBuffer(0)
		payload = enc.EncodeAll(body, scratch)
		_ = enc.Close()
		flags = flagZstd
		defer utils.ReleaseBuffer(payload)
	}

	buf := make([]byte, 0, headerSize+len(payload))
	w := bytes.NewBuffer(buf)
	w.Write(magic[:])
	binary.Write(w, binary.LittleEndian, uint16(1)) // version
	binary.Write(w, binary.LittleEndian, flags)
	binary.Write(w, binary.LittleEndian, uint32(len(points)))
	binary.Write(w, binary.LittleEndian, uint32(len(body)))
	binary.Write(w, binary.LittleEndian, uint32(len(payload)))
	w.Write(make([]byte, 4)) // reserved, pads header to 24 bytes
	w.Write(payload)

	return w.Bytes(), nil
}

// DecodeCell verifies the header and unpacks points according to schema.
// A bad magic or a size mismatch between the header and the actual payload
// returns a ChunkCorrupt error (spec §4.3).
func DecodeCell(data []byte, schema octree.Schema) ([]octree.Point, error) {
	if len(data) < headerSize {
		return nil, octree.NewError(octree.ChunkCorrupt, "chunkio: data shorter than header")
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return nil, octree.NewError(octree.ChunkCorrupt, "chunkio: bad magic")
	}

	r := bytes.NewReader(data[4:headerSize])
	var hdr Header
	binary.Read(r, binary.LittleEndian, &hdr.Version)
	binary.Read(r, binary.LittleEndian, &hdr.Flags)
	binary.Read(r, binary.LittleEndian, &hdr.PointCount)
	binary.Read(r, binary.LittleEndian, &hdr.UncompressedSize)
	binary.Read(r, binary.LittleEndian, &hdr.CompressedSize)

	payload := data[headerSize:]
	if uint32(len(payload)) != hdr.CompressedSize {
		return nil, octree.NewError(octree.ChunkCorrupt, "chunkio: payload size mismatch")
	}
	if uint64(hdr.UncompressedSize) > utils.MaxChunkSize {
		return nil, octree.NewError(octree.ChunkCorrupt, "chunkio: uncompressed size exceeds maximum chunk size")
	}

	var body []byte
	switch hdr.Flags {
	case flagRaw:
		body = payload
	case flagZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, octree.WrapError(octree.EndpointIoError, "chunkio: creating zstd decoder", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(payload, make([]byte, 0, hdr.UncompressedSize))
		if err != nil {
			return nil, octree.WrapError(octree.ChunkCorrupt, "chunkio: zstd decode", err)
		}
		body = out
	default:
		return nil, octree.NewError(octree.ChunkCorrupt, "chunkio: unknown flags")
	}

	if uint32(len(body)) != hdr.UncompressedSize {
		return nil, octree.NewError(octree.ChunkCorrupt, "chunkio: uncompressed size mismatch")
	}
	if uint64(hdr.PointCount)*uint64(24+schema.ByteWidth()) > uint64(len(body)) {
		return nil, octree.NewError(octree.ChunkCorrupt, "chunkio: point count exceeds body size")
	}

	return unpackBody(body, schema, int(hdr.PointCount))
}
