package chunkio

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/spatialio/octree"
	"github.com/spatialio/octree/internal/utils"
)

// packBody writes each point as X,Y,Z (float64) followed by its schema
// dimensions narrowed to their declared storage type, in insertion order —
// the "each as a packed tuple matching the manifest schema" body layout of
// spec §4.3.
func packBody(points []octree.Point, schema octree.Schema) ([]byte, error) {
	width := uint64(24 + schema.ByteWidth())
	size, err := utils.SafeMultiply(width, uint64(len(points)))
	if err != nil {
		return nil, octree.WrapError(octree.InvalidInput, "chunkio: packed body size overflow", err)
	}
	if size != 0 {
		if err := utils.ValidateBufferSize(size, utils.MaxChunkSize, "chunk body"); err != nil {
			return nil, octree.WrapError(octree.InvalidInput, "chunkio: packed body too large", err)
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))

	for _, p := range points {
		binary.Write(buf, binary.LittleEndian, p.X)
		binary.Write(buf, binary.LittleEndian, p.Y)
		binary.Write(buf, binary.LittleEndian, p.Z)

		if len(p.Values) != len(schema.Dimensions) {
			return nil, octree.NewError(octree.InvalidInput, "chunkio: point value count does not match schema")
		}
		for i, dim := range schema.Dimensions {
			if err := writeDim(buf, dim.Type, p.Values[i]); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

func writeDim(buf *bytes.Buffer, t octree.DimensionType, v float64) error {
	switch t {
	case octree.DimFloat64:
		return binary.Write(buf, binary.LittleEndian, v)
	case octree.DimFloat32:
		return binary.Write(buf, binary.LittleEndian, float32(v))
	case octree.DimInt32:
		return binary.Write(buf, binary.LittleEndian, int32(v))
	case octree.DimUint32:
		return binary.Write(buf, binary.LittleEndian, uint32(v))
	case octree.DimInt16:
		return binary.Write(buf, binary.LittleEndian, int16(v))
	case octree.DimUint16:
		return binary.Write(buf, binary.LittleEndian, uint16(v))
	case octree.DimUint8:
		return binary.Write(buf, binary.LittleEndian, uint8(v))
	default:
		return octree.NewError(octree.InvalidInput, "chunkio: unknown dimension type")
	}
}

func readDim(r *bytes.Reader, t octree.DimensionType) (float64, error) {
	switch t {
	case octree.DimFloat64:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case octree.DimFloat32:
		var v float32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case octree.DimInt32:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case octree.DimUint32:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case octree.DimInt16:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case octree.DimUint16:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case octree.DimUint8:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	default:
		return 0, octree.NewError(octree.InvalidInput, "chunkio: unknown dimension type")
	}
}

func unpackBody(body []byte, schema octree.Schema, count int) ([]octree.Point, error) {
	r := bytes.NewReader(body)
	points := make([]octree.Point, 0, count)

	for i := 0; i < count; i++ {
		var x, y, z float64
		if err := binary.Read(r, binary.LittleEndian, &x); err != nil {
			return nil, octree.WrapError(octree.ChunkCorrupt, "chunkio: reading X", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &y); err != nil {
			return nil, octree.WrapError(octree.ChunkCorrupt, "chunkio: reading Y", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &z); err != nil {
			return nil, octree.WrapError(octree.ChunkCorrupt, "chunkio: reading Z", err)
		}
		if math.IsNaN(x) {
			return nil, octree.NewError(octree.ChunkCorrupt, "chunkio: NaN coordinate in stored chunk")
		}

		values := make([]float64, len(schema.Dimensions))
		for d, dim := range schema.Dimensions {
			v, err := readDim(r, dim.Type)
			if err != nil {
				return nil, octree.WrapError(octree.ChunkCorrupt, "chunkio: reading dimension "+dim.Name, err)
			}
			values[d] = v
		}
		points = append(points, octree.Point{X: x, Y: y, Z: z, Values: values})
	}
	return points, nil
}
