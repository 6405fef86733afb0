package chunkio

import "context"

// Endpoint is the abstract key-value backing store the core consumes
// (spec §6). Keys are slash-separated object names relative to an
// endpoint-specific root (e.g. a filesystem directory or an S3 bucket
// prefix).
type Endpoint interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	// Copy moves data from src to dst without a round trip through the
	// caller when the backing store supports it. Implementations that
	// cannot copy server-side fall back to Get+Put.
	Copy(ctx context.Context, src, dst string) error
}

// CopyViaGetPut is the generic get+put fallback Copy implementation,
// usable by any Endpoint that cannot copy server-side.
func CopyViaGetPut(ctx context.Context, ep Endpoint, src, dst string) error {
	data, err := ep.Get(ctx, src)
	if err != nil {
		return err
	}
	return ep.Put(ctx, dst, data)
}
