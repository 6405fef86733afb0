package chunkio

import (
	"context"
	"errors"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/spatialio/octree"
	"google.golang.org/api/iterator"
)

// GCSEndpoint backs chunk/hierarchy/manifest storage with a GCS bucket and
// key prefix, grounded on cloud.google.com/go/storage — the GCS binding
// protomaps-go-pmtiles and direktiv-vorteil both carry for tiled/
// hierarchical spatial data Endpoints.
type GCSEndpoint struct {
	Client *gcs.Client
	Bucket string
	Prefix string
}

// NewGCSEndpoint wraps an already-configured *storage.Client. Building the
// client (credentials, project) is the caller's responsibility.
func NewGCSEndpoint(client *gcs.Client, bucket, prefix string) *GCSEndpoint {
	return &GCSEndpoint{Client: client, Bucket: bucket, Prefix: strings.Trim(prefix, "/")}
}

func (g *GCSEndpoint) fullKey(key string) string {
	if g.Prefix == "" {
		return key
	}
	return g.Prefix + "/" + key
}

func (g *GCSEndpoint) object(key string) *gcs.ObjectHandle {
	return g.Client.Bucket(g.Bucket).Object(g.fullKey(key))
}

func (g *GCSEndpoint) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, octree.WrapError(octree.EndpointIoError, "gcs: not found: "+key, err)
		}
		return nil, octree.WrapError(octree.EndpointIoError, "gcs: opening reader for "+key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, octree.WrapError(octree.EndpointIoError, "gcs: reading "+key, err)
	}
	return data, nil
}

func (g *GCSEndpoint) Put(ctx context.Context, key string, data []byte) error {
	w := g.object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return octree.WrapError(octree.EndpointIoError, "gcs: writing "+key, err)
	}
	if err := w.Close(); err != nil {
		return octree.WrapError(octree.EndpointIoError, "gcs: closing writer for "+key, err)
	}
	return nil
}

func (g *GCSEndpoint) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, octree.WrapError(octree.EndpointIoError, "gcs: attrs "+key, err)
	}
	return true, nil
}

func (g *GCSEndpoint) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.Client.Bucket(g.Bucket).Objects(ctx, &gcs.Query{Prefix: g.fullKey(prefix)})
	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, octree.WrapError(octree.EndpointIoError, "gcs: list "+prefix, err)
		}
		out = append(out, strings.TrimPrefix(attrs.Name, g.Prefix+"/"))
	}
	return out, nil
}

func (g *GCSEndpoint) Copy(ctx context.Context, src, dst string) error {
	_, err := g.object(dst).CopierFrom(g.object(src)).Run(ctx)
	if err != nil {
		return octree.WrapError(octree.EndpointIoError, "gcs: copy "+src+" -> "+dst, err)
	}
	return nil
}
