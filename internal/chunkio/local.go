package chunkio

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spatialio/octree"
)

// LocalEndpoint backs chunk/hierarchy/manifest storage with a directory on
// the local filesystem. Writes are full-object: data goes to a ".tmp"
// sibling that is then renamed into place, so a reader never sees a
// partially written object; concurrent writers on separate subset shards use distinct key prefixes
// so no two writers ever touch the same path.
type LocalEndpoint struct {
	Root string
}

// NewLocalEndpoint returns an endpoint rooted at dir, creating it if
// necessary.
func NewLocalEndpoint(dir string) (*LocalEndpoint, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, octree.WrapError(octree.EndpointIoError, "local: creating root dir", err)
	}
	return &LocalEndpoint{Root: dir}, nil
}

func (l *LocalEndpoint) path(key string) string {
	return filepath.Join(l.Root, filepath.FromSlash(key))
}

func (l *LocalEndpoint) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, octree.WrapError(octree.EndpointIoError, "local: not found: "+key, err)
		}
		return nil, octree.WrapError(octree.EndpointIoError, "local: reading "+key, err)
	}
	return data, nil
}

func (l *LocalEndpoint) Put(_ context.Context, key string, data []byte) error {
	p := l.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return octree.WrapError(octree.EndpointIoError, "local: creating dir for "+key, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return octree.WrapError(octree.EndpointIoError, "local: writing "+key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return octree.WrapError(octree.EndpointIoError, "local: renaming into place "+key, err)
	}
	return nil
}

func (l *LocalEndpoint) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, octree.WrapError(octree.EndpointIoError, "local: stat "+key, err)
}

func (l *LocalEndpoint) List(_ context.Context, prefix string) ([]string, error) {
	root := l.path(prefix)
	var out []string
	err := filepath.Walk(l.Root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.Root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(p, root) || strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
		return nil
	})
	if err != nil {
		return nil, octree.WrapError(octree.EndpointIoError, "local: listing "+prefix, err)
	}
	return out, nil
}

func (l *LocalEndpoint) Copy(ctx context.Context, src, dst string) error {
	return CopyViaGetPut(ctx, l, src, dst)
}
