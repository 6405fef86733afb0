package chunkio

import (
	"context"
	"strings"
	"sync"

	"github.com/spatialio/octree"
)

// MemEndpoint is an in-memory Endpoint used by tests and by
// library users operating entirely on in-process data.
type MemEndpoint struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemEndpoint returns an empty in-memory endpoint.
func NewMemEndpoint() *MemEndpoint {
	return &MemEndpoint{data: make(map[string][]byte)}
}

func (m *MemEndpoint) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, octree.NewError(octree.EndpointIoError, "memendpoint: key not found: "+key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemEndpoint) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	return nil
}

func (m *MemEndpoint) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *MemEndpoint) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemEndpoint) Copy(ctx context.Context, src, dst string) error {
	return CopyViaGetPut(ctx, m, src, dst)
}
