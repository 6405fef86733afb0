// Package hierarchy implements the sparse ChunkKey -> point-count map of
// spec §3/§4.7, partitioned into storage blocks by a step parameter.
// Grounded on the teacher's internal/structures/btreev2_write.go and
// btreev2_incremental.go, which maintain a persistent index as entries are
// added; the same incremental-update idiom is adapted here to a flat
// sharded map instead of a B-tree node, because the spec defines the
// hierarchy as a map, not a tree.
package hierarchy

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spatialio/octree"
)

const shardCount = 64

// Map is a concurrent ChunkKey -> point-count map, sharded by the hash of
// the encoded key to keep lock contention low under many worker
// goroutines (spec §5: "the hierarchy map is a sharded concurrent map by
// top-level ChunkKey bits" — sharding by xxhash of the full key form is
// equivalent and avoids skew when most activity sits at one top-level
// octant).
type Map struct {
	shards [shardCount]shard
}

type shard struct {
	mu     sync.RWMutex
	counts map[octree.ChunkKey]uint64
}

// New returns an empty hierarchy map.
func New() *Map {
	m := &Map{}
	for i := range m.shards {
		m.shards[i].counts = make(map[octree.ChunkKey]uint64)
	}
	return m
}

func (m *Map) shardFor(key octree.ChunkKey) *shard {
	h := xxhash.Sum64String(key.String())
	return &m.shards[h%uint64(shardCount)]
}

// Set overwrites key's point count. Used when a Cell is finalized (written
// through to the ChunkStore): the hierarchy entry always reflects the
// authoritative on-disk count, never an accumulated delta (spec invariant
// 4: hierarchy count must equal the chunk's actual point count).
func (m *Map) Set(key octree.ChunkKey, count uint64) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if count == 0 {
		delete(s.counts, key)
		return
	}
	s.counts[key] = count
}

// Get returns key's point count and whether it is present (non-empty).
func (m *Map) Get(key octree.ChunkKey) (uint64, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.counts[key]
	return v, ok
}

// Len returns the number of non-empty entries across all shards.
func (m *Map) Len() int {
	n := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		n += len(m.shards[i].counts)
		m.shards[i].mu.RUnlock()
	}
	return n
}

// Each calls fn for every non-empty entry. fn must not call back into m.
func (m *Map) Each(fn func(key octree.ChunkKey, count uint64)) {
	for i := range m.shards {
		m.shards[i].mu.RLock()
		for k, v := range m.shards[i].counts {
			fn(k, v)
		}
		m.shards[i].mu.RUnlock()
	}
}

// blockRoot returns the depth at which key's owning hierarchy block is
// rooted, per spec §4.7: floor(d/step)*step.
func blockRoot(depth uint32, step uint32) uint32 {
	if step == 0 {
		return 0
	}
	return (depth / step) * step
}

// Partition groups every entry into JSON-serializable blocks keyed by
// their block-root depth and the (x,y,z) of the deepest ancestor at that
// depth — spec §4.7. Only non-empty blocks are returned.
func (m *Map) Partition(step uint32) map[string]map[string]uint64 {
	blocks := make(map[string]map[string]uint64)
	m.Each(func(key octree.ChunkKey, count uint64) {
		root := blockRoot(key.Depth, step)
		ancestor := key
		for ancestor.Depth > root {
			ancestor = ancestor.Parent()
		}
		blockName := ancestor.String()
		b, ok := blocks[blockName]
		if !ok {
			b = make(map[string]uint64)
			blocks[blockName] = b
		}
		b[key.String()] = count
	})
	return blocks
}

// EncodeBlock serializes one block's entries as the JSON object spec §4.7
// describes ("d-x-y-z": count).
func EncodeBlock(entries map[string]uint64) ([]byte, error) {
	return json.Marshal(entries)
}

// DecodeBlock parses one hierarchy block's JSON body.
func DecodeBlock(data []byte) (map[string]uint64, error) {
	var out map[string]uint64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, octree.WrapError(octree.ChunkCorrupt, "hierarchy: decoding block", err)
	}
	return out, nil
}

// ParseKey parses the "<d>-<x>-<y>-<z>" form ChunkKey.String/Partition
// produce, the inverse of ChunkKey.String.
func ParseKey(s string) (octree.ChunkKey, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return octree.ChunkKey{}, octree.NewError(octree.InvalidInput, "hierarchy: malformed key "+s)
	}
	d, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return octree.ChunkKey{}, octree.WrapError(octree.InvalidInput, "hierarchy: bad depth in "+s, err)
	}
	x, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return octree.ChunkKey{}, octree.WrapError(octree.InvalidInput, "hierarchy: bad x in "+s, err)
	}
	y, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return octree.ChunkKey{}, octree.WrapError(octree.InvalidInput, "hierarchy: bad y in "+s, err)
	}
	z, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return octree.ChunkKey{}, octree.WrapError(octree.InvalidInput, "hierarchy: bad z in "+s, err)
	}
	return octree.ChunkKey{Depth: uint32(d), X: x, Y: y, Z: z}, nil
}

// BlockSource is the narrow read surface Load needs from a chunkio.Endpoint
// — duplicated in shape rather than imported so this package stays
// storage-agnostic (it has no other reason to know about chunkio).
type BlockSource interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Load reads every hierarchy block under dir on src and returns the
// reconstructed Map, used to resume a build or feed a Merger from an
// already-written hierarchy.
func Load(ctx context.Context, src BlockSource, dir string) (*Map, error) {
	m := New()
	keys, err := src.List(ctx, dir+"/")
	if err != nil {
		return nil, octree.WrapError(octree.EndpointIoError, "hierarchy: listing blocks", err)
	}
	for _, k := range keys {
		data, err := src.Get(ctx, k)
		if err != nil {
			return nil, octree.WrapError(octree.EndpointIoError, "hierarchy: reading block "+k, err)
		}
		entries, err := DecodeBlock(data)
		if err != nil {
			return nil, err
		}
		for ks, count := range entries {
			key, err := ParseKey(ks)
			if err != nil {
				return nil, err
			}
			m.Set(key, count)
		}
	}
	return m, nil
}
