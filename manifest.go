package octree

// Manifest is the single top-level document describing a completed (or
// in-progress, resumable) build — spec §4.10, written last and read first
// by any consumer. It is the single source of truth for hierarchy step,
// chunk capacity, schema, and per-source status.
type Manifest struct {
	Schema        Schema   `json:"schema"`
	Bounds        Bounds   `json:"bounds"`
	Points        uint64   `json:"points"`
	SRS           string   `json:"srs"`
	Span          uint64   `json:"span"`
	HierarchyStep uint32   `json:"hierarchyStep"`
	ChunkCapacity int      `json:"chunkCapacity"`
	DataType      DataType `json:"dataType"`
	MaxDepth      uint32   `json:"maxDepth"`

	HasScaleOffset bool      `json:"hasScaleOffset,omitempty"`
	Scale          [3]float64 `json:"scale,omitempty"`
	Offset         [3]float64 `json:"offset,omitempty"`

	Subset *SubsetSpec `json:"subset,omitempty"`

	Sources []Source `json:"sources"`

	OutOfBounds     uint64 `json:"outOfBounds"`
	Invalid         uint64 `json:"invalid"`
	DuplicatePoints uint64 `json:"duplicatePoints"`

	SoftwareVersion string `json:"softwareVersion"`
	RunID           string `json:"runId"`
}

// ManifestPath is the well-known object name for the manifest under an
// output prefix.
const ManifestPath = "ept.json"

// HierarchyDir is the well-known prefix under which hierarchy blocks live.
const HierarchyDir = "ept-hierarchy"

// DataDir is the well-known prefix under which chunk bodies live.
const DataDir = "ept-data"

// SourcesDir is the well-known prefix under which per-source info lives.
const SourcesDir = "ept-sources"

// Extension returns the on-disk file extension for this manifest's
// DataType ("bin" or "zst").
func (m Manifest) Extension() string {
	switch m.DataType {
	case DataTypeZstandard:
		return "zst"
	default:
		return "bin"
	}
}

// SourceIndex returns the position of path within Sources, or -1.
func (m Manifest) SourceIndex(path string) int {
	for i, s := range m.Sources {
		if s.Path == path {
			return i
		}
	}
	return -1
}
