package octree

import "context"

// SourceInfo is the pre-analysis summary of one input produced by a
// SourceReader's Info method: bounds, point count, spatial reference, and
// any errors encountered while scanning it.
type SourceInfo struct {
	Bounds     Bounds
	Points     uint64
	SRS        string
	Dimensions []Dimension
	Errors     []string
}

// SourceStatus records how a single source fared during a build, surfaced
// verbatim in the Manifest's source list.
type SourceStatus string

const (
	SourcePending  SourceStatus = "pending"
	SourceInserted SourceStatus = "inserted"
	SourceFailed   SourceStatus = "failed"
)

// Source pairs one input path with its pre-analysis info and outcome.
type Source struct {
	Path   string       `json:"path"`
	Info   SourceInfo   `json:"info"`
	Status SourceStatus `json:"status"`
}

// SourceHandle is an opaque, implementation-defined handle returned by
// SourceReader.Open and threaded through subsequent NextBatch calls.
// ingest.Build shares one handle among all worker goroutines of a source,
// so NextBatch is called concurrently on the same handle.
type SourceHandle interface{}

// SourceReader is the external, black-box point-decoding collaborator this
// module consumes (spec §1, §6). Decoding of LAS/LAZ/CSV and any
// reprojection live entirely outside this module; SourceReader is the only
// seam through which point data enters a build.
type SourceReader interface {
	// Open prepares path for streaming reads, returning a handle private
	// to the caller. pipeline is an opaque, reader-specific processing
	// directive (e.g. a reprojection spec); readers that don't need one
	// may ignore it.
	Open(ctx context.Context, path string, pipeline string) (SourceHandle, error)
	// NextBatch returns up to n points from handle. An empty, non-error
	// result means end of stream.
	NextBatch(ctx context.Context, handle SourceHandle, n int) ([]Point, error)
	// Info returns the pre-analysis summary for path without necessarily
	// opening it for streaming.
	Info(ctx context.Context, path string, pipeline string) (SourceInfo, error)
	// Close releases any resources held by handle.
	Close(handle SourceHandle) error
}
