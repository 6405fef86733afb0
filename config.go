package octree

import (
	"runtime"

	"go.uber.org/zap"
)

// DataType selects how chunk bodies are packed on disk.
type DataType int

const (
	DataTypeBinary DataType = iota
	DataTypeZstandard
)

// Reprojection carries an optional coordinate-system conversion directive
// passed through to the SourceReader; this module never interprets it.
type Reprojection struct {
	In     string
	Out    string
	Hammer bool
}

// SubsetSpec selects one shard of a sharded build (spec §4.8). Of must be
// a power of four; Id is in [1,Of].
type SubsetSpec struct {
	Id uint64
	Of uint64
}

// BuildConfig is the configuration surface of one build (spec §6). It is
// constructed via NewBuildConfig and a set of BuildOptions — grounded on
// the teacher's FileWriterOption / WithLazyRebalancing functional-options
// pattern in rebalancing_options.go.
type BuildConfig struct {
	Output string
	Input  []string

	Schema Schema
	Bounds *Bounds

	Threads       int
	Span          uint64
	ChunkCapacity int
	HierarchyStep uint32
	DataType      DataType

	HasScaleOffset bool
	Scale          [3]float64
	Offset         [3]float64

	Reprojection *Reprojection
	Subset       *SubsetSpec

	MaxDepth      uint32
	BaseDepth     uint32
	ResetFiles    bool
	Logger        *zap.Logger
	EvictInterval int
	SoftCap       int
}

// BuildOption configures a BuildConfig during construction.
type BuildOption func(*BuildConfig) error

// NewBuildConfig validates the required fields (Output, Input) first, then
// applies defaults (span 256, hierarchyStep 6, maxDepth 26, threads =
// hardware concurrency, chunkCapacity derived from span) and the supplied
// options, and finally checks subset, threads and chunkCapacity.
func NewBuildConfig(output string, input []string, opts ...BuildOption) (*BuildConfig, error) {
	if output == "" {
		return nil, NewError(InvalidInput, "output prefix is required")
	}
	if len(input) == 0 {
		return nil, NewError(InvalidInput, "at least one input source is required")
	}

	cfg := &BuildConfig{
		Output:        output,
		Input:         append([]string(nil), input...),
		Threads:       runtime.GOMAXPROCS(0),
		Span:          256,
		HierarchyStep: 6,
		DataType:      DataTypeZstandard,
		MaxDepth:      26,
		BaseDepth:     4,
		EvictInterval: 10000,
		SoftCap:       4096,
		Logger:        zap.NewNop(),
	}
	cfg.ChunkCapacity = defaultChunkCapacity(cfg.Span)

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Subset != nil {
		if !isPowerOfFour(cfg.Subset.Of) {
			return nil, NewError(InvalidInput, "subset.of must be a power of four")
		}
		if cfg.Subset.Id < 1 || cfg.Subset.Id > cfg.Subset.Of {
			return nil, NewError(InvalidInput, "subset.id must be in [1,of]")
		}
	}
	if cfg.Threads < 1 {
		return nil, NewError(InvalidInput, "threads must be >= 1")
	}
	if cfg.ChunkCapacity < 1 {
		return nil, NewError(InvalidInput, "chunkCapacity must be >= 1")
	}

	return cfg, nil
}

func defaultChunkCapacity(span uint64) int {
	// Larger spans imply a deeper addressable tree; keep a moderate
	// per-chunk capacity so base levels don't overflow immediately on
	// sparse inputs. Chosen empirically, not derived from the teacher
	// (spec §9 Open Question (b) leaves this implementation-defined).
	if span <= 64 {
		return 4000
	}
	return 10000
}

func isPowerOfFour(n uint64) bool {
	if n == 0 {
		return false
	}
	for n%4 == 0 {
		n /= 4
	}
	return n == 1
}

// WithThreads overrides the worker pool size (default: GOMAXPROCS).
func WithThreads(n int) BuildOption {
	return func(c *BuildConfig) error {
		c.Threads = n
		return nil
	}
}

// WithSpan sets the cube side length in addressable units (default 256);
// also resets ChunkCapacity to its span-derived default unless WithChunkCapacity
// is applied after it.
func WithSpan(span uint64) BuildOption {
	return func(c *BuildConfig) error {
		c.Span = span
		c.ChunkCapacity = defaultChunkCapacity(span)
		return nil
	}
}

// WithChunkCapacity overrides the per-cell point capacity.
func WithChunkCapacity(n int) BuildOption {
	return func(c *BuildConfig) error {
		c.ChunkCapacity = n
		return nil
	}
}

// WithHierarchyStep sets the depth stride used to partition the hierarchy
// into storage blocks (default 6).
func WithHierarchyStep(step uint32) BuildOption {
	return func(c *BuildConfig) error {
		c.HierarchyStep = step
		return nil
	}
}

// WithDataType selects the on-disk chunk body encoding.
func WithDataType(dt DataType) BuildOption {
	return func(c *BuildConfig) error {
		c.DataType = dt
		return nil
	}
}

// WithScaleOffset records a per-axis coordinate scale and offset, which the
// build copies into its Manifest. Chunk bodies are not quantized with them:
// X, Y and Z are always packed as unscaled float64 values.
func WithScaleOffset(scale, offset [3]float64) BuildOption {
	return func(c *BuildConfig) error {
		c.HasScaleOffset = true
		c.Scale = scale
		c.Offset = offset
		return nil
	}
}

// WithSchema sets the ordered list of auxiliary dimensions every Point in
// the build must carry (default: none, X/Y/Z only).
func WithSchema(s Schema) BuildOption {
	return func(c *BuildConfig) error {
		c.Schema = s
		return nil
	}
}

// WithBounds fixes the root bounds explicitly instead of deriving them
// from the union of source Info results.
func WithBounds(b Bounds) BuildOption {
	return func(c *BuildConfig) error {
		c.Bounds = &b
		return nil
	}
}

// WithReprojection attaches a reprojection directive passed through to the
// SourceReader.
func WithReprojection(r Reprojection) BuildOption {
	return func(c *BuildConfig) error {
		c.Reprojection = &r
		return nil
	}
}

// WithSubset restricts the build to one spatial shard.
func WithSubset(id, of uint64) BuildOption {
	return func(c *BuildConfig) error {
		c.Subset = &SubsetSpec{Id: id, Of: of}
		return nil
	}
}

// WithBaseDepth overrides the number of shallow levels that use base cells
// with a reserved overflow buffer (default 4).
func WithBaseDepth(d uint32) BuildOption {
	return func(c *BuildConfig) error {
		c.BaseDepth = d
		return nil
	}
}

// WithSoftCap overrides the resident-cell count above which the cache
// begins evicting (default 4096).
func WithSoftCap(n int) BuildOption {
	return func(c *BuildConfig) error {
		c.SoftCap = n
		return nil
	}
}

// WithMaxDepth overrides the absolute descent depth cap (default 26).
func WithMaxDepth(d uint32) BuildOption {
	return func(c *BuildConfig) error {
		c.MaxDepth = d
		return nil
	}
}

// WithResetFiles forces re-ingestion of sources already marked inserted in
// an existing manifest at Output.
func WithResetFiles(reset bool) BuildOption {
	return func(c *BuildConfig) error {
		c.ResetFiles = reset
		return nil
	}
}

// WithLogger injects a *zap.Logger for build diagnostics (default: a no-op
// logger, so omitting this option is always safe).
func WithLogger(l *zap.Logger) BuildOption {
	return func(c *BuildConfig) error {
		if l != nil {
			c.Logger = l
		}
		return nil
	}
}

// WithEvictInterval sets how many points a worker processes between cache
// eviction triggers (default 10000).
func WithEvictInterval(n int) BuildOption {
	return func(c *BuildConfig) error {
		c.EvictInterval = n
		return nil
	}
}
