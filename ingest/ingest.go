// Package ingest is the public driver that wires the Builder
// (internal/build), ChunkCache (internal/cache), ChunkStore/Endpoint
// (internal/chunkio), and the hierarchy map (internal/hierarchy) into one
// end-to-end build — spec §2's "data flow during a build": SourceReader ->
// Builder.insertBatch -> ChunkCache.acquire -> Cell.insert/overflow ->
// ChunkStore.write -> HierarchyBlock increment, then flush/write hierarchy/
// write manifest.
//
// It lives outside internal/ rather than being folded into the root
// octree package the way the teacher's file.go wires internal/core,
// internal/structures, and internal/writer directly: here the direction is
// reversed (internal/build, internal/cache, internal/hierarchy, and
// internal/chunkio all depend on the root package for its domain types —
// Bounds, ChunkKey, Point, Schema, the error kinds), so the root package
// importing them back would be a cycle. Build is this module's analogue of
// the teacher's public entry points, one layer further out.
package ingest

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spatialio/octree"
	"github.com/spatialio/octree/internal/build"
	"github.com/spatialio/octree/internal/cache"
	"github.com/spatialio/octree/internal/chunkio"
	"github.com/spatialio/octree/internal/hierarchy"
)

// Build drives one complete, or resumed, build of cfg against endpoint,
// pulling points from reader for every source not already marked inserted
// in an existing manifest at cfg.Output (unless cfg.ResetFiles is set). It
// returns the manifest written at the end of the build (spec §4.10, always
// written last).
func Build(ctx context.Context, cfg *octree.BuildConfig, endpoint chunkio.Endpoint, reader octree.SourceReader) (*octree.Manifest, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	prior, err := loadExistingManifest(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	bounds, srs, err := resolveBounds(ctx, cfg, reader, prior)
	if err != nil {
		return nil, err
	}

	var subset *octree.Subset
	var minDepth uint32
	suffix := ""
	if cfg.Subset != nil {
		subset, err = octree.NewSubset(cfg.Subset.Id, cfg.Subset.Of, bounds)
		if err != nil {
			return nil, err
		}
		minDepth = subset.MinimumNullDepth
		suffix = "-" + uintToA(cfg.Subset.Id)
	}

	runID := uuid.New().String()
	if prior != nil && !cfg.ResetFiles {
		runID = prior.RunID
	}

	hmap := hierarchy.New()
	if prior != nil && !cfg.ResetFiles {
		loaded, err := hierarchy.Load(ctx, endpoint, octree.HierarchyDir)
		if err != nil {
			return nil, err
		}
		hmap = loaded
	}

	ext := octree.Manifest{DataType: cfg.DataType}.Extension()
	store := chunkio.NewStore(endpoint, cfg.Schema, cfg.DataType == octree.DataTypeZstandard, ext)
	store.Suffix = suffix

	c := cache.New(store, cfg.BaseDepth, cfg.ChunkCapacity, cfg.SoftCap, hmap, logger)

	bc := &build.Context{
		Root:     bounds,
		MaxDepth: cfg.MaxDepth,
		MinDepth: minDepth,
		Cache:    c,
		Logger:   logger,
	}

	sources := make([]octree.Source, 0, len(cfg.Input))
	alreadyDone := make(map[string]octree.Source)
	if prior != nil && !cfg.ResetFiles {
		for _, s := range prior.Sources {
			if s.Status == octree.SourceInserted {
				alreadyDone[s.Path] = s
			}
		}
	}

	var processedPoints uint64

	for _, path := range cfg.Input {
		if done, ok := alreadyDone[path]; ok {
			sources = append(sources, done)
			continue
		}

		info, err := reader.Info(ctx, path, reprojectionDirective(cfg))
		src := octree.Source{Path: path, Info: info}
		if err != nil {
			src.Status = octree.SourceFailed
			src.Info.Errors = append(src.Info.Errors, err.Error())
			sources = append(sources, src)
			logger.Warn("ingest: source info failed", zap.String("path", path), zap.Error(err))
			continue
		}

		if err := ingestOne(ctx, cfg, reader, path, bc, c, subset, &processedPoints); err != nil {
			src.Status = octree.SourceFailed
			src.Info.Errors = append(src.Info.Errors, err.Error())
			sources = append(sources, src)
			logger.Warn("ingest: source failed", zap.String("path", path), zap.Error(err))
			continue
		}

		src.Status = octree.SourceInserted
		sources = append(sources, src)
	}

	// Flush on a detached context: even if ctx was cancelled mid-build, the
	// partial result must still be written through so the build is
	// resumable (spec §5). DrainAllOverflow must run first: a base cell's
	// overflow buffer is only drained mid-build when it fills exactly to
	// overflowCap, so any build leaves some base cells with a partial,
	// undrained buffer that Flush would otherwise silently never persist.
	flushCtx := context.Background()
	if err := build.DrainAllOverflow(flushCtx, bc); err != nil {
		return nil, err
	}
	if err := c.Flush(flushCtx); err != nil {
		return nil, err
	}
	if err := writeHierarchy(flushCtx, endpoint, hmap, cfg.HierarchyStep); err != nil {
		return nil, err
	}
	if err := writeSources(flushCtx, endpoint, sources); err != nil {
		return nil, err
	}

	mf := &octree.Manifest{
		Schema:          cfg.Schema,
		Bounds:          bounds,
		Points:          bc.Counters.Snapshot().Inserted,
		SRS:             srs,
		Span:            cfg.Span,
		HierarchyStep:   cfg.HierarchyStep,
		ChunkCapacity:   cfg.ChunkCapacity,
		DataType:        cfg.DataType,
		MaxDepth:        cfg.MaxDepth,
		HasScaleOffset:  cfg.HasScaleOffset,
		Scale:           cfg.Scale,
		Offset:          cfg.Offset,
		Subset:          cfg.Subset,
		Sources:         sources,
		OutOfBounds:     bc.Counters.Snapshot().OutOfBounds,
		Invalid:         bc.Counters.Snapshot().Invalid,
		DuplicatePoints: bc.Counters.Snapshot().DuplicatePoints,
		SoftwareVersion: SoftwareVersion,
		RunID:           runID,
	}
	if prior != nil && !cfg.ResetFiles {
		mf.Points += sumInserted(prior.Sources, alreadyDone)
		mf.OutOfBounds += prior.OutOfBounds
		mf.Invalid += prior.Invalid
		mf.DuplicatePoints += prior.DuplicatePoints
	}

	data, err := json.Marshal(mf)
	if err != nil {
		return nil, octree.WrapError(octree.InvalidInput, "ingest: marshaling manifest", err)
	}
	if err := endpoint.Put(flushCtx, octree.ManifestPath, data); err != nil {
		return nil, octree.WrapError(octree.EndpointIoError, "ingest: writing manifest", err)
	}
	return mf, nil
}

// SoftwareVersion is stamped into every manifest this module writes.
const SoftwareVersion = "octree-core/1.0"

func uintToA(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func sumInserted(sources []octree.Source, keep map[string]octree.Source) uint64 {
	var n uint64
	for _, s := range sources {
		if _, ok := keep[s.Path]; ok {
			n += s.Info.Points
		}
	}
	return n
}

func reprojectionDirective(cfg *octree.BuildConfig) string {
	if cfg.Reprojection == nil {
		return ""
	}
	return cfg.Reprojection.In + ">" + cfg.Reprojection.Out
}

func loadExistingManifest(ctx context.Context, ep chunkio.Endpoint) (*octree.Manifest, error) {
	ok, err := ep.Exists(ctx, octree.ManifestPath)
	if err != nil {
		return nil, octree.WrapError(octree.EndpointIoError, "ingest: checking existing manifest", err)
	}
	if !ok {
		return nil, nil
	}
	data, err := ep.Get(ctx, octree.ManifestPath)
	if err != nil {
		return nil, octree.WrapError(octree.EndpointIoError, "ingest: reading existing manifest", err)
	}
	var mf octree.Manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, octree.WrapError(octree.ChunkCorrupt, "ingest: decoding existing manifest", err)
	}
	return &mf, nil
}

// resolveBounds returns cfg.Bounds if set; otherwise, on a resume without
// ResetFiles, the prior manifest's bounds and SRS; otherwise the union of
// every source's pre-analysis Info bounds (spec §3 Source / §6 manifest).
func resolveBounds(ctx context.Context, cfg *octree.BuildConfig, reader octree.SourceReader, prior *octree.Manifest) (octree.Bounds, string, error) {
	if cfg.Bounds != nil {
		return *cfg.Bounds, "", nil
	}
	if prior != nil && !cfg.ResetFiles {
		return prior.Bounds, prior.SRS, nil
	}

	var b octree.Bounds
	var srs string
	set := false
	for _, path := range cfg.Input {
		info, err := reader.Info(ctx, path, reprojectionDirective(cfg))
		if err != nil {
			continue
		}
		if !set {
			b = info.Bounds
			srs = info.SRS
			set = true
			continue
		}
		b = unionBounds(b, info.Bounds)
	}
	if !set {
		return octree.Bounds{}, "", octree.NewError(octree.InvalidInput, "ingest: could not derive bounds from any source")
	}
	return b, srs, nil
}

func unionBounds(a, b octree.Bounds) octree.Bounds {
	return octree.Bounds{
		MinX: minF(a.MinX, b.MinX), MinY: minF(a.MinY, b.MinY), MinZ: minF(a.MinZ, b.MinZ),
		MaxX: maxF(a.MaxX, b.MaxX), MaxY: maxF(a.MaxY, b.MaxY), MaxZ: maxF(a.MaxZ, b.MaxZ),
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func writeHierarchy(ctx context.Context, ep chunkio.Endpoint, h *hierarchy.Map, step uint32) error {
	blocks := h.Partition(step)
	for name, entries := range blocks {
		data, err := hierarchy.EncodeBlock(entries)
		if err != nil {
			return octree.WrapError(octree.InvalidInput, "ingest: encoding hierarchy block "+name, err)
		}
		key := octree.HierarchyDir + "/" + name + ".json"
		if err := ep.Put(ctx, key, data); err != nil {
			return octree.WrapError(octree.EndpointIoError, "ingest: writing hierarchy block "+name, err)
		}
	}
	return nil
}

func writeSources(ctx context.Context, ep chunkio.Endpoint, sources []octree.Source) error {
	list, err := json.Marshal(sources)
	if err != nil {
		return octree.WrapError(octree.InvalidInput, "ingest: marshaling source list", err)
	}
	if err := ep.Put(ctx, octree.SourcesDir+"/list.json", list); err != nil {
		return octree.WrapError(octree.EndpointIoError, "ingest: writing source list", err)
	}
	for _, s := range sources {
		data, err := json.Marshal(s)
		if err != nil {
			return octree.WrapError(octree.InvalidInput, "ingest: marshaling source "+s.Path, err)
		}
		if err := ep.Put(ctx, octree.SourcesDir+"/"+stem(s.Path)+".json", data); err != nil {
			return octree.WrapError(octree.EndpointIoError, "ingest: writing source info for "+s.Path, err)
		}
	}
	return nil
}

func stem(path string) string {
	start := 0
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			start = i + 1
			break
		}
	}
	name := path[start:]
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

func ingestOne(
	ctx context.Context,
	cfg *octree.BuildConfig,
	reader octree.SourceReader,
	path string,
	bc *build.Context,
	c *cache.Cache,
	subset *octree.Subset,
	processed *uint64,
) error {
	handle, err := reader.Open(ctx, path, reprojectionDirective(cfg))
	if err != nil {
		return octree.WrapError(octree.InvalidInput, "ingest: opening "+path, err)
	}
	defer reader.Close(handle)

	pull := func(ctx context.Context, n int) ([]octree.Point, error) {
		return reader.NextBatch(ctx, handle, n)
	}

	process := func(ctx context.Context, clipper *cache.Clipper, p octree.Point) error {
		if subset != nil && !pointInSubset(subset, p) {
			return nil
		}
		if err := build.One(ctx, bc, clipper, p); err != nil {
			return err
		}
		if n := atomic.AddUint64(processed, 1); cfg.EvictInterval > 0 && n%uint64(cfg.EvictInterval) == 0 {
			return c.EvictIfOverCap(ctx)
		}
		return nil
	}

	clipperFor := func(int) *cache.Clipper { return cache.NewClipper(c) }

	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	return build.RunWorkers(ctx, threads, clipperFor, pull, process)
}

// pointInSubset reports whether p belongs to this subset's XY slab,
// breaking ties at interior shard boundaries toward the low side (like
// PointKey's octant tie-break: a point on a boundary belongs to the shard
// below it) while treating the low edge of the global bounds as inclusive
// for whichever shard's slab starts there.
func pointInSubset(s *octree.Subset, p octree.Point) bool {
	in := func(v, lo, hi, globalLo float64) bool {
		if v == globalLo {
			return lo == globalLo
		}
		return v > lo && v <= hi
	}
	return in(p.X, s.Sub.MinX, s.Sub.MaxX, s.Global.MinX) &&
		in(p.Y, s.Sub.MinY, s.Sub.MaxY, s.Global.MinY) &&
		p.Z >= s.Sub.MinZ && p.Z <= s.Sub.MaxZ
}
