// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package index is the top-level façade gluing the collector, packer,
// and internal-level builder into one Build call, and the scan engine
// (sequential or parallel) into one Scan call -- the unit an embedder
// actually imports, rather than reaching into internal/* directly.
package index

import (
	"context"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/inspect"
	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/bloom"
	"github.com/blockidx/blockidx/internal/collector"
	"github.com/blockidx/blockidx/internal/packer"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/blockidx/blockidx/internal/treebuild"
	"github.com/blockidx/blockidx/parallel"
	"github.com/blockidx/blockidx/scan"
	"github.com/cockroachdb/errors"
)

// Schema mirrors page.Schema plus the two bits the packer/collector need
// that the page codec itself does not care about: whether the key
// column(s) hold text (governs RLEVersion auto-selection, spec §4.1), and
// the per-column key widths Validate checks against spec §4.2's
// TooManyKeyColumns/KeyTooWide/UnsupportedType constraints. KeyColumns is
// optional: when empty, Build derives a single implicit column of width
// KeyWidth, the shape every caller in this tree actually uses.
type Schema struct {
	KeyColumns    []base.KeyWidth
	KeyWidth      int
	PayloadWidths []int
	KeyIsText     bool
}

func (s Schema) singleKey() bool { return len(s.keyColumns()) == 1 }

func (s Schema) keyColumns() []base.KeyWidth {
	if len(s.KeyColumns) > 0 {
		return s.KeyColumns
	}
	return []base.KeyWidth{base.KeyWidth(s.KeyWidth)}
}

// keySchema builds the base.KeySchema Validate checks spec §4.2's
// TooManyKeyColumns/KeyTooWide/UnsupportedType constraints against.
func (s Schema) keySchema() base.KeySchema {
	cols := s.keyColumns()
	text := make([]bool, len(cols))
	if s.KeyIsText {
		for i := range text {
			text[i] = true
		}
	}
	return base.KeySchema{Widths: cols, Text: text}
}

func (s Schema) pageSchema() page.Schema {
	return page.Schema{KeyWidth: s.KeyWidth, PayloadWidths: s.PayloadWidths}
}

// Index is a built, read-only tree plus the configuration it was built
// and is scanned with. The zero value is not usable; construct one with
// Build or Open.
type Index struct {
	store    blockstore.Store
	schema   Schema
	comparer base.Comparer
	cfg      base.Config
	logger   base.LoggerAndTracer

	Root   blockstore.BlockID
	Height int

	// leafBlooms holds the per-leaf equality-probe filters built during
	// this process's own Build call (spec §6, "build_bloom_filters").
	// It is populated only in-process: the on-disk page format has no
	// slot for a filter's bitset, so a reopened Index (via Open, e.g.
	// from a fresh cmd/blockidx invocation) has none to probe and simply
	// always descends -- a filter is a hint, never required for
	// correctness.
	leafBlooms map[blockstore.BlockID]bloom.Filter
}

// TupleSource is the sorted input stream Build consumes: tuples in
// non-decreasing (key, payload) order, equal tuples allowed, one call per
// row.
type TupleSource interface {
	Len() int
	KeyAt(i int) []byte
	PayloadAt(i int, col int) []byte
	NullMaskAt(i int) uint32
}

// Options configures one Build call.
type Options struct {
	Schema   Schema
	Comparer base.Comparer
	Config   base.Config
	Logger   base.LoggerAndTracer
}

// Build runs the full build pipeline -- collector, packer, internal-level
// builder -- over source and returns a ready-to-scan Index (spec §2's
// three build-phase modules, glued).
func Build(ctx context.Context, source TupleSource, store blockstore.Store, opts Options) (*Index, error) {
	if err := opts.Schema.keySchema().Validate(); err != nil {
		return nil, errors.Wrap(err, "index: validating key schema")
	}

	comparer := opts.Comparer
	if comparer.Compare == nil {
		comparer = base.DefaultComparer
	}
	logger := opts.Logger
	if logger == nil {
		logger = base.NoopLogger{}
	}

	c, err := collector.New(opts.Schema.pageSchema(), comparer)
	if err != nil {
		return nil, errors.Wrap(err, "index: constructing collector")
	}
	n := source.Len()
	for i := 0; i < n; i++ {
		payload := make([][]byte, len(opts.Schema.PayloadWidths))
		for col := range payload {
			payload[col] = source.PayloadAt(i, col)
		}
		if err := c.Push(collector.Tuple{
			Key:      source.KeyAt(i),
			Payload:  payload,
			NullMask: source.NullMaskAt(i),
		}); err != nil {
			return nil, errors.Wrapf(err, "index: pushing tuple %d", i)
		}
	}
	view := c.Finalize()

	leaves, err := packer.Pack(ctx, view, store, packer.Options{
		Schema:    opts.Schema.pageSchema(),
		KeyIsText: opts.Schema.KeyIsText,
		SingleKey: opts.Schema.singleKey(),
		Comparer:  comparer,
		Config:    opts.Config,
		Logger:    logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "index: packing leaves")
	}
	if len(leaves) == 0 {
		return &Index{store: store, schema: opts.Schema, comparer: comparer, cfg: opts.Config, logger: logger, Root: blockstore.NoBlock}, nil
	}

	refs := make([]treebuild.ChildRef, len(leaves))
	var blooms map[blockstore.BlockID]bloom.Filter
	for i, l := range leaves {
		refs[i] = treebuild.ChildRef{MinKey: l.FirstKey, Block: l.Block}
		if l.HasBloom {
			if blooms == nil {
				blooms = make(map[blockstore.BlockID]bloom.Filter, len(leaves))
			}
			blooms[l.Block] = l.Bloom
		}
	}
	result, err := treebuild.Build(ctx, refs, store, opts.Schema.KeyWidth, opts.Config, logger)
	if err != nil {
		return nil, errors.Wrap(err, "index: building internal levels")
	}

	return &Index{
		store: store, schema: opts.Schema, comparer: comparer, cfg: opts.Config, logger: logger,
		Root: result.Root, Height: result.Height, leafBlooms: blooms,
	}, nil
}

// Open wraps an already-built tree rooted at root, for a process that
// built it in a prior run and is now reopening the same block store
// read-only (spec §5, "lifetime and ownership").
func Open(store blockstore.Store, root blockstore.BlockID, opts Options) *Index {
	comparer := opts.Comparer
	if comparer.Compare == nil {
		comparer = base.DefaultComparer
	}
	logger := opts.Logger
	if logger == nil {
		logger = base.NoopLogger{}
	}
	return &Index{store: store, schema: opts.Schema, comparer: comparer, cfg: opts.Config, logger: logger, Root: root}
}

// Scan opens a sequential scan.Handle rooted at the index, the thin
// wiring spec.md §4.5 describes as the engine's only external entry
// point for reading rows back. For an equality bound with an in-process
// bloom filter available on the candidate leaf, a negative probe
// short-circuits straight to an exhausted handle without descending the
// tree at all -- a pure performance hint, since a positive probe still
// falls through to the ordinary descent (spec §6: orthogonal to
// correctness).
func (idx *Index) Scan(ctx context.Context, dir scan.Direction, bounds scan.Bounds, runtime []scan.RuntimePredicate) (*scan.Handle, error) {
	if bounds.Equality && len(idx.leafBlooms) > 0 {
		maybePresent, err := idx.probeEquality(ctx, bounds)
		if err != nil {
			return nil, err
		}
		if !maybePresent {
			h := scan.NewHandle(idx.store, idx.comparer, blockstore.NoBlock, idx.cfg, idx.logger)
			if err := h.Open(ctx, scan.DirNone, bounds, runtime); err != nil {
				return nil, err
			}
			return h, nil
		}
	}
	h := scan.NewHandle(idx.store, idx.comparer, idx.Root, idx.cfg, idx.logger)
	if err := h.Open(ctx, dir, bounds, runtime); err != nil {
		return nil, err
	}
	return h, nil
}

// probeEquality locates the leaf an equality bound would descend to and,
// if that leaf has a recorded bloom filter, reports whether the bound's
// key might be present in it. It reports true (never skip) whenever no
// filter is recorded for that leaf.
func (idx *Index) probeEquality(ctx context.Context, bounds scan.Bounds) (bool, error) {
	leaf, err := scan.LocateAnchor(ctx, idx.store, idx.comparer, idx.Root, idx.cfg, scan.DirForward, bounds)
	if err != nil {
		return false, err
	}
	filter, ok := idx.leafBlooms[leaf]
	if !ok {
		return true, nil
	}
	return filter.Probe(bounds.Lower.Key, idx.cfg)
}

// ParallelScan drains the same bounded scan cooperatively across workers
// concurrent goroutines, calling emit for every matched tuple (spec
// §4.6). Ordering across workers is not guaranteed; within one worker it
// is.
func (idx *Index) ParallelScan(ctx context.Context, workers int, dir scan.Direction, bounds scan.Bounds, runtime []scan.RuntimePredicate, emit parallel.Emit) error {
	co := parallel.NewCoordinator(idx.store, idx.comparer, idx.Root, idx.cfg, idx.logger, dir, bounds, runtime)
	return co.Run(ctx, workers, emit)
}

// Stats computes the static page/compression statistics for this tree
// (spec §2, "Inspector & metrics"), read-only and safe to call at any
// time after Build/Open.
func (idx *Index) Stats(ctx context.Context) (inspect.Stats, error) {
	return inspect.Compute(ctx, idx.store, idx.Root)
}

// Insert, Update, and Delete are modeled, not implemented: this engine
// only ever builds a whole new tree from a sorted stream (spec.md's
// Non-goals exclude incremental maintenance). Every mutation surface
// fails with ErrReadOnly so an embedder's executor can treat an index as
// a read-only secondary structure and fall back to a full rebuild.
func (idx *Index) Insert(context.Context, TupleSource) error { return base.ErrReadOnly }
func (idx *Index) Update(context.Context, TupleSource) error { return base.ErrReadOnly }
func (idx *Index) Delete(context.Context, [][]byte) error    { return base.ErrReadOnly }
