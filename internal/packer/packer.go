// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package packer implements the leaf packer (spec §4.3): it slices a
// finalized, sorted collector view into page-sized batches, picks a
// format per batch the way value_separation.go picks a value-placement
// strategy per key-value pair (size thresholds, a gate, a fallback), and
// emits page descriptors the internal-level builder consumes.
package packer

import (
	"context"
	"sort"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/bloom"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/cockroachdb/errors"
)

// LeafDescriptor records the per-page metadata the internal-level builder
// needs (spec §4.3: "first key, last key, tuple count, rightlink slot").
type LeafDescriptor struct {
	Block    blockstore.BlockID
	FirstKey []byte
	LastKey  []byte
	NItems   int
	Format   page.FormatTag

	// Bloom is the optional per-leaf equality-probe filter (spec §6,
	// "build_bloom_filters"); the zero Filter, with HasBloom false, unless
	// Options.Config.BuildBloomFilters was set. It is orthogonal to correctness: a caller queries it only
	// to decide whether to bother descending into Block at all.
	Bloom    bloom.Filter
	HasBloom bool
}

// Options configures one packing run; it is derived from base.Config plus
// the schema's key shape.
type Options struct {
	Schema     page.Schema
	KeyIsText  bool
	SingleKey  bool // true when the key schema has exactly one column
	Comparer   base.Comparer
	Config     base.Config
	Logger     base.LoggerAndTracer
	SampleCap  int // uniqueness-ratio sample cap (0 = sample entire batch)
}

// zcSizeCap returns the maximum page body size, in bytes, zero-copy is
// allowed to target, from the configured megabyte threshold.
func (o Options) zcSizeCap() int { return o.Config.ZeroCopyThresholdMB * 1024 * 1024 }

// bloomBitsPerKey is the density Pack builds optional leaf filters at
// when Options.Config.BuildBloomFilters is set (spec §6). It is not a
// recognized Config field because the bits-per-key/false-positive-rate
// tradeoff is an implementation detail orthogonal to correctness.
const bloomBitsPerKey = 10

// Pack slices source into leaf pages, writing each to store, and returns
// the ordered leaf descriptors with rightlinks already stitched together.
func Pack(ctx context.Context, source page.TupleSource, store blockstore.Store, opts Options) ([]LeafDescriptor, error) {
	n := source.Len()
	if n == 0 {
		return nil, nil
	}
	blockSize := store.BlockSize()
	runVersion := opts.Config.ResolveRLEVersion(opts.KeyIsText)

	var leaves []LeafDescriptor
	var prevBlock blockstore.BlockID = blockstore.NoBlock
	var totalTupleBytes, totalTupleCount int

	i := 0
	stalls := 0
	for i < n {
		j, tag := chooseBatch(i, n, source, opts, runVersion, blockSize)
		if opts.Config.TestForceLoopGuardTrigger {
			// Test knob: simulate the capacity estimator making no
			// progress, independent of whether a real batch would
			// have fit (spec §6, §9).
			j = i
		}
		if j <= i {
			stalls++
			if stalls >= 3 {
				return nil, errors.Wrapf(base.ErrBuildStalled, "packer made no progress at tuple %d", i)
			}
			// No tuple was placed this iteration: retry, and fail with
			// ErrBuildStalled once three consecutive iterations have
			// made no progress instead of spinning (spec §4.3, §9).
			continue
		} else {
			stalls = 0
		}

		mut, err := store.WriteNew()
		if err != nil {
			return nil, errors.Wrap(err, "packer: allocating new block")
		}
		buf, err := page.Encode(tag, uint64(mut.Block()), 0, i, j, source, opts.Schema, runVersion, page.NoRightlink, blockSize, opts.Config.Compression)
		if err != nil {
			return nil, errors.Wrapf(err, "packer: encoding %s page at tuple %d", tag, i)
		}
		copy(mut.Buffer(), buf)
		if err := store.Commit(mut); err != nil {
			return nil, errors.Wrap(err, "packer: committing page")
		}

		if prevBlock != blockstore.NoBlock {
			if err := store.SetRightlink(prevBlock, mut.Block()); err != nil {
				return nil, errors.Wrap(err, "packer: setting rightlink")
			}
		}

		desc := LeafDescriptor{
			Block:    mut.Block(),
			FirstKey: append([]byte(nil), source.KeyAt(i)...),
			LastKey:  append([]byte(nil), source.KeyAt(j-1)...),
			NItems:   j - i,
			Format:   tag,
		}
		if opts.Config.BuildBloomFilters {
			keys := make([][]byte, j-i)
			for k := i; k < j; k++ {
				keys[k-i] = source.KeyAt(k)
			}
			desc.Bloom = bloom.Build(keys, bloomBitsPerKey)
			desc.HasBloom = true
		}
		leaves = append(leaves, desc)

		totalTupleCount += j - i
		totalTupleBytes += page.EstimateSize(tag, i, j, source, opts.Schema, runVersion)
		prevBlock = mut.Block()
		i = j
	}

	if totalTupleCount > 0 && totalTupleBytes/totalTupleCount > 250 {
		warn := base.RowTooLargeWarning{AverageWidth: totalTupleBytes / totalTupleCount}
		marked := warn.Attach(errors.New("blockidx: row-width warning"))
		if opts.Logger != nil {
			for _, detail := range errors.GetAllDetails(marked) {
				opts.Logger.Infof("packer: %s", detail)
			}
		}
	}

	return leaves, nil
}

// chooseBatch implements spec §4.3's format-selection contract: greedily
// find the largest prefix that fits under plain encoding, then pick the
// smallest encoding among the eligible formats for that exact prefix,
// ties going to the simpler format (plain > key-RLE > include-RLE), with
// zero-copy considered only when its gate is met and winning any tie it
// is part of.
func chooseBatch(i, n int, source page.TupleSource, opts Options, runVersion base.RLEVersion, blockSize int) (int, page.FormatTag) {
	maxJ := n
	if opts.Config.TestCapTuplesPerPage > 0 && i+opts.Config.TestCapTuplesPerPage < maxJ {
		maxJ = i + opts.Config.TestCapTuplesPerPage
	}
	if i+page.MaxNItems < maxJ {
		maxJ = i + page.MaxNItems
	}

	// Largest prefix fitting under plain encoding (monotonic in batch
	// size, so binary search is valid).
	j := sort.Search(maxJ-i, func(k int) bool {
		return page.EstimateSize(page.FormatPlain, i, i+k+1, source, opts.Schema, runVersion) > blockSize
	}) + i
	if j <= i {
		return i, page.FormatPlain
	}

	hasVariablePayload := false
	for _, w := range opts.Schema.PayloadWidths {
		if w < 0 {
			hasVariablePayload = true
		}
	}

	type candidate struct {
		tag  page.FormatTag
		size int
	}
	candidates := []candidate{{page.FormatPlain, page.EstimateSize(page.FormatPlain, i, j, source, opts.Schema, runVersion)}}
	if !hasVariablePayload {
		if krSize := page.EstimateSize(page.FormatKeyRLE, i, j, source, opts.Schema, runVersion); krSize <= blockSize {
			candidates = append(candidates, candidate{page.FormatKeyRLE, krSize})
		}
		if irSize := page.EstimateSize(page.FormatIncludeRLE, i, j, source, opts.Schema, runVersion); irSize <= blockSize {
			candidates = append(candidates, candidate{page.FormatIncludeRLE, irSize})
		}
	}

	if zcEligible(i, j, opts) {
		if zcSize := page.EstimateSize(page.FormatZeroCopy, i, j, source, opts.Schema, runVersion); zcSize <= blockSize && zcSize <= opts.zcSizeCap() {
			uniq := page.UniquenessRatio(i, j, source, opts.Schema.KeyWidth, opts.SampleCap)
			if uniq >= opts.Config.ZeroCopyUniquenessThreshold {
				candidates = append(candidates, candidate{page.FormatZeroCopy, zcSize})
			}
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.size < best.size || (c.tag == page.FormatZeroCopy && c.size <= best.size) {
			best = c
		}
	}
	return j, best.tag
}

// zcEligible reports whether a batch qualifies for zero-copy at all,
// independent of the uniqueness sampling gate applied by the caller
// (width >= 8, single key column, no INCLUDE columns; spec §4.1).
func zcEligible(i, j int, opts Options) bool {
	if opts.Config.EnableZeroCopy == base.ZeroCopyOff {
		return false
	}
	if !opts.SingleKey {
		return false
	}
	if len(opts.Schema.PayloadWidths) != 0 {
		return false
	}
	if opts.Schema.KeyWidth < 8 {
		return false
	}
	return true
}
