// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package treebuild implements the internal-level builder (spec §4.4): it
// takes the leaf list produced by internal/packer and groups it into
// successive internal levels, each page holding a strictly increasing
// sequence of (separator_key, child_block) entries, until one page
// remains -- the root.
package treebuild

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/blockidx/blockidx/blockstore"
	"github.com/cockroachdb/errors"
)

// ChildRef is one entry a caller hands to Build: the minimum key of a
// subtree and the block holding its root page. Level 0's ChildRefs come
// from the packer's leaf descriptors; higher levels are produced
// internally by Build as it climbs.
type ChildRef struct {
	MinKey []byte
	Block  blockstore.BlockID
}

// Result is the outcome of a successful Build: the root block and the
// tree's height (1 when the root is itself a leaf).
type Result struct {
	Root   blockstore.BlockID
	Height int
}

// payloadWidth is the fixed width, in bytes, of an internal entry's
// payload: the child block id, stored little-endian (spec §4.4, "Each
// internal entry is (min_key_of_child, child_block_id)").
const payloadWidth = 8

// Build groups level0 bottom-up into internal pages, each holding as many
// (separator, child) entries as fit in a page body, until exactly one
// page remains. level0 must already be sorted by MinKey and is typically
// the packer's leaf descriptors converted to ChildRefs.
func Build(ctx context.Context, level0 []ChildRef, store blockstore.Store, keyWidth int, cfg base.Config, logger base.LoggerAndTracer) (Result, error) {
	if len(level0) == 0 {
		return Result{}, errors.New("treebuild: empty leaf level")
	}
	if len(level0) == 1 {
		return Result{Root: level0[0].Block, Height: 1}, nil
	}

	schema := page.Schema{KeyWidth: keyWidth, PayloadWidths: []int{payloadWidth}}
	blockSize := store.BlockSize()

	level := level0
	height := 1
	for len(level) > 1 {
		next, err := buildLevel(level, store, schema, cfg, blockSize, uint16(height))
		if err != nil {
			return Result{}, errors.Wrapf(err, "treebuild: building level %d", height)
		}
		level = next
		height++
	}
	return Result{Root: level[0].Block, Height: height}, nil
}

// buildLevel packs children into pages at levelNum and returns one
// ChildRef per page produced, which becomes the next level up.
func buildLevel(children []ChildRef, store blockstore.Store, schema page.Schema, cfg base.Config, blockSize int, levelNum uint16) ([]ChildRef, error) {
	// Initial capacity estimate per spec §4.4: max(2, ceil(|L_k|/2)+2).
	// A degenerate fanout (forced small by TestCapInternalFanout) makes
	// the actual page count exceed this, exercising the doubling
	// reallocation path below.
	estimate := len(children)/2 + 2
	if len(children)%2 != 0 {
		estimate++
	}
	if estimate < 2 {
		estimate = 2
	}
	out := newGrowableRefs(estimate)

	source := refsSource{children}
	var prevBlock blockstore.BlockID = blockstore.NoBlock

	i := 0
	for i < len(children) {
		j := chooseFanout(i, len(children), source, schema, cfg, blockSize)

		mut, err := store.WriteNew()
		if err != nil {
			return nil, errors.Wrap(err, "allocating internal page")
		}
		buf, err := page.Encode(page.FormatPlain, uint64(mut.Block()), levelNum, i, j, source, schema, base.RLEv2, page.NoRightlink, blockSize, cfg.Compression)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding internal page at entry %d", i)
		}
		copy(mut.Buffer(), buf)
		if err := store.Commit(mut); err != nil {
			return nil, errors.Wrap(err, "committing internal page")
		}
		if prevBlock != blockstore.NoBlock {
			if err := store.SetRightlink(prevBlock, mut.Block()); err != nil {
				return nil, errors.Wrap(err, "setting internal rightlink")
			}
		}

		out.push(ChildRef{MinKey: append([]byte(nil), children[i].MinKey...), Block: mut.Block()})
		prevBlock = mut.Block()
		i = j
	}

	return out.buf, nil
}

// chooseFanout finds the largest prefix of children[i:] that fits in one
// page body, bounded by the TestCapInternalFanout test knob and
// page.MaxNItems (spec §4.4, §6).
func chooseFanout(i, n int, source page.TupleSource, schema page.Schema, cfg base.Config, blockSize int) int {
	maxJ := n
	if cfg.TestCapInternalFanout > 0 && i+cfg.TestCapInternalFanout < maxJ {
		maxJ = i + cfg.TestCapInternalFanout
	}
	if i+page.MaxNItems < maxJ {
		maxJ = i + page.MaxNItems
	}
	j := sort.Search(maxJ-i, func(k int) bool {
		return page.EstimateSize(page.FormatPlain, i, i+k+1, source, schema, base.RLEv2) > blockSize
	}) + i
	if j <= i {
		j = i + 1
	}
	return j
}

// refsSource adapts a []ChildRef slice to page.TupleSource so the page
// codec can encode internal entries the same way it encodes leaf tuples.
type refsSource struct {
	refs []ChildRef
}

func (s refsSource) Len() int          { return len(s.refs) }
func (s refsSource) KeyAt(i int) []byte { return s.refs[i].MinKey }
func (s refsSource) PayloadAt(i, col int) []byte {
	buf := make([]byte, payloadWidth)
	binary.LittleEndian.PutUint64(buf, uint64(s.refs[i].Block))
	return buf
}

// ChildBlock decodes the payload column of an internal page's entry back
// into a block id; the scan engine uses this when descending.
func ChildBlock(payload []byte) blockstore.BlockID {
	return blockstore.BlockID(binary.LittleEndian.Uint64(payload))
}

// Descend implements spec §4.4's separator semantics: among a decoded
// internal page's entries, it returns the position of the rightmost
// child whose separator is <= q, falling back to the leftmost child if
// every separator exceeds q (and, symmetrically, landing on the
// rightmost child when every separator is <= q -- the path exercised by
// a descent whose key exceeds the index's maximum).
func Descend(p *page.DecodedPage, cmp func(a, b []byte) int, q []byte) (pos int, child blockstore.BlockID) {
	pos = page.UpperBound(p, cmp, q) - 1
	if pos < 0 {
		pos = 0
	}
	return pos, ChildBlock(page.PayloadAt(p, pos, 0))
}

// growableRefs is a small dynamic array with an explicit doubling-growth
// path, mirroring the collector's arena (spec §4.2, §4.4: "reallocates
// with a doubling policy... this path must exist and be tested").
type growableRefs struct {
	buf []ChildRef
}

func newGrowableRefs(estimate int) *growableRefs {
	return &growableRefs{buf: make([]ChildRef, 0, estimate)}
}

func (g *growableRefs) push(r ChildRef) {
	if len(g.buf) == cap(g.buf) {
		newCap := cap(g.buf) * 2
		if newCap == 0 {
			newCap = 2
		}
		nb := make([]ChildRef, len(g.buf), newCap)
		copy(nb, g.buf)
		g.buf = nb
	}
	g.buf = append(g.buf, r)
}
