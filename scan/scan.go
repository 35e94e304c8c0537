// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package scan implements the scan engine (spec §4.5): forward and
// backward index-only iteration over a built tree, with page-level
// pruning, the equality-stop optimization, run-skip caching for the
// run-length-encoded formats, and depth-bounded prefetch along the leaf
// rightlink chain.
package scan

import (
	"context"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/blockidx/blockidx/internal/treebuild"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
	"github.com/cockroachdb/tokenbucket"
)

// Direction is the scan's traversal direction. A handle observing DirNone
// (no rows can possibly match) returns no rows without error (spec
// §4.5, "Scan handle state").
type Direction int

const (
	DirNone Direction = iota
	DirForward
	DirBackward
)

// Bound is one side of a range predicate. Strict distinguishes '>'/'<'
// from '>='/'<='; IsNull marks a caller-supplied predicate value that was
// itself NULL, which fails the scan outright (spec §4.5, §7).
type Bound struct {
	Present bool
	Strict  bool
	Key     []byte
	IsNull  bool
}

// Bounds is the full range predicate for one scan. Equality represents
// '=' as both Lower and Upper pointing at the same value and enables the
// equality-stop optimization (spec §4.5, "Bound kinds").
type Bounds struct {
	Lower    Bound
	Upper    Bound
	Equality bool
}

func (b Bounds) effectiveLower() (Bound, bool) {
	if b.Equality {
		return Bound{Present: true, Key: b.Lower.Key}, true
	}
	if b.Lower.Present {
		return b.Lower, true
	}
	return Bound{}, false
}

func (b Bounds) effectiveUpper() (Bound, bool) {
	if b.Equality {
		return Bound{Present: true, Key: b.Upper.Key}, true
	}
	if b.Upper.Present {
		return b.Upper, true
	}
	return Bound{}, false
}

// RuntimePredicate evaluates a predicate the engine cannot push into the
// key comparison itself -- typically a range over a second key column
// carried as an INCLUDE payload (spec §4.5, "Apply runtime keys").
type RuntimePredicate func(p *page.DecodedPage, pos int) bool

type runCacheKey struct {
	Block blockstore.BlockID
	Run   int
}

// runCacheEntry is the per-scan run-skip cache payload (spec §4.5:
// "(run_start, run_end, shared_payload_ptrs) keyed by page-block +
// run-index"). HasPredicateResult/PredicateOK let an include-RLE run,
// whose every position shares the same tuple, reuse one runtime-predicate
// evaluation across the whole run instead of re-evaluating per tuple.
type runCacheEntry struct {
	Start, End         int
	HasPredicateResult bool
	PredicateOK        bool
}

type pathEntry struct {
	block blockstore.BlockID
	pos   int
}

type descendMode int

const (
	descendByKey descendMode = iota
	descendLeftmost
	descendRightmost
)

// Handle is one open scan. It is not safe for concurrent use; the
// parallel coordinator (package parallel) does not share Handles between
// workers: its workers decode their claimed leaves directly.
type Handle struct {
	store    blockstore.Store
	comparer base.Comparer
	root     blockstore.BlockID
	cfg      base.Config
	logger   base.LoggerAndTracer

	direction Direction
	bounds    Bounds
	runtime   []RuntimePredicate

	pin   blockstore.PinnedPage
	page  *page.DecodedPage
	it    *page.Iterator
	block blockstore.BlockID

	cachedRuns *swiss.Map[runCacheKey, runCacheEntry]
	prefetched map[blockstore.BlockID]bool
	bucket     *tokenbucket.TokenBucket
}

// NewHandle returns a closed handle ready for Open. root is the tree's
// root block (NoBlock for an empty index).
func NewHandle(store blockstore.Store, comparer base.Comparer, root blockstore.BlockID, cfg base.Config, logger base.LoggerAndTracer) *Handle {
	return &Handle{store: store, comparer: comparer, root: root, cfg: cfg, logger: logger}
}

func newPrefetchBucket(depth uint8) *tokenbucket.TokenBucket {
	tb := &tokenbucket.TokenBucket{}
	burst := tokenbucket.Burst(depth)
	if burst < 1 {
		burst = 1
	}
	tb.Init(tokenbucket.Rate(64), burst)
	return tb
}

// Open starts (or restarts) the scan in the given direction with the
// given bounds and runtime predicates. Open releases any pin held by a
// previous Open/rescan before doing anything else (spec §5, "Rescan must
// release any pinned page from the previous invocation before
// re-descending").
func (h *Handle) Open(ctx context.Context, dir Direction, bounds Bounds, runtime []RuntimePredicate) error {
	h.releasePin()
	if bounds.Lower.IsNull || bounds.Upper.IsNull {
		return base.ErrScanKeyNull
	}

	h.direction = dir
	h.bounds = bounds
	h.runtime = runtime
	h.cachedRuns = swiss.New[runCacheKey, runCacheEntry](8)
	h.prefetched = make(map[blockstore.BlockID]bool)
	h.bucket = newPrefetchBucket(h.cfg.PrefetchDepth)

	if dir == DirNone || h.root == blockstore.NoBlock {
		h.direction = DirNone
		return nil
	}

	switch dir {
	case DirForward:
		return h.openForward(ctx)
	case DirBackward:
		return h.openBackward(ctx)
	default:
		return errors.Newf("scan: unknown direction %d", dir)
	}
}

// Close releases any pinned page. A closed handle may be reopened.
func (h *Handle) Close() {
	h.releasePin()
	h.direction = DirNone
}

func (h *Handle) releasePin() {
	if h.pin != nil {
		h.store.Release(h.pin)
		h.pin = nil
		h.page = nil
	}
}

func (h *Handle) pinLeaf(ctx context.Context, block blockstore.BlockID) error {
	h.releasePin()
	pin, err := h.store.Read(ctx, block)
	if err != nil {
		return errors.Wrap(err, "scan: pin leaf")
	}
	p, err := page.Decode(pin.Bytes(), uint64(block))
	if err != nil {
		h.store.Release(pin)
		return err
	}
	h.pin = pin
	h.page = p
	h.it = page.NewIterator(p)
	h.block = block
	return nil
}

// descend walks from start to the leaf level, following mode/key at each
// internal page, and returns the leaf block plus the path of (block,
// chosen-position) pairs -- the path prevLeaf needs to find a previous
// sibling subtree.
func (h *Handle) descend(ctx context.Context, start blockstore.BlockID, mode descendMode, key []byte) (blockstore.BlockID, []pathEntry, error) {
	block := start
	var path []pathEntry
	for {
		pin, err := h.store.Read(ctx, block)
		if err != nil {
			return blockstore.NoBlock, nil, errors.Wrap(err, "scan: descend")
		}
		p, err := page.Decode(pin.Bytes(), uint64(block))
		h.store.Release(pin)
		if err != nil {
			return blockstore.NoBlock, nil, err
		}
		if p.Header.Level == 0 {
			return block, path, nil
		}
		var pos int
		var child blockstore.BlockID
		switch mode {
		case descendByKey:
			pos, child = treebuild.Descend(p, h.comparer.Compare, key)
		case descendLeftmost:
			pos = 0
			child = treebuild.ChildBlock(page.PayloadAt(p, 0, 0))
		case descendRightmost:
			pos = p.NItems - 1
			child = treebuild.ChildBlock(page.PayloadAt(p, pos, 0))
		}
		path = append(path, pathEntry{block: block, pos: pos})
		block = child
	}
}

func (h *Handle) openForward(ctx context.Context) error {
	mode := descendByKey
	var key []byte
	lower, hasLower := h.bounds.effectiveLower()
	if hasLower {
		key = lower.Key
	} else {
		mode = descendLeftmost
	}
	leaf, _, err := h.descend(ctx, h.root, mode, key)
	if err != nil {
		return err
	}

	for {
		if err := h.pinLeaf(ctx, leaf); err != nil {
			return err
		}
		if h.prunedForward() {
			h.endScan()
			return nil
		}
		pos := 0
		if hasLower {
			if lower.Strict {
				pos = page.UpperBound(h.page, h.comparer.Compare, lower.Key)
			} else {
				pos = page.LowerBound(h.page, h.comparer.Compare, lower.Key)
			}
		}
		if pos < h.page.NItems {
			h.it.Pos = pos
			h.maybePrefetch(ctx)
			return nil
		}
		next := blockstore.BlockID(h.page.Header.Rightlink)
		if next == blockstore.NoBlock || uint64(next) >= h.store.BlockCount() {
			h.endScan()
			return nil
		}
		leaf = next
	}
}

func (h *Handle) openBackward(ctx context.Context) error {
	mode := descendByKey
	var key []byte
	upper, hasUpper := h.bounds.effectiveUpper()
	if hasUpper {
		key = upper.Key
	} else {
		mode = descendRightmost
	}
	leaf, _, err := h.descend(ctx, h.root, mode, key)
	if err != nil {
		return err
	}

	for {
		if err := h.pinLeaf(ctx, leaf); err != nil {
			return err
		}
		if h.prunedBackward() {
			h.endScan()
			return nil
		}
		pos := h.page.NItems - 1
		if hasUpper {
			if upper.Strict {
				pos = page.LowerBound(h.page, h.comparer.Compare, upper.Key) - 1
			} else {
				pos = page.UpperBound(h.page, h.comparer.Compare, upper.Key) - 1
			}
		}
		if pos >= 0 {
			h.it.Pos = pos
			return nil
		}
		prev, err := h.prevLeaf(ctx)
		if err != nil {
			return err
		}
		if prev == blockstore.NoBlock {
			h.endScan()
			return nil
		}
		leaf = prev
	}
}

// prevLeaf implements spec §4.5's prev_leaf contract: there is no
// leftlink, so it re-descends from root using the current leaf's first
// key, then backtracks up the fresh path to the nearest ancestor with a
// left sibling and takes that sibling's rightmost leaf.
func (h *Handle) prevLeaf(ctx context.Context) (blockstore.BlockID, error) {
	firstKey := append([]byte(nil), page.FirstKey(h.page)...)
	_, path, err := h.descend(ctx, h.root, descendByKey, firstKey)
	if err != nil {
		return blockstore.NoBlock, err
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].pos == 0 {
			continue
		}
		pin, err := h.store.Read(ctx, path[i].block)
		if err != nil {
			return blockstore.NoBlock, errors.Wrap(err, "scan: prev_leaf")
		}
		p, err := page.Decode(pin.Bytes(), uint64(path[i].block))
		h.store.Release(pin)
		if err != nil {
			return blockstore.NoBlock, err
		}
		sibling := treebuild.ChildBlock(page.PayloadAt(p, path[i].pos-1, 0))
		return h.rightmostInSubtree(ctx, sibling)
	}
	return blockstore.NoBlock, nil
}

// rightmostInSubtree descends from an arbitrary subtree root (not
// necessarily the tree root) to its rightmost leaf.
func (h *Handle) rightmostInSubtree(ctx context.Context, start blockstore.BlockID) (blockstore.BlockID, error) {
	leaf, _, err := h.descend(ctx, start, descendRightmost, nil)
	return leaf, err
}

func (h *Handle) prunedForward() bool {
	if h.page.NItems == 0 {
		return true
	}
	uv, ok := h.bounds.effectiveUpper()
	if !ok {
		return false
	}
	return h.comparer.Compare(page.FirstKey(h.page), uv.Key) > 0
}

func (h *Handle) prunedBackward() bool {
	if h.page.NItems == 0 {
		return true
	}
	lv, ok := h.bounds.effectiveLower()
	if !ok {
		return false
	}
	return h.comparer.Compare(page.LastKey(h.page), lv.Key) < 0
}

func (h *Handle) endScan() {
	h.direction = DirNone
	h.releasePin()
}

// maybePrefetch issues warm-up reads for up to PrefetchDepth-1 leaves
// past the one just bound, throttled by a per-scan token bucket (spec
// §4.5, "Prefetch"). PrefetchDepth <= 1 disables it. Only forward scans
// prefetch.
func (h *Handle) maybePrefetch(ctx context.Context) {
	depth := int(h.cfg.PrefetchDepth)
	if depth <= 1 {
		return
	}
	block := blockstore.BlockID(h.page.Header.Rightlink)
	for i := 0; i < depth-1; i++ {
		if block == blockstore.NoBlock || uint64(block) >= h.store.BlockCount() {
			return
		}
		if h.prefetched[block] {
			return
		}
		if h.bucket != nil {
			if ok, _ := h.bucket.TryToFulfill(1); !ok {
				return
			}
		}
		pin, err := h.store.Read(ctx, block)
		if err != nil {
			return
		}
		h.prefetched[block] = true
		p, err := page.Decode(pin.Bytes(), uint64(block))
		h.store.Release(pin)
		if err != nil {
			return
		}
		block = blockstore.BlockID(p.Header.Rightlink)
	}
}

// Next advances the scan and returns the next (key, payload columns)
// pair. ok is false once the scan is exhausted; err is non-nil only on a
// genuine failure (codec or store error).
func (h *Handle) Next(ctx context.Context) (key []byte, payload [][]byte, ok bool, err error) {
	for h.direction != DirNone {
		if h.direction == DirForward && h.it.Pos >= h.page.NItems {
			if err := h.advanceForward(ctx); err != nil {
				return nil, nil, false, err
			}
			continue
		}
		if h.direction == DirBackward && h.it.Pos < 0 {
			if err := h.advanceBackward(ctx); err != nil {
				return nil, nil, false, err
			}
			continue
		}
		pos := h.it.Pos
		k := h.it.Key()
		if h.direction == DirForward {
			if h.forwardBoundStop(k) {
				h.endScan()
				break
			}
		} else {
			if h.backwardBoundStop(k) {
				h.endScan()
				break
			}
		}

		start, end := h.it.RunBounds()
		rk := runCacheKey{Block: h.block, Run: start}
		entry, cached := h.cachedRuns.Get(rk)
		if !cached {
			entry = runCacheEntry{Start: start, End: end}
		}

		matched := true
		isIncludeRLE := h.page.Header.FormatTag == page.FormatIncludeRLE
		if isIncludeRLE && entry.HasPredicateResult {
			matched = entry.PredicateOK
		} else {
			for _, rp := range h.runtime {
				if !rp(h.page, pos) {
					matched = false
					break
				}
			}
			if isIncludeRLE {
				entry.HasPredicateResult = true
				entry.PredicateOK = matched
			}
		}
		h.cachedRuns.Put(rk, entry)

		var cols [][]byte
		if matched {
			cols = make([][]byte, len(h.page.Schema.PayloadWidths))
			for c := range cols {
				cols[c] = append([]byte(nil), h.it.Payload(c)...)
			}
		}

		if h.direction == DirForward {
			h.it.Next()
		} else {
			h.it.Prev()
		}

		if !matched {
			continue
		}

		return append([]byte(nil), k...), cols, true, nil
	}
	return nil, nil, false, nil
}

func (h *Handle) forwardBoundStop(key []byte) bool {
	uv, ok := h.bounds.effectiveUpper()
	if !ok {
		return false
	}
	cmp := h.comparer.Compare(key, uv.Key)
	if h.bounds.Equality {
		return cmp > 0
	}
	if uv.Strict {
		return cmp >= 0
	}
	return cmp > 0
}

func (h *Handle) backwardBoundStop(key []byte) bool {
	lv, ok := h.bounds.effectiveLower()
	if !ok {
		return false
	}
	cmp := h.comparer.Compare(key, lv.Key)
	if h.bounds.Equality {
		return cmp < 0
	}
	if lv.Strict {
		return cmp <= 0
	}
	return cmp < 0
}

func (h *Handle) advanceForward(ctx context.Context) error {
	next := blockstore.BlockID(h.page.Header.Rightlink)
	if next == blockstore.NoBlock || uint64(next) >= h.store.BlockCount() {
		h.endScan()
		return nil
	}
	if err := h.pinLeaf(ctx, next); err != nil {
		return err
	}
	if h.prunedForward() {
		h.endScan()
		return nil
	}
	h.it.First()
	h.maybePrefetch(ctx)
	return nil
}

func (h *Handle) advanceBackward(ctx context.Context) error {
	prev, err := h.prevLeaf(ctx)
	if err != nil {
		return err
	}
	if prev == blockstore.NoBlock {
		h.endScan()
		return nil
	}
	if err := h.pinLeaf(ctx, prev); err != nil {
		return err
	}
	if h.prunedBackward() {
		h.endScan()
		return nil
	}
	h.it.Last()
	return nil
}

// CurrentBlock returns the block id of the leaf the handle currently has
// pinned, or blockstore.NoBlock if the handle is closed. The parallel
// coordinator (spec §4.6) uses this to turn a bound-anchored Open into a
// starting leaf for its shared cursor.
func (h *Handle) CurrentBlock() blockstore.BlockID {
	if h.pin == nil {
		return blockstore.NoBlock
	}
	return h.block
}

// LocateAnchor opens a throwaway handle long enough to run the usual
// bound-anchored descent and reports the resulting leaf, then discards all
// scan state. It is the parallel coordinator's one-time root descent (spec
// §4.6: "performs the root descent to locate the first candidate leaf").
func LocateAnchor(ctx context.Context, store blockstore.Store, comparer base.Comparer, root blockstore.BlockID, cfg base.Config, dir Direction, bounds Bounds) (blockstore.BlockID, error) {
	h := NewHandle(store, comparer, root, cfg, nil)
	if err := h.Open(ctx, dir, bounds, nil); err != nil {
		return blockstore.NoBlock, err
	}
	defer h.Close()
	return h.CurrentBlock(), nil
}

// NextLeaf returns the leaf immediately following block along the
// rightlink chain, or blockstore.NoBlock once the chain ends.
func NextLeaf(ctx context.Context, store blockstore.Store, block blockstore.BlockID) (blockstore.BlockID, error) {
	pin, err := store.Read(ctx, block)
	if err != nil {
		return blockstore.NoBlock, errors.Wrap(err, "scan: next leaf")
	}
	p, err := page.Decode(pin.Bytes(), uint64(block))
	store.Release(pin)
	if err != nil {
		return blockstore.NoBlock, err
	}
	next := blockstore.BlockID(p.Header.Rightlink)
	if next == blockstore.NoBlock || uint64(next) >= store.BlockCount() {
		return blockstore.NoBlock, nil
	}
	return next, nil
}

// PrevLeaf returns the leaf immediately preceding block, using the same
// no-leftlink navigation Handle.prevLeaf performs mid-scan: a fresh root
// descent on block's first key, then a backtrack to the nearest ancestor
// with a left sibling (spec §4.5's prev_leaf contract, reused by §4.6's
// parallel coordinator for backward claims).
func PrevLeaf(ctx context.Context, store blockstore.Store, comparer base.Comparer, root blockstore.BlockID, block blockstore.BlockID) (blockstore.BlockID, error) {
	h := &Handle{store: store, comparer: comparer, root: root}
	if err := h.pinLeaf(ctx, block); err != nil {
		return blockstore.NoBlock, err
	}
	defer h.releasePin()
	return h.prevLeaf(ctx)
}

// InBounds reports whether key satisfies b on its own, with no direction
// or bound-stop state. A parallel worker applies this per tuple instead of
// forwardBoundStop/backwardBoundStop because it has no notion of "the
// scan has now passed the boundary" -- each claimed leaf is checked
// independently (spec §4.6: "between workers no ordering on emitted
// tuples is guaranteed").
func InBounds(b Bounds, key []byte, cmp func(a, c []byte) int) bool {
	if lo, ok := b.effectiveLower(); ok {
		c := cmp(key, lo.Key)
		if lo.Strict {
			if c <= 0 {
				return false
			}
		} else if c < 0 {
			return false
		}
	}
	if up, ok := b.effectiveUpper(); ok {
		c := cmp(key, up.Key)
		if up.Strict {
			if c >= 0 {
				return false
			}
		} else if c > 0 {
			return false
		}
	}
	return true
}

// PageMayContain reports whether p's key range can possibly intersect b,
// the same page-level pruning test prunedForward/prunedBackward apply
// mid-scan, exposed for the parallel coordinator to skip a claimed leaf
// entirely without decoding every tuple.
func PageMayContain(p *page.DecodedPage, b Bounds, cmp func(a, c []byte) int) bool {
	if p.NItems == 0 {
		return false
	}
	if lo, ok := b.effectiveLower(); ok && cmp(page.LastKey(p), lo.Key) < 0 {
		return false
	}
	if up, ok := b.effectiveUpper(); ok && cmp(page.FirstKey(p), up.Key) > 0 {
		return false
	}
	return true
}
