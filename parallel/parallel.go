// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package parallel implements the parallel coordinator (spec §4.6):
// several workers cooperatively drain one bounded scan by claiming
// successive batches of leaves off a shared atomic cursor, each worker
// then scanning its claimed leaves independently with no pinned-page
// state shared across goroutines.
package parallel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/blockidx/blockidx/scan"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Emit receives one matched tuple. The coordinator calls it under its own
// internal lock, so an Emit implementation need not be concurrency-safe
// itself, but it must not block indefinitely -- doing so stalls every
// worker (spec §4.6: "within a worker the execution is sequential").
// Between workers no ordering on emitted tuples is guaranteed.
type Emit func(key []byte, payload [][]byte) error

// Coordinator runs one bounded scan cooperatively across a worker pool
// sharing a single atomic leaf cursor (spec §4.6, "Shared state").
type Coordinator struct {
	store    blockstore.Store
	comparer base.Comparer
	root     blockstore.BlockID
	cfg      base.Config
	logger   base.LoggerAndTracer

	dir     scan.Direction
	bounds  scan.Bounds
	runtime []scan.RuntimePredicate

	// cursor is the ordinal offset, in leaves from anchor, of the next
	// unclaimed batch. Workers fetch-and-add batch onto it (spec §4.6,
	// "Claim protocol").
	cursor atomic.Uint64

	// initialized/anchor implement the first-touch root descent: the
	// worker that observes initialized == 0 performs the descent and
	// publishes its result via a release-ordered store; every other
	// worker observing initialized == 1 reads anchor directly (spec
	// §4.6, "Memory ordering").
	initialized atomic.Uint32
	anchor      atomic.Uint64
	anchorEmpty atomic.Bool
	raceForced  atomic.Bool

	exhausted atomic.Bool
}

// NewCoordinator builds a coordinator for one scan. dir/bounds/runtime have
// the same meaning as scan.Handle.Open's arguments.
func NewCoordinator(store blockstore.Store, comparer base.Comparer, root blockstore.BlockID, cfg base.Config, logger base.LoggerAndTracer, dir scan.Direction, bounds scan.Bounds, runtime []scan.RuntimePredicate) *Coordinator {
	return &Coordinator{
		store: store, comparer: comparer, root: root, cfg: cfg, logger: logger,
		dir: dir, bounds: bounds, runtime: runtime,
	}
}

// ensureAnchor performs the shared root descent exactly once under normal
// operation. cfg.TestForceAtomicRace forces the slow path to run at least
// one additional time even when already initialized, exercising the race
// window spec §9 calls out ("simulate_atomic_race forces the first read
// to observe 0"); redoing the descent is safe because it is a pure
// function of (store, root, bounds) and every racing writer computes the
// same answer.
func (c *Coordinator) ensureAnchor(ctx context.Context) error {
	forceSlowPath := c.cfg.TestForceAtomicRace && c.raceForced.CompareAndSwap(false, true)
	if !forceSlowPath && c.initialized.Load() == 1 {
		return nil
	}
	leaf, err := scan.LocateAnchor(ctx, c.store, c.comparer, c.root, c.cfg, c.dir, c.bounds)
	if err != nil {
		return errors.Wrap(err, "parallel: locating anchor leaf")
	}
	c.anchor.Store(uint64(leaf))
	if leaf == blockstore.NoBlock {
		c.anchorEmpty.Store(true)
	}
	c.initialized.Store(1)
	return nil
}

// claim fetches-and-adds the configured batch size onto the shared
// cursor and returns the ordinal offset it owns (spec §4.6, "Claim
// protocol").
func (c *Coordinator) claim() uint64 {
	batch := uint64(c.cfg.ParallelClaimBatch)
	if batch == 0 {
		batch = 1
	}
	after := c.cursor.Add(batch)
	return after - batch
}

// Run drains the scan with up to workers concurrent goroutines, calling
// emit for every tuple any worker matches. Run blocks until every worker
// has observed the end of the leaf chain or one returns an error, in
// which case the remaining workers are canceled and the first error is
// returned (spec §4.6, §7: "scan errors terminate the current scan").
func (c *Coordinator) Run(ctx context.Context, workers int, emit Emit) error {
	if c.cfg.TestForceParallelWorkers > 0 {
		workers = c.cfg.TestForceParallelWorkers
	}
	if workers < 1 {
		workers = 1
	}
	if err := c.ensureAnchor(ctx); err != nil {
		return err
	}
	if c.anchorEmpty.Load() {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(workers))
	var emitMu sync.Mutex

	for !c.exhausted.Load() {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		offset := c.claim()
		g.Go(func() error {
			defer sem.Release(1)
			return c.processBatch(gctx, offset, emit, &emitMu)
		})
	}
	return g.Wait()
}

// processBatch walks from the shared anchor by offset leaves, then scans
// up to ParallelClaimBatch leaves from there, marking the coordinator
// exhausted once any worker walks off the end of the leaf chain.
func (c *Coordinator) processBatch(ctx context.Context, offset uint64, emit Emit, emitMu *sync.Mutex) error {
	anchor := blockstore.BlockID(c.anchor.Load())
	leaf, err := c.hop(ctx, anchor, offset)
	if err != nil {
		return err
	}
	if leaf == blockstore.NoBlock {
		c.exhausted.Store(true)
		return nil
	}

	batch := uint64(c.cfg.ParallelClaimBatch)
	if batch == 0 {
		batch = 1
	}
	for i := uint64(0); i < batch; i++ {
		ok, next, err := c.scanLeaf(ctx, leaf, emit, emitMu)
		if err != nil {
			return err
		}
		if !ok {
			c.exhausted.Store(true)
			return nil
		}
		if next == blockstore.NoBlock {
			c.exhausted.Store(true)
			return nil
		}
		leaf = next
	}
	return nil
}

// hop walks n leaves forward (rightlink) or backward (prev_leaf) from
// start, matching the claim direction (spec §4.6: "within the claim the
// worker walks via rightlink (forward) or uses prev_leaf (backward)").
func (c *Coordinator) hop(ctx context.Context, start blockstore.BlockID, n uint64) (blockstore.BlockID, error) {
	cur := start
	for i := uint64(0); i < n; i++ {
		next, err := c.step(ctx, cur)
		if err != nil {
			return blockstore.NoBlock, err
		}
		if next == blockstore.NoBlock {
			return blockstore.NoBlock, nil
		}
		cur = next
	}
	return cur, nil
}

func (c *Coordinator) step(ctx context.Context, block blockstore.BlockID) (blockstore.BlockID, error) {
	if c.dir == scan.DirBackward {
		return scan.PrevLeaf(ctx, c.store, c.comparer, c.root, block)
	}
	return scan.NextLeaf(ctx, c.store, block)
}

// scanLeaf applies the tuple-level filter to one claimed leaf and reports
// whether the leaf was a genuine leaf page (false means the claim walked
// past the leaf level, which can only happen at the very end of the
// chain) along with the next leaf to continue from.
func (c *Coordinator) scanLeaf(ctx context.Context, block blockstore.BlockID, emit Emit, emitMu *sync.Mutex) (ok bool, next blockstore.BlockID, err error) {
	pin, err := c.store.Read(ctx, block)
	if err != nil {
		return false, blockstore.NoBlock, errors.Wrap(err, "parallel: read claimed leaf")
	}
	p, err := page.Decode(pin.Bytes(), uint64(block))
	c.store.Release(pin)
	if err != nil {
		return false, blockstore.NoBlock, err
	}
	if p.Header.Level != 0 {
		return false, blockstore.NoBlock, nil
	}

	if scan.PageMayContain(p, c.bounds, c.comparer.Compare) {
		if err := c.emitMatches(p, emit, emitMu); err != nil {
			return false, blockstore.NoBlock, err
		}
	}

	next, err = c.step(ctx, block)
	if err != nil {
		return false, blockstore.NoBlock, err
	}
	return true, next, nil
}

func (c *Coordinator) emitMatches(p *page.DecodedPage, emit Emit, emitMu *sync.Mutex) error {
	for pos := 0; pos < p.NItems; pos++ {
		key := page.KeyAt(p, pos)
		if !scan.InBounds(c.bounds, key, c.comparer.Compare) {
			continue
		}
		matched := true
		for _, rp := range c.runtime {
			if !rp(p, pos) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		cols := make([][]byte, len(p.Schema.PayloadWidths))
		for col := range cols {
			cols[col] = append([]byte(nil), page.PayloadAt(p, pos, col)...)
		}
		emitMu.Lock()
		err := emit(append([]byte(nil), key...), cols)
		emitMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}
