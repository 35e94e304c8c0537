// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package scan

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/collector"
	"github.com/blockidx/blockidx/internal/packer"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/blockidx/blockidx/internal/treebuild"
	"github.com/stretchr/testify/require"
)

func k4(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// buildIndex pushes n tuples with keys 0..n-1 (optionally carrying an
// INCLUDE column built from payloadFn) through collector -> packer ->
// treebuild, exactly the pipeline index.Build wires together, and returns
// the store and the resulting root block.
func buildIndex(t *testing.T, n int, schema page.Schema, cfg base.Config, payloadFn func(i int) []byte) (blockstore.Store, blockstore.BlockID) {
	t.Helper()
	c, err := collector.New(schema, base.DefaultComparer)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		tup := collector.Tuple{Key: k4(uint32(i))}
		if payloadFn != nil {
			tup.Payload = [][]byte{payloadFn(i)}
		}
		require.NoError(t, c.Push(tup))
	}
	view := c.Finalize()

	store := blockstore.NewMemStore(4096)
	leaves, err := packer.Pack(context.Background(), view, store, packer.Options{
		Schema: schema, SingleKey: true, Comparer: base.DefaultComparer, Config: cfg,
	})
	require.NoError(t, err)
	require.NotEmpty(t, leaves)

	refs := make([]treebuild.ChildRef, len(leaves))
	for i, l := range leaves {
		refs[i] = treebuild.ChildRef{MinKey: l.FirstKey, Block: l.Block}
	}
	res, err := treebuild.Build(context.Background(), refs, store, schema.KeyWidth, cfg, nil)
	require.NoError(t, err)
	return store, res.Root
}

func collectForward(t *testing.T, h *Handle) []uint32 {
	t.Helper()
	var got []uint32
	for {
		k, _, ok, err := h.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, binary.BigEndian.Uint32(k))
	}
	return got
}

func TestForwardFullScanVisitsEveryKeyInOrder(t *testing.T) {
	schema := page.Schema{KeyWidth: 4}
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 8 // force many small leaves
	store, root := buildIndex(t, 500, schema, cfg, nil)

	h := NewHandle(store, base.DefaultComparer, root, cfg, nil)
	require.NoError(t, h.Open(context.Background(), DirForward, Bounds{}, nil))
	got := collectForward(t, h)

	require.Len(t, got, 500)
	for i, v := range got {
		require.Equal(t, uint32(i), v)
	}
}

func TestBackwardFullScanVisitsEveryKeyInReverseOrder(t *testing.T) {
	schema := page.Schema{KeyWidth: 4}
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 8
	store, root := buildIndex(t, 500, schema, cfg, nil)

	h := NewHandle(store, base.DefaultComparer, root, cfg, nil)
	require.NoError(t, h.Open(context.Background(), DirBackward, Bounds{}, nil))

	var got []uint32
	for {
		k, _, ok, err := h.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, binary.BigEndian.Uint32(k))
	}
	require.Len(t, got, 500)
	for i, v := range got {
		require.Equal(t, uint32(499-i), v)
	}
}

func TestTallTreeBackwardNavigationFromMiddle(t *testing.T) {
	// A low fanout cap and a low per-page tuple cap over a large key
	// range forces several internal levels, exercising prev_leaf's
	// rightmost_in_subtree path repeatedly across ancestor boundaries.
	schema := page.Schema{KeyWidth: 4}
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 50
	cfg.TestCapInternalFanout = 10
	const n = 100000
	store, root := buildIndex(t, n, schema, cfg, nil)

	h := NewHandle(store, base.DefaultComparer, root, cfg, nil)
	const from = 10000
	bounds := Bounds{Upper: Bound{Present: true, Key: k4(from), Strict: false}}
	require.NoError(t, h.Open(context.Background(), DirBackward, bounds, nil))

	count := 0
	expect := uint32(from)
	for {
		k, _, ok, err := h.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, expect, binary.BigEndian.Uint32(k))
		if expect == 0 {
			break
		}
		expect--
		count++
	}
	require.Equal(t, from, count)
}

func TestForwardStrictLowerBoundExcludesEqualKey(t *testing.T) {
	schema := page.Schema{KeyWidth: 4}
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 8
	store, root := buildIndex(t, 100, schema, cfg, nil)

	h := NewHandle(store, base.DefaultComparer, root, cfg, nil)
	bounds := Bounds{Lower: Bound{Present: true, Key: k4(40), Strict: true}}
	require.NoError(t, h.Open(context.Background(), DirForward, bounds, nil))
	got := collectForward(t, h)
	require.NotEmpty(t, got)
	require.Equal(t, uint32(41), got[0])
}

func TestForwardNonStrictLowerBoundIncludesEqualKey(t *testing.T) {
	schema := page.Schema{KeyWidth: 4}
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 8
	store, root := buildIndex(t, 100, schema, cfg, nil)

	h := NewHandle(store, base.DefaultComparer, root, cfg, nil)
	bounds := Bounds{Lower: Bound{Present: true, Key: k4(40), Strict: false}}
	require.NoError(t, h.Open(context.Background(), DirForward, bounds, nil))
	got := collectForward(t, h)
	require.NotEmpty(t, got)
	require.Equal(t, uint32(40), got[0])
}

func TestEqualityScanStopsAfterSingleMatch(t *testing.T) {
	schema := page.Schema{KeyWidth: 4}
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 8
	store, root := buildIndex(t, 200, schema, cfg, nil)

	h := NewHandle(store, base.DefaultComparer, root, cfg, nil)
	bounds := Bounds{
		Lower:    Bound{Present: true, Key: k4(77)},
		Upper:    Bound{Present: true, Key: k4(77)},
		Equality: true,
	}
	require.NoError(t, h.Open(context.Background(), DirForward, bounds, nil))
	got := collectForward(t, h)
	require.Equal(t, []uint32{77}, got)
}

func TestScanKeyNullBoundIsRejected(t *testing.T) {
	schema := page.Schema{KeyWidth: 4}
	cfg := base.DefaultConfig()
	store, root := buildIndex(t, 10, schema, cfg, nil)

	h := NewHandle(store, base.DefaultComparer, root, cfg, nil)
	bounds := Bounds{Lower: Bound{Present: true, IsNull: true}}
	err := h.Open(context.Background(), DirForward, bounds, nil)
	require.ErrorIs(t, err, base.ErrScanKeyNull)
}

func TestRuntimePredicateFiltersCorrelatedSecondKey(t *testing.T) {
	// One INCLUDE column carrying a second correlated key (spec §8's
	// two-key correlated scenario): only even-valued second keys match.
	schema := page.Schema{KeyWidth: 4, PayloadWidths: []int{4}}
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 8
	store, root := buildIndex(t, 300, schema, cfg, func(i int) []byte { return k4(uint32(i % 7)) })

	even := RuntimePredicate(func(p *page.DecodedPage, pos int) bool {
		v := binary.BigEndian.Uint32(page.PayloadAt(p, pos, 0))
		return v%2 == 0
	})

	h := NewHandle(store, base.DefaultComparer, root, cfg, nil)
	require.NoError(t, h.Open(context.Background(), DirForward, Bounds{}, []RuntimePredicate{even}))

	count := 0
	for {
		_, payload, ok, err := h.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		v := binary.BigEndian.Uint32(payload[0])
		require.Zero(t, v%2)
		count++
	}
	require.Greater(t, count, 0)
	require.Less(t, count, 300)
}

func TestRescanReleasesPriorPinBeforeReopening(t *testing.T) {
	schema := page.Schema{KeyWidth: 4}
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 8
	store, root := buildIndex(t, 200, schema, cfg, nil)

	h := NewHandle(store, base.DefaultComparer, root, cfg, nil)
	require.NoError(t, h.Open(context.Background(), DirForward, Bounds{}, nil))
	// Advance partway, then rescan with a different bound before
	// exhausting the handle; the stale pin from the first Open must not
	// leak into the second.
	_, _, ok, err := h.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	bounds := Bounds{Lower: Bound{Present: true, Key: k4(150)}}
	require.NoError(t, h.Open(context.Background(), DirForward, bounds, nil))
	got := collectForward(t, h)
	require.Equal(t, uint32(150), got[0])
	require.Equal(t, uint32(199), got[len(got)-1])
}

func TestEmptyIndexScanYieldsNoRows(t *testing.T) {
	cfg := base.DefaultConfig()
	h := NewHandle(blockstore.NewMemStore(4096), base.DefaultComparer, blockstore.NoBlock, cfg, nil)
	require.NoError(t, h.Open(context.Background(), DirForward, Bounds{}, nil))
	_, _, ok, err := h.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKeyRLERunSkipReturnsEveryLogicalRow(t *testing.T) {
	// Heavy key duplication forces key-RLE pages; a run-skip bug would
	// either drop or duplicate rows within a run.
	schema := page.Schema{KeyWidth: 4, PayloadWidths: []int{4}}
	cfg := base.DefaultConfig()
	c, err := collector.New(schema, base.DefaultComparer)
	require.NoError(t, err)
	const distinct = 30
	const perKey = 40
	for i := 0; i < distinct; i++ {
		for j := 0; j < perKey; j++ {
			require.NoError(t, c.Push(collector.Tuple{Key: k4(uint32(i)), Payload: [][]byte{k4(uint32(j))}}))
		}
	}
	view := c.Finalize()
	store := blockstore.NewMemStore(4096)
	leaves, err := packer.Pack(context.Background(), view, store, packer.Options{
		Schema: schema, SingleKey: true, Comparer: base.DefaultComparer, Config: cfg,
	})
	require.NoError(t, err)
	sawKeyRLE := false
	for _, l := range leaves {
		if l.Format == page.FormatKeyRLE {
			sawKeyRLE = true
		}
	}
	require.True(t, sawKeyRLE, "test setup must exercise key-RLE")

	refs := make([]treebuild.ChildRef, len(leaves))
	for i, l := range leaves {
		refs[i] = treebuild.ChildRef{MinKey: l.FirstKey, Block: l.Block}
	}
	res, err := treebuild.Build(context.Background(), refs, store, schema.KeyWidth, cfg, nil)
	require.NoError(t, err)

	h := NewHandle(store, base.DefaultComparer, res.Root, cfg, nil)
	require.NoError(t, h.Open(context.Background(), DirForward, Bounds{}, nil))
	counts := make(map[uint32]int)
	for {
		k, _, ok, err := h.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		counts[binary.BigEndian.Uint32(k)]++
	}
	require.Len(t, counts, distinct)
	for _, n := range counts {
		require.Equal(t, perKey, n)
	}
}
