// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package index

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/scan"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	keys [][]byte
}

func (s fakeSource) Len() int                  { return len(s.keys) }
func (s fakeSource) KeyAt(i int) []byte        { return s.keys[i] }
func (s fakeSource) PayloadAt(int, int) []byte { return nil }
func (s fakeSource) NullMaskAt(int) uint32     { return 0 }

func key4(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func sourceOf(n int) fakeSource {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = key4(uint32(i))
	}
	return fakeSource{keys: keys}
}

func TestBuildThenSequentialScanVisitsEveryKeyInOrder(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 16
	idx, err := Build(context.Background(), sourceOf(3000), store, Options{
		Schema: Schema{KeyWidth: 4},
		Config: cfg,
	})
	require.NoError(t, err)

	h, err := idx.Scan(context.Background(), scan.DirForward, scan.Bounds{}, nil)
	require.NoError(t, err)
	defer h.Close()

	var got []uint32
	for {
		k, _, ok, err := h.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, binary.BigEndian.Uint32(k))
	}
	require.Len(t, got, 3000)
	for i, v := range got {
		require.Equal(t, uint32(i), v)
	}
}

func TestBuildThenParallelScanCollectsEveryKeyExactlyOnce(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 10
	cfg.ParallelClaimBatch = 3
	idx, err := Build(context.Background(), sourceOf(1000), store, Options{
		Schema: Schema{KeyWidth: 4},
		Config: cfg,
	})
	require.NoError(t, err)

	seen := make(map[uint32]bool)
	var mu lockedSeen
	mu.seen = seen
	err = idx.ParallelScan(context.Background(), 5, scan.DirForward, scan.Bounds{}, nil, mu.emit)
	require.NoError(t, err)
	require.Len(t, mu.seen, 1000)
}

type lockedSeen struct {
	seen map[uint32]bool
}

func (l *lockedSeen) emit(key []byte, _ [][]byte) error {
	l.seen[binary.BigEndian.Uint32(key)] = true
	return nil
}

func TestBuildOnEmptySourceYieldsUnusableRootAndEmptyScan(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	idx, err := Build(context.Background(), fakeSource{}, store, Options{Schema: Schema{KeyWidth: 4}})
	require.NoError(t, err)
	require.Equal(t, blockstore.NoBlock, idx.Root)

	h, err := idx.Scan(context.Background(), scan.DirForward, scan.Bounds{}, nil)
	require.NoError(t, err)
	_, _, ok, err := h.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStatsReflectsBuiltTree(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 25
	idx, err := Build(context.Background(), sourceOf(2500), store, Options{Schema: Schema{KeyWidth: 4}, Config: cfg})
	require.NoError(t, err)

	s, err := idx.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 100, s.LeafPages)
}

func TestMutationSurfaceAlwaysFailsReadOnly(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	idx, err := Build(context.Background(), sourceOf(10), store, Options{Schema: Schema{KeyWidth: 4}})
	require.NoError(t, err)

	require.True(t, errors.Is(idx.Insert(context.Background(), sourceOf(1)), base.ErrReadOnly))
	require.True(t, errors.Is(idx.Update(context.Background(), sourceOf(1)), base.ErrReadOnly))
	require.True(t, errors.Is(idx.Delete(context.Background(), nil), base.ErrReadOnly))
}

func TestEqualityScanShortCircuitsOnBloomNegative(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 16
	cfg.BuildBloomFilters = true
	idx, err := Build(context.Background(), sourceOf(2000), store, Options{
		Schema: Schema{KeyWidth: 4},
		Config: cfg,
	})
	require.NoError(t, err)
	require.NotEmpty(t, idx.leafBlooms)

	absent := key4(1_000_000)
	h, err := idx.Scan(context.Background(), scan.DirForward, scan.Bounds{
		Equality: true,
		Lower:    scan.Bound{Present: true, Key: absent},
		Upper:    scan.Bound{Present: true, Key: absent},
	}, nil)
	require.NoError(t, err)
	defer h.Close()

	_, _, ok, err := h.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEqualityScanStillFindsPresentKeyWithBloomFiltersEnabled(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 16
	cfg.BuildBloomFilters = true
	idx, err := Build(context.Background(), sourceOf(2000), store, Options{
		Schema: Schema{KeyWidth: 4},
		Config: cfg,
	})
	require.NoError(t, err)

	present := key4(1234)
	h, err := idx.Scan(context.Background(), scan.DirForward, scan.Bounds{
		Equality: true,
		Lower:    scan.Bound{Present: true, Key: present},
		Upper:    scan.Bound{Present: true, Key: present},
	}, nil)
	require.NoError(t, err)
	defer h.Close()

	k, _, ok, err := h.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(1234), binary.BigEndian.Uint32(k))
}

func TestBuildRejectsMoreThanTwoKeyColumns(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	_, err := Build(context.Background(), sourceOf(4), store, Options{
		Schema: Schema{KeyColumns: []base.KeyWidth{base.Width4, base.Width4, base.Width4}, KeyWidth: 12},
	})
	require.True(t, errors.Is(err, base.ErrTooManyKeyColumns))
}

func TestBuildRejectsAnOverWideTextKey(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	_, err := Build(context.Background(), sourceOf(4), store, Options{
		Schema: Schema{KeyColumns: []base.KeyWidth{base.KeyWidth(64)}, KeyWidth: 64, KeyIsText: true},
	})
	require.True(t, errors.Is(err, base.ErrKeyTooWide))
}

func TestOpenReattachesToAnAlreadyBuiltRoot(t *testing.T) {
	store := blockstore.NewMemStore(4096)
	built, err := Build(context.Background(), sourceOf(500), store, Options{Schema: Schema{KeyWidth: 4}})
	require.NoError(t, err)

	reopened := Open(store, built.Root, Options{Schema: Schema{KeyWidth: 4}})
	h, err := reopened.Scan(context.Background(), scan.DirForward, scan.Bounds{}, nil)
	require.NoError(t, err)
	defer h.Close()

	count := 0
	for {
		_, _, ok, err := h.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 500, count)
}
