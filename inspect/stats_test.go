// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package inspect

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/collector"
	"github.com/blockidx/blockidx/internal/packer"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/blockidx/blockidx/internal/treebuild"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func key8(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func buildIndex(t *testing.T, n int, cfg base.Config) (blockstore.Store, blockstore.BlockID) {
	t.Helper()
	schema := page.Schema{KeyWidth: 8}
	c, err := collector.New(schema, base.DefaultComparer)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, c.Push(collector.Tuple{Key: key8(uint64(i))}))
	}
	view := c.Finalize()

	store := blockstore.NewMemStore(4096)
	leaves, err := packer.Pack(context.Background(), view, store, packer.Options{
		Schema: schema, SingleKey: true, Comparer: base.DefaultComparer, Config: cfg,
	})
	require.NoError(t, err)

	refs := make([]treebuild.ChildRef, len(leaves))
	for i, l := range leaves {
		refs[i] = treebuild.ChildRef{MinKey: l.FirstKey, Block: l.Block}
	}
	res, err := treebuild.Build(context.Background(), refs, store, schema.KeyWidth, cfg, nil)
	require.NoError(t, err)
	return store, res.Root
}

func TestComputeCountsEveryLeafAndFormatExactlyOnce(t *testing.T) {
	cfg := base.DefaultConfig()
	cfg.TestCapTuplesPerPage = 20
	store, root := buildIndex(t, 5000, cfg)

	s, err := Compute(context.Background(), store, root)
	require.NoError(t, err)
	require.Greater(t, s.TotalPages, 0)
	require.Greater(t, s.LeafPages, 0)
	require.Equal(t, s.LeafPages, 5000/20+boolToInt(5000%20 != 0))
	require.GreaterOrEqual(t, s.ZeroCopyPct, 0.0)
	require.LessOrEqual(t, s.ZeroCopyPct, 100.0)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestComputeOnEmptyTreeReportsZeroStats(t *testing.T) {
	s, err := Compute(context.Background(), blockstore.NewMemStore(4096), blockstore.NoBlock)
	require.NoError(t, err)
	require.Equal(t, Stats{}, s)
}

func TestComputeReportsZeroCopyForUniqueDenseKeys(t *testing.T) {
	cfg := base.DefaultConfig()
	cfg.EnableZeroCopy = base.ZeroCopyOn
	store, root := buildIndex(t, 3000, cfg)

	s, err := Compute(context.Background(), store, root)
	require.NoError(t, err)
	require.Greater(t, s.ZeroCopyPages, 0)
}

func TestScanStatsSnapshotIsConcurrencySafe(t *testing.T) {
	stats := NewScanStats()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			stats.RecordLeafVisited()
			stats.RecordPagePruned()
			stats.RecordRunSkipped(3)
			stats.RecordBytes(64)
		}
		close(done)
	}()
	<-done
	snap := stats.Snapshot()
	require.Equal(t, uint64(1000), snap.LeavesVisited)
	require.Equal(t, uint64(1000), snap.PagesPruned)
	require.Equal(t, uint64(3000), snap.RunsSkipped)
	require.Equal(t, uint64(64000), snap.BytesMaterialized)
}

func TestNilScanStatsSnapshotIsZeroValue(t *testing.T) {
	var s *ScanStats
	require.Equal(t, ScanSnapshot{}, s.Snapshot())
}

func TestMetricsRegisterIsNoopWithoutARegisterer(t *testing.T) {
	m := NewMetrics()
	require.NoError(t, m.Register(nil))
	m.ObserveStats(Stats{LeafPages: 10, ZeroCopyPages: 4, CompressionPct: 12.5})
}

func TestMetricsRegisterAgainstARealRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	require.NoError(t, m.Register(reg))
	// Registering a second Metrics against the same registry collides on
	// collector names; the duplicate is swallowed rather than erroring.
	m2 := NewMetrics()
	require.NoError(t, m2.Register(reg))
}

func TestLatencyPercentileTracksRecordedValues(t *testing.T) {
	m := NewMetrics()
	for i := 1; i <= 100; i++ {
		m.RecordLatency(time.Duration(i) * time.Millisecond)
	}
	p50 := m.LatencyPercentile(50)
	require.Greater(t, p50, time.Duration(0))
	require.Less(t, p50, 100*time.Millisecond)
}

func TestLatencyPercentileOnNilMetricsIsZero(t *testing.T) {
	var m *Metrics
	require.Equal(t, time.Duration(0), m.LatencyPercentile(50))
}
