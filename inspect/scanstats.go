// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package inspect

import "sync/atomic"

// ScanStats accumulates per-scan counters across the lifetime of one
// scan.Handle or parallel.Coordinator run (spec §4.5: "leaves visited,
// pages pruned, runs skipped, bytes materialized"). Every method is
// concurrency-safe so a parallel scan's workers can all record into one
// shared ScanStats without a caller-side lock.
type ScanStats struct {
	leavesVisited     atomic.Uint64
	pagesPruned       atomic.Uint64
	runsSkipped       atomic.Uint64
	bytesMaterialized atomic.Uint64
}

// NewScanStats returns a zeroed accumulator ready to record.
func NewScanStats() *ScanStats { return &ScanStats{} }

func (s *ScanStats) RecordLeafVisited()        { s.leavesVisited.Add(1) }
func (s *ScanStats) RecordPagePruned()         { s.pagesPruned.Add(1) }
func (s *ScanStats) RecordRunSkipped(n int)    { s.runsSkipped.Add(uint64(n)) }
func (s *ScanStats) RecordBytes(n int)         { s.bytesMaterialized.Add(uint64(n)) }

// ScanSnapshot is a point-in-time, race-free copy of a ScanStats's
// counters, safe to hand to a caller (e.g. the CLI's inspect command)
// after a scan completes.
type ScanSnapshot struct {
	LeavesVisited     uint64
	PagesPruned       uint64
	RunsSkipped       uint64
	BytesMaterialized uint64
}

// Snapshot reads every counter once. Concurrent Record* calls during the
// read may land on either side of any individual field's load, the same
// consistency level the teacher's pebble metrics snapshots offer.
func (s *ScanStats) Snapshot() ScanSnapshot {
	if s == nil {
		return ScanSnapshot{}
	}
	return ScanSnapshot{
		LeavesVisited:     s.leavesVisited.Load(),
		PagesPruned:       s.pagesPruned.Load(),
		RunsSkipped:       s.runsSkipped.Load(),
		BytesMaterialized: s.bytesMaterialized.Load(),
	}
}
