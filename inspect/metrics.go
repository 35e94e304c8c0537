// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package inspect

import (
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics optionally exports a ScanStats/Stats pair through prometheus
// collectors (spec §6: "inert (no-op) otherwise"). A nil *Metrics is
// inert: every method returns without recording anything. A non-nil
// Metrics comes from NewMetrics; call Register to export it.
type Metrics struct {
	pagesByFormat *prometheus.GaugeVec
	compression   prometheus.Gauge
	scanLatency   prometheus.Histogram

	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// scanLatencyMinMicros/scanLatencyMaxMicros bound the HdrHistogram's
// tracked range: 1us to 10s per leaf fetch, matching the granularity the
// teacher's slowReadTracingThreshold instrumentation cares about
// (sstable/table.go's readFooter).
const (
	scanLatencyMinMicros = 1
	scanLatencyMaxMicros = 10_000_000
	scanLatencySigFigs   = 3
)

// NewMetrics builds an unregistered Metrics instance with its own
// HdrHistogram for scan latency.
func NewMetrics() *Metrics {
	return &Metrics{
		pagesByFormat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "blockidx",
			Subsystem: "inspect",
			Name:      "pages_by_format",
			Help:      "Number of leaf pages of each encoding format in the most recently inspected tree.",
		}, []string{"format"}),
		compression: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blockidx",
			Subsystem: "inspect",
			Name:      "compression_pct",
			Help:      "Percentage of bytes saved vs. an all-plain layout in the most recently inspected tree.",
		}),
		scanLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "blockidx",
			Subsystem: "scan",
			Name:      "leaf_fetch_latency_seconds",
			Help:      "Per-leaf-fetch latency observed during scans.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		hist: hdrhistogram.New(scanLatencyMinMicros, scanLatencyMaxMicros, scanLatencySigFigs),
	}
}

// Register registers every collector against reg. A nil reg is a no-op,
// so an embedder that never opts into metrics pays nothing beyond the
// HdrHistogram bookkeeping RecordLatency already does locally.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil || m == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.pagesByFormat, m.compression, m.scanLatency} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveStats publishes a freshly computed Stats snapshot onto the
// gauges. Safe to call repeatedly (e.g. once per CLI inspect run).
func (m *Metrics) ObserveStats(s Stats) {
	if m == nil {
		return
	}
	m.pagesByFormat.WithLabelValues("plain").Set(float64(s.LeafPages - s.KeyRLEPages - s.IncRLEPages - s.ZeroCopyPages))
	m.pagesByFormat.WithLabelValues("key-rle").Set(float64(s.KeyRLEPages))
	m.pagesByFormat.WithLabelValues("include-rle").Set(float64(s.IncRLEPages))
	m.pagesByFormat.WithLabelValues("zero-copy").Set(float64(s.ZeroCopyPages))
	m.compression.Set(s.CompressionPct)
}

// RecordLatency records one leaf-fetch duration into both the
// prometheus histogram and the HdrHistogram percentile tracker.
func (m *Metrics) RecordLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.scanLatency.Observe(d.Seconds())
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.hist.RecordValue(d.Microseconds())
}

// LatencyPercentile reports the p-th percentile (0-100) leaf-fetch
// latency recorded so far, or zero if nothing has been recorded yet.
func (m *Metrics) LatencyPercentile(p float64) time.Duration {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.hist.ValueAtPercentile(p)) * time.Microsecond
}
