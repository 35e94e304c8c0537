// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "sync/atomic"

// RLEVersion selects the on-page run-encoding layout (spec §4.1).
type RLEVersion uint8

const (
	RLEAuto RLEVersion = iota
	RLEv1
	RLEv2
)

// ZeroCopyMode selects whether the packer is allowed to choose the
// zero-copy page format (spec §4.1, §6).
type ZeroCopyMode uint8

const (
	ZeroCopyAuto ZeroCopyMode = iota
	ZeroCopyOn
	ZeroCopyOff
)

// Config is the full set of recognized build/scan options from spec §6,
// plus the undocumented test knobs spec §6 requires to exist. A Config is
// captured by value at build or scan open and never mutated afterward by
// the core (spec §9, "Global test knobs") -- it behaves like a
// process-wide value seeded once per operation, not a live dial.
type Config struct {
	// RLEKeyVersion chooses v1 (runs back-to-back) or v2 (keys-array +
	// lengths-array, branchless binary search). Auto: v1 for text keys,
	// v2 otherwise.
	RLEKeyVersion RLEVersion

	// BuildBloomFilters enables an optional per-page bloom filter for
	// equality probes. Orthogonal to core correctness (spec §6).
	BuildBloomFilters bool

	// Compression selects the whole-body codec pages are wrapped in
	// after structural encoding (spec §6). None disables it.
	Compression CompressionCodec

	// EnableZeroCopy and its gating thresholds (spec §4.1, §6).
	EnableZeroCopy             ZeroCopyMode
	ZeroCopyThresholdMB        int
	ZeroCopyUniquenessThreshold float64

	// PrefetchDepth: 1 disables prefetch.
	PrefetchDepth uint8

	// ParallelClaimBatch: 1..8 (spec §4.6).
	ParallelClaimBatch uint8

	// CostPage, CostTup are planner-visible scalar costs; they never
	// affect correctness (spec §6).
	CostPage float64
	CostTup  float64

	// Test knobs -- undocumented in the user-facing surface, but must
	// exist (spec §6).
	TestCapTuplesPerPage  int // 0 = no cap
	TestCapInternalFanout int // 0 = no cap
	TestForceBloomReject  bool
	TestForceInvalidNhash bool
	TestForceParallelWorkers int // 0 = use configured worker count
	TestForceLoopGuardTrigger bool
	TestForceAtomicRace   bool
}

// DefaultConfig mirrors the defaults documented in spec §6.
func DefaultConfig() Config {
	return Config{
		RLEKeyVersion:               RLEAuto,
		BuildBloomFilters:           false,
		EnableZeroCopy:              ZeroCopyAuto,
		ZeroCopyThresholdMB:         64,
		ZeroCopyUniquenessThreshold: 0.95,
		PrefetchDepth:               4,
		ParallelClaimBatch:          4,
		CostPage:                    1.0,
		CostTup:                     0.01,
	}
}

// ResolveRLEVersion returns the concrete version to use for a key column
// that is (or is not) text, applying the "auto" default from spec §4.1.
func (c Config) ResolveRLEVersion(isText bool) RLEVersion {
	if c.RLEKeyVersion != RLEAuto {
		return c.RLEKeyVersion
	}
	if isText {
		return RLEv1
	}
	return RLEv2
}

// configSlot holds the process-wide configuration scope described in spec
// §9 ("Global test knobs. Model as a process-wide configuration value
// seeded at build/scan open; the core never mutates it at runtime."). It is
// implemented as an atomic.Value so concurrent readers observe a
// consistent snapshot without a mutex.
var configSlot atomic.Value // stores Config

func init() {
	configSlot.Store(DefaultConfig())
}

// ActiveConfig returns the configuration currently installed for the
// process. The build and scan entry points do not read it: they take a
// Config by value through their options and thread it explicitly.
func ActiveConfig() Config {
	return configSlot.Load().(Config)
}

// WithConfig installs cfg as the active configuration for the duration of
// fn, then restores the previous configuration. It changes only what
// ActiveConfig returns; the module's own tests set test knobs on a Config
// value passed through options instead.
func WithConfig(cfg Config, fn func()) {
	prev := configSlot.Load().(Config)
	configSlot.Store(cfg)
	defer configSlot.Store(prev)
	fn()
}
