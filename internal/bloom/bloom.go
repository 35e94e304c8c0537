// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bloom implements the optional per-page bloom filter for equality
// probes (spec §6, "build_bloom_filters"). It is orthogonal to core
// correctness: a filter only ever narrows a point lookup as a hint, and a
// positive Probe result is never taken as proof of membership.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// minNHash/maxNHash bound the number of probe hashes a filter may use,
// mirroring the range the teacher's bloom.FilterPolicy derives from
// bits-per-key (data_test.go's "bloom-bits-per-key" testdata directive).
const (
	minNHash = 1
	maxNHash = 30
)

// Filter is a fixed-size bloom filter over one leaf page's keys, built
// with the standard double-hashing technique (Kirsch-Mitzenmacher): two
// independent xxhash64 seeds combine to synthesize NHash probe positions
// without NHash separate hash functions.
type Filter struct {
	bits  []byte
	nhash int
}

// Build constructs a filter sized for len(keys) entries at the given
// bits-per-key density. bitsPerKey <= 0 yields an always-positive filter
// (every Probe reports possibly-present), matching a disabled filter's
// observable behavior without a separate on/off type.
func Build(keys [][]byte, bitsPerKey int) Filter {
	if bitsPerKey <= 0 || len(keys) == 0 {
		return Filter{}
	}
	nhash := estimateNHash(bitsPerKey)
	nbits := len(keys) * bitsPerKey
	if nbits < 64 {
		nbits = 64
	}
	bits := make([]byte, (nbits+7)/8)
	nbits = len(bits) * 8

	for _, k := range keys {
		h1, h2 := seeds(k)
		probe := h1
		for i := 0; i < nhash; i++ {
			bitpos := probe % uint64(nbits)
			bits[bitpos/8] |= 1 << (bitpos % 8)
			probe += h2
		}
	}
	return Filter{bits: bits, nhash: nhash}
}

// estimateNHash derives the classic near-optimal hash count k ~= (bits
// per key) * ln(2) from the configured density.
func estimateNHash(bitsPerKey int) int {
	n := int(math.Round(float64(bitsPerKey) * math.Ln2))
	if n < minNHash {
		n = minNHash
	}
	return n
}

func seeds(key []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(key)
	h2 := xxhash.Sum64(append(append([]byte(nil), key...), 0xff))
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}

// Probe reports whether key may be present in the filter. A false result
// is authoritative (the key is definitely absent); a true result is only
// a hint. cfg.TestForceInvalidNhash substitutes an out-of-range hash
// count, and cfg.TestForceBloomReject forces a conservative false
// regardless of membership -- both are defensive paths spec §9 requires
// exist and be reachable only via test knobs, never in normal operation.
func (f Filter) Probe(key []byte, cfg base.Config) (bool, error) {
	if len(f.bits) == 0 {
		return true, nil
	}
	nhash := f.nhash
	if cfg.TestForceInvalidNhash {
		nhash = maxNHash + 7
	}
	if nhash < minNHash || nhash > maxNHash {
		return false, errors.Wrapf(base.ErrBadNhash, "bloom filter nhash %d out of range [%d,%d]", nhash, minNHash, maxNHash)
	}
	if cfg.TestForceBloomReject {
		return false, nil
	}

	nbits := len(f.bits) * 8
	h1, h2 := seeds(key)
	probe := h1
	for i := 0; i < nhash; i++ {
		bitpos := probe % uint64(nbits)
		if f.bits[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false, nil
		}
		probe += h2
	}
	return true, nil
}

// NHash reports the probe count the filter was built with (0 for a
// disabled/empty filter).
func (f Filter) NHash() int { return f.nhash }

// Bytes returns the filter's raw bitset, for persisting alongside a leaf
// descriptor.
func (f Filter) Bytes() []byte { return f.bits }

// FromBytes reconstructs a Filter previously returned by Build, as read
// back from storage.
func FromBytes(bits []byte, nhash int) Filter {
	return Filter{bits: bits, nhash: nhash}
}

// EncodeNHash/DecodeNHash give callers a stable little-endian on-disk
// representation for the hash count alongside the raw bitset, matching
// how the page header encodes its other small integer fields.
func EncodeNHash(nhash int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(nhash))
	return b
}

func DecodeNHash(b []byte) int {
	return int(binary.LittleEndian.Uint16(b))
}
