// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package page

import (
	"sort"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/cockroachdb/errors"
)

func init() {
	opsTable[FormatZeroCopy] = formatOps{
		firstKey:     plainFirstKey, // identical dense key array layout
		lastKey:      plainLastKey,
		keyAt:        plainKeyAt,
		payloadAt:    zeroCopyPayloadAt,
		lowerBound:   plainLowerBound,
		upperBound:   plainUpperBound,
		runBounds:    plainRunBounds,
		decodeBody:   decodeZeroCopyBody,
		encodeBody:   encodeZeroCopyBody,
		estimateSize: estimateZeroCopySize,
	}
}

// zeroCopyPayloadAt never gets called in practice (zero-copy pages carry
// no INCLUDE columns, spec §4.1) but is defined so the dispatch table
// entry is total rather than nil.
func zeroCopyPayloadAt(p *DecodedPage, pos int, col int) []byte {
	panic("page: zero-copy format has no payload columns")
}

func decodeZeroCopyBody(buf []byte, h Header, blockID uint64, schema Schema) (*DecodedPage, error) {
	p := &DecodedPage{Header: h, BlockID: blockID, Schema: schema, NItems: int(h.NItems)}
	keysLen := p.NItems * schema.KeyWidth
	if keysLen > len(buf) {
		return nil, errors.Wrap(base.ErrMalformedPage, "zero-copy: key array overruns body")
	}
	// No padding between entries (spec §4.1): the dense array is returned
	// directly, enabling the zero-copy slice return the format is named
	// for.
	p.Keys = buf[:keysLen]
	return p, nil
}

func encodeZeroCopyBody(e *Encoder) error {
	n := e.n()
	keys := make([]byte, 0, n*e.Schema.KeyWidth)
	for i := 0; i < n; i++ {
		keys = append(keys, e.key(i)...)
	}
	e.writeBody(keys)
	return nil
}

func estimateZeroCopySize(start, end int, source TupleSource, schema Schema, _ base.RLEVersion) int {
	return (end - start) * schema.KeyWidth
}

// UniquenessRatio estimates, by sampling, the fraction of distinct keys in
// tuples[start:end) of source. This is the sampler the packer's zero-copy
// gate relies on (spec §9, open question: "the exact uniqueness metric...
// an implementation should document its sampler"). It samples every
// (n/sampleCap)-th key across the range, at least sampleCap and fewer than
// 2*sampleCap keys, rather than hashing every key, trading exactness for
// O(sampleCap) cost on very large batches.
func UniquenessRatio(start, end int, source TupleSource, keyWidth int, sampleCap int) float64 {
	n := end - start
	if n == 0 {
		return 1
	}
	if sampleCap <= 0 || sampleCap > n {
		sampleCap = n
	}
	stride := n / sampleCap
	if stride < 1 {
		stride = 1
	}
	seen := make(map[string]struct{}, sampleCap)
	samples := 0
	for i := start; i < end; i += stride {
		seen[string(source.KeyAt(i))] = struct{}{}
		samples++
	}
	return float64(len(seen)) / float64(samples)
}

// sortedUnique returns the exact number of distinct keys in keys. Nothing
// in the module calls it.
func sortedUnique(keys [][]byte) int {
	if len(keys) == 0 {
		return 0
	}
	cp := append([][]byte(nil), keys...)
	sort.Slice(cp, func(i, j int) bool { return string(cp[i]) < string(cp[j]) })
	n := 1
	for i := 1; i < len(cp); i++ {
		if string(cp[i]) != string(cp[i-1]) {
			n++
		}
	}
	return n
}
