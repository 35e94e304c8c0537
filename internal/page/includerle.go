// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package page

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/cockroachdb/errors"
)

func init() {
	opsTable[FormatIncludeRLE] = formatOps{
		firstKey:     irFirstKey,
		lastKey:      irLastKey,
		keyAt:        irKeyAt,
		payloadAt:    irPayloadAt,
		lowerBound:   irLowerBound,
		upperBound:   irUpperBound,
		runBounds:    irRunBounds,
		decodeBody:   decodeIncludeRLEBody,
		encodeBody:   encodeIncludeRLEBody,
		estimateSize: estimateIncludeRLESize,
	}
}

func irRunKeyAt(p *DecodedPage, run int) []byte {
	w := p.Schema.KeyWidth
	return p.RunKeys[run*w : (run+1)*w]
}

func irFirstKey(p *DecodedPage) []byte { return irRunKeyAt(p, 0) }
func irLastKey(p *DecodedPage) []byte  { return irRunKeyAt(p, len(p.RunLengths)-1) }

func irKeyAt(p *DecodedPage, pos int) []byte {
	return irRunKeyAt(p, runIndexForPos(p.RunOffsets, pos))
}

// irPayloadAt returns the run's single shared payload value for every
// tuple in that run (spec §4.1: "for RLE it returns the shared run
// value").
func irPayloadAt(p *DecodedPage, pos int, col int) []byte {
	r := runIndexForPos(p.RunOffsets, pos)
	w := p.Schema.PayloadWidths[col]
	return p.RunPayloadCols[col][r*w : (r+1)*w]
}

func irLowerBound(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int {
	nRuns := len(p.RunLengths)
	r := sort.Search(nRuns, func(i int) bool { return cmp(irRunKeyAt(p, i), key) >= 0 })
	if r >= nRuns {
		return p.NItems
	}
	return p.RunOffsets[r]
}

func irUpperBound(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int {
	nRuns := len(p.RunLengths)
	r := sort.Search(nRuns, func(i int) bool { return cmp(irRunKeyAt(p, i), key) > 0 })
	if r >= nRuns {
		return p.NItems
	}
	return p.RunOffsets[r]
}

func irRunBounds(p *DecodedPage, pos int) (int, int) {
	r := runIndexForPos(p.RunOffsets, pos)
	return p.RunOffsets[r], p.RunOffsets[r+1]
}

func decodeIncludeRLEBody(buf []byte, h Header, blockID uint64, schema Schema) (*DecodedPage, error) {
	p := &DecodedPage{Header: h, BlockID: blockID, Schema: schema, NItems: int(h.NItems)}
	nRuns := int(h.NRuns)
	off := 0
	runKeys := make([]byte, nRuns*schema.KeyWidth)
	lengths := make([]uint16, nRuns)

	if h.RunVersion == 1 {
		keysLen := nRuns * schema.KeyWidth
		if off+keysLen > len(buf) {
			return nil, errors.Wrap(base.ErrMalformedPage, "include-rle: keys array overruns body")
		}
		copy(runKeys, buf[off:off+keysLen])
		off += keysLen
		lenLen := nRuns * 2
		if off+lenLen > len(buf) {
			return nil, errors.Wrap(base.ErrMalformedPage, "include-rle: lengths array overruns body")
		}
		for i := 0; i < nRuns; i++ {
			lengths[i] = binary.LittleEndian.Uint16(buf[off+2*i:])
		}
		off += lenLen
	} else {
		stride := schema.KeyWidth + 2
		if off+nRuns*stride > len(buf) {
			return nil, errors.Wrap(base.ErrMalformedPage, "include-rle: v1 runs overrun body")
		}
		for i := 0; i < nRuns; i++ {
			runStart := off + i*stride
			copy(runKeys[i*schema.KeyWidth:], buf[runStart:runStart+schema.KeyWidth])
			lengths[i] = binary.LittleEndian.Uint16(buf[runStart+schema.KeyWidth:])
		}
		off += nRuns * stride
	}
	p.RunKeys = runKeys
	p.RunLengths = lengths
	p.RunOffsets = buildRunOffsets(lengths)

	p.RunPayloadCols = make([][]byte, len(schema.PayloadWidths))
	for col, w := range schema.PayloadWidths {
		colLen := nRuns * w
		if off+colLen > len(buf) {
			return nil, errors.Wrapf(base.ErrMalformedPage, "include-rle: payload column %d overruns body", col)
		}
		p.RunPayloadCols[col] = buf[off : off+colLen]
		off += colLen
	}
	return p, nil
}

// tupleEqual reports whether tuple i and tuple j (key + every payload
// column) are identical -- the IR run predicate (spec §4.1, "Run
// representation": "a maximal contiguous span of equal ... (key, payload)
// tuples").
func tupleEqual(e *Encoder, i, j int) bool {
	if !bytes.Equal(e.key(i), e.key(j)) {
		return false
	}
	for col := range e.Schema.PayloadWidths {
		if !bytes.Equal(e.payload(i, col), e.payload(j, col)) {
			return false
		}
	}
	return true
}

func encodeIncludeRLEBody(e *Encoder) error {
	n := e.n()
	var runKeys []byte
	var lengths []uint16
	runStartPos := []int{}
	i := 0
	for i < n {
		j := i + 1
		for j < n && tupleEqual(e, j, i) {
			j++
		}
		remaining := j - i
		for remaining > 0 {
			take := remaining
			if take > 0xFFFF {
				take = 0xFFFF
			}
			runKeys = append(runKeys, e.key(i)...)
			lengths = append(lengths, uint16(take))
			runStartPos = append(runStartPos, i)
			remaining -= take
		}
		i = j
	}
	if len(lengths) > MaxNRuns {
		return errors.Newf("include-rle: %d runs exceeds the %d-run limit", len(lengths), MaxNRuns)
	}
	e.nRuns = uint16(len(lengths))

	if e.RunVersion == base.RLEv1 {
		for r := range lengths {
			e.writeBody(runKeys[r*e.Schema.KeyWidth : (r+1)*e.Schema.KeyWidth])
			var lb [2]byte
			binary.LittleEndian.PutUint16(lb[:], lengths[r])
			e.writeBody(lb[:])
		}
	} else {
		e.writeBody(runKeys)
		lb := make([]byte, 2*len(lengths))
		for r, l := range lengths {
			binary.LittleEndian.PutUint16(lb[2*r:], l)
		}
		e.writeBody(lb)
	}

	for col, w := range e.Schema.PayloadWidths {
		buf := make([]byte, 0, len(runStartPos)*w)
		for _, pos := range runStartPos {
			buf = append(buf, e.payload(pos, col)...)
		}
		e.writeBody(buf)
	}
	return nil
}

func estimateIncludeRLESize(start, end int, source TupleSource, schema Schema, runVersion base.RLEVersion) int {
	n := end - start
	nRuns := 0
	i := start
	for i < end {
		j := i + 1
		for j < end && tupleEqualSource(source, schema, j, i) {
			j++
		}
		runLen := j - i
		nRuns += (runLen + 0xFFFE) / 0xFFFF
		i = j
	}
	size := 0
	if runVersion == base.RLEv1 {
		size += nRuns * (schema.KeyWidth + 2)
	} else {
		size += nRuns*schema.KeyWidth + nRuns*2
	}
	for _, w := range schema.PayloadWidths {
		size += nRuns * w
	}
	_ = n
	return size
}

func tupleEqualSource(source TupleSource, schema Schema, i, j int) bool {
	if !bytes.Equal(source.KeyAt(i), source.KeyAt(j)) {
		return false
	}
	for col := range schema.PayloadWidths {
		if !bytes.Equal(source.PayloadAt(i, col), source.PayloadAt(j, col)) {
			return false
		}
	}
	return true
}
