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
	opsTable[FormatKeyRLE] = formatOps{
		firstKey:     krFirstKey,
		lastKey:      krLastKey,
		keyAt:        krKeyAt,
		payloadAt:    krPayloadAt,
		lowerBound:   krLowerBound,
		upperBound:   krUpperBound,
		runBounds:    krRunBounds,
		decodeBody:   decodeKeyRLEBody,
		encodeBody:   encodeKeyRLEBody,
		estimateSize: estimateKeyRLESize,
	}
}

func krRunKeyAt(p *DecodedPage, run int) []byte {
	w := p.Schema.KeyWidth
	return p.RunKeys[run*w : (run+1)*w]
}

func krFirstKey(p *DecodedPage) []byte { return krRunKeyAt(p, 0) }
func krLastKey(p *DecodedPage) []byte  { return krRunKeyAt(p, len(p.RunLengths)-1) }

func krKeyAt(p *DecodedPage, pos int) []byte {
	r := runIndexForPos(p.RunOffsets, pos)
	return krRunKeyAt(p, r)
}

func krPayloadAt(p *DecodedPage, pos int, col int) []byte {
	w := p.Schema.PayloadWidths[col]
	return p.PayloadCols[col][pos*w : (pos+1)*w]
}

// krLowerBound binary-searches the run-key array for the first run whose
// key is >= key, then returns that run's starting position -- the same
// "branchless binary search" the v2 layout is designed to enable (spec
// §4.1).
func krLowerBound(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int {
	nRuns := len(p.RunLengths)
	r := sort.Search(nRuns, func(i int) bool { return cmp(krRunKeyAt(p, i), key) >= 0 })
	if r >= nRuns {
		return p.NItems
	}
	return p.RunOffsets[r]
}

func krUpperBound(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int {
	nRuns := len(p.RunLengths)
	r := sort.Search(nRuns, func(i int) bool { return cmp(krRunKeyAt(p, i), key) > 0 })
	if r >= nRuns {
		return p.NItems
	}
	return p.RunOffsets[r]
}

func krRunBounds(p *DecodedPage, pos int) (int, int) {
	r := runIndexForPos(p.RunOffsets, pos)
	return p.RunOffsets[r], p.RunOffsets[r+1]
}

func decodeKeyRLEBody(buf []byte, h Header, blockID uint64, schema Schema) (*DecodedPage, error) {
	p := &DecodedPage{Header: h, BlockID: blockID, Schema: schema, NItems: int(h.NItems)}
	nRuns := int(h.NRuns)
	off := 0
	runKeys := make([]byte, nRuns*schema.KeyWidth)
	lengths := make([]uint16, nRuns)

	if h.RunVersion == 1 {
		// v2: keys array, then lengths array.
		keysLen := nRuns * schema.KeyWidth
		if off+keysLen > len(buf) {
			return nil, errors.Wrap(base.ErrMalformedPage, "key-rle: keys array overruns body")
		}
		copy(runKeys, buf[off:off+keysLen])
		off += keysLen
		lenLen := nRuns * 2
		if off+lenLen > len(buf) {
			return nil, errors.Wrap(base.ErrMalformedPage, "key-rle: lengths array overruns body")
		}
		for i := 0; i < nRuns; i++ {
			lengths[i] = binary.LittleEndian.Uint16(buf[off+2*i:])
		}
		off += lenLen
	} else {
		// v1: runs back-to-back, (key, length) pairs.
		stride := schema.KeyWidth + 2
		if off+nRuns*stride > len(buf) {
			return nil, errors.Wrap(base.ErrMalformedPage, "key-rle: v1 runs overrun body")
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

	p.PayloadCols = make([][]byte, len(schema.PayloadWidths))
	for col, w := range schema.PayloadWidths {
		colLen := p.NItems * w
		if off+colLen > len(buf) {
			return nil, errors.Wrapf(base.ErrMalformedPage, "key-rle: payload column %d overruns body", col)
		}
		p.PayloadCols[col] = buf[off : off+colLen]
		off += colLen
	}
	return p, nil
}

// encodeKeyRLEBody groups tuples[Start:End) of Source into maximal runs of
// equal keys, splitting any run whose length would overflow a uint16
// across multiple RLE entries on the same page (spec §4.1, "Hard
// limits").
func encodeKeyRLEBody(e *Encoder) error {
	n := e.n()
	var runKeys []byte
	var lengths []uint16
	i := 0
	for i < n {
		j := i + 1
		for j < n && bytes.Equal(e.key(j), e.key(i)) {
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
			remaining -= take
		}
		i = j
	}
	if len(lengths) > MaxNRuns {
		return errors.Newf("key-rle: %d runs exceeds the %d-run limit", len(lengths), MaxNRuns)
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
		buf := make([]byte, 0, n*w)
		for i := 0; i < n; i++ {
			buf = append(buf, e.payload(i, col)...)
		}
		e.writeBody(buf)
	}
	return nil
}

func estimateKeyRLESize(start, end int, source TupleSource, schema Schema, runVersion base.RLEVersion) int {
	n := end - start
	size := 0
	nRuns := 0
	i := start
	for i < end {
		j := i + 1
		for j < end && bytes.Equal(source.KeyAt(j), source.KeyAt(i)) {
			j++
		}
		runLen := j - i
		nRuns += (runLen + 0xFFFE) / 0xFFFF
		i = j
	}
	if runVersion == base.RLEv1 {
		size += nRuns * (schema.KeyWidth + 2)
	} else {
		size += nRuns*schema.KeyWidth + nRuns*2
	}
	for _, w := range schema.PayloadWidths {
		size += n * w
	}
	return size
}
