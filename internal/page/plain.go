// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package page

import (
	"encoding/binary"
	"sort"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/cockroachdb/errors"
)

func init() {
	opsTable[FormatPlain] = formatOps{
		firstKey:     plainFirstKey,
		lastKey:      plainLastKey,
		keyAt:        plainKeyAt,
		payloadAt:    plainPayloadAt,
		lowerBound:   plainLowerBound,
		upperBound:   plainUpperBound,
		runBounds:    plainRunBounds,
		decodeBody:   decodePlainBody,
		encodeBody:   encodePlainBody,
		estimateSize: estimatePlainSize,
	}
}

func plainFirstKey(p *DecodedPage) []byte { return plainKeyAt(p, 0) }
func plainLastKey(p *DecodedPage) []byte  { return plainKeyAt(p, p.NItems-1) }

func plainKeyAt(p *DecodedPage, pos int) []byte {
	w := p.Schema.KeyWidth
	return p.Keys[pos*w : (pos+1)*w]
}

func plainPayloadAt(p *DecodedPage, pos int, col int) []byte {
	w := p.Schema.PayloadWidths[col]
	if w >= 0 {
		return p.PayloadCols[col][pos*w : (pos+1)*w]
	}
	off := p.VarOffsets[col]
	return p.VarBlobs[col][off[pos]:off[pos+1]]
}

func plainLowerBound(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int {
	return sort.Search(p.NItems, func(i int) bool { return cmp(plainKeyAt(p, i), key) >= 0 })
}

func plainUpperBound(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int {
	return sort.Search(p.NItems, func(i int) bool { return cmp(plainKeyAt(p, i), key) > 0 })
}

// plainRunBounds has no compression to exploit; every position is its own
// trivial "run" of length one, as spec §4.1's run_bounds contract requires
// for every format (used by the scan engine's run-skip optimization, which
// simply degenerates to per-tuple iteration here).
func plainRunBounds(p *DecodedPage, pos int) (int, int) { return pos, pos + 1 }

func decodePlainBody(buf []byte, h Header, blockID uint64, schema Schema) (*DecodedPage, error) {
	p := &DecodedPage{Header: h, BlockID: blockID, Schema: schema, NItems: int(h.NItems)}
	off := 0
	keysLen := p.NItems * schema.KeyWidth
	if off+keysLen > len(buf) {
		return nil, errors.Wrap(base.ErrMalformedPage, "plain: key array overruns body")
	}
	p.Keys = buf[off : off+keysLen]
	off += keysLen

	p.PayloadCols = make([][]byte, len(schema.PayloadWidths))
	p.VarBlobs = make([][]byte, len(schema.PayloadWidths))
	p.VarOffsets = make([][]uint32, len(schema.PayloadWidths))
	for col, w := range schema.PayloadWidths {
		if w >= 0 {
			colLen := p.NItems * w
			if off+colLen > len(buf) {
				return nil, errors.Wrapf(base.ErrMalformedPage, "plain: payload column %d overruns body", col)
			}
			p.PayloadCols[col] = buf[off : off+colLen]
			off += colLen
			continue
		}
		// Variable-length column: (NItems+1) uint32 offsets, then blob.
		offsetsLen := (p.NItems + 1) * 4
		if off+offsetsLen > len(buf) {
			return nil, errors.Wrapf(base.ErrMalformedPage, "plain: var column %d offsets overrun body", col)
		}
		offsets := make([]uint32, p.NItems+1)
		for i := range offsets {
			offsets[i] = binary.LittleEndian.Uint32(buf[off+4*i:])
		}
		off += offsetsLen
		blobLen := int(offsets[p.NItems])
		if off+blobLen > len(buf) {
			return nil, errors.Wrapf(base.ErrMalformedPage, "plain: var column %d blob overruns body", col)
		}
		p.VarOffsets[col] = offsets
		p.VarBlobs[col] = buf[off : off+blobLen]
		off += blobLen
	}
	return p, nil
}

func encodePlainBody(e *Encoder) error {
	n := e.n()
	keys := make([]byte, 0, n*e.Schema.KeyWidth)
	for i := 0; i < n; i++ {
		keys = append(keys, e.key(i)...)
	}
	e.writeBody(keys)

	for col, w := range e.Schema.PayloadWidths {
		if w >= 0 {
			buf := make([]byte, 0, n*w)
			for i := 0; i < n; i++ {
				buf = append(buf, e.payload(i, col)...)
			}
			e.writeBody(buf)
			continue
		}
		offsets := make([]byte, 4*(n+1))
		var blob []byte
		cur := uint32(0)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(offsets[4*i:], cur)
			v := e.payload(i, col)
			blob = append(blob, v...)
			cur += uint32(len(v))
		}
		binary.LittleEndian.PutUint32(offsets[4*n:], cur)
		e.writeBody(offsets)
		e.writeBody(blob)
	}
	return nil
}

func estimatePlainSize(start, end int, source TupleSource, schema Schema, _ base.RLEVersion) int {
	n := end - start
	size := n * schema.KeyWidth
	for col, w := range schema.PayloadWidths {
		if w >= 0 {
			size += n * w
			continue
		}
		size += 4 * (n + 1)
		for i := start; i < end; i++ {
			size += len(source.PayloadAt(i, col))
		}
	}
	return size
}
