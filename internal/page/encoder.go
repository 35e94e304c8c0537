// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package page

import (
	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/compress"
	"github.com/cockroachdb/errors"
)

// Encoder packs one batch of tuples, tuples[Start:End) of Source, into a
// single page of the given format. The packer (internal/packer) decides
// Start/End/format/RunVersion; the encoder's only job is serialization.
type Encoder struct {
	Source     TupleSource
	Start, End int
	Schema     Schema
	RunVersion base.RLEVersion
	Rightlink  uint64
	BlockSize  int

	// body accumulates the format-specific section; Encode appends the
	// header and trailer around it.
	body []byte
	// nRuns is set by the RLE encoders so Encode can populate the
	// header's NRuns field.
	nRuns uint16
}

func (e *Encoder) n() int { return e.End - e.Start }

func (e *Encoder) key(i int) []byte { return e.Source.KeyAt(e.Start + i) }

func (e *Encoder) payload(i, col int) []byte { return e.Source.PayloadAt(e.Start+i, col) }

// writeBody appends b to the encoder's body buffer, for the small amount
// of shared plumbing every format needs.
func (e *Encoder) writeBody(b []byte) { e.body = append(e.body, b...) }

// Encode serializes tuples[start:end) of source under format tag into a
// full BlockSize-byte page, including header, checksum trailer, and
// zero-filled padding (spec §6, "trailing padding is zero-filled").
func Encode(tag FormatTag, blockID uint64, level uint16, start, end int, source TupleSource, schema Schema, runVersion base.RLEVersion, rightlink uint64, blockSize int, codec base.CompressionCodec) ([]byte, error) {
	ops := opsTable[tag]
	if ops.encodeBody == nil {
		return nil, errors.Wrapf(base.ErrUnknownFormatTag, "tag %d has no registered codec", tag)
	}
	e := &Encoder{
		Source: source, Start: start, End: end,
		Schema: schema, RunVersion: runVersion, Rightlink: rightlink, BlockSize: blockSize,
	}
	if err := ops.encodeBody(e); err != nil {
		return nil, base.WrapPage(err, blockID)
	}

	// Compression wraps the already-structurally-encoded body; it never
	// influences format selection (spec §6). A codec that fails or
	// doesn't shrink the body falls back to storing it uncompressed.
	storedBody := e.body
	storedCodec := base.CompressionNone
	var rawLen uint32
	if codec != base.CompressionNone {
		if compressed, ok := compress.Encode(codec, e.body); ok && len(compressed) < len(e.body) {
			storedBody = compressed
			storedCodec = codec
			rawLen = uint32(len(e.body))
		}
	}

	h := Header{
		FormatTag:      tag,
		NItems:         uint16(e.n()),
		Level:          level,
		Rightlink:      rightlink,
		KeyWidth:       uint16(schema.KeyWidth),
		NumPayloadCols: uint16(len(schema.PayloadWidths)),
		ContentLen:     uint32(len(storedBody)),
		Codec:          storedCodec,
		RawLen:         rawLen,
	}
	if runVersion == base.RLEv1 {
		h.RunVersion = 0
	} else {
		h.RunVersion = 1
	}
	for i, w := range schema.PayloadWidths {
		if i >= maxPayloadCols {
			break
		}
		if w < 0 {
			h.PayloadWidths[i] = variableWidthSentinel
		} else {
			h.PayloadWidths[i] = uint16(w)
		}
	}
	h.NRuns = e.nRuns

	total := headerLen + len(storedBody) + trailerLen
	if blockSize > 0 && total > blockSize {
		return nil, errors.Newf("page: encoded page (%d bytes) exceeds block size (%d bytes)", total, blockSize)
	}
	outLen := blockSize
	if outLen == 0 {
		outLen = total
	}
	out := make([]byte, outLen)
	h.encode(out[:headerLen])
	copy(out[headerLen:], storedBody)
	writeTrailer(out, headerLen+len(storedBody), out[:headerLen+len(storedBody)])
	return out, nil
}

// EstimateSize returns the encoded size (header+body+trailer, no padding)
// of tuples[start:end) of source under the given format, without actually
// allocating the page. The packer uses this to choose the smallest
// encoding that fits (spec §4.3, "Format-selection contract").
func EstimateSize(tag FormatTag, start, end int, source TupleSource, schema Schema, runVersion base.RLEVersion) int {
	return opsTable[tag].estimateSize(start, end, source, schema, runVersion) + headerLen + trailerLen
}
