// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package page

import (
	"sort"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/compress"
	"github.com/cockroachdb/errors"
)

// Schema describes the fixed shape of every tuple packed onto a page: the
// concatenated key width and, per INCLUDE column, its width (or -1 for a
// variable-length text column, legal only in the plain format).
type Schema struct {
	KeyWidth      int
	PayloadWidths []int
}

// TupleSource is the narrow view the packer hands the codec: a
// random-access window over already-sorted tuples. The collector's
// finalized arena implements this directly; the packer implements it again
// over a sub-range when slicing batches.
type TupleSource interface {
	Len() int
	KeyAt(i int) []byte
	PayloadAt(i int, col int) []byte
}

// DecodedPage is the normalized, in-memory form of one decoded leaf page.
// Encoders populate exactly the fields relevant to their format; the
// per-format ops in plain.go/keyrle.go/includerle.go/zerocopy.go assume
// their own fields are present. This mirrors the teacher's block-reader
// pattern of decoding once and then answering many small accessor calls
// against plain slices, never re-parsing on every call.
type DecodedPage struct {
	Header  Header
	BlockID uint64
	Schema  Schema
	NItems  int

	// Populated for Plain and ZeroCopy: a dense NItems*KeyWidth array.
	Keys []byte

	// Populated for Plain and KeyRLE: one dense NItems*width array per
	// fixed-width payload column; nil entries correspond to variable
	// columns (Plain only), whose bytes live in VarBlobs/VarOffsets.
	PayloadCols [][]byte
	VarBlobs    [][]byte   // per variable column, concatenated bytes
	VarOffsets  [][]uint32 // per variable column, NItems+1 offsets into VarBlobs[col]

	// Populated for KeyRLE and IncludeRLE: the run-compressed key array
	// (NRuns*KeyWidth) and the run lengths/offsets used to map a logical
	// position to its owning run via binary search.
	RunKeys    []byte
	RunLengths []uint16
	// RunOffsets has NRuns+1 entries; RunOffsets[r] is the first logical
	// position of run r, RunOffsets[NRuns] == NItems.
	RunOffsets []int

	// Populated for IncludeRLE only: one dense NRuns*width array per
	// payload column (the run's single shared tuple).
	RunPayloadCols [][]byte
}

// formatOps is the per-format function table the spec's design notes call
// for ("dispatch via table lookup keyed by format_tag, not virtual
// calls... this is the hottest path", spec §9). Each format registers one
// instance in opsTable, indexed by its FormatTag.
type formatOps struct {
	firstKey   func(p *DecodedPage) []byte
	lastKey    func(p *DecodedPage) []byte
	keyAt      func(p *DecodedPage, pos int) []byte
	payloadAt  func(p *DecodedPage, pos int, col int) []byte
	lowerBound func(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int
	upperBound func(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int
	runBounds  func(p *DecodedPage, pos int) (int, int)
	decodeBody   func(buf []byte, h Header, blockID uint64, schema Schema) (*DecodedPage, error)
	encodeBody   func(e *Encoder) error
	estimateSize func(start, end int, source TupleSource, schema Schema, runVersion base.RLEVersion) int
}

var opsTable [numFormats]formatOps

// Count returns the number of logical tuples on the page.
func Count(p *DecodedPage) int { return p.NItems }

// FirstKey, LastKey, KeyAt, PayloadAt, LowerBound, UpperBound, RunBounds
// dispatch through the format's table entry (spec §4.1, "Iteration
// contract").
func FirstKey(p *DecodedPage) []byte { return opsTable[p.Header.FormatTag].firstKey(p) }
func LastKey(p *DecodedPage) []byte  { return opsTable[p.Header.FormatTag].lastKey(p) }
func KeyAt(p *DecodedPage, pos int) []byte {
	if pos < 0 || pos >= p.NItems {
		panic("page: KeyAt position out of range")
	}
	return opsTable[p.Header.FormatTag].keyAt(p, pos)
}
func PayloadAt(p *DecodedPage, pos int, col int) []byte {
	if pos < 0 || pos >= p.NItems {
		panic("page: PayloadAt position out of range")
	}
	return opsTable[p.Header.FormatTag].payloadAt(p, pos, col)
}
func LowerBound(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int {
	return opsTable[p.Header.FormatTag].lowerBound(p, cmp, key)
}
func UpperBound(p *DecodedPage, cmp func(a, b []byte) int, key []byte) int {
	return opsTable[p.Header.FormatTag].upperBound(p, cmp, key)
}
func RunBounds(p *DecodedPage, pos int) (int, int) {
	return opsTable[p.Header.FormatTag].runBounds(p, pos)
}

// Decode parses a single page from buf (exactly one block's worth of
// bytes). blockID is used only to annotate errors. Decoders never trust
// length fields without bounds-checking (spec §4.1).
func Decode(buf []byte, blockID uint64) (*DecodedPage, error) {
	h, err := decodeHeader(buf, len(buf))
	if err != nil {
		return nil, base.WrapPage(err, blockID)
	}
	stored := buf[headerLen : headerLen+int(h.ContentLen)]
	if err := verifyTrailer(buf, headerLen+int(h.ContentLen), buf[:headerLen+int(h.ContentLen)], blockID); err != nil {
		return nil, err
	}
	body, err := compress.Decode(h.Codec, stored, int(h.RawLen))
	if err != nil {
		return nil, base.WrapPage(errors.Wrapf(base.ErrMalformedPage, "decompressing body: %s", err), blockID)
	}

	schema := Schema{KeyWidth: int(h.KeyWidth)}
	for i := 0; i < int(h.NumPayloadCols); i++ {
		w := h.PayloadWidths[i]
		if w == variableWidthSentinel {
			schema.PayloadWidths = append(schema.PayloadWidths, -1)
		} else {
			schema.PayloadWidths = append(schema.PayloadWidths, int(w))
		}
	}

	ops := opsTable[h.FormatTag]
	if ops.decodeBody == nil {
		return nil, base.WrapPage(errors.Wrapf(base.ErrUnknownFormatTag, "tag %d has no registered codec", h.FormatTag), blockID)
	}
	p, err := ops.decodeBody(body, h, blockID, schema)
	if err != nil {
		return nil, base.WrapPage(err, blockID)
	}
	return p, nil
}

// runIndexForPos maps a logical position to its owning run via binary
// search over a prefix-sum offsets array, used by both RLE formats.
func runIndexForPos(runOffsets []int, pos int) int {
	// The last element before the first offset greater than pos.
	i := sort.Search(len(runOffsets), func(i int) bool { return runOffsets[i] > pos })
	return i - 1
}

// buildRunOffsets converts run lengths into a prefix-sum offsets array of
// length len(lengths)+1.
func buildRunOffsets(lengths []uint16) []int {
	offsets := make([]int, len(lengths)+1)
	sum := 0
	for i, l := range lengths {
		offsets[i] = sum
		sum += int(l)
	}
	offsets[len(lengths)] = sum
	return offsets
}
