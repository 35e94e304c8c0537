// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package page implements the leaf-page storage codec: encoding and
// decoding a single page in one of four formats (plain, key-RLE,
// include-RLE, zero-copy), and the uniform iteration contract the scan
// engine relies on (spec §4.1).
//
// Header word ordering is little-endian (spec §6, "On-disk page layout").
// Decoders never trust length fields without bounds-checking (spec §4.1,
// "Failure").
package page

import (
	"encoding/binary"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/cockroachdb/errors"
)

// FormatTag identifies which of the four leaf page encodings a page uses
// (spec §4.1).
type FormatTag uint16

const (
	// FormatPlain is the default fallback, and the only format that
	// supports variable-length INCLUDE columns.
	FormatPlain FormatTag = iota
	// FormatKeyRLE run-length-encodes the key column only.
	FormatKeyRLE
	// FormatIncludeRLE run-length-encodes the full (key, payload) tuple.
	FormatIncludeRLE
	// FormatZeroCopy stores a dense packed key array with no auxiliary
	// structure, enabling direct slice return.
	FormatZeroCopy

	numFormats = 4
)

func (t FormatTag) String() string {
	switch t {
	case FormatPlain:
		return "plain"
	case FormatKeyRLE:
		return "key-rle"
	case FormatIncludeRLE:
		return "include-rle"
	case FormatZeroCopy:
		return "zero-copy"
	default:
		return "unknown"
	}
}

// Limits from spec §3 and §4.1.
const (
	MaxNItems = 65534
	MaxNRuns  = 32000

	// NoRightlink is the sentinel rightlink value for the rightmost leaf
	// of a level.
	NoRightlink uint64 = ^uint64(0)

	// variableWidthSentinel marks a payload column as variable-length
	// text in the header's payload-width slots.
	variableWidthSentinel uint16 = 0xFFFF

	maxPayloadCols = 16

	// headerLen is the size, in bytes, of the fixed page header: see
	// Header.encode for the field layout.
	headerLen = 32 + 2*maxPayloadCols

	// trailerLen is the size of the page trailer: an 8-byte xxhash64
	// checksum over header+body (spec §4.1 grounds this in the
	// teacher's sstable block-trailer checksum design).
	trailerLen = 8
)

// Header is the fixed, decoded form of a page's leading bytes (spec §3,
// "Page"). It precedes the format-specific body.
type Header struct {
	FormatTag FormatTag
	NItems    uint16
	Level     uint16
	// RunVersion is 0 (v1, runs back-to-back) or 1 (v2, keys-array +
	// lengths-array) for the two RLE formats; meaningless otherwise
	// (spec §4.1, "Run representation").
	RunVersion     uint16
	Rightlink      uint64
	NRuns          uint16
	KeyWidth       uint16
	NumPayloadCols uint16
	ContentLen     uint32
	// Codec and RawLen describe the whole-body compression layer (spec
	// §6) wrapped around the structurally-encoded body: Codec is
	// CompressionNone unless compression shrank the body, in which case
	// RawLen is the pre-compression length Decode must size its output
	// buffer to.
	Codec          base.CompressionCodec
	RawLen         uint32
	PayloadWidths  [maxPayloadCols]uint16
}

// encode writes the header into the first headerLen bytes of buf.
func (h Header) encode(buf []byte) {
	if len(buf) < headerLen {
		panic("page: header buffer too small")
	}
	binary.LittleEndian.PutUint16(buf[0:], uint16(h.FormatTag))
	binary.LittleEndian.PutUint16(buf[2:], h.NItems)
	binary.LittleEndian.PutUint16(buf[4:], h.Level)
	binary.LittleEndian.PutUint16(buf[6:], h.RunVersion)
	binary.LittleEndian.PutUint64(buf[8:], h.Rightlink)
	binary.LittleEndian.PutUint16(buf[16:], h.NRuns)
	binary.LittleEndian.PutUint16(buf[18:], h.KeyWidth)
	binary.LittleEndian.PutUint16(buf[20:], h.NumPayloadCols)
	binary.LittleEndian.PutUint32(buf[22:], h.ContentLen)
	binary.LittleEndian.PutUint16(buf[26:], uint16(h.Codec))
	binary.LittleEndian.PutUint32(buf[28:], h.RawLen)
	for i := 0; i < maxPayloadCols; i++ {
		binary.LittleEndian.PutUint16(buf[32+2*i:], h.PayloadWidths[i])
	}
}

// decodeHeader parses and bounds-checks the fixed header at the start of
// buf. It fails with base.ErrMalformedPage for any inconsistency, per
// spec §4.1's "Failure" clause.
func decodeHeader(buf []byte, blockSize int) (Header, error) {
	if len(buf) < headerLen {
		return Header{}, errors.Mark(errors.New("page buffer shorter than header"), base.ErrMalformedPage)
	}
	var h Header
	tag := binary.LittleEndian.Uint16(buf[0:])
	if tag >= numFormats {
		return Header{}, errors.Wrapf(base.ErrUnknownFormatTag, "tag %d", tag)
	}
	h.FormatTag = FormatTag(tag)
	h.NItems = binary.LittleEndian.Uint16(buf[2:])
	h.Level = binary.LittleEndian.Uint16(buf[4:])
	h.RunVersion = binary.LittleEndian.Uint16(buf[6:])
	h.Rightlink = binary.LittleEndian.Uint64(buf[8:])
	h.NRuns = binary.LittleEndian.Uint16(buf[16:])
	h.KeyWidth = binary.LittleEndian.Uint16(buf[18:])
	h.NumPayloadCols = binary.LittleEndian.Uint16(buf[20:])
	h.ContentLen = binary.LittleEndian.Uint32(buf[22:])
	h.Codec = base.CompressionCodec(binary.LittleEndian.Uint16(buf[26:]))
	h.RawLen = binary.LittleEndian.Uint32(buf[28:])
	for i := 0; i < maxPayloadCols; i++ {
		h.PayloadWidths[i] = binary.LittleEndian.Uint16(buf[32+2*i:])
	}

	if int(h.NItems) > MaxNItems {
		return Header{}, errors.Wrapf(base.ErrMalformedPage, "nitems %d exceeds %d", h.NItems, MaxNItems)
	}
	if int(h.NRuns) > MaxNRuns {
		return Header{}, errors.Wrapf(base.ErrMalformedPage, "nruns %d exceeds %d", h.NRuns, MaxNRuns)
	}
	if int(h.NumPayloadCols) > maxPayloadCols {
		return Header{}, errors.Wrapf(base.ErrMalformedPage, "payload columns %d exceeds %d", h.NumPayloadCols, maxPayloadCols)
	}
	if h.Codec > base.CompressionS2 {
		return Header{}, errors.Wrapf(base.ErrMalformedPage, "codec %d unrecognized", h.Codec)
	}
	need := headerLen + int(h.ContentLen) + trailerLen
	if blockSize > 0 && need > blockSize {
		return Header{}, errors.Wrapf(base.ErrMalformedPage, "content length %d overflows block of size %d", h.ContentLen, blockSize)
	}
	if len(buf) < need {
		return Header{}, errors.Wrapf(base.ErrMalformedPage, "buffer of %d bytes too short for declared content length %d", len(buf), h.ContentLen)
	}
	return h, nil
}

// PatchRightlink rewrites the rightlink field of an already-encoded page
// in place and recomputes its checksum trailer. The packer uses this to
// stitch rightlinks between consecutively emitted leaves and internal
// pages after the fact, once the next page's block id is known (spec
// §4.3, "Rightlink stitching").
func PatchRightlink(buf []byte, blockID uint64, next uint64) error {
	h, err := decodeHeader(buf, len(buf))
	if err != nil {
		return base.WrapPage(err, blockID)
	}
	binary.LittleEndian.PutUint64(buf[8:], next)
	trailerOffset := headerLen + int(h.ContentLen)
	writeTrailer(buf, trailerOffset, buf[:trailerOffset])
	return nil
}
