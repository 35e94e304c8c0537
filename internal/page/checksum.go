// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package page

import (
	"encoding/binary"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// checksum computes the trailer checksum over the header+body prefix of a
// page (everything before the trailer itself). The teacher's sstable
// format supports a pluggable checksum registry (block.ChecksumType in
// sstable/table.go); this engine has a single page trailer shape, so it
// standardizes on XXHash64 rather than exposing a choice (see DESIGN.md).
func checksum(headerAndBody []byte) uint64 {
	return xxhash.Sum64(headerAndBody)
}

// writeTrailer appends the checksum trailer for headerAndBody into buf at
// the given offset.
func writeTrailer(buf []byte, offset int, headerAndBody []byte) {
	binary.LittleEndian.PutUint64(buf[offset:], checksum(headerAndBody))
}

// verifyTrailer recomputes the checksum over headerAndBody and compares it
// to the trailer stored at buf[offset:offset+8]. A mismatch fails with
// base.ErrMalformedPage, wrapped with the block id for diagnosability.
func verifyTrailer(buf []byte, offset int, headerAndBody []byte, blockID uint64) error {
	if offset+trailerLen > len(buf) {
		return base.WrapPage(errors.Wrap(base.ErrMalformedPage, "page too short for checksum trailer"), blockID)
	}
	want := binary.LittleEndian.Uint64(buf[offset:])
	got := checksum(headerAndBody)
	if want != got {
		return base.WrapPage(errors.Wrapf(base.ErrMalformedPage, "checksum mismatch: stored %#x, computed %#x", want, got), blockID)
	}
	return nil
}
