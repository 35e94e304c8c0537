// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package compress implements the whole-body page compression layer
// (spec §6): a thin codec-selection shim over three independent
// general-purpose compressors, applied to an already-structurally-encoded
// page body before it is written to a block, and reversed before the
// format-specific decoder ever sees it.
package compress

import (
	"github.com/DataDog/zstd"
	"github.com/blockidx/blockidx/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
)

// Encode compresses src under codec. ok is false when the codec declined
// or failed to produce usable output; callers fall back to storing src
// uncompressed rather than propagating a build failure, since
// compression is never required for correctness (spec §6).
func Encode(codec base.CompressionCodec, src []byte) (dst []byte, ok bool) {
	switch codec {
	case base.CompressionNone:
		return src, true
	case base.CompressionSnappy:
		return snappy.Encode(nil, src), true
	case base.CompressionS2:
		return s2.Encode(nil, src), true
	case base.CompressionZstd:
		out, err := zstd.Compress(nil, src)
		if err != nil {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}

// Decode reverses Encode. rawLen is the original uncompressed length
// recorded in the page header, used to size the destination buffer.
func Decode(codec base.CompressionCodec, src []byte, rawLen int) ([]byte, error) {
	switch codec {
	case base.CompressionNone:
		return src, nil
	case base.CompressionSnappy:
		out, err := snappy.Decode(make([]byte, 0, rawLen), src)
		if err != nil {
			return nil, errors.Wrap(err, "compress: snappy decode")
		}
		return out, nil
	case base.CompressionS2:
		out, err := s2.Decode(make([]byte, rawLen), src)
		if err != nil {
			return nil, errors.Wrap(err, "compress: s2 decode")
		}
		return out, nil
	case base.CompressionZstd:
		out, err := zstd.Decompress(make([]byte, 0, rawLen), src)
		if err != nil {
			return nil, errors.Wrap(err, "compress: zstd decode")
		}
		return out, nil
	default:
		return nil, errors.Newf("compress: unknown codec %d", codec)
	}
}
