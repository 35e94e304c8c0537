// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// CompressionCodec selects the whole-body byte compression a page is
// wrapped in after its structural encoding (plain/key-RLE/include-RLE/
// zero-copy) is chosen (spec §6, "per-block compression"). It is
// orthogonal to format selection: the packer picks a format first, the
// codec only shrinks the resulting bytes before they hit the block
// store, mirroring the teacher's per-block Compression type that sits
// below the block builder rather than inside it.
type CompressionCodec uint8

const (
	CompressionNone CompressionCodec = iota
	CompressionSnappy
	CompressionZstd
	CompressionS2
)

func (c CompressionCodec) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionS2:
		return "s2"
	default:
		return "unknown"
	}
}
