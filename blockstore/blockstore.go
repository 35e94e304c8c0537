// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package blockstore defines the paged block store contract the embedder
// supplies (spec §6, "Block store contract") and ships an in-memory/file
// reference implementation used by tests and cmd/blockidx. The index
// engine itself never owns physical storage: it only ever pins, reads,
// and (during build) writes brand-new blocks through this interface.
package blockstore

import "context"

// BlockID identifies one fixed-size block. The sentinel NoBlock plays the
// role of a nil pointer: "no next block" (rightlink) or "no such page".
type BlockID uint64

// NoBlock is the sentinel meaning "absent" -- the rightlink of the
// rightmost leaf of a level, or an unset root (spec §3, "Rightlink").
const NoBlock BlockID = ^BlockID(0)

// PinnedPage is a read-only, pinned view of one on-disk block. Every byte
// it exposes must be copied out before Release is called (spec §3,
// "Ownership": "All pointers derived from pinned pages become invalid as
// soon as the pin is released").
type PinnedPage interface {
	Block() BlockID
	Bytes() []byte
}

// MutablePage is a freshly allocated, not-yet-committed block a builder
// writes into exactly once. The store never permits writing to a block
// that has already been committed (spec §6).
type MutablePage interface {
	Block() BlockID
	// Buffer returns the full block-sized byte slice to fill in place.
	Buffer() []byte
}

// Store is the embedder's block store contract (spec §6). Implementations
// must be safe for concurrent Read calls (scan workers, §4.6) but need not
// support concurrent WriteNew calls (build is single-writer, §5).
type Store interface {
	// Read pins and returns the block at id. The caller must call
	// Release when done.
	Read(ctx context.Context, id BlockID) (PinnedPage, error)

	// WriteNew allocates a brand-new block and returns a mutable buffer
	// for it. The block does not become readable via Read until Commit
	// is called.
	WriteNew() (MutablePage, error)

	// Commit finalizes a block written via WriteNew, making it visible
	// to subsequent Read calls. A block may be committed at most once.
	Commit(MutablePage) error

	// SetRightlink records that block next immediately follows block
	// prev at the same tree level. Only meaningful for leaves and
	// internal pages written during the same build.
	SetRightlink(prev, next BlockID) error

	// Release returns a pin acquired via Read.
	Release(PinnedPage)

	// BlockCount returns the number of committed blocks, used by the
	// scan engine's prefetch loop to recognize the end of the chain
	// (spec §4.5, "Prefetch").
	BlockCount() uint64

	// BlockSize is the fixed size, in bytes, of every block.
	BlockSize() int
}
