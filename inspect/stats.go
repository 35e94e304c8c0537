// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package inspect implements the read-only inspector & metrics surface
// (spec §2, §6): static page-count/compression statistics gathered by
// walking a built tree, plus an optional live scan-metrics accumulator
// an embedder can wire into prometheus and HdrHistogram.
package inspect

import (
	"context"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/cockroachdb/errors"
)

// Stats is the static, build-time picture of one tree: page counts per
// format and an estimate of how much the RLE/zero-copy formats saved
// over an equivalent all-plain layout (spec §6, "Inspector output").
type Stats struct {
	TotalPages    int
	LeafPages     int
	KeyRLEPages   int
	IncRLEPages   int
	ZeroCopyPages int

	// ZeroCopyPct is ZeroCopyPages / LeafPages, as a percentage.
	ZeroCopyPct float64

	// CompressionPct is 100 * (1 - actualBytes/plainEquivalentBytes)
	// summed over every leaf page: the fraction of an all-plain layout's
	// size this tree avoided by choosing RLE/zero-copy formats where
	// eligible.
	CompressionPct float64
}

// Compute walks every page reachable from root exactly once, in no
// particular order, and tallies Stats. It never mutates the store and
// never keeps more than one page pinned at a time.
func Compute(ctx context.Context, store blockstore.Store, root blockstore.BlockID) (Stats, error) {
	var s Stats
	if root == blockstore.NoBlock {
		return s, nil
	}

	var actualBytes, plainBytes uint64
	queue := []blockstore.BlockID{root}
	for len(queue) > 0 {
		block := queue[0]
		queue = queue[1:]

		pin, err := store.Read(ctx, block)
		if err != nil {
			return Stats{}, errors.Wrapf(err, "inspect: reading block %d", block)
		}
		p, err := page.Decode(pin.Bytes(), uint64(block))
		store.Release(pin)
		if err != nil {
			return Stats{}, errors.Wrapf(err, "inspect: decoding block %d", block)
		}

		s.TotalPages++
		if p.Header.Level != 0 {
			for pos := 0; pos < p.NItems; pos++ {
				payload := page.PayloadAt(p, pos, 0)
				queue = append(queue, blockstore.BlockID(childBlock(payload)))
			}
			continue
		}

		s.LeafPages++
		switch p.Header.FormatTag {
		case page.FormatKeyRLE:
			s.KeyRLEPages++
		case page.FormatIncludeRLE:
			s.IncRLEPages++
		case page.FormatZeroCopy:
			s.ZeroCopyPages++
		}

		actualBytes += uint64(p.Header.ContentLen)
		plainBytes += plainEquivalentBytes(p)
	}

	if s.LeafPages > 0 {
		s.ZeroCopyPct = 100 * float64(s.ZeroCopyPages) / float64(s.LeafPages)
	}
	if plainBytes > 0 {
		s.CompressionPct = 100 * (1 - float64(actualBytes)/float64(plainBytes))
	}
	return s, nil
}

// childBlock mirrors treebuild.ChildBlock without importing treebuild: it
// decodes the 8-byte little-endian block id that makes up an internal
// entry's payload.
func childBlock(payload []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(payload[i])
	}
	return v
}

// plainEquivalentBytes estimates how many bytes p's tuples would occupy
// under the plain format: NItems times the fixed per-tuple width. Every
// non-plain leaf format requires all payload columns to be fixed-width
// (spec §4.1), so this is exact for RLE/zero-copy pages and is only an
// approximation for plain pages carrying variable-width INCLUDE columns,
// where it falls back to the page's own recorded content length.
func plainEquivalentBytes(p *page.DecodedPage) uint64 {
	if p.Header.FormatTag == page.FormatPlain {
		for _, w := range p.Schema.PayloadWidths {
			if w < 0 {
				return uint64(p.Header.ContentLen)
			}
		}
	}
	width := p.Schema.KeyWidth
	for _, w := range p.Schema.PayloadWidths {
		width += w
	}
	return uint64(p.NItems) * uint64(width)
}
