// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "bytes"

// KeyWidth is the fixed byte width of one key column. Only the widths
// enumerated below are supported (spec §3): byval integer/MAC/timestamp/UUID
// widths, or right-padded text widths.
type KeyWidth uint8

// Supported fixed key-column widths.
const (
	Width1  KeyWidth = 1
	Width2  KeyWidth = 2
	Width4  KeyWidth = 4
	Width6  KeyWidth = 6
	Width8  KeyWidth = 8
	Width16 KeyWidth = 16
	Width32 KeyWidth = 32
)

// FixedWidths is the set of widths legal for a byval (non-text) key or
// INCLUDE column.
var FixedWidths = map[KeyWidth]bool{
	Width1: true, Width2: true, Width4: true, Width6: true, Width8: true, Width16: true,
}

// TextWidths is the set of widths legal for a right-padded text key.
var TextWidths = map[KeyWidth]bool{
	Width8: true, Width16: true, Width32: true,
}

// KeySchema describes the columns that make up a key: one or two fixed- or
// text-width columns, compared lexicographically (spec §3).
type KeySchema struct {
	Widths []KeyWidth
	// Text marks, per column, whether the column uses right-padded text
	// byte-order comparison (true) or raw byval comparison (false). The
	// comparator is identical either way -- bytes.Compare -- but Text is
	// retained for format-selection and diagnostics (only text keys ever
	// default to RLE v1, per spec §4.1).
	Text []bool
}

// TotalWidth is the number of bytes a concatenated key occupies.
func (s KeySchema) TotalWidth() int {
	n := 0
	for _, w := range s.Widths {
		n += int(w)
	}
	return n
}

// Validate enforces the data-model constraints from spec §3: at most two
// key columns, each with a supported width.
func (s KeySchema) Validate() error {
	if len(s.Widths) == 0 {
		return ErrUnsupportedType
	}
	if len(s.Widths) > 2 {
		return ErrTooManyKeyColumns
	}
	for i, w := range s.Widths {
		isText := i < len(s.Text) && s.Text[i]
		if isText {
			if w > Width32 {
				return ErrKeyTooWide
			}
			if !TextWidths[w] {
				return ErrUnsupportedType
			}
		} else if !FixedWidths[w] {
			return ErrUnsupportedType
		}
	}
	return nil
}

// Key is a concatenated, fixed-width key: one or two columns packed back to
// back in declaration order. Comparison is always byte-order (binary
// collation only, per spec §3's Non-goals). Defined as an alias rather than
// a distinct named type so a bare Compare func value can be passed anywhere
// the page codec expects a func(a, b []byte) int comparator.
type Key = []byte

// Compare implements the index's total order: plain byte-order comparison
// of the concatenated key. A two-column key compares lexicographically
// because the columns are laid out contiguously in declaration order.
func Compare(a, b Key) int {
	return bytes.Compare(a, b)
}

// Comparer is the pluggable comparison function used throughout the engine.
// The default (and, per spec's Non-goals, only) Comparer is byte-order
// comparison; it is still threaded as a value rather than hardcoded so that
// internal packages never import bytes.Compare directly and tests can
// substitute a comparison that counts calls.
type Comparer struct {
	Compare func(a, b Key) int
}

// DefaultComparer is the byte-order Comparer mandated by spec §1's
// Non-goals (binary collation only).
var DefaultComparer = Comparer{Compare: Compare}
