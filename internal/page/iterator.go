// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package page

// Iterator is a uniform, position-based cursor over one decoded page,
// independent of its format (spec §4.1, "Iteration contract"). The scan
// engine is the only consumer; it never inspects DecodedPage fields
// directly.
type Iterator struct {
	Page *DecodedPage
	Pos  int
}

// NewIterator returns an iterator positioned before the first tuple.
func NewIterator(p *DecodedPage) *Iterator { return &Iterator{Page: p, Pos: -1} }

// Valid reports whether Pos names a real tuple.
func (it *Iterator) Valid() bool { return it.Pos >= 0 && it.Pos < it.Page.NItems }

// Key returns the key at the current position.
func (it *Iterator) Key() []byte { return KeyAt(it.Page, it.Pos) }

// Payload returns payload column col at the current position.
func (it *Iterator) Payload(col int) []byte { return PayloadAt(it.Page, it.Pos, col) }

// RunBounds returns the half-open position range sharing the current
// tuple's key (KR) or full tuple (IR); for P/ZC this is always
// [Pos, Pos+1).
func (it *Iterator) RunBounds() (int, int) { return RunBounds(it.Page, it.Pos) }

// SeekGE positions the iterator at the first tuple whose key is >= key,
// or past the end if none exists.
func (it *Iterator) SeekGE(cmp func(a, b []byte) int, key []byte) {
	it.Pos = LowerBound(it.Page, cmp, key)
}

// SeekLE positions the iterator at the last tuple whose key is <= key, or
// before the start (Pos == -1) if none exists.
func (it *Iterator) SeekLE(cmp func(a, b []byte) int, key []byte) {
	it.Pos = UpperBound(it.Page, cmp, key) - 1
}

// First positions the iterator at the first tuple.
func (it *Iterator) First() { it.Pos = 0 }

// Last positions the iterator at the last tuple.
func (it *Iterator) Last() { it.Pos = it.Page.NItems - 1 }

// Next advances one position forward.
func (it *Iterator) Next() { it.Pos++ }

// Prev moves one position backward.
func (it *Iterator) Prev() { it.Pos-- }
