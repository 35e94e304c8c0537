// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package collector implements the sorted collector (spec §4.2): a
// growable arena of (key, payload) tuples that asserts the input stream
// is already sorted and rejects NULLs, then exposes a finalized
// random-access view the leaf packer slices into pages.
package collector

import (
	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/cockroachdb/errors"
)

const (
	initialCapacity = 1024
	// defaultDoublingThreshold is the entry count beyond which the
	// arena switches from doubling to a fixed linear step, capping peak
	// allocation waste on very large builds (spec §4.2, §9).
	defaultDoublingThreshold = 8_000_000
	defaultLinearStep        = 2_000_000
)

// Tuple is one (key, payload) row as handed to Push. NullMask has one bit
// per column (key columns first, then payload columns); a set bit means
// that column is NULL, which is always a build error (spec §3, §4.2).
type Tuple struct {
	Key      []byte
	Payload  [][]byte
	NullMask uint32
}

// Collector accumulates tuples in input order and enforces the ordering
// and width invariants from spec §3 and §4.2. It is not safe for
// concurrent Push calls; the embedder's single build transaction owns it.
type Collector struct {
	schema             page.Schema
	comparer           base.Comparer
	doublingThreshold  int
	linearStep         int

	keys     []byte   // concatenated, KeyWidth bytes each
	payloads [][]byte // per column, concatenated Width bytes (or varint-length-prefixed for variable columns)
	varLens  [][]int  // per variable column, per-tuple byte length (nil for fixed columns)

	n        int
	lastKey  []byte // last pushed key, for the ordering assertion
	have     bool
}

// Option configures a Collector's growth policy; the zero value uses the
// defaults from spec §4.2.
type Option func(*Collector)

// WithGrowthPolicy overrides the doubling threshold and linear step
// (test knob: exercising the "tall tree" and stress scenarios without
// allocating the full 8M-entry default threshold).
func WithGrowthPolicy(doublingThreshold, linearStep int) Option {
	return func(c *Collector) {
		c.doublingThreshold = doublingThreshold
		c.linearStep = linearStep
	}
}

// New returns a Collector for the given key/payload schema and comparer.
func New(schema page.Schema, comparer base.Comparer, opts ...Option) (*Collector, error) {
	if err := validateSchema(schema); err != nil {
		return nil, err
	}
	c := &Collector{
		schema:            schema,
		comparer:          comparer,
		doublingThreshold: defaultDoublingThreshold,
		linearStep:        defaultLinearStep,
	}
	for _, o := range opts {
		o(c)
	}
	c.payloads = make([][]byte, len(schema.PayloadWidths))
	c.varLens = make([][]int, len(schema.PayloadWidths))
	c.grow(initialCapacity)
	return c, nil
}

func validateSchema(schema page.Schema) error {
	if len(schema.PayloadWidths) > 16 {
		return base.ErrTooManyIncludeColumns
	}
	return nil
}

// grow reallocates the backing arrays to hold at least capacity tuples,
// per the doubling-then-linear policy (spec §4.2, §9).
func (c *Collector) grow(capacity int) {
	newKeys := make([]byte, c.n*c.schema.KeyWidth, capacity*c.schema.KeyWidth)
	copy(newKeys, c.keys)
	c.keys = newKeys

	for col, w := range c.schema.PayloadWidths {
		if w >= 0 {
			nb := make([]byte, c.n*w, capacity*w)
			copy(nb, c.payloads[col])
			c.payloads[col] = nb
		} else {
			nb := make([]byte, len(c.payloads[col]), capacity*8)
			copy(nb, c.payloads[col])
			c.payloads[col] = nb
			nl := make([]int, c.n, capacity)
			copy(nl, c.varLens[col])
			c.varLens[col] = nl
		}
	}
}

func (c *Collector) capacity() int {
	if c.schema.KeyWidth == 0 {
		return 0
	}
	return cap(c.keys) / c.schema.KeyWidth
}

// nextCapacity implements the doubling-then-linear policy: double while
// below doublingThreshold, then step linearly (spec §4.2).
func (c *Collector) nextCapacity() int {
	cur := c.capacity()
	if cur == 0 {
		return initialCapacity
	}
	if cur < c.doublingThreshold {
		next := cur * 2
		if next > c.doublingThreshold {
			next = c.doublingThreshold
		}
		return next
	}
	return cur + c.linearStep
}

// Push appends one tuple. It fails with base.ErrNullValue if any column
// is masked NULL, and enforces the total order against the previously
// pushed tuple (spec §4.2: "the collector only asserts ordering and
// rejects NULLs").
func (c *Collector) Push(t Tuple) error {
	if t.NullMask != 0 {
		return base.ErrNullValue
	}
	if len(t.Key) != c.schema.KeyWidth {
		return errors.Newf("collector: key width %d does not match schema width %d", len(t.Key), c.schema.KeyWidth)
	}
	if len(t.Payload) != len(c.schema.PayloadWidths) {
		return errors.Newf("collector: %d payload columns does not match schema's %d", len(t.Payload), len(c.schema.PayloadWidths))
	}

	if c.have && c.comparer.Compare(c.lastKey, t.Key) > 0 {
		return errors.Newf("collector: input stream is not sorted: %x came after %x", t.Key, c.lastKey)
	}

	if c.n >= c.capacity() {
		c.grow(c.nextCapacity())
	}

	c.keys = append(c.keys, t.Key...)
	for col, w := range c.schema.PayloadWidths {
		if w >= 0 {
			if len(t.Payload[col]) != w {
				return errors.Newf("collector: payload column %d width %d does not match schema width %d", col, len(t.Payload[col]), w)
			}
			c.payloads[col] = append(c.payloads[col], t.Payload[col]...)
		} else {
			c.payloads[col] = append(c.payloads[col], t.Payload[col]...)
			c.varLens[col] = append(c.varLens[col], len(t.Payload[col]))
		}
	}
	c.n++
	c.lastKey = append(c.lastKey[:0], t.Key...)
	c.have = true
	return nil
}

// Len returns the number of tuples pushed so far.
func (c *Collector) Len() int { return c.n }

// Finalize returns the random-access, sorted view of every pushed tuple.
// The view implements page.TupleSource directly, so the packer can slice
// it without copying.
func (c *Collector) Finalize() *View {
	v := &View{schema: c.schema, keys: c.keys, payloads: c.payloads, varLens: c.varLens, n: c.n}
	v.varOffsets = make([][]int, len(c.schema.PayloadWidths))
	for col, w := range c.schema.PayloadWidths {
		if w >= 0 {
			continue
		}
		offs := make([]int, c.n+1)
		sum := 0
		for i := 0; i < c.n; i++ {
			offs[i] = sum
			sum += c.varLens[col][i]
		}
		offs[c.n] = sum
		v.varOffsets[col] = offs
	}
	return v
}

// View is the finalized, read-only random-access form of a Collector.
type View struct {
	schema     page.Schema
	keys       []byte
	payloads   [][]byte
	varLens    [][]int
	varOffsets [][]int
	n          int
}

var _ page.TupleSource = (*View)(nil)

// Len implements page.TupleSource.
func (v *View) Len() int { return v.n }

// KeyAt implements page.TupleSource.
func (v *View) KeyAt(i int) []byte {
	w := v.schema.KeyWidth
	return v.keys[i*w : (i+1)*w]
}

// PayloadAt implements page.TupleSource.
func (v *View) PayloadAt(i int, col int) []byte {
	w := v.schema.PayloadWidths[col]
	if w >= 0 {
		return v.payloads[col][i*w : (i+1)*w]
	}
	offs := v.varOffsets[col]
	return v.payloads[col][offs[i]:offs[i+1]]
}

// Slice returns a page.TupleSource over tuples[start:end) of the view,
// used by the packer to hand the codec a batch without copying.
func (v *View) Slice(start, end int) page.TupleSource {
	return &subView{v: v, start: start, end: end}
}

type subView struct {
	v          *View
	start, end int
}

func (s *subView) Len() int                  { return s.end - s.start }
func (s *subView) KeyAt(i int) []byte         { return s.v.KeyAt(s.start + i) }
func (s *subView) PayloadAt(i, col int) []byte { return s.v.PayloadAt(s.start+i, col) }
