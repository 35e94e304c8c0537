// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package page

import (
	"encoding/binary"
	"testing"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/stretchr/testify/require"
)

// sliceSource is a trivial in-memory TupleSource used across the page
// codec's tests.
type sliceSource struct {
	keys     [][]byte
	payloads [][][]byte // payloads[i][col]
}

func (s *sliceSource) Len() int                  { return len(s.keys) }
func (s *sliceSource) KeyAt(i int) []byte         { return s.keys[i] }
func (s *sliceSource) PayloadAt(i, col int) []byte { return s.payloads[i][col] }

func u32key(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func makeUniqueSource(n int) *sliceSource {
	s := &sliceSource{}
	for i := 0; i < n; i++ {
		s.keys = append(s.keys, u32key(uint32(i)))
		s.payloads = append(s.payloads, [][]byte{u32key(uint32(i * 2))})
	}
	return s
}

func makeDupSource(n, distinct int) *sliceSource {
	s := &sliceSource{}
	for i := 0; i < n; i++ {
		s.keys = append(s.keys, u32key(uint32(i*distinct/n)))
		s.payloads = append(s.payloads, [][]byte{u32key(111)})
	}
	return s
}

func schemaOneInclude() Schema { return Schema{KeyWidth: 4, PayloadWidths: []int{4}} }

func TestPlainRoundTrip(t *testing.T) {
	src := makeUniqueSource(100)
	schema := schemaOneInclude()
	buf, err := Encode(FormatPlain, 7, 0, 0, 100, src, schema, base.RLEv2, NoRightlink, 8192, base.CompressionNone)
	require.NoError(t, err)

	p, err := Decode(buf, 7)
	require.NoError(t, err)
	require.Equal(t, FormatPlain, p.Header.FormatTag)
	require.Equal(t, 100, p.NItems)
	require.Equal(t, u32key(0), FirstKey(p))
	require.Equal(t, u32key(99), LastKey(p))
	for i := 0; i < 100; i++ {
		require.Equal(t, u32key(uint32(i)), KeyAt(p, i))
		require.Equal(t, u32key(uint32(i*2)), PayloadAt(p, i, 0))
	}
	pos := LowerBound(p, base.Compare, u32key(50))
	require.Equal(t, 50, pos)
}

func TestKeyRLERoundTrip(t *testing.T) {
	src := makeDupSource(1000, 10)
	schema := schemaOneInclude()
	for _, v := range []base.RLEVersion{base.RLEv1, base.RLEv2} {
		buf, err := Encode(FormatKeyRLE, 3, 0, 0, 1000, src, schema, v, NoRightlink, 16384, base.CompressionNone)
		require.NoError(t, err)
		p, err := Decode(buf, 3)
		require.NoError(t, err)
		require.Equal(t, FormatKeyRLE, p.Header.FormatTag)
		require.Equal(t, 10, len(p.RunLengths))
		for i := 0; i < 1000; i++ {
			require.Equal(t, u32key(uint32(i/100)), KeyAt(p, i))
			require.Equal(t, u32key(111), PayloadAt(p, i, 0))
		}
		lo := LowerBound(p, base.Compare, u32key(5))
		require.Equal(t, u32key(5), KeyAt(p, lo))
	}
}

func TestIncludeRLERoundTrip(t *testing.T) {
	src := makeDupSource(1000, 10)
	schema := schemaOneInclude()
	buf, err := Encode(FormatIncludeRLE, 9, 0, 0, 1000, src, schema, base.RLEv2, NoRightlink, 16384, base.CompressionNone)
	require.NoError(t, err)
	p, err := Decode(buf, 9)
	require.NoError(t, err)
	require.Equal(t, FormatIncludeRLE, p.Header.FormatTag)
	require.Equal(t, 10, len(p.RunLengths))
	start, end := RunBounds(p, 500)
	require.Equal(t, 100, end-start)
	for i := 0; i < 1000; i++ {
		require.Equal(t, u32key(111), PayloadAt(p, i, 0))
	}
}

func TestZeroCopyRoundTrip(t *testing.T) {
	src := makeUniqueSource(50)
	schema := Schema{KeyWidth: 4}
	buf, err := Encode(FormatZeroCopy, 1, 0, 0, 50, src, schema, base.RLEv2, NoRightlink, 4096, base.CompressionNone)
	require.NoError(t, err)
	p, err := Decode(buf, 1)
	require.NoError(t, err)
	require.Equal(t, 50, p.NItems)
	for i := 0; i < 50; i++ {
		require.Equal(t, u32key(uint32(i)), KeyAt(p, i))
	}
}

func TestMalformedPageDetected(t *testing.T) {
	src := makeUniqueSource(10)
	schema := Schema{KeyWidth: 4}
	buf, err := Encode(FormatPlain, 1, 0, 0, 10, src, schema, base.RLEv2, NoRightlink, 4096, base.CompressionNone)
	require.NoError(t, err)
	buf[20] ^= 0xFF // corrupt a header/body byte
	_, err = Decode(buf, 1)
	require.Error(t, err)
}

// TestKeyRLEAtMaxRunsEncodesExactlyAtTheLimit exercises spec §8's named
// boundary: nRuns == MaxNRuns (32000) must still encode successfully, with
// every tuple preserved -- only nRuns+1 is rejected (see encodeKeyRLEBody).
func TestKeyRLEAtMaxRunsEncodesExactlyAtTheLimit(t *testing.T) {
	src := makeDupSource(MaxNRuns, MaxNRuns) // every key distinct -> one run apiece
	schema := schemaOneInclude()
	buf, err := Encode(FormatKeyRLE, 11, 0, 0, MaxNRuns, src, schema, base.RLEv2, NoRightlink, 0, base.CompressionNone)
	require.NoError(t, err)

	p, err := Decode(buf, 11)
	require.NoError(t, err)
	require.Equal(t, MaxNRuns, len(p.RunLengths))
	require.Equal(t, MaxNRuns, p.NItems)
	for i := 0; i < MaxNRuns; i++ {
		require.Equal(t, u32key(uint32(i)), KeyAt(p, i))
	}
}

// TestKeyRLEOverMaxRunsIsRejected confirms the one-past-the-limit case
// fails encoding outright rather than silently truncating data -- the
// packer (internal/packer) is the one responsible for keeping a single
// batch's distinct-key count under this ceiling (see chooseBatch).
func TestKeyRLEOverMaxRunsIsRejected(t *testing.T) {
	src := makeDupSource(MaxNRuns+1, MaxNRuns+1)
	schema := schemaOneInclude()
	_, err := Encode(FormatKeyRLE, 12, 0, 0, MaxNRuns+1, src, schema, base.RLEv2, NoRightlink, 0, base.CompressionNone)
	require.Error(t, err)
}

// TestIncludeRLESplitsARunLongerThanU16Max exercises spec §8's other named
// boundary directly against the body encoder: a single include-RLE run
// whose length exceeds the 0xFFFF a run-length entry can hold must split
// into multiple run entries on the same page, with every tuple preserved.
// The page header's own NItems field is a uint16, so this is tested
// against encodeIncludeRLEBody directly rather than through the full
// Encode/Decode round trip, which cannot represent a page this wide.
func TestIncludeRLESplitsARunLongerThanU16Max(t *testing.T) {
	n := 0x10002 // one full run of 0xFFFF, plus a short second run of 3
	schema := schemaOneInclude()
	src := makeDupSource(n, 1)
	e := &Encoder{Source: src, Start: 0, End: n, Schema: schema, RunVersion: base.RLEv2}
	require.NoError(t, encodeIncludeRLEBody(e))
	require.Equal(t, 2, int(e.nRuns))

	// e.body is laid out (v2): keys array, then lengths array, then
	// payload columns -- the same shape decodeIncludeRLEBody's
	// h.RunVersion == 1 branch parses.
	off := int(e.nRuns) * schema.KeyWidth
	l0 := binary.LittleEndian.Uint16(e.body[off:])
	l1 := binary.LittleEndian.Uint16(e.body[off+2:])
	require.Equal(t, uint16(0xFFFF), l0)
	require.Equal(t, uint16(3), l1)
	require.Equal(t, n, int(l0)+int(l1))
}

func TestUniquenessRatio(t *testing.T) {
	src := makeDupSource(1000, 10)
	ratio := UniquenessRatio(0, 1000, src, 4, 200)
	require.InDelta(t, 0.05, ratio, 0.02)

	src2 := makeUniqueSource(1000)
	ratio2 := UniquenessRatio(0, 1000, src2, 4, 200)
	require.InDelta(t, 1.0, ratio2, 0.05)
}
