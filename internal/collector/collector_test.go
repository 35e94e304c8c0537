// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package collector

import (
	"encoding/binary"
	"testing"

	"github.com/blockidx/blockidx/internal/base"
	"github.com/blockidx/blockidx/internal/page"
	"github.com/stretchr/testify/require"
)

func key4(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestCollectorRejectsNull(t *testing.T) {
	c, err := New(page.Schema{KeyWidth: 4}, base.DefaultComparer)
	require.NoError(t, err)
	err = c.Push(Tuple{Key: key4(1), NullMask: 1})
	require.ErrorIs(t, err, base.ErrNullValue)
}

func TestCollectorRejectsOutOfOrder(t *testing.T) {
	c, err := New(page.Schema{KeyWidth: 4}, base.DefaultComparer)
	require.NoError(t, err)
	require.NoError(t, c.Push(Tuple{Key: key4(5)}))
	err = c.Push(Tuple{Key: key4(1)})
	require.Error(t, err)
}

func TestCollectorRoundTripAndGrowth(t *testing.T) {
	c, err := New(page.Schema{KeyWidth: 4, PayloadWidths: []int{4}}, base.DefaultComparer,
		WithGrowthPolicy(8, 4))
	require.NoError(t, err)
	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, c.Push(Tuple{Key: key4(uint32(i)), Payload: [][]byte{key4(uint32(i * 2))}}))
	}
	require.Equal(t, n, c.Len())
	v := c.Finalize()
	for i := 0; i < n; i++ {
		require.Equal(t, key4(uint32(i)), v.KeyAt(i))
		require.Equal(t, key4(uint32(i*2)), v.PayloadAt(i, 0))
	}
}

func TestCollectorVariableLengthPayload(t *testing.T) {
	schema := page.Schema{KeyWidth: 4, PayloadWidths: []int{-1}}
	c, err := New(schema, base.DefaultComparer)
	require.NoError(t, err)
	values := [][]byte{[]byte("a"), []byte("bcd"), []byte(""), []byte("efghi")}
	for i, v := range values {
		require.NoError(t, c.Push(Tuple{Key: key4(uint32(i)), Payload: [][]byte{v}}))
	}
	view := c.Finalize()
	for i, v := range values {
		require.Equal(t, v, view.PayloadAt(i, 0))
	}
}
