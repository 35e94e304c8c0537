// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package blockstore

import (
	"context"
	"sync"

	"github.com/blockidx/blockidx/internal/page"
	"github.com/cockroachdb/errors"
)

// MemStore is an in-memory Store used by tests and by cmd/blockidx when no
// on-disk location is given. It is intentionally the simplest possible
// correct implementation of the contract in blockstore.go: a slice of
// fixed-size byte blocks guarded by a mutex.
type MemStore struct {
	blockSize int

	mu      sync.RWMutex
	blocks  [][]byte
	sealed  []bool
}

// NewMemStore returns an empty store with the given fixed block size.
func NewMemStore(blockSize int) *MemStore {
	return &MemStore{blockSize: blockSize}
}

func (m *MemStore) BlockSize() int { return m.blockSize }

func (m *MemStore) BlockCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.blocks))
}

type memPinned struct {
	id  BlockID
	buf []byte
}

func (p memPinned) Block() BlockID { return p.id }
func (p memPinned) Bytes() []byte  { return p.buf }

func (m *MemStore) Read(_ context.Context, id BlockID) (PinnedPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(id) >= len(m.blocks) || !m.sealed[id] {
		return nil, errors.Newf("memstore: block %d is not committed", id)
	}
	// Copy out: pins must not alias the store's mutable backing array,
	// matching the "copy out before release" ownership rule (spec §3).
	cp := make([]byte, len(m.blocks[id]))
	copy(cp, m.blocks[id])
	return memPinned{id: id, buf: cp}, nil
}

type memMutable struct {
	id  BlockID
	buf []byte
}

func (p *memMutable) Block() BlockID  { return p.id }
func (p *memMutable) Buffer() []byte  { return p.buf }

func (m *MemStore) WriteNew() (MutablePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := BlockID(len(m.blocks))
	buf := make([]byte, m.blockSize)
	m.blocks = append(m.blocks, buf)
	m.sealed = append(m.sealed, false)
	return &memMutable{id: id, buf: buf}, nil
}

func (m *MemStore) Commit(p MutablePage) error {
	mm, ok := p.(*memMutable)
	if !ok {
		return errors.New("memstore: foreign mutable page")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(mm.id) >= len(m.sealed) {
		return errors.Newf("memstore: block %d was never allocated", mm.id)
	}
	if m.sealed[mm.id] {
		return errors.Newf("memstore: block %d already committed", mm.id)
	}
	m.sealed[mm.id] = true
	return nil
}

func (m *MemStore) SetRightlink(prev, next BlockID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(prev) >= len(m.blocks) || !m.sealed[prev] {
		return errors.Newf("memstore: block %d is not committed", prev)
	}
	if err := page.PatchRightlink(m.blocks[prev], uint64(prev), uint64(next)); err != nil {
		return errors.Wrapf(err, "memstore: patching rightlink of block %d", prev)
	}
	return nil
}

func (m *MemStore) Release(PinnedPage) {
	// MemStore's pins are defensive copies (see Read); there is nothing
	// to unpin.
}
