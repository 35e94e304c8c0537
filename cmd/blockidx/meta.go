// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/cockroachdb/errors"
)

const (
	blocksFileName = "blocks.idx"
	metaFileName   = "meta.json"
	blockSize      = 4096
)

// buildMeta is the small sidecar file a build writes alongside blocks.idx
// so a later scan/inspect/diff invocation (a fresh process, no shared
// memory) can reattach to the same tree. Everything the engine itself
// needs to know (schema, root, height) round-trips through it.
type buildMeta struct {
	Root     uint64 `json:"root"`
	Height   int    `json:"height"`
	KeyWidth int    `json:"key_width"`
	NumRows  int    `json:"num_rows"`
}

func writeMeta(dir string, m buildMeta) error {
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "blockidx: encoding build metadata")
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), buf, 0o644); err != nil {
		return errors.Wrap(err, "blockidx: writing build metadata")
	}
	return nil
}

func readMeta(dir string) (buildMeta, error) {
	var m buildMeta
	buf, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return m, errors.Wrapf(err, "blockidx: reading metadata from %s", dir)
	}
	if err := json.Unmarshal(buf, &m); err != nil {
		return m, errors.Wrap(err, "blockidx: decoding build metadata")
	}
	return m, nil
}

func (m buildMeta) root() blockstore.BlockID { return blockstore.BlockID(m.Root) }

func blocksPath(dir string) string { return filepath.Join(dir, blocksFileName) }
