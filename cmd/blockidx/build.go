// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/index"
	"github.com/blockidx/blockidx/internal/base"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// csvKeySource adapts a sorted slice of uint32 keys to index.TupleSource.
// The tuples file format is deliberately the simplest thing that lets the
// CLI exercise the library end to end: one decimal uint32 key per line,
// no INCLUDE columns.
type csvKeySource struct {
	keys [][]byte
}

func (s csvKeySource) Len() int                  { return len(s.keys) }
func (s csvKeySource) KeyAt(i int) []byte        { return s.keys[i] }
func (s csvKeySource) PayloadAt(int, int) []byte { return nil }
func (s csvKeySource) NullMaskAt(int) uint32     { return 0 }

func readTuplesFile(path string) ([]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "blockidx: opening tuples file %s", path)
	}
	defer f.Close()

	var values []uint32
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "blockidx: parsing key %q", line)
		}
		values = append(values, uint32(v))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "blockidx: reading tuples file")
	}
	return values, nil
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <tuples-file> <out-dir>",
		Short: "Build a new index from a stream of uint32 keys, one per line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(args[0], args[1])
		},
	}
	return cmd
}

func runBuild(tuplesPath, outDir string) error {
	values, err := readTuplesFile(tuplesPath)
	if err != nil {
		return err
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	keys := make([][]byte, len(values))
	for i, v := range values {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		keys[i] = b
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "blockidx: creating %s", outDir)
	}
	store, err := blockstore.CreateFileStore(filepath.Join(outDir, blocksFileName), blockSize)
	if err != nil {
		return err
	}

	idx, err := index.Build(context.Background(), csvKeySource{keys: keys}, store, index.Options{
		Schema: index.Schema{KeyWidth: 4},
		Config: base.DefaultConfig(),
		Logger: base.NewStderrLogger(false),
	})
	if err != nil {
		store.Close()
		return errors.Wrap(err, "blockidx: build failed")
	}
	if err := store.Close(); err != nil {
		return err
	}

	return writeMeta(outDir, buildMeta{
		Root: uint64(idx.Root), Height: idx.Height, KeyWidth: 4, NumRows: len(values),
	})
}
