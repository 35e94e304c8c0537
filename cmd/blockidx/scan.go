// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/index"
	"github.com/blockidx/blockidx/internal/base"
	scanpkg "github.com/blockidx/blockidx/scan"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var lower, upper string
	var desc bool
	var workers int

	cmd := &cobra.Command{
		Use:   "scan <index-dir>",
		Short: "Scan an index and print every matched key to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(args[0], lower, upper, desc, workers)
		},
	}
	cmd.Flags().StringVar(&lower, "lower", "", "inclusive lower bound key (decimal)")
	cmd.Flags().StringVar(&upper, "upper", "", "inclusive upper bound key (decimal)")
	cmd.Flags().BoolVar(&desc, "desc", false, "scan in descending order")
	cmd.Flags().IntVar(&workers, "workers", 0, "0 runs a sequential scan; >0 uses that many parallel workers")
	return cmd
}

func parseBoundKey(s string) ([]byte, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, errors.Wrapf(err, "blockidx: parsing bound %q", s)
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b, nil
}

func buildBounds(lower, upper string) (scanpkg.Bounds, error) {
	var b scanpkg.Bounds
	if lower != "" {
		key, err := parseBoundKey(lower)
		if err != nil {
			return b, err
		}
		b.Lower = scanpkg.Bound{Present: true, Key: key}
	}
	if upper != "" {
		key, err := parseBoundKey(upper)
		if err != nil {
			return b, err
		}
		b.Upper = scanpkg.Bound{Present: true, Key: key}
	}
	return b, nil
}

func runScan(dir, lower, upper string, desc bool, workers int) error {
	m, err := readMeta(dir)
	if err != nil {
		return err
	}
	store, err := blockstore.OpenFileStore(blocksPath(dir), blockSize)
	if err != nil {
		return err
	}
	defer store.Close()

	idx := index.Open(store, m.root(), index.Options{
		Schema: index.Schema{KeyWidth: m.KeyWidth},
		Config: base.DefaultConfig(),
		Logger: base.NewStderrLogger(false),
	})

	bounds, err := buildBounds(lower, upper)
	if err != nil {
		return err
	}
	dir2 := scanpkg.DirForward
	if desc {
		dir2 = scanpkg.DirBackward
	}

	if workers > 0 {
		return idx.ParallelScan(context.Background(), workers, dir2, bounds, nil, func(key []byte, _ [][]byte) error {
			fmt.Println(binary.BigEndian.Uint32(key))
			return nil
		})
	}

	h, err := idx.Scan(context.Background(), dir2, bounds, nil)
	if err != nil {
		return err
	}
	defer h.Close()
	for {
		key, _, ok, err := h.Next(context.Background())
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Println(binary.BigEndian.Uint32(key))
	}
	return nil
}
