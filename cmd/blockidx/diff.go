// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/cockroachdb/errors"
	"github.com/ghemawat/stream"
	"github.com/spf13/cobra"
)

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <dir-a> <dir-b>",
		Short: "Byte-compare two builds of the same input and report the first differing block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(args[0], args[1])
		},
	}
}

func runDiff(dirA, dirB string) error {
	metaA, err := readMeta(dirA)
	if err != nil {
		return err
	}
	metaB, err := readMeta(dirB)
	if err != nil {
		return err
	}

	storeA, err := blockstore.OpenFileStore(blocksPath(dirA), blockSize)
	if err != nil {
		return err
	}
	defer storeA.Close()
	storeB, err := blockstore.OpenFileStore(blocksPath(dirB), blockSize)
	if err != nil {
		return err
	}
	defer storeB.Close()

	var mismatches []string
	if metaA.Root != metaB.Root || metaA.Height != metaB.Height {
		mismatches = append(mismatches, fmt.Sprintf("root/height differ: %d/%d vs %d/%d", metaA.Root, metaA.Height, metaB.Root, metaB.Height))
	}

	n := storeA.BlockCount()
	if m := storeB.BlockCount(); m < n {
		n = m
	}
	firstDiff := int64(-1)
	ctx := context.Background()
	for i := uint64(0); i < n; i++ {
		pinA, err := storeA.Read(ctx, blockstore.BlockID(i))
		if err != nil {
			return errors.Wrapf(err, "blockidx: reading block %d of %s", i, dirA)
		}
		pinB, err := storeB.Read(ctx, blockstore.BlockID(i))
		if err != nil {
			return errors.Wrapf(err, "blockidx: reading block %d of %s", i, dirB)
		}
		if !bytes.Equal(pinA.Bytes(), pinB.Bytes()) {
			firstDiff = int64(i)
		}
		storeA.Release(pinA)
		storeB.Release(pinB)
		if firstDiff >= 0 {
			break
		}
	}
	if storeA.BlockCount() != storeB.BlockCount() {
		mismatches = append(mismatches, fmt.Sprintf("block count differs: %d vs %d", storeA.BlockCount(), storeB.BlockCount()))
	}
	if firstDiff >= 0 {
		mismatches = append(mismatches, fmt.Sprintf("first differing block: %d", firstDiff))
	}

	// Sort and dedupe the report lines through a small stream pipeline,
	// the way the teacher's metamorphic tooling filters and diffs logs.
	var out bytes.Buffer
	if err := stream.Run(
		stream.Items(mismatches...),
		stream.Sort(),
		stream.Uniq(),
		stream.WriteLines(&out),
	); err != nil {
		return errors.Wrap(err, "blockidx: formatting diff report")
	}

	if out.Len() == 0 {
		fmt.Fprintln(os.Stdout, "builds are identical")
		return nil
	}
	fmt.Fprint(os.Stdout, out.String())
	return errors.New("blockidx: builds differ")
}
