// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/blockidx/blockidx/blockstore"
	"github.com/blockidx/blockidx/inspect"
	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <index-dir>",
		Short: "Print page-count and compression statistics for a built index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
}

func runInspect(dir string) error {
	m, err := readMeta(dir)
	if err != nil {
		return err
	}
	store, err := blockstore.OpenFileStore(blocksPath(dir), blockSize)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := inspect.Compute(context.Background(), store, m.root())
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "value"})
	table.Append([]string{"total_pages", strconv.Itoa(s.TotalPages)})
	table.Append([]string{"leaf_pages", strconv.Itoa(s.LeafPages)})
	table.Append([]string{"key_rle_pages", strconv.Itoa(s.KeyRLEPages)})
	table.Append([]string{"inc_rle_pages", strconv.Itoa(s.IncRLEPages)})
	table.Append([]string{"zerocopy_pages", strconv.Itoa(s.ZeroCopyPages)})
	table.Append([]string{"zerocopy_pct", fmt.Sprintf("%.2f", s.ZeroCopyPct)})
	table.Append([]string{"compression_pct", fmt.Sprintf("%.2f", s.CompressionPct)})
	table.Render()

	plain := s.LeafPages - s.KeyRLEPages - s.IncRLEPages - s.ZeroCopyPages
	counts := []float64{float64(plain), float64(s.KeyRLEPages), float64(s.IncRLEPages), float64(s.ZeroCopyPages)}
	fmt.Println()
	fmt.Println(asciigraph.Plot(counts, asciigraph.Height(8), asciigraph.Caption("plain | key-rle | include-rle | zero-copy")))
	return nil
}
