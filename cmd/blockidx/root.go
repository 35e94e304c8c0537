// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blockidx",
		Short: "Build, scan, and inspect BlockIdx sorted secondary indexes",
	}
	root.AddCommand(newBuildCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newDiffCmd())
	return root
}
