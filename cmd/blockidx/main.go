// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Command blockidx is an operator CLI exercising the library end to end:
// building an index from a sorted tuple stream, scanning it back,
// printing its inspector statistics, and diffing two builds of the same
// input for the idempotence property (spec.md §8, invariant 8).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "blockidx:", err)
		os.Exit(1)
	}
}
