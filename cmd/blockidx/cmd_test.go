// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTuplesFile(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuples.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for i := n - 1; i >= 0; i-- { // deliberately unsorted; build sorts before packing
		fmt.Fprintln(f, i)
	}
	return path
}

func TestBuildThenInspectReportsExpectedPageCounts(t *testing.T) {
	tuples := writeTuplesFile(t, 2000)
	outDir := filepath.Join(t.TempDir(), "idx")
	require.NoError(t, runBuild(tuples, outDir))
	require.NoError(t, runInspect(outDir))
}

func TestBuildThenScanPrintsEveryKeyInOrder(t *testing.T) {
	tuples := writeTuplesFile(t, 500)
	outDir := filepath.Join(t.TempDir(), "idx")
	require.NoError(t, runBuild(tuples, outDir))
	require.NoError(t, runScan(outDir, "", "", false, 0))
	require.NoError(t, runScan(outDir, "10", "20", false, 0))
	require.NoError(t, runScan(outDir, "", "", true, 4))
}

func TestDiffReportsIdenticalBuildsFromTheSameInput(t *testing.T) {
	tuples := writeTuplesFile(t, 800)
	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")
	require.NoError(t, runBuild(tuples, dirA))
	require.NoError(t, runBuild(tuples, dirB))
	require.NoError(t, runDiff(dirA, dirB))
}

func TestDiffReportsDivergenceBetweenDifferentInputs(t *testing.T) {
	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")
	require.NoError(t, runBuild(writeTuplesFile(t, 800), dirA))
	require.NoError(t, runBuild(writeTuplesFile(t, 801), dirB))
	require.Error(t, runDiff(dirA, dirB))
}

func TestRootCommandWiresUpEveryExpectedSubcommand(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"build", "scan", "inspect", "diff"} {
		require.True(t, names[want], "missing subcommand %q", want)
	}
}
