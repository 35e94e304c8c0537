// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build tools

// Package tools pins the benchmark-comparison CLI used to compare scan
// throughput across commits (spec §9, "Performance testing"), the way
// the teacher's go.mod pulls in a command solely for `go install` rather
// than for any package it imports.
package tools

import (
	_ "golang.org/x/perf/cmd/benchstat"
)
