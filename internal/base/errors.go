// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base holds the types and sentinels shared by every layer of the
// index engine: keys, comparers, error kinds, and the process-wide test
// configuration. Nothing in this package depends on the page codec, the
// build pipeline, or the scan engine -- it only supplies their vocabulary.
package base

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Build-time input errors (§7). The embedder's tuple stream violated one of
// the data-model constraints in spec §3 before a single page was written.
var (
	ErrNullValue              = errors.New("blockidx: NULL value in key or INCLUDE column")
	ErrKeyTooWide             = errors.New("blockidx: text key exceeds 32 bytes")
	ErrTooManyKeyColumns      = errors.New("blockidx: index has more than two key columns")
	ErrTooManyIncludeColumns  = errors.New("blockidx: index has more than sixteen INCLUDE columns")
	ErrUnsupportedType        = errors.New("blockidx: column width is not one of the supported fixed widths")
	ErrNonBinaryCollation     = errors.New("blockidx: only the binary collation is supported for text keys")
)

// Build-time self-check errors (§7).
var (
	// ErrBuildStalled is returned when the leaf packer makes zero progress
	// for three consecutive iterations -- a defensive check against
	// arithmetic errors in the page-capacity estimator (§4.3, §9).
	ErrBuildStalled = errors.New("blockidx: leaf packer made no progress for three consecutive iterations")
)

// Runtime scan errors (§7).
var (
	ErrNotIndexOnly    = errors.New("blockidx: row-id tuple retrieval requested on an index-only engine")
	ErrScanKeyNull     = errors.New("blockidx: scan predicate value is NULL")
	ErrMalformedPage   = errors.New("blockidx: page header or body is internally inconsistent")
	ErrUnknownFormatTag = errors.New("blockidx: page format_tag is not one of plain/key-rle/include-rle/zero-copy")
	ErrBadNhash        = errors.New("blockidx: bloom filter nhash is out of the supported range")
)

// ErrReadOnly is returned for any attempted mutation (INSERT/UPDATE/DELETE)
// against a table carrying a built index (§6, §7).
var ErrReadOnly = errors.New("blockidx: index is read-only; build a new index instead of mutating")

// RowTooLargeWarning is not an error: it is the diagnostic payload attached
// via errors.WithDetail when the average packed tuple width exceeds 250
// bytes (§3, §4.3). Callers that want to observe it can use
// errors.GetAllDetails.
type RowTooLargeWarning struct {
	AverageWidth int
}

func (w RowTooLargeWarning) SafeDetails() []string {
	return []string{fmt.Sprintf("average packed tuple width %d bytes exceeded 250", w.AverageWidth)}
}

// Attach wraps err with this warning as an errors.WithDetail payload,
// recoverable later via errors.GetAllDetails.
func (w RowTooLargeWarning) Attach(err error) error {
	return errors.WithDetail(err, w.SafeDetails()[0])
}

// WrapPage annotates err with the block id it was raised for, matching the
// teacher's convention of wrapping corruption errors with safe, structured
// context (see sstable/table.go's readFooter/parseFooter).
func WrapPage(err error, blockID uint64) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "blockidx: page at block %s", errors.Safe(blockID))
}
