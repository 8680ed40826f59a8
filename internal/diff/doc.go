// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diff compares a document baseline against proposed content.
//
// Two granularities are provided. Compute produces a line-level diff
// with hunks and stats, suitable for unified-format display. Words
// produces word-level spans for inline rendering of a pending change,
// which reads better for prose documents like plans and specs.
//
// # Key Types
//
//   - Diff: line-level comparison with hunks and stats
//   - Span: one run of word-level tokens (equal, insert, delete)
//   - Op: change classification shared by both granularities
//
// # Usage
//
//	d := diff.Compute(baseline, proposed)
//	if d.HasChanges() {
//		fmt.Println(diff.FormatUnified(d, "plan"))
//	}
package diff
