// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diff compares a document baseline against proposed content.
package diff

import (
	"fmt"
	"strings"
)

// =============================================================================
// OP TYPE
// =============================================================================

// Op classifies a diff element relative to the baseline.
type Op int

const (
	// OpEqual is content present in both baseline and proposal.
	OpEqual Op = iota
	// OpInsert is content only the proposal has.
	OpInsert
	// OpDelete is content only the baseline has.
	OpDelete
)

// String returns the string representation of the op.
func (o Op) String() string {
	switch o {
	case OpEqual:
		return "equal"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Prefix returns the unified-diff prefix character for the op.
func (o Op) Prefix() string {
	switch o {
	case OpInsert:
		return "+"
	case OpDelete:
		return "-"
	default:
		return " "
	}
}

// =============================================================================
// LINE DIFF TYPES
// =============================================================================

// Line is a single line of a computed diff.
type Line struct {
	Op       Op
	Text     string
	BaseLine int // Line number in the baseline (0 if inserted)
	PropLine int // Line number in the proposal (0 if deleted)
}

// Hunk is a contiguous run of changes with surrounding context.
type Hunk struct {
	BaseStart int
	BaseCount int
	PropStart int
	PropCount int
	Lines     []Line
}

// Stats summarizes a diff.
type Stats struct {
	Added   int
	Removed int
}

// Diff is the full comparison of a baseline against a proposal.
type Diff struct {
	Baseline string
	Proposed string
	Hunks    []Hunk
	Stats    Stats
}

// HasChanges reports whether the proposal differs from the baseline.
func (d *Diff) HasChanges() bool {
	return d.Stats.Added > 0 || d.Stats.Removed > 0
}

// Summary returns a short human-readable description, e.g. "+3 -1".
func (d *Diff) Summary() string {
	if !d.HasChanges() {
		return "no changes"
	}
	var parts []string
	if d.Stats.Added > 0 {
		parts = append(parts, fmt.Sprintf("+%d", d.Stats.Added))
	}
	if d.Stats.Removed > 0 {
		parts = append(parts, fmt.Sprintf("-%d", d.Stats.Removed))
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// LINE DIFF COMPUTATION
// =============================================================================

// contextLines is the number of unchanged lines kept around each hunk.
const contextLines = 3

// Compute diffs proposed content against its baseline line by line
// using an LCS alignment.
func Compute(baseline, proposed string) *Diff {
	d := &Diff{
		Baseline: baseline,
		Proposed: proposed,
	}

	baseLines := splitLines(baseline)
	propLines := splitLines(proposed)
	lines := alignLines(baseLines, propLines)
	d.Hunks = groupIntoHunks(lines)

	for _, line := range lines {
		switch line.Op {
		case OpInsert:
			d.Stats.Added++
		case OpDelete:
			d.Stats.Removed++
		}
	}
	return d
}

// splitLines splits content into lines, dropping the phantom empty
// line a trailing newline would otherwise produce.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// alignLines walks both sides against their LCS, emitting deletions
// for baseline-only lines and insertions for proposal-only lines.
func alignLines(base, prop []string) []Line {
	var result []Line
	lcs := longestCommonSubsequence(base, prop)

	bi, pi, li := 0, 0, 0
	for bi < len(base) || pi < len(prop) {
		switch {
		case li < len(lcs) && bi < len(base) && pi < len(prop) &&
			base[bi] == lcs[li] && prop[pi] == lcs[li]:
			result = append(result, Line{Op: OpEqual, Text: base[bi], BaseLine: bi + 1, PropLine: pi + 1})
			bi++
			pi++
			li++
		case bi < len(base) && (li >= len(lcs) || base[bi] != lcs[li]):
			result = append(result, Line{Op: OpDelete, Text: base[bi], BaseLine: bi + 1})
			bi++
		case pi < len(prop):
			result = append(result, Line{Op: OpInsert, Text: prop[pi], PropLine: pi + 1})
			pi++
		}
	}
	return result
}

// longestCommonSubsequence computes the LCS of two string slices with
// the standard DP table.
func longestCommonSubsequence(a, b []string) []string {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	lcs := make([]string, 0, dp[m][n])
	i, j := m, n
	for i > 0 && j > 0 {
		if a[i-1] == b[j-1] {
			lcs = append(lcs, a[i-1])
			i--
			j--
		} else if dp[i-1][j] > dp[i][j-1] {
			i--
		} else {
			j--
		}
	}
	// Reverse into forward order.
	for l, r := 0, len(lcs)-1; l < r; l, r = l+1, r-1 {
		lcs[l], lcs[r] = lcs[r], lcs[l]
	}
	return lcs
}

// groupIntoHunks clusters changed lines into hunks, keeping up to
// contextLines of unchanged lines on each side.
func groupIntoHunks(lines []Line) []Hunk {
	var hunks []Hunk
	var current *Hunk
	sinceChange := 0

	flush := func() {
		if current == nil {
			return
		}
		// Trim excess trailing context.
		trim := sinceChange - contextLines
		if trim > 0 {
			current.Lines = current.Lines[:len(current.Lines)-trim]
		}
		finalizeHunk(current)
		hunks = append(hunks, *current)
		current = nil
	}

	for i, line := range lines {
		if line.Op != OpEqual {
			if current == nil {
				current = &Hunk{}
				start := i - contextLines
				if start < 0 {
					start = 0
				}
				current.Lines = append(current.Lines, lines[start:i]...)
			}
			current.Lines = append(current.Lines, line)
			sinceChange = 0
			continue
		}
		if current != nil {
			current.Lines = append(current.Lines, line)
			sinceChange++
			if sinceChange >= 2*contextLines {
				flush()
			}
		}
	}
	flush()
	return hunks
}

// finalizeHunk fills in the start positions and counts from the lines.
func finalizeHunk(h *Hunk) {
	for _, line := range h.Lines {
		if line.BaseLine > 0 {
			if h.BaseStart == 0 {
				h.BaseStart = line.BaseLine
			}
			h.BaseCount++
		}
		if line.PropLine > 0 {
			if h.PropStart == 0 {
				h.PropStart = line.PropLine
			}
			h.PropCount++
		}
	}
}

// =============================================================================
// UNIFIED FORMAT
// =============================================================================

// FormatUnified renders the diff in unified format with baseline and
// proposal headers.
func FormatUnified(d *Diff, label string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("--- %s (current)\n", label))
	sb.WriteString(fmt.Sprintf("+++ %s (proposed)\n", label))

	for _, hunk := range d.Hunks {
		sb.WriteString(fmt.Sprintf("@@ -%d,%d +%d,%d @@\n",
			hunk.BaseStart, hunk.BaseCount,
			hunk.PropStart, hunk.PropCount))
		for _, line := range hunk.Lines {
			sb.WriteString(line.Op.Prefix())
			sb.WriteString(line.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
