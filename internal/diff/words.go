// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import "strings"

// =============================================================================
// WORD DIFF
// =============================================================================

// Span is a run of consecutive tokens sharing one op, used for inline
// word-level rendering of a proposed change.
type Span struct {
	Op   Op
	Text string
}

// Words diffs proposed content against its baseline at word
// granularity. Whitespace runs are tokens of their own, so spacing
// survives a round trip through the spans: concatenating the OpEqual
// and OpInsert spans reproduces the proposal exactly, and OpEqual plus
// OpDelete reproduces the baseline.
func Words(baseline, proposed string) []Span {
	baseTokens := tokenize(baseline)
	propTokens := tokenize(proposed)
	lcs := longestCommonSubsequence(baseTokens, propTokens)

	var spans []Span
	push := func(op Op, text string) {
		if text == "" {
			return
		}
		if n := len(spans); n > 0 && spans[n-1].Op == op {
			spans[n-1].Text += text
			return
		}
		spans = append(spans, Span{Op: op, Text: text})
	}

	bi, pi, li := 0, 0, 0
	for bi < len(baseTokens) || pi < len(propTokens) {
		switch {
		case li < len(lcs) && bi < len(baseTokens) && pi < len(propTokens) &&
			baseTokens[bi] == lcs[li] && propTokens[pi] == lcs[li]:
			push(OpEqual, baseTokens[bi])
			bi++
			pi++
			li++
		case bi < len(baseTokens) && (li >= len(lcs) || baseTokens[bi] != lcs[li]):
			push(OpDelete, baseTokens[bi])
			bi++
		case pi < len(propTokens):
			push(OpInsert, propTokens[pi])
			pi++
		}
	}
	return spans
}

// tokenize splits text into alternating word and whitespace tokens.
func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	var inSpace bool

	for _, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if current.Len() > 0 && isSpace != inSpace {
			tokens = append(tokens, current.String())
			current.Reset()
		}
		inSpace = isSpace
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
