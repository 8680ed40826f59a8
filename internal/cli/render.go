// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Terminal rendering for documents, diffs, and tickets.
//
// USABILITY: Markdown rendering and styled diffs for better CLI experience

package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/planweave/planweave/internal/diff"
	"github.com/planweave/planweave/internal/model"
	"github.com/planweave/planweave/internal/util"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer is the global glamour renderer for markdown output.
// USABILITY: Renders markdown responses with syntax highlighting and formatting.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// Fallback to plain text if renderer initialization fails
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails or renderer is unavailable.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}

	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayMarkdown prints content with markdown rendering when appropriate.
// Only renders markdown when stdout is a TTY to avoid corrupting piped
// output.
func displayMarkdown(content string) {
	if IsStdoutTTY() {
		fmt.Print(renderMarkdown(content))
	} else {
		fmt.Print(content)
	}
}

// =============================================================================
// DIFF RENDERING
// =============================================================================

// RenderWordDiff renders word-level spans inline: additions green,
// removals red with strikethrough, unchanged text as-is.
func RenderWordDiff(spans []diff.Span) string {
	var sb strings.Builder
	for _, span := range spans {
		switch span.Op {
		case diff.OpInsert:
			sb.WriteString(RenderConditional(InsertStyle, span.Text))
		case diff.OpDelete:
			sb.WriteString(RenderConditional(DeleteStyle, span.Text))
		default:
			sb.WriteString(span.Text)
		}
	}
	return sb.String()
}

// RenderLineDiff renders a unified diff with per-line coloring.
func RenderLineDiff(d *diff.Diff, label string) string {
	unified := diff.FormatUnified(d, label)

	var sb strings.Builder
	for _, line := range strings.Split(unified, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			sb.WriteString(RenderConditional(SectionStyle, line))
		case strings.HasPrefix(line, "@@"):
			sb.WriteString(RenderConditional(InfoStyle, line))
		case strings.HasPrefix(line, "+"):
			sb.WriteString(RenderConditional(InsertStyle, line))
		case strings.HasPrefix(line, "-"):
			sb.WriteString(RenderConditional(DeleteStyle, line))
		default:
			sb.WriteString(line)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// =============================================================================
// TICKET RENDERING
// =============================================================================

const ticketTitleWidth = 48

// RenderTicketLine renders one ticket as a single aligned row.
func RenderTicketLine(t model.Ticket) string {
	id := t.IssueID
	if !t.Persisted() {
		id = "(proposed)"
	}

	title := util.TruncateRunes(t.Title, ticketTitleWidth)
	pad := ticketTitleWidth - util.RuneLen(title)
	if pad < 0 {
		pad = 0
	}

	return fmt.Sprintf("  %-10s %s%s %s %s",
		id,
		title,
		strings.Repeat(" ", pad),
		RenderTicketStatus(t.Status),
		RenderConditional(DimStyle, string(t.Priority)))
}

// RenderTicketList renders a project's tickets with a summary header.
func RenderTicketList(tickets []model.Ticket) string {
	var sb strings.Builder
	sb.WriteString(RenderConditional(SectionStyle, "Tickets ("+util.IntToStr(len(tickets))+")"))
	sb.WriteString("\n")
	for _, t := range tickets {
		sb.WriteString(RenderTicketLine(t))
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderProposedIssueChanges renders pending issue additions and
// removals for review.
func RenderProposedIssueChanges(additions, removals []string) string {
	if len(additions) == 0 && len(removals) == 0 {
		return RenderConditional(DimStyle, "No proposed issue changes.") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(RenderConditional(SectionStyle, "Proposed issue changes"))
	sb.WriteString("\n")
	for _, title := range additions {
		sb.WriteString("  " + RenderConditional(InsertStyle, "+ "+title) + "\n")
	}
	for _, issueID := range removals {
		sb.WriteString("  " + RenderConditional(DeleteStyle, "- "+issueID) + "\n")
	}
	return sb.String()
}
