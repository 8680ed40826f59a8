// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/planweave/planweave/internal/model"
)

// Error variables for reconciliation.
var (
	// ErrNoPendingChange indicates accept or reject was called with
	// nothing to act on.
	ErrNoPendingChange = errors.New("no pending change")

	// ErrItemNotPending indicates the named addition or removal is not
	// part of the current proposal.
	ErrItemNotPending = errors.New("item is not part of the pending proposal")
)

// TicketService persists issue-list decisions. *api.Client satisfies
// it via a thin adapter in the chat package.
type TicketService interface {
	CreateTicket(ctx context.Context, ticket model.Ticket) (model.Ticket, error)
	DeleteTicket(ctx context.Context, projectID, issueID string) error
}

// =============================================================================
// ISSUE RECONCILER
// =============================================================================

// IssueReconciler accumulates an assistant's proposed issue-list edits
// and applies them one item at a time.
//
// The wire format is line oriented: "+Title" proposes a new ticket,
// "-issue_id" proposes deleting an existing one. Deltas may split
// lines anywhere, so the reconciler keeps the raw accumulated text and
// rescans it on demand instead of parsing chunk by chunk. Each item is
// accepted or rejected independently; both remove exactly that item's
// line from the accumulated text, and the remaining items stay pending.
type IssueReconciler struct {
	mu          sync.Mutex
	projectID   string
	accumulated string
}

// NewIssueReconciler creates a reconciler for a project's issue list.
func NewIssueReconciler(projectID string) *IssueReconciler {
	return &IssueReconciler{projectID: projectID}
}

// ApplyDelta appends streamed proposal text.
func (r *IssueReconciler) ApplyDelta(delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accumulated += delta
}

// ApplySnapshot folds a full issues snapshot into the proposal. Only
// unpersisted tickets represent new work; each becomes an addition
// line unless it is already pending.
func (r *IssueReconciler) ApplySnapshot(tickets []model.Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range tickets {
		if ticket.Persisted() || ticket.Title == "" {
			continue
		}
		line := "+" + ticket.Title
		if containsLine(r.accumulated, line) {
			continue
		}
		if r.accumulated != "" && !strings.HasSuffix(r.accumulated, "\n") {
			r.accumulated += "\n"
		}
		r.accumulated += line + "\n"
	}
}

// Additions returns the proposed new ticket titles, in order.
func (r *IssueReconciler) Additions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var titles []string
	for _, line := range strings.Split(r.accumulated, "\n") {
		if len(line) > 1 && line[0] == '+' {
			titles = append(titles, line[1:])
		}
	}
	return titles
}

// Removals returns the issue ids proposed for deletion, in order.
func (r *IssueReconciler) Removals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, line := range strings.Split(r.accumulated, "\n") {
		if len(line) > 1 && line[0] == '-' {
			ids = append(ids, line[1:])
		}
	}
	return ids
}

// HasPending reports whether any additions or removals await review.
func (r *IssueReconciler) HasPending() bool {
	return len(r.Additions()) > 0 || len(r.Removals()) > 0
}

// AcceptAddition creates a ticket for the proposed title, then removes
// exactly that line from the proposal. Remaining items stay pending.
// A failed create leaves the proposal untouched for retry.
func (r *IssueReconciler) AcceptAddition(ctx context.Context, svc TicketService, title string) (model.Ticket, error) {
	line := "+" + title
	r.mu.Lock()
	pending := containsLine(r.accumulated, line)
	r.mu.Unlock()
	if !pending {
		return model.Ticket{}, ErrItemNotPending
	}

	created, err := svc.CreateTicket(ctx, model.NewProposedTicket(r.projectID, title))
	if err != nil {
		return model.Ticket{}, err
	}

	r.removeLine(line)
	return created, nil
}

// AcceptRemoval deletes the ticket with the proposed issue id, then
// removes exactly that line from the proposal. A failed delete leaves
// the proposal untouched for retry.
func (r *IssueReconciler) AcceptRemoval(ctx context.Context, svc TicketService, issueID string) error {
	line := "-" + issueID
	r.mu.Lock()
	pending := containsLine(r.accumulated, line)
	r.mu.Unlock()
	if !pending {
		return ErrItemNotPending
	}

	if err := svc.DeleteTicket(ctx, r.projectID, issueID); err != nil {
		return err
	}

	r.removeLine(line)
	return nil
}

// RejectAddition drops a proposed title without side effects.
func (r *IssueReconciler) RejectAddition(title string) error {
	return r.reject("+" + title)
}

// RejectRemoval drops a proposed deletion without side effects.
func (r *IssueReconciler) RejectRemoval(issueID string) error {
	return r.reject("-" + issueID)
}

func (r *IssueReconciler) reject(line string) error {
	r.mu.Lock()
	pending := containsLine(r.accumulated, line)
	r.mu.Unlock()
	if !pending {
		return ErrItemNotPending
	}
	r.removeLine(line)
	return nil
}

// Clear discards the whole proposal, e.g. when the user navigates
// away from the issue board.
func (r *IssueReconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accumulated = ""
}

// =============================================================================
// LINE EDITING
// =============================================================================

// removeLine deletes the first whole line exactly equal to line. A
// title that happens to be a prefix of another pending title is never
// confused with it, because matching is exact per line.
func (r *IssueReconciler) removeLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := strings.Split(r.accumulated, "\n")
	for i, l := range lines {
		if l == line {
			lines = append(lines[:i], lines[i+1:]...)
			r.accumulated = strings.Join(lines, "\n")
			return
		}
	}
}

// containsLine reports whether any whole line equals line.
func containsLine(text, line string) bool {
	for _, l := range strings.Split(text, "\n") {
		if l == line {
			return true
		}
	}
	return false
}
