// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	"github.com/planweave/planweave/internal/model"
	"github.com/planweave/planweave/internal/reconcile"
)

// =============================================================================
// TICKET ACCESS
// =============================================================================

// Tickets returns the project's tickets. With refresh set the backend
// is consulted and the local cache rewritten; otherwise the cache is
// served when available, falling back to the backend on a miss.
func (c *Client) Tickets(ctx context.Context, refresh bool) ([]model.Ticket, error) {
	if !refresh && c.cache != nil {
		if tickets, err := c.cache.ListByProject(ctx, c.projectID); err == nil && len(tickets) > 0 {
			return tickets, nil
		}
	}

	tickets, err := c.api.Issues(ctx, c.projectID, c.github)
	if err != nil {
		// A stale list beats no list when the backend is unreachable.
		if c.cache != nil {
			if cached, cacheErr := c.cache.ListByProject(ctx, c.projectID); cacheErr == nil && len(cached) > 0 {
				return cached, nil
			}
		}
		return nil, err
	}

	if c.cache != nil {
		_ = c.cache.ReplaceProject(ctx, c.projectID, tickets)
	}
	return tickets, nil
}

// ticket resolves one ticket by id, preferring the cache.
func (c *Client) ticket(ctx context.Context, issueID string) (model.Ticket, error) {
	if c.cache != nil {
		if ticket, err := c.cache.Get(ctx, c.projectID, issueID); err == nil {
			return ticket, nil
		}
	}

	tickets, err := c.api.Issues(ctx, c.projectID, c.github)
	if err != nil {
		return model.Ticket{}, err
	}
	for _, t := range tickets {
		if t.IssueID == issueID {
			return t, nil
		}
	}
	return model.Ticket{}, fmt.Errorf("issue %s not found in project %s", issueID, c.projectID)
}

// UpdateTicketStatus moves a ticket to a new status, rolling back the
// in-memory ticket if the backend rejects the change.
func (c *Client) UpdateTicketStatus(ctx context.Context, ticket *model.Ticket, status model.Status) error {
	if err := reconcile.UpdateStatus(ctx, ticketUpdater{c}, ticket, status); err != nil {
		return err
	}
	if c.cache != nil {
		_ = c.cache.UpdateStatus(ctx, ticket.ProjectID, ticket.IssueID, status)
	}
	return nil
}

// =============================================================================
// PROPOSED ISSUE CHANGES
// =============================================================================

// ProposedAdditions lists pending "+Title" items from the live or last
// issue stream.
func (c *Client) ProposedAdditions() []string {
	return c.issues.Additions()
}

// ProposedRemovals lists pending "-issue_id" items.
func (c *Client) ProposedRemovals() []string {
	return c.issues.Removals()
}

// HasProposedIssueChanges reports whether any issue items are pending.
func (c *Client) HasProposedIssueChanges() bool {
	return c.issues.HasPending()
}

// AcceptIssueAddition creates the proposed ticket and clears it from
// the pending list. Other pending items are untouched, and a failed
// create leaves the item pending for retry.
func (c *Client) AcceptIssueAddition(ctx context.Context, title string) (model.Ticket, error) {
	ticket, err := c.issues.AcceptAddition(ctx, ticketService{c}, title)
	if err != nil {
		return model.Ticket{}, err
	}
	if c.cache != nil {
		_ = c.cache.Put(ctx, ticket)
	}
	return ticket, nil
}

// AcceptIssueRemoval deletes the referenced ticket and clears it from
// the pending list.
func (c *Client) AcceptIssueRemoval(ctx context.Context, issueID string) error {
	if err := c.issues.AcceptRemoval(ctx, ticketService{c}, issueID); err != nil {
		return err
	}
	if c.cache != nil {
		_ = c.cache.Delete(ctx, c.projectID, issueID)
	}
	return nil
}

// RejectIssueAddition discards one pending addition without contacting
// the backend.
func (c *Client) RejectIssueAddition(title string) error {
	return c.issues.RejectAddition(title)
}

// RejectIssueRemoval discards one pending removal.
func (c *Client) RejectIssueRemoval(issueID string) error {
	return c.issues.RejectRemoval(issueID)
}

// ClearProposedIssueChanges drops every pending issue item, for
// example when navigating away from the issues view.
func (c *Client) ClearProposedIssueChanges() {
	c.issues.Clear()
}

// =============================================================================
// BACKEND ADAPTERS
// =============================================================================

// ticketService adapts the REST client to reconcile.TicketService,
// carrying the client's GitHub routing flag.
type ticketService struct{ c *Client }

func (s ticketService) CreateTicket(ctx context.Context, ticket model.Ticket) (model.Ticket, error) {
	return s.c.api.CreateIssue(ctx, ticket, s.c.github)
}

func (s ticketService) DeleteTicket(ctx context.Context, projectID, issueID string) error {
	return s.c.api.DeleteIssue(ctx, projectID, issueID, s.c.github)
}

// ticketUpdater adapts the REST client to reconcile.TicketUpdater.
type ticketUpdater struct{ c *Client }

func (u ticketUpdater) UpdateTicket(ctx context.Context, ticket model.Ticket) error {
	return u.c.api.UpdateIssue(ctx, ticket, u.c.github)
}
