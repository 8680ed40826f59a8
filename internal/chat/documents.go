// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	"github.com/planweave/planweave/internal/model"
	"github.com/planweave/planweave/internal/reconcile"
	"github.com/planweave/planweave/internal/storage"
)

// =============================================================================
// DOCUMENT ACCESS
// =============================================================================

// documentReconciler returns the reconciler for a document subject,
// creating it on first access. Issue content gets one reconciler per
// issue.
func (c *Client) documentReconciler(kind model.Kind, issueID string) *reconcile.DocumentReconciler {
	key := storage.SubjectKey(c.projectID, kind, issueID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.docs[key]; ok {
		return rec
	}
	rec := reconcile.NewDocumentReconciler(kind, c.projectID)
	c.docs[key] = rec
	return rec
}

// ensureBaseline makes sure a document reconciler holds the current
// persisted content before a stream can propose changes against it.
// Fetches happen once per subject per client.
func (c *Client) ensureBaseline(ctx context.Context, kind model.Kind, issueID string) error {
	if kind == model.KindIssue {
		return nil // the issue list reconciler needs no baseline
	}

	key := storage.SubjectKey(c.projectID, kind, issueID)
	c.mu.Lock()
	done := c.loaded[key]
	c.mu.Unlock()
	if done {
		return nil
	}

	rec := c.documentReconciler(kind, issueID)

	var content string
	var err error
	switch {
	// KindIssueContent is a document kind too, so it has to be matched
	// before the general document fetch.
	case kind == model.KindIssueContent:
		content, err = c.issueContent(ctx, issueID)
	case kind.IsDocument():
		content, err = c.api.Document(ctx, kind, c.projectID)
	}
	if err != nil {
		return err
	}

	rec.SetLive(content)

	c.mu.Lock()
	c.loaded[key] = true
	c.mu.Unlock()
	return nil
}

// issueContent resolves the current description of one issue, serving
// from the ticket cache when possible.
func (c *Client) issueContent(ctx context.Context, issueID string) (string, error) {
	if c.cache != nil {
		if ticket, err := c.cache.Get(ctx, c.projectID, issueID); err == nil {
			return ticket.Description, nil
		}
	}

	tickets, err := c.api.Issues(ctx, c.projectID, c.github)
	if err != nil {
		return "", err
	}
	for _, t := range tickets {
		if t.IssueID == issueID {
			return t.Description, nil
		}
	}
	return "", fmt.Errorf("issue %s not found in project %s", issueID, c.projectID)
}

// Document returns the accepted content of a subject's document,
// fetching the baseline first if needed.
func (c *Client) Document(ctx context.Context, kind model.Kind, issueID string) (string, error) {
	if err := c.ensureBaseline(ctx, kind, issueID); err != nil {
		return "", err
	}
	return c.documentReconciler(kind, issueID).Live(), nil
}

// PendingDocument returns the in-flight proposal for a subject, or nil.
func (c *Client) PendingDocument(kind model.Kind, issueID string) *reconcile.PendingChange {
	return c.documentReconciler(kind, issueID).Pending()
}

// =============================================================================
// ACCEPT / REJECT
// =============================================================================

// AcceptDocument persists the pending proposal for a subject. On
// success the proposal becomes the accepted content; on failure it
// stays pending so the user can retry.
func (c *Client) AcceptDocument(ctx context.Context, kind model.Kind, issueID string) error {
	rec := c.documentReconciler(kind, issueID)
	if kind == model.KindIssueContent {
		return rec.Accept(ctx, &issueContentSaver{client: c, issueID: issueID})
	}
	return rec.Accept(ctx, c.api)
}

// SaveDocument writes content straight to the backend as the accepted
// document, outside the proposal flow. Draft syncing uses this. A
// pending proposal keeps its frozen baseline.
func (c *Client) SaveDocument(ctx context.Context, kind model.Kind, issueID, content string) error {
	if !kind.IsDocument() {
		return fmt.Errorf("cannot save a %s subject as a document", kind)
	}
	if err := c.api.SaveDocument(ctx, kind, c.projectID, content); err != nil {
		return err
	}
	c.documentReconciler(kind, issueID).SetLive(content)
	c.mu.Lock()
	c.loaded[storage.SubjectKey(c.projectID, kind, issueID)] = true
	c.mu.Unlock()
	return nil
}

// RejectDocument discards the pending proposal for a subject. The
// backend is never contacted.
func (c *Client) RejectDocument(kind model.Kind, issueID string) {
	c.documentReconciler(kind, issueID).Reject()
}

// issueContentSaver persists accepted issue content by rewriting the
// ticket's description. It satisfies reconcile.DocumentSaver so issue
// content flows through the same accept path as plans and tech specs.
type issueContentSaver struct {
	client  *Client
	issueID string
}

func (s *issueContentSaver) SaveDocument(ctx context.Context, kind model.Kind, projectID, content string) error {
	c := s.client

	ticket, err := c.ticket(ctx, s.issueID)
	if err != nil {
		return err
	}

	ticket.Description = content
	if err := c.api.UpdateIssue(ctx, ticket, c.github); err != nil {
		return err
	}

	if c.cache != nil {
		_ = c.cache.Put(ctx, ticket)
	}
	return nil
}
