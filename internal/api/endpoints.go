// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/planweave/planweave/internal/model"
	"github.com/planweave/planweave/internal/stream"
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatRequest is the body of every streaming chat POST.
type ChatRequest struct {
	Message   string              `json:"message"`
	History   []map[string]string `json:"history"`
	ProjectID string              `json:"project_id"`
}

// documentPayload is the wire format for document GET and POST bodies.
type documentPayload struct {
	ProjectID string `json:"project_id"`
	Content   string `json:"content"`
}

// =============================================================================
// ENDPOINT SELECTION
// =============================================================================

// documentSlug maps a conversation kind to its path segment.
func documentSlug(kind model.Kind) (string, error) {
	switch kind {
	case model.KindPlan:
		return "plan", nil
	case model.KindTechSpec:
		return "tech-spec", nil
	default:
		return "", fmt.Errorf("kind %q has no backing document endpoint", kind)
	}
}

// StreamPath returns the chat streaming endpoint for a subject. The
// endpoint is data, not a class hierarchy: one function keyed on kind
// replaces per-subject chatbot types.
func StreamPath(kind model.Kind, issueID string, github bool) (string, error) {
	switch kind {
	case model.KindPlan:
		return "/chat/plan/stream", nil
	case model.KindTechSpec:
		return "/chat/tech-spec/stream", nil
	case model.KindIssue:
		return "/chat/issue/stream", nil
	case model.KindIssueContent:
		if issueID == "" {
			return "", fmt.Errorf("issue-content chat requires an issue id")
		}
		if github {
			return "/chat/issue-content/github/" + url.PathEscape(issueID) + "/stream", nil
		}
		return "/chat/issue-content/" + url.PathEscape(issueID) + "/stream", nil
	default:
		return "", fmt.Errorf("unknown chat kind %q", kind)
	}
}

// issuesPrefix returns the issue collection path, honoring the GitHub
// routing for imported projects.
func issuesPrefix(github bool) string {
	if github {
		return "/issues/github"
	}
	return "/issues"
}

// =============================================================================
// STREAMING
// =============================================================================

// OpenStream starts a chat stream for the given subject via the shared
// session manager, which cancels any live stream under the same key
// first. The token is returned before any network activity completes.
func (c *Client) OpenStream(ctx context.Context, mgr *stream.Manager, key string, kind model.Kind, issueID string, github bool, req ChatRequest, cb stream.Callbacks) (*stream.CancelToken, error) {
	path, err := StreamPath(kind, issueID, github)
	if err != nil {
		return nil, err
	}
	cfg := stream.Config{
		Client:      c.streamClient,
		IdleTimeout: c.idleTimeout,
	}
	return mgr.Open(ctx, cfg, key, c.baseURL+path, req, cb)
}

// =============================================================================
// DOCUMENT OPERATIONS
// =============================================================================

// Document fetches the current content of a plan or tech spec. A
// project with no document yet yields empty content, not an error.
func (c *Client) Document(ctx context.Context, kind model.Kind, projectID string) (string, error) {
	slug, err := documentSlug(kind)
	if err != nil {
		return "", err
	}
	var payload documentPayload
	op := "get " + slug + " document"
	err = c.doJSON(ctx, op, http.MethodGet, "/documents/"+slug+"/"+url.PathEscape(projectID), nil, &payload)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return payload.Content, nil
}

// SaveDocument persists new document content. Failures come back as
// PersistenceError so callers keep the pending change for retry.
func (c *Client) SaveDocument(ctx context.Context, kind model.Kind, projectID, content string) error {
	slug, err := documentSlug(kind)
	if err != nil {
		return err
	}
	op := "save " + slug + " document"
	body := documentPayload{ProjectID: projectID, Content: content}
	if err := c.doJSON(ctx, op, http.MethodPost, "/documents/"+slug+"/"+url.PathEscape(projectID), body, nil); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	return nil
}

// =============================================================================
// ISSUE OPERATIONS
// =============================================================================

// Issues lists a project's tickets.
func (c *Client) Issues(ctx context.Context, projectID string, github bool) ([]model.Ticket, error) {
	var tickets []model.Ticket
	path := issuesPrefix(github) + "/" + url.PathEscape(projectID)
	if err := c.doJSON(ctx, "list issues", http.MethodGet, path, nil, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// CreateIssue persists a proposed ticket and returns it with the
// backend-assigned issue id.
func (c *Client) CreateIssue(ctx context.Context, ticket model.Ticket, github bool) (model.Ticket, error) {
	var created model.Ticket
	if err := c.doJSON(ctx, "create ticket", http.MethodPost, issuesPrefix(github)+"/", ticket, &created); err != nil {
		return model.Ticket{}, &PersistenceError{Op: "create ticket", Err: err}
	}
	return created, nil
}

// UpdateIssue persists changes to an existing ticket.
func (c *Client) UpdateIssue(ctx context.Context, ticket model.Ticket, github bool) error {
	if !ticket.Persisted() {
		return fmt.Errorf("cannot update a ticket without an issue id")
	}
	path := issuesPrefix(github) + "/" + url.PathEscape(ticket.ProjectID) + "/" + url.PathEscape(ticket.IssueID)
	if err := c.doJSON(ctx, "update ticket", http.MethodPut, path, ticket, nil); err != nil {
		return &PersistenceError{Op: "update ticket", Err: err}
	}
	return nil
}

// DeleteIssue removes a ticket.
func (c *Client) DeleteIssue(ctx context.Context, projectID, issueID string, github bool) error {
	path := issuesPrefix(github) + "/" + url.PathEscape(projectID) + "/" + url.PathEscape(issueID)
	if err := c.doJSON(ctx, "delete ticket", http.MethodDelete, path, nil, nil); err != nil {
		return &PersistenceError{Op: "delete ticket", Err: err}
	}
	return nil
}

// =============================================================================
// PROJECT OPERATIONS
// =============================================================================

// Project fetches project metadata, including GitHub linkage.
func (c *Client) Project(ctx context.Context, projectID string) (model.Project, error) {
	var project model.Project
	if err := c.doJSON(ctx, "get project", http.MethodGet, "/projects/"+url.PathEscape(projectID), nil, &project); err != nil {
		return model.Project{}, err
	}
	return project, nil
}
