// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// STATUS AND PRIORITY TYPES
// =============================================================================

// Status is a ticket's position in the workflow.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// Statuses lists all statuses in workflow order.
func Statuses() []Status {
	return []Status{StatusTodo, StatusInProgress, StatusReview, StatusDone}
}

// Priority is a ticket's urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// =============================================================================
// TICKET TYPE
// =============================================================================

// Ticket is a work item tracked against a project.
//
// An empty IssueID marks a ticket proposed by the assistant that has
// not been persisted yet; the backend assigns the ID on creation.
type Ticket struct {
	ProjectID   string    `json:"project_id"`
	IssueID     string    `json:"issue_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Priority    Priority  `json:"priority,omitempty"`
	Assignee    string    `json:"assignee,omitempty"`
	Comments    []Comment `json:"comments,omitempty"`
}

// NewProposedTicket creates an unpersisted ticket from an assistant
// suggestion, with the defaults the backend expects for new work.
func NewProposedTicket(projectID, title string) Ticket {
	return Ticket{
		ProjectID: projectID,
		Title:     title,
		Status:    StatusTodo,
		Priority:  PriorityMedium,
	}
}

// Persisted reports whether the backend has assigned this ticket an ID.
func (t Ticket) Persisted() bool {
	return t.IssueID != ""
}

// Comment is a remark attached to a ticket.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// PROJECT TYPE
// =============================================================================

// Project is the top-level container for plans, specs and tickets.
// Projects imported from GitHub route their issue operations through
// the GitHub-backed endpoints instead of the native tracker.
type Project struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsFromGitHub bool   `json:"is_from_github,omitempty"`
	GitHubProjID string `json:"github_proj_id,omitempty"`
}
