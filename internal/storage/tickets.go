// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/planweave/planweave/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTicketNotFound indicates the cache has no row for the ticket.
	ErrTicketNotFound = errors.New("ticket not found in cache")
)

// =============================================================================
// SCHEMA
// =============================================================================

// ticketSchema holds one row per cached ticket. Comments are stored as
// a JSON blob; the board never queries into them.
const ticketSchema = `
CREATE TABLE IF NOT EXISTS tickets (
    project_id  TEXT NOT NULL,
    issue_id    TEXT NOT NULL,
    title       TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'todo',
    priority    TEXT NOT NULL DEFAULT 'medium',
    assignee    TEXT NOT NULL DEFAULT '',
    comments    TEXT NOT NULL DEFAULT '[]',
    fetched_at  INTEGER NOT NULL,
    PRIMARY KEY (project_id, issue_id)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(project_id, status);
`

// =============================================================================
// TICKET CACHE
// =============================================================================

// TicketCache is a local SQLite mirror of the backend's issue list,
// so the board renders instantly and survives offline gaps. The
// backend stays authoritative; ReplaceProject refreshes a project's
// rows wholesale after each fetch.
type TicketCache struct {
	db *sql.DB
}

// OpenTicketCache opens (and if needed creates) the cache database.
func OpenTicketCache(path string) (*TicketCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ticket cache: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(ticketSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ticket schema: %w", err)
	}
	return &TicketCache{db: db}, nil
}

// DefaultTicketCachePath is the cache location under the user's home.
func DefaultTicketCachePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".planweave", "tickets.db"), nil
}

// Close releases the database handle.
func (c *TicketCache) Close() error {
	return c.db.Close()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Put upserts one ticket.
func (c *TicketCache) Put(ctx context.Context, ticket model.Ticket) error {
	comments, err := json.Marshal(ticket.Comments)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO tickets (project_id, issue_id, title, description, status, priority, assignee, comments, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, issue_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			assignee = excluded.assignee,
			comments = excluded.comments,
			fetched_at = excluded.fetched_at`,
		ticket.ProjectID, ticket.IssueID, ticket.Title, ticket.Description,
		string(ticket.Status), string(ticket.Priority), ticket.Assignee,
		string(comments), time.Now().Unix())
	return err
}

// ReplaceProject atomically replaces a project's cached tickets with a
// fresh backend snapshot.
func (c *TicketCache) ReplaceProject(ctx context.Context, projectID string, tickets []model.Ticket) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, ticket := range tickets {
		comments, err := json.Marshal(ticket.Comments)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tickets (project_id, issue_id, title, description, status, priority, assignee, comments, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ticket.ProjectID, ticket.IssueID, ticket.Title, ticket.Description,
			string(ticket.Status), string(ticket.Priority), ticket.Assignee,
			string(comments), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes one cached ticket.
func (c *TicketCache) Delete(ctx context.Context, projectID, issueID string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM tickets WHERE project_id = ? AND issue_id = ?`, projectID, issueID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// UpdateStatus changes one cached ticket's status column.
func (c *TicketCache) UpdateStatus(ctx context.Context, projectID, issueID string, status model.Status) error {
	res, err := c.db.ExecContext(ctx, `UPDATE tickets SET status = ? WHERE project_id = ? AND issue_id = ?`,
		string(status), projectID, issueID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Get fetches one cached ticket.
func (c *TicketCache) Get(ctx context.Context, projectID, issueID string) (model.Ticket, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT project_id, issue_id, title, description, status, priority, assignee, comments
		FROM tickets WHERE project_id = ? AND issue_id = ?`, projectID, issueID)
	ticket, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, ErrTicketNotFound
	}
	return ticket, err
}

// ListByProject returns a project's cached tickets, stable order.
func (c *TicketCache) ListByProject(ctx context.Context, projectID string) ([]model.Ticket, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT project_id, issue_id, title, description, status, priority, assignee, comments
		FROM tickets WHERE project_id = ? ORDER BY issue_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(s scanner) (model.Ticket, error) {
	var ticket model.Ticket
	var status, priority, comments string
	err := s.Scan(&ticket.ProjectID, &ticket.IssueID, &ticket.Title, &ticket.Description,
		&status, &priority, &ticket.Assignee, &comments)
	if err != nil {
		return model.Ticket{}, err
	}
	ticket.Status = model.Status(status)
	ticket.Priority = model.Priority(priority)
	if err := json.Unmarshal([]byte(comments), &ticket.Comments); err != nil {
		return model.Ticket{}, fmt.Errorf("corrupt comments blob: %w", err)
	}
	return ticket, nil
}
