// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for planweave.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/planweave/planweave/internal/model"
	"github.com/planweave/planweave/internal/util"
)

// =============================================================================
// STORED CONVERSATION TYPE
// =============================================================================

// StoredConversation is the on-disk form of a conversation. Streaming
// placeholders are never persisted; a transcript on disk contains only
// settled messages.
type StoredConversation struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Kind      model.Kind `json:"kind"`
	IssueID   string     `json:"issue_id,omitempty"`
	Summary   string     `json:"summary"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Messages []StoredMessage `json:"messages"`
}

// StoredMessage is the on-disk form of a message.
type StoredMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	Key          string     `json:"key"`
	ProjectID    string     `json:"project_id"`
	Kind         model.Kind `json:"kind"`
	Summary      string     `json:"summary"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MessageCount int        `json:"message_count"`
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore persists transcripts as one JSON file per planning
// subject, so reopening a project restores its chat history.
type ConversationStore struct {
	// BaseDir is the directory for storing conversations.
	// Default: ~/.planweave/conversations/
	BaseDir string
}

// NewConversationStore creates a store under the user's home directory.
func NewConversationStore() (*ConversationStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewConversationStoreWithDir(filepath.Join(homeDir, ".planweave", "conversations"))
}

// NewConversationStoreWithDir creates a store with a custom directory.
func NewConversationStoreWithDir(baseDir string) (*ConversationStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &ConversationStore{BaseDir: baseDir}, nil
}

// SubjectKey names the file for one planning subject.
func SubjectKey(projectID string, kind model.Kind, issueID string) string {
	key := sanitize(projectID) + "-" + sanitize(string(kind))
	if issueID != "" {
		key += "-" + sanitize(issueID)
	}
	return key
}

// sanitize keeps ids filesystem-safe.
func sanitize(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// =============================================================================
// SAVE AND LOAD
// =============================================================================

// Save persists a conversation snapshot under its subject key.
// Streaming placeholders are skipped.
func (s *ConversationStore) Save(conv *model.Conversation) error {
	stored := StoredConversation{
		ID:        conv.ID,
		ProjectID: conv.ProjectID,
		Kind:      conv.Kind,
		IssueID:   conv.IssueID,
		Summary:   conv.Title(),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: time.Now(),
	}
	for _, msg := range conv.Snapshot() {
		if msg.Streaming {
			continue
		}
		stored.Messages = append(stored.Messages, StoredMessage{
			ID:        msg.ID,
			Sender:    string(msg.Sender),
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash.
	key := SubjectKey(conv.ProjectID, conv.Kind, conv.IssueID)
	return util.AtomicWriteFile(s.filePath(key), data, 0644)
}

// Load retrieves a conversation by subject, rebuilding a live
// transcript from the stored messages.
func (s *ConversationStore) Load(projectID string, kind model.Kind, issueID string) (*model.Conversation, error) {
	key := SubjectKey(projectID, kind, issueID)
	data, err := os.ReadFile(s.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var stored StoredConversation
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("corrupt conversation file %s: %w", key, err)
	}

	conv := model.NewConversation(projectID, kind, issueID)
	if stored.ID != "" {
		conv.ID = stored.ID
	}
	conv.CreatedAt = stored.CreatedAt
	conv.UpdatedAt = stored.UpdatedAt
	for _, msg := range stored.Messages {
		restored := &model.Message{
			ID:        msg.ID,
			Sender:    model.Sender(msg.Sender),
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}
		conv.Messages = append(conv.Messages, restored)
	}
	return conv, nil
}

// List returns metadata for every stored conversation, newest first.
func (s *ConversationStore) List() ([]ConversationMeta, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return nil, err
	}

	var metas []ConversationMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.BaseDir, entry.Name()))
		if err != nil {
			continue
		}
		var stored StoredConversation
		if err := json.Unmarshal(data, &stored); err != nil {
			continue // skip corrupt files, keep listing
		}
		metas = append(metas, ConversationMeta{
			Key:          strings.TrimSuffix(entry.Name(), ".json"),
			ProjectID:    stored.ProjectID,
			Kind:         stored.Kind,
			Summary:      stored.Summary,
			UpdatedAt:    stored.UpdatedAt,
			MessageCount: len(stored.Messages),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
	return metas, nil
}

// Delete removes a stored conversation.
func (s *ConversationStore) Delete(projectID string, kind model.Kind, issueID string) error {
	key := SubjectKey(projectID, kind, issueID)
	err := os.Remove(s.filePath(key))
	if os.IsNotExist(err) {
		return ErrConversationNotFound
	}
	return err
}

// Clear removes every stored conversation.
func (s *ConversationStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			if err := os.Remove(filepath.Join(s.BaseDir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ConversationStore) filePath(key string) string {
	return filepath.Join(s.BaseDir, key+".json")
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders a stored conversation as a markdown
// transcript for sharing outside the tool.
func (c *StoredConversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n\n", c.Summary))
	sb.WriteString(fmt.Sprintf("Project: %s | Subject: %s | Updated: %s\n\n",
		c.ProjectID, c.Kind, c.UpdatedAt.Format("2006-01-02 15:04")))
	for _, msg := range c.Messages {
		switch model.Sender(msg.Sender) {
		case model.SenderUser:
			sb.WriteString("## You\n\n")
		default:
			sb.WriteString("## Assistant\n\n")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}
