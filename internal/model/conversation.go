// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxMessages is the maximum number of messages to keep in a
// conversation. When exceeded, old messages are pruned to prevent
// unbounded memory growth across a long planning session.
const MaxMessages = 1000

// =============================================================================
// KIND TYPE
// =============================================================================

// Kind identifies which planning artifact a conversation is about. It
// selects both the streaming endpoint and which reconciler consumes
// the stream's file deltas.
type Kind string

const (
	// KindPlan converses about the project plan document.
	KindPlan Kind = "plan"

	// KindTechSpec converses about the technical specification.
	KindTechSpec Kind = "tech-spec"

	// KindIssue converses about the issue list as a whole.
	KindIssue Kind = "issue"

	// KindIssueContent converses about one issue's description.
	KindIssueContent Kind = "issue-content"
)

// Valid reports whether the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindPlan, KindTechSpec, KindIssue, KindIssueContent:
		return true
	}
	return false
}

// IsDocument reports whether the kind's file deltas target a document
// rather than the issue list.
func (k Kind) IsDocument() bool {
	return k == KindPlan || k == KindTechSpec || k == KindIssueContent
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the chat transcript for one planning subject.
//
// All mutation goes through methods that take the lock: stream
// callbacks append deltas from a session goroutine while the REPL
// reads the transcript, so the zero-value embedded mutex is load
// bearing, not decoration.
type Conversation struct {
	mu sync.RWMutex

	// Identity
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Kind      Kind      `json:"kind"`
	IssueID   string    `json:"issue_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages, oldest first.
	Messages []*Message `json:"messages"`
}

// NewConversation creates an empty conversation for a planning subject.
// issueID is only meaningful for KindIssueContent.
func NewConversation(projectID string, kind Kind, issueID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        "conv_" + uuid.NewString(),
		ProjectID: projectID,
		Kind:      kind,
		IssueID:   issueID,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// EXCHANGE LIFECYCLE
// =============================================================================

// BeginExchange appends the user's message and an empty streaming
// placeholder in one step, so no observer ever sees the user message
// without its pending response. It returns the placeholder the stream
// callbacks will fill in.
func (c *Conversation) BeginExchange(content string) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	user := NewUserMessage(content)
	placeholder := NewStreamingPlaceholder()
	c.Messages = append(c.Messages, user, placeholder)
	c.UpdatedAt = time.Now()
	c.pruneLocked()
	return placeholder
}

// AppendDelta adds streamed text to the given placeholder. The target
// message is identified by pointer so a superseded session can never
// write into a newer exchange's placeholder.
func (c *Conversation) AppendDelta(msg *Message, delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.appendDelta(delta)
	c.UpdatedAt = time.Now()
}

// Finalize ends streaming on the given placeholder, freezing whatever
// content arrived. Safe to call on an already-final message.
func (c *Conversation) Finalize(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.finalize()
	c.UpdatedAt = time.Now()
}

// Fail ends streaming on the given placeholder and replaces its
// content with the error text.
func (c *Conversation) Fail(msg *Message, errText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg.fail(errText)
	c.UpdatedAt = time.Now()
}

// =============================================================================
// READ ACCESS
// =============================================================================

// HistoryPayload returns the completed transcript in the wire format
// the backend expects: one {sender: content} pair per message, oldest
// first. Streaming placeholders are excluded because their content is
// not yet part of the conversation.
func (c *Conversation) HistoryPayload() []map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := make([]map[string]string, 0, len(c.Messages))
	for _, msg := range c.Messages {
		if msg.Streaming {
			continue
		}
		history = append(history, map[string]string{string(msg.Sender): msg.Content})
	}
	return history
}

// Snapshot returns a deep copy of the messages for display or
// persistence. The copies do not alias streaming state.
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		out[i] = Message{
			ID:        msg.ID,
			Sender:    msg.Sender,
			Timestamp: msg.Timestamp,
			Content:   msg.Content,
			Streaming: msg.Streaming,
		}
	}
	return out
}

// LastMessage returns a copy of the most recent message, or nil.
func (c *Conversation) LastMessage() *Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.Messages) == 0 {
		return nil
	}
	last := c.Messages[len(c.Messages)-1]
	cp := Message{
		ID:        last.ID,
		Sender:    last.Sender,
		Timestamp: last.Timestamp,
		Content:   last.Content,
		Streaming: last.Streaming,
	}
	return &cp
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return c.MessageCount() == 0
}

// HasStreaming reports whether a placeholder is still being filled.
func (c *Conversation) HasStreaming() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Streaming {
			return true
		}
	}
	return false
}

// Title derives a display title from the first user message.
func (c *Conversation) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, msg := range c.Messages {
		if msg.Sender == SenderUser {
			return msg.Preview(50)
		}
	}
	return "New Conversation"
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// ClearHistory removes all messages from the conversation.
func (c *Conversation) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = make([]*Message, 0)
	c.UpdatedAt = time.Now()
}

// pruneLocked drops the oldest messages once the cap is exceeded.
// Caller holds the write lock.
func (c *Conversation) pruneLocked() {
	if len(c.Messages) <= MaxMessages {
		return
	}
	c.Messages = c.Messages[len(c.Messages)-MaxMessages:]
}
