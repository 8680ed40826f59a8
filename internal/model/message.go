// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAI:
		return "Assistant"
	default:
		return string(s)
	}
}

// Valid reports whether the sender is a known value.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// While Streaming is true the message is a placeholder being filled in
// by an active response stream. Streaming messages are excluded from
// the history payload sent to the backend.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`

	// Content is the message text. For a streaming message it is the
	// text accumulated so far.
	Content string `json:"content"`

	// Streaming marks a placeholder still being filled by a stream.
	Streaming bool `json:"streaming,omitempty"`

	// PERFORMANCE: strings.Builder avoids quadratic allocations while
	// deltas stream in. Content is refreshed on each append so readers
	// always see the accumulated text.
	streamContent strings.Builder
}

// NewUserMessage creates a completed message authored by the user.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        generateID(),
		Sender:    SenderUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewStreamingPlaceholder creates an empty assistant message that an
// active stream fills in.
func NewStreamingPlaceholder() *Message {
	return &Message{
		ID:        generateID(),
		Sender:    SenderAI,
		Timestamp: time.Now(),
		Streaming: true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// appendDelta adds streamed text to a streaming message. Deltas after
// finalization are dropped. Callers synchronize through Conversation.
func (m *Message) appendDelta(delta string) {
	if !m.Streaming {
		return
	}
	m.streamContent.WriteString(delta)
	m.Content = m.streamContent.String()
}

// finalize ends streaming, freezing the accumulated content.
func (m *Message) finalize() {
	if !m.Streaming {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.Streaming = false
}

// fail ends streaming and replaces the content with an error
// description so the failure is visible in the transcript.
func (m *Message) fail(errText string) {
	m.Content = errText
	m.streamContent.Reset()
	m.Streaming = false
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.streamContent.Len() == 0
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique message ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}
