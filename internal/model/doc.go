// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations,
// messages, tickets and projects.
//
// This package defines the core domain types used throughout the
// application. Conversation is a concurrency-safe transcript reducer:
// stream callbacks append text deltas from a session goroutine while
// the UI reads the transcript, so every mutation goes through a locked
// method.
//
// # Key Types
//
//   - Conversation: transcript for one planning subject, with atomic
//     exchange lifecycle (BeginExchange, AppendDelta, Finalize, Fail)
//   - Message: single message with sender, content and streaming state
//   - Ticket: work item; an empty IssueID means proposed, not persisted
//   - Project: top-level container, possibly imported from GitHub
//   - Kind: which planning artifact a conversation is about
//
// # Usage
//
// Run one exchange against a conversation:
//
//	conv := model.NewConversation("proj-1", model.KindPlan, "")
//	placeholder := conv.BeginExchange("Add PayPal support")
//	conv.AppendDelta(placeholder, "Sure,")
//	conv.AppendDelta(placeholder, " updating the plan...")
//	conv.Finalize(placeholder)
package model
