// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for planweave.
//
// Three stores live here: a JSON transcript store for conversations, a
// SQLite cache for project tickets, and an fsnotify watcher for draft
// documents edited outside the tool.
//
// # Key Types
//
//   - ConversationStore: one JSON file per planning subject
//   - TicketCache: SQLite-backed ticket snapshot per project
//   - DraftWatcher: debounced change notifications for draft files
//
// # Usage
//
// Persist and restore a transcript:
//
//	store, err := storage.NewConversationStore()
//	err = store.Save(conv)
//	conv, err = store.Load(projectID, model.KindPlan, "")
//
// Cache tickets fetched from the backend:
//
//	cache, err := storage.OpenTicketCache(path)
//	err = cache.ReplaceProject(ctx, projectID, tickets)
//	tickets, err = cache.ListByProject(ctx, projectID)
//
// # Storage Location
//
// Everything lives under ~/.planweave/: conversations/ for transcripts
// and tickets.db for the ticket cache.
package storage
