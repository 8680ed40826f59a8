// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates conversational planning exchanges.
//
// A chat.Client owns the moving parts of one project's planning
// session: per-subject transcripts, the stream session manager, the
// document and issue reconcilers, and optional local persistence. The
// terminal front end talks to this package only.
//
// # Key Types
//
//   - Client: one project's conversational surface
//   - Notification: progress callback payload for the UI
//
// # Usage
//
// Send a message and wait for the exchange to settle:
//
//	client := chat.New(apiClient, projectID).WithStore(store)
//	token, err := client.Send(ctx, model.KindPlan, "", "Add PayPal support")
//	<-token.Done()
//
// Review and accept the proposed document change:
//
//	if pending := client.PendingDocument(model.KindPlan, ""); pending != nil {
//	    err = client.AcceptDocument(ctx, model.KindPlan, "")
//	}
package chat
