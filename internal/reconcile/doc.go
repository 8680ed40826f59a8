// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile applies an assistant's streamed proposals to
// documents and the issue list under explicit user review.
//
// Nothing a stream proposes touches authoritative state on its own.
// Document deltas accumulate against a baseline frozen at the first
// delta; the user then accepts (persist, promote to live) or rejects
// (discard, baseline untouched). Issue-list proposals are tagged
// lines, "+Title" and "-issue_id", reviewed item by item.
//
// # Key Types
//
//   - DocumentReconciler: propose/accept/reject for one document
//   - PendingChange: frozen baseline plus accumulated proposal
//   - IssueReconciler: line-oriented issue-list proposals
//   - UpdateStatus: optimistic ticket status move with rollback
//
// # Usage
//
//	rec := reconcile.NewDocumentReconciler(model.KindPlan, projectID)
//	rec.SetLive(current)
//	rec.ApplyDelta("# Plan\n")
//	rec.ApplyDelta("+ PayPal support\n")
//	if err := rec.Accept(ctx, client); err != nil {
//		// pending change survives, user can retry
//	}
package reconcile
