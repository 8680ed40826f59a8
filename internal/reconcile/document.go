// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"strings"
	"sync"

	"github.com/planweave/planweave/internal/diff"
	"github.com/planweave/planweave/internal/model"
)

// DocumentSaver persists accepted document content. *api.Client
// satisfies it.
type DocumentSaver interface {
	SaveDocument(ctx context.Context, kind model.Kind, projectID, content string) error
}

// PendingChange is an immutable snapshot of an in-flight document
// proposal.
type PendingChange struct {
	// Baseline is the document content captured when the first delta
	// of this proposal arrived. It never changes for the lifetime of
	// the proposal, even if more deltas stream in.
	Baseline string

	// Proposed is the accumulated replacement content.
	Proposed string
}

// Diff renders the proposal as word-level spans for inline display.
func (p PendingChange) Diff() []diff.Span {
	return diff.Words(p.Baseline, p.Proposed)
}

// LineDiff renders the proposal as a line-level diff.
func (p PendingChange) LineDiff() *diff.Diff {
	return diff.Compute(p.Baseline, p.Proposed)
}

// =============================================================================
// DOCUMENT RECONCILER
// =============================================================================

// DocumentReconciler tracks one document (plan, tech spec or issue
// description) through propose/accept/reject cycles.
//
// The presence of a pending change is the state: the first file delta
// after a quiet period freezes the current content as the baseline and
// starts accumulating the proposal. There is no first-chunk flag to
// reset or forget.
type DocumentReconciler struct {
	mu        sync.Mutex
	kind      model.Kind
	projectID string
	live      string
	pending   *pendingState
}

type pendingState struct {
	baseline string
	proposed strings.Builder
}

// NewDocumentReconciler creates a reconciler for one document.
func NewDocumentReconciler(kind model.Kind, projectID string) *DocumentReconciler {
	return &DocumentReconciler{
		kind:      kind,
		projectID: projectID,
	}
}

// Kind returns the document kind this reconciler tracks.
func (r *DocumentReconciler) Kind() model.Kind {
	return r.kind
}

// SetLive replaces the authoritative document content, e.g. after the
// initial fetch. Ignored while a proposal is pending so a late fetch
// cannot corrupt a frozen baseline.
func (r *DocumentReconciler) SetLive(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		r.live = content
	}
}

// Live returns the current authoritative content.
func (r *DocumentReconciler) Live() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// ApplyDelta feeds one streamed file delta into the proposal. The
// first delta of a proposal captures the baseline; subsequent deltas
// append in arrival order.
func (r *DocumentReconciler) ApplyDelta(delta string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		r.pending = &pendingState{baseline: r.live}
	}
	r.pending.proposed.WriteString(delta)
}

// Pending returns a snapshot of the in-flight proposal, or nil when
// nothing is pending.
func (r *DocumentReconciler) Pending() *PendingChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return nil
	}
	return &PendingChange{
		Baseline: r.pending.baseline,
		Proposed: r.pending.proposed.String(),
	}
}

// HasPending reports whether a proposal is awaiting review.
func (r *DocumentReconciler) HasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

// Accept persists the proposed content. On success the proposal
// becomes the live content and the pending change is cleared. On
// failure the pending change is kept untouched so the user can retry;
// the error is the saver's PersistenceError.
func (r *DocumentReconciler) Accept(ctx context.Context, saver DocumentSaver) error {
	r.mu.Lock()
	if r.pending == nil {
		r.mu.Unlock()
		return ErrNoPendingChange
	}
	proposed := r.pending.proposed.String()
	r.mu.Unlock()

	// The save runs outside the lock so a slow backend cannot stall
	// stream dispatch.
	if err := saver.SaveDocument(ctx, r.kind, r.projectID, proposed); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = proposed
	r.pending = nil
	return nil
}

// Reject discards the proposal. The live content is untouched: it is
// still the frozen baseline the proposal was computed against.
func (r *DocumentReconciler) Reject() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
}
