// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/planweave/planweave/internal/model"
)

// fakeTickets records ticket operations and can be told to fail.
type fakeTickets struct {
	created []model.Ticket
	deleted []string
	failErr error
	nextID  int
}

func (f *fakeTickets) CreateTicket(ctx context.Context, ticket model.Ticket) (model.Ticket, error) {
	if f.failErr != nil {
		return model.Ticket{}, f.failErr
	}
	f.nextID++
	ticket.IssueID = fmt.Sprintf("%d", f.nextID)
	f.created = append(f.created, ticket)
	return ticket, nil
}

func (f *fakeTickets) DeleteTicket(ctx context.Context, projectID, issueID string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.deleted = append(f.deleted, issueID)
	return nil
}

func TestAdditionsAndRemovalsRescan(t *testing.T) {
	rec := NewIssueReconciler("proj-1")
	// Deltas split mid-line; the rescan sees whole lines only.
	rec.ApplyDelta("+Fix bu")
	rec.ApplyDelta("g A\n-12")
	rec.ApplyDelta("3\n+Fix bug B\n")

	adds := rec.Additions()
	if len(adds) != 2 || adds[0] != "Fix bug A" || adds[1] != "Fix bug B" {
		t.Errorf("additions: got %v", adds)
	}
	removals := rec.Removals()
	if len(removals) != 1 || removals[0] != "123" {
		t.Errorf("removals: got %v", removals)
	}
}

func TestAcceptAdditionRemovesOnlyThatLine(t *testing.T) {
	rec := NewIssueReconciler("proj-1")
	rec.ApplyDelta("+Fix bug A\n-123\n+Fix bug B\n")

	svc := &fakeTickets{}
	created, err := rec.AcceptAddition(context.Background(), svc, "Fix bug A")
	if err != nil {
		t.Fatalf("AcceptAddition failed: %v", err)
	}
	if created.Title != "Fix bug A" || !created.Persisted() {
		t.Errorf("created: got %+v", created)
	}
	if created.Status != model.StatusTodo {
		t.Errorf("status: got %s, want todo", created.Status)
	}

	// The other items are untouched.
	adds := rec.Additions()
	if len(adds) != 1 || adds[0] != "Fix bug B" {
		t.Errorf("remaining additions: got %v", adds)
	}
	removals := rec.Removals()
	if len(removals) != 1 || removals[0] != "123" {
		t.Errorf("remaining removals: got %v", removals)
	}
}

func TestAcceptRemovalDeletesTicket(t *testing.T) {
	rec := NewIssueReconciler("proj-1")
	rec.ApplyDelta("+Fix bug A\n-123\n+Fix bug B\n")

	svc := &fakeTickets{}
	if err := rec.AcceptRemoval(context.Background(), svc, "123"); err != nil {
		t.Fatalf("AcceptRemoval failed: %v", err)
	}
	if len(svc.deleted) != 1 || svc.deleted[0] != "123" {
		t.Errorf("deleted: got %v", svc.deleted)
	}
	if len(rec.Removals()) != 0 {
		t.Errorf("removal line not cleared: %v", rec.Removals())
	}
	if len(rec.Additions()) != 2 {
		t.Errorf("additions disturbed: %v", rec.Additions())
	}
}

func TestRejectIsSideEffectFree(t *testing.T) {
	rec := NewIssueReconciler("proj-1")
	rec.ApplyDelta("+Fix bug A\n-123\n")

	if err := rec.RejectAddition("Fix bug A"); err != nil {
		t.Fatalf("RejectAddition failed: %v", err)
	}
	if err := rec.RejectRemoval("123"); err != nil {
		t.Fatalf("RejectRemoval failed: %v", err)
	}
	if rec.HasPending() {
		t.Error("proposal not empty after rejecting everything")
	}
}

func TestFailedCreateKeepsItemPending(t *testing.T) {
	rec := NewIssueReconciler("proj-1")
	rec.ApplyDelta("+Fix bug A\n")

	svc := &fakeTickets{failErr: errors.New("backend down")}
	if _, err := rec.AcceptAddition(context.Background(), svc, "Fix bug A"); err == nil {
		t.Fatal("expected error")
	}
	if adds := rec.Additions(); len(adds) != 1 {
		t.Errorf("item lost after failed create: %v", adds)
	}

	// Retry succeeds and clears the line.
	svc.failErr = nil
	if _, err := rec.AcceptAddition(context.Background(), svc, "Fix bug A"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if rec.HasPending() {
		t.Error("item still pending after successful retry")
	}
}

func TestExactLineMatching(t *testing.T) {
	rec := NewIssueReconciler("proj-1")
	rec.ApplyDelta("+Fix bug\n+Fix bug A\n")

	if err := rec.RejectAddition("Fix bug"); err != nil {
		t.Fatalf("RejectAddition failed: %v", err)
	}
	// "Fix bug A" must survive; "Fix bug" is not a prefix match.
	adds := rec.Additions()
	if len(adds) != 1 || adds[0] != "Fix bug A" {
		t.Errorf("additions: got %v", adds)
	}
}

func TestAcceptUnknownItem(t *testing.T) {
	rec := NewIssueReconciler("proj-1")
	rec.ApplyDelta("+Fix bug A\n")

	if _, err := rec.AcceptAddition(context.Background(), &fakeTickets{}, "Nope"); !errors.Is(err, ErrItemNotPending) {
		t.Errorf("expected ErrItemNotPending, got %v", err)
	}
	if err := rec.AcceptRemoval(context.Background(), &fakeTickets{}, "999"); !errors.Is(err, ErrItemNotPending) {
		t.Errorf("expected ErrItemNotPending, got %v", err)
	}
}

func TestApplySnapshotAddsUnpersistedTickets(t *testing.T) {
	rec := NewIssueReconciler("proj-1")
	rec.ApplySnapshot([]model.Ticket{
		{ProjectID: "proj-1", IssueID: "42", Title: "Already exists"},
		{ProjectID: "proj-1", Title: "Proposed ticket"},
	})

	adds := rec.Additions()
	if len(adds) != 1 || adds[0] != "Proposed ticket" {
		t.Errorf("additions: got %v", adds)
	}

	// Re-applying the same snapshot must not duplicate the line.
	rec.ApplySnapshot([]model.Ticket{{ProjectID: "proj-1", Title: "Proposed ticket"}})
	if adds := rec.Additions(); len(adds) != 1 {
		t.Errorf("duplicate after re-apply: %v", adds)
	}
}

func TestClearDiscardsProposal(t *testing.T) {
	rec := NewIssueReconciler("proj-1")
	rec.ApplyDelta("+Fix bug A\n-123\n")
	rec.Clear()

	if rec.HasPending() {
		t.Error("proposal survived Clear")
	}
}

func TestUpdateStatusRollsBackOnFailure(t *testing.T) {
	updater := &failingUpdater{failErr: errors.New("backend down")}
	ticket := model.Ticket{ProjectID: "proj-1", IssueID: "42", Title: "t", Status: model.StatusTodo}

	if err := UpdateStatus(context.Background(), updater, &ticket, model.StatusInProgress); err == nil {
		t.Fatal("expected error")
	}
	if ticket.Status != model.StatusTodo {
		t.Errorf("status not rolled back: %s", ticket.Status)
	}

	updater.failErr = nil
	if err := UpdateStatus(context.Background(), updater, &ticket, model.StatusInProgress); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if ticket.Status != model.StatusInProgress {
		t.Errorf("status: got %s", ticket.Status)
	}
	if updater.last.Status != model.StatusInProgress {
		t.Errorf("persisted status: got %s", updater.last.Status)
	}
}

func TestUpdateStatusValidation(t *testing.T) {
	updater := &failingUpdater{}
	unpersisted := model.NewProposedTicket("proj-1", "t")
	if err := UpdateStatus(context.Background(), updater, &unpersisted, model.StatusDone); err == nil {
		t.Error("expected error for unpersisted ticket")
	}

	ticket := model.Ticket{ProjectID: "proj-1", IssueID: "42", Status: model.StatusTodo}
	if err := UpdateStatus(context.Background(), updater, &ticket, model.Status("bogus")); err == nil {
		t.Error("expected error for invalid status")
	}
}

type failingUpdater struct {
	failErr error
	last    model.Ticket
}

func (f *failingUpdater) UpdateTicket(ctx context.Context, ticket model.Ticket) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.last = ticket
	return nil
}
