// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/planweave/planweave/internal/model"
)

// =============================================================================
// CONVERSATION STORE TESTS
// =============================================================================

func TestNewConversationStoreWithDir(t *testing.T) {
	tempDir := t.TempDir()

	store, err := NewConversationStoreWithDir(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if store.BaseDir != tempDir {
		t.Errorf("BaseDir = %q, want %q", store.BaseDir, tempDir)
	}
}

func TestSubjectKey(t *testing.T) {
	tests := []struct {
		name      string
		projectID string
		kind      model.Kind
		issueID   string
		want      string
	}{
		{"plan", "proj-1", model.KindPlan, "", "proj-1-plan"},
		{"tech spec", "proj-1", model.KindTechSpec, "", "proj-1-tech-spec"},
		{"issue content", "proj-1", model.KindIssueContent, "42", "proj-1-issue-content-42"},
		{"unsafe chars", "a/b c", model.KindPlan, "", "a_b_c-plan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubjectKey(tt.projectID, tt.kind, tt.issueID)
			if got != tt.want {
				t.Errorf("SubjectKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConversationStore_SaveAndLoad(t *testing.T) {
	store, err := NewConversationStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	conv := model.NewConversation("proj-1", model.KindPlan, "")
	placeholder := conv.BeginExchange("Add user auth")
	conv.AppendDelta(placeholder, "Sure,")
	conv.AppendDelta(placeholder, " done.")
	conv.Finalize(placeholder)

	if err := store.Save(conv); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load("proj-1", model.KindPlan, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.ID != conv.ID {
		t.Errorf("ID = %q, want %q", loaded.ID, conv.ID)
	}
	msgs := loaded.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("Message count = %d, want 2", len(msgs))
	}
	if msgs[0].Sender != model.SenderUser || msgs[0].Content != "Add user auth" {
		t.Errorf("First message = %v %q", msgs[0].Sender, msgs[0].Content)
	}
	if msgs[1].Sender != model.SenderAI || msgs[1].Content != "Sure, done." {
		t.Errorf("Second message = %v %q", msgs[1].Sender, msgs[1].Content)
	}
}

func TestConversationStore_SaveSkipsStreaming(t *testing.T) {
	store, err := NewConversationStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	conv := model.NewConversation("proj-1", model.KindTechSpec, "")
	placeholder := conv.BeginExchange("Draft the spec")
	conv.AppendDelta(placeholder, "Working on it")
	// Placeholder never finalized; it must not reach disk.

	if err := store.Save(conv); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load("proj-1", model.KindTechSpec, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	msgs := loaded.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("Message count = %d, want 1 (streaming skipped)", len(msgs))
	}
	if msgs[0].Sender != model.SenderUser {
		t.Errorf("Surviving message sender = %v, want user", msgs[0].Sender)
	}
}

func TestConversationStore_LoadNotFound(t *testing.T) {
	store, err := NewConversationStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	_, err = store.Load("missing", model.KindPlan, "")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Load error = %v, want ErrConversationNotFound", err)
	}
}

func TestConversationStore_List(t *testing.T) {
	store, err := NewConversationStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	for _, kind := range []model.Kind{model.KindPlan, model.KindTechSpec} {
		conv := model.NewConversation("proj-1", kind, "")
		msg := conv.BeginExchange("hello " + string(kind))
		conv.Finalize(msg)
		if err := store.Save(conv); err != nil {
			t.Fatalf("Save(%s) failed: %v", kind, err)
		}
		time.Sleep(10 * time.Millisecond) // distinct UpdatedAt for ordering
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(metas))
	}
	// Newest first.
	if metas[0].Kind != model.KindTechSpec {
		t.Errorf("First entry kind = %q, want tech-spec", metas[0].Kind)
	}
	if metas[0].MessageCount == 0 {
		t.Error("MessageCount should be non-zero")
	}
}

func TestConversationStore_ListSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConversationStoreWithDir(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	conv := model.NewConversation("proj-1", model.KindPlan, "")
	msg := conv.BeginExchange("hi")
	conv.Finalize(msg)
	if err := store.Save(conv); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(metas) != 1 {
		t.Errorf("List returned %d entries, want 1 (corrupt skipped)", len(metas))
	}
}

func TestConversationStore_DeleteAndClear(t *testing.T) {
	store, err := NewConversationStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	conv := model.NewConversation("proj-1", model.KindPlan, "")
	msg := conv.BeginExchange("hi")
	conv.Finalize(msg)
	if err := store.Save(conv); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete("proj-1", model.KindPlan, ""); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("proj-1", model.KindPlan, ""); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("Second delete error = %v, want ErrConversationNotFound", err)
	}

	if err := store.Save(conv); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	metas, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("List after Clear returned %d entries, want 0", len(metas))
	}
}

// =============================================================================
// MARKDOWN EXPORT TESTS
// =============================================================================

func TestStoredConversation_ExportMarkdown(t *testing.T) {
	stored := StoredConversation{
		Summary:   "Add user auth",
		ProjectID: "proj-1",
		Kind:      model.KindPlan,
		Messages: []StoredMessage{
			{Sender: "user", Content: "Add user auth", Timestamp: time.Now()},
			{Sender: "ai", Content: "Updated the plan.", Timestamp: time.Now()},
		},
	}

	md := stored.ExportMarkdown()
	for _, want := range []string{"# Add user auth", "## You", "## Assistant", "Updated the plan."} {
		if !strings.Contains(md, want) {
			t.Errorf("ExportMarkdown missing %q:\n%s", want, md)
		}
	}
}
