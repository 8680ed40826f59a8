// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/planweave/planweave/internal/api"
	"github.com/planweave/planweave/internal/model"
	"github.com/planweave/planweave/internal/storage"
)

// =============================================================================
// TEST BACKEND
// =============================================================================

// planBackend fakes the planning server: one plan document, one issue
// collection, and scripted chat streams.
type planBackend struct {
	mu           sync.Mutex
	planContent  string
	savedPlans   []string
	chatBodies   []api.ChatRequest
	streamChunks []string
	nextIssueID  string
	created      []model.Ticket
	updated      []model.Ticket
	deleted      []string
	failSave     bool
}

func (b *planBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/documents/plan/proj-1", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]string{
				"project_id": "proj-1",
				"content":    b.planContent,
			})
		case http.MethodPost:
			if b.failSave {
				http.Error(w, "db unavailable", http.StatusInternalServerError)
				return
			}
			var payload struct {
				ProjectID string `json:"project_id"`
				Content   string `json:"content"`
			}
			json.NewDecoder(r.Body).Decode(&payload)
			b.planContent = payload.Content
			b.savedPlans = append(b.savedPlans, payload.Content)
			w.WriteHeader(http.StatusOK)
		}
	})

	stream := func(w http.ResponseWriter, r *http.Request) {
		var req api.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.chatBodies = append(b.chatBodies, req)
		chunks := b.streamChunks
		b.mu.Unlock()

		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, chunk := range chunks {
			w.Write([]byte(chunk))
			flusher.Flush()
		}
	}
	mux.HandleFunc("/chat/plan/stream", stream)
	mux.HandleFunc("/chat/issue/stream", stream)
	mux.HandleFunc("/chat/issue-content/", stream)

	mux.HandleFunc("/issues/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		switch {
		case r.Method == http.MethodPost:
			var ticket model.Ticket
			json.NewDecoder(r.Body).Decode(&ticket)
			ticket.IssueID = b.nextIssueID
			b.created = append(b.created, ticket)
			json.NewEncoder(w).Encode(ticket)
		case r.Method == http.MethodPut:
			var ticket model.Ticket
			json.NewDecoder(r.Body).Decode(&ticket)
			b.updated = append(b.updated, ticket)
			json.NewEncoder(w).Encode(ticket)
		case r.Method == http.MethodDelete:
			b.deleted = append(b.deleted, r.URL.Path)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(b.created)
		}
	})

	return mux
}

func newTestClient(t *testing.T, b *planBackend) *Client {
	t.Helper()
	server := httptest.NewServer(b.handler())
	t.Cleanup(server.Close)

	apiClient := api.NewClient(server.URL).WithMaxRetries(0)
	return New(apiClient, "proj-1")
}

func waitDone(t *testing.T, token interface{ Done() <-chan struct{} }) {
	t.Helper()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Stream did not settle in time")
	}
}

// =============================================================================
// EXCHANGE TESTS
// =============================================================================

func TestClient_PlanExchange(t *testing.T) {
	backend := &planBackend{
		planContent: "# Plan\n\n- Stripe checkout\n",
		streamChunks: []string{
			`{"message":"Sure,"}` + "\n",
			`{"message":" updating the plan."}` + "\n",
			`{"file":"# Plan\n\n- Stripe checkout\n"}` + "\n",
			`{"file":"- PayPal checkout\n"}` + "\n",
			`{}` + "\n",
		},
	}
	client := newTestClient(t, backend)

	token, err := client.Send(context.Background(), model.KindPlan, "", "Add PayPal support")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitDone(t, token)

	// Transcript: user message plus the settled assistant reply.
	conv := client.Conversation(model.KindPlan, "")
	msgs := conv.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("Message count = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "Add PayPal support" {
		t.Errorf("User message = %q", msgs[0].Content)
	}
	if msgs[1].Content != "Sure, updating the plan." {
		t.Errorf("Assistant message = %q", msgs[1].Content)
	}
	if msgs[1].Streaming {
		t.Error("Assistant message still marked streaming after completion")
	}

	// The proposal froze the baseline fetched before the stream.
	pending := client.PendingDocument(model.KindPlan, "")
	if pending == nil {
		t.Fatal("No pending document change")
	}
	if pending.Baseline != "# Plan\n\n- Stripe checkout\n" {
		t.Errorf("Baseline = %q", pending.Baseline)
	}
	want := "# Plan\n\n- Stripe checkout\n- PayPal checkout\n"
	if pending.Proposed != want {
		t.Errorf("Proposed = %q, want %q", pending.Proposed, want)
	}

	// Accepting persists exactly the proposed content.
	if err := client.AcceptDocument(context.Background(), model.KindPlan, ""); err != nil {
		t.Fatalf("AcceptDocument failed: %v", err)
	}
	if len(backend.savedPlans) != 1 || backend.savedPlans[0] != want {
		t.Errorf("Saved plans = %q", backend.savedPlans)
	}
	if client.PendingDocument(model.KindPlan, "") != nil {
		t.Error("Pending change should clear after accept")
	}

	live, err := client.Document(context.Background(), model.KindPlan, "")
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if live != want {
		t.Errorf("Live document = %q, want %q", live, want)
	}
}

func TestClient_HistoryExcludesInFlightMessage(t *testing.T) {
	backend := &planBackend{
		streamChunks: []string{
			`{"message":"First reply."}` + "\n",
			`{}` + "\n",
		},
	}
	client := newTestClient(t, backend)

	token, err := client.Send(context.Background(), model.KindPlan, "", "First question")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitDone(t, token)

	token, err = client.Send(context.Background(), model.KindPlan, "", "Second question")
	if err != nil {
		t.Fatalf("Second send failed: %v", err)
	}
	waitDone(t, token)

	if len(backend.chatBodies) != 2 {
		t.Fatalf("Chat requests = %d, want 2", len(backend.chatBodies))
	}
	if len(backend.chatBodies[0].History) != 0 {
		t.Errorf("First request history = %v, want empty", backend.chatBodies[0].History)
	}
	second := backend.chatBodies[1]
	if second.Message != "Second question" {
		t.Errorf("Second message = %q", second.Message)
	}
	// History holds the settled first exchange but not the message
	// being sent.
	if len(second.History) != 2 {
		t.Fatalf("Second request history length = %d, want 2", len(second.History))
	}
	if second.History[0]["user"] != "First question" {
		t.Errorf("History[0] = %v", second.History[0])
	}
	if second.History[1]["ai"] != "First reply." {
		t.Errorf("History[1] = %v", second.History[1])
	}
}

func TestClient_StreamErrorFailsPlaceholder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	var notified []Notification
	var mu sync.Mutex
	client := New(api.NewClient(server.URL).WithMaxRetries(0), "proj-1").
		WithNotifier(func(n Notification) {
			mu.Lock()
			notified = append(notified, n)
			mu.Unlock()
		})

	token, err := client.Send(context.Background(), model.KindPlan, "", "hello")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitDone(t, token)

	msgs := client.Conversation(model.KindPlan, "").Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("Message count = %d, want 2", len(msgs))
	}
	if msgs[1].Streaming {
		t.Error("Placeholder still streaming after failure")
	}
	if !strings.Contains(msgs[1].Content, "502") {
		t.Errorf("Failed message content = %q, want status in text", msgs[1].Content)
	}

	mu.Lock()
	defer mu.Unlock()
	sawError := false
	for _, n := range notified {
		if n.Kind == NotifyError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("No error notification delivered")
	}
}

func TestClient_CancelKeepsPartialTranscript(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/plan/stream" {
			http.NotFound(w, r)
			return
		}
		flusher := w.(http.Flusher)
		w.Write([]byte(`{"message":"Partial"}` + "\n"))
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := New(api.NewClient(server.URL).WithMaxRetries(0), "proj-1")

	token, err := client.Send(context.Background(), model.KindPlan, "", "hello")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Wait until the first delta lands, then cancel.
	deadline := time.After(5 * time.Second)
	for {
		msgs := client.Conversation(model.KindPlan, "").Snapshot()
		if len(msgs) == 2 && msgs[1].Content == "Partial" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("First delta never arrived")
		case <-time.After(5 * time.Millisecond):
		}
	}

	client.Cancel(model.KindPlan, "")
	waitDone(t, token)

	msgs := client.Conversation(model.KindPlan, "").Snapshot()
	if msgs[1].Content != "Partial" {
		t.Errorf("Partial content = %q, want kept", msgs[1].Content)
	}
	if msgs[1].Streaming {
		t.Error("Cancelled placeholder should be finalized, not streaming")
	}
}

// =============================================================================
// ISSUE EXCHANGE TESTS
// =============================================================================

func TestClient_IssueExchange(t *testing.T) {
	backend := &planBackend{
		nextIssueID: "501",
		streamChunks: []string{
			`{"message":"Splitting the work."}` + "\n",
			`{"file":"+Add PayPal SDK\n+Wire checkout flow\n-123\n"}` + "\n",
			`{}` + "\n",
		},
	}
	client := newTestClient(t, backend)

	token, err := client.Send(context.Background(), model.KindIssue, "", "Break the plan into issues")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitDone(t, token)

	additions := client.ProposedAdditions()
	if len(additions) != 2 || additions[0] != "Add PayPal SDK" || additions[1] != "Wire checkout flow" {
		t.Fatalf("Additions = %v", additions)
	}
	removals := client.ProposedRemovals()
	if len(removals) != 1 || removals[0] != "123" {
		t.Fatalf("Removals = %v", removals)
	}

	// Accepting one addition creates only that ticket and leaves the
	// rest pending.
	ticket, err := client.AcceptIssueAddition(context.Background(), "Add PayPal SDK")
	if err != nil {
		t.Fatalf("AcceptIssueAddition failed: %v", err)
	}
	if ticket.IssueID != "501" {
		t.Errorf("Created issue id = %q, want backend-assigned 501", ticket.IssueID)
	}
	if len(backend.created) != 1 {
		t.Fatalf("Created tickets = %d, want 1", len(backend.created))
	}

	additions = client.ProposedAdditions()
	if len(additions) != 1 || additions[0] != "Wire checkout flow" {
		t.Errorf("Remaining additions = %v", additions)
	}
	if got := client.ProposedRemovals(); len(got) != 1 {
		t.Errorf("Removals after addition accept = %v", got)
	}

	// Rejecting never touches the backend.
	if err := client.RejectIssueAddition("Wire checkout flow"); err != nil {
		t.Fatalf("RejectIssueAddition failed: %v", err)
	}
	if len(backend.created) != 1 || len(backend.deleted) != 0 {
		t.Error("Reject contacted the backend")
	}

	if err := client.AcceptIssueRemoval(context.Background(), "123"); err != nil {
		t.Fatalf("AcceptIssueRemoval failed: %v", err)
	}
	if len(backend.deleted) != 1 || !strings.HasSuffix(backend.deleted[0], "/issues/proj-1/123") {
		t.Errorf("Deleted paths = %v", backend.deleted)
	}
	if client.HasProposedIssueChanges() {
		t.Error("All items settled; nothing should be pending")
	}
}

func TestClient_IssueContentExchange(t *testing.T) {
	backend := &planBackend{
		streamChunks: []string{
			`{"message":"Tightening the description."}` + "\n",
			`{"file":"Integrate the PayPal SDK.\nCover the sandbox flow.\n"}` + "\n",
			`{}` + "\n",
		},
	}
	backend.created = []model.Ticket{
		{ProjectID: "proj-1", IssueID: "42", Title: "Add PayPal SDK",
			Description: "Integrate the PayPal SDK.\n",
			Status:      model.StatusTodo, Priority: model.PriorityMedium},
	}
	client := newTestClient(t, backend)

	// The baseline is the ticket's current description, not a
	// project-level document.
	live, err := client.Document(context.Background(), model.KindIssueContent, "42")
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if live != "Integrate the PayPal SDK.\n" {
		t.Fatalf("Issue content baseline = %q", live)
	}

	token, err := client.Send(context.Background(), model.KindIssueContent, "42", "Mention the sandbox flow")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitDone(t, token)

	pending := client.PendingDocument(model.KindIssueContent, "42")
	if pending == nil {
		t.Fatal("No pending issue-content change")
	}
	if pending.Baseline != "Integrate the PayPal SDK.\n" {
		t.Errorf("Baseline = %q, want the pre-stream description", pending.Baseline)
	}

	// Accepting rewrites the ticket description through the issue
	// update endpoint.
	if err := client.AcceptDocument(context.Background(), model.KindIssueContent, "42"); err != nil {
		t.Fatalf("AcceptDocument failed: %v", err)
	}
	if len(backend.updated) != 1 {
		t.Fatalf("Updated tickets = %d, want 1", len(backend.updated))
	}
	got := backend.updated[0]
	if got.IssueID != "42" {
		t.Errorf("Updated issue id = %q", got.IssueID)
	}
	if got.Description != "Integrate the PayPal SDK.\nCover the sandbox flow.\n" {
		t.Errorf("Updated description = %q", got.Description)
	}
	if client.PendingDocument(model.KindIssueContent, "42") != nil {
		t.Error("Pending change should clear after accept")
	}
}

// =============================================================================
// NAVIGATION TESTS
// =============================================================================

func TestClient_LeaveDiscardsPendingDocument(t *testing.T) {
	backend := &planBackend{
		planContent: "# Plan\n",
		streamChunks: []string{
			`{"file":"- PayPal checkout\n"}` + "\n",
			`{}` + "\n",
		},
	}
	client := newTestClient(t, backend)

	token, err := client.Send(context.Background(), model.KindPlan, "", "Add PayPal support")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitDone(t, token)

	if client.PendingDocument(model.KindPlan, "") == nil {
		t.Fatal("Expected a pending change before leaving")
	}

	client.Leave(model.KindPlan, "")

	if client.PendingDocument(model.KindPlan, "") != nil {
		t.Error("Leaving the subject should discard the proposal")
	}
	if len(backend.savedPlans) != 0 {
		t.Errorf("Leave persisted the proposal: %q", backend.savedPlans)
	}

	// The live content is still the frozen baseline.
	live, err := client.Document(context.Background(), model.KindPlan, "")
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if live != "# Plan\n" {
		t.Errorf("Live document = %q, want baseline", live)
	}
}

func TestClient_LeaveClearsProposedIssueItems(t *testing.T) {
	backend := &planBackend{
		streamChunks: []string{
			`{"file":"+Add PayPal SDK\n-123\n"}` + "\n",
			`{}` + "\n",
		},
	}
	client := newTestClient(t, backend)

	token, err := client.Send(context.Background(), model.KindIssue, "", "Break the plan into issues")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitDone(t, token)

	if !client.HasProposedIssueChanges() {
		t.Fatal("Expected pending issue items before leaving")
	}

	client.Leave(model.KindIssue, "")

	if client.HasProposedIssueChanges() {
		t.Error("Leaving the issues subject should clear pending items")
	}
	if len(backend.created) != 0 || len(backend.deleted) != 0 {
		t.Error("Leave contacted the backend")
	}
}

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestClient_TranscriptPersistsAcrossClients(t *testing.T) {
	backend := &planBackend{
		streamChunks: []string{
			`{"message":"Reply."}` + "\n",
			`{}` + "\n",
		},
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	store, err := storage.NewConversationStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	apiClient := api.NewClient(server.URL).WithMaxRetries(0)

	client := New(apiClient, "proj-1").WithStore(store)
	token, err := client.Send(context.Background(), model.KindPlan, "", "hello")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitDone(t, token)

	// A fresh client over the same store restores the transcript.
	restored := New(apiClient, "proj-1").WithStore(store)
	msgs := restored.Conversation(model.KindPlan, "").Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("Restored message count = %d, want 2", len(msgs))
	}
	if msgs[1].Content != "Reply." {
		t.Errorf("Restored assistant message = %q", msgs[1].Content)
	}
}

func TestClient_TicketCacheServesOffline(t *testing.T) {
	backend := &planBackend{nextIssueID: "1"}
	server := httptest.NewServer(backend.handler())

	cache, err := storage.OpenTicketCache(filepath.Join(t.TempDir(), "tickets.db"))
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	defer cache.Close()

	backend.created = []model.Ticket{
		{ProjectID: "proj-1", IssueID: "77", Title: "Cached ticket", Status: model.StatusTodo, Priority: model.PriorityMedium},
	}

	client := New(api.NewClient(server.URL).WithMaxRetries(0), "proj-1").WithCache(cache)

	tickets, err := client.Tickets(context.Background(), true)
	if err != nil {
		t.Fatalf("Tickets failed: %v", err)
	}
	if len(tickets) != 1 {
		t.Fatalf("Tickets = %d, want 1", len(tickets))
	}

	// Backend gone: the cache still serves the last snapshot.
	server.Close()
	tickets, err = client.Tickets(context.Background(), true)
	if err != nil {
		t.Fatalf("Tickets with backend down failed: %v", err)
	}
	if len(tickets) != 1 || tickets[0].Title != "Cached ticket" {
		t.Errorf("Cached tickets = %+v", tickets)
	}
}
