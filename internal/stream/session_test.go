// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/planweave/planweave/internal/protocol"
)

// collector gathers callback activity for assertions.
type collector struct {
	mu        sync.Mutex
	events    []protocol.StreamEvent
	completes int32
	errs      []error
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnEvent: func(ev protocol.StreamEvent) {
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		},
		OnComplete: func() {
			atomic.AddInt32(&c.completes, 1)
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
		},
	}
}

func (c *collector) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sb strings.Builder
	for _, ev := range c.events {
		if ev.Kind == protocol.EventText {
			sb.WriteString(ev.Delta)
		}
	}
	return sb.String()
}

func (c *collector) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) errCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

// sseServer streams the given records and closes.
func sseServer(records ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, rec := range records {
			fmt.Fprintf(w, "data: %s\n\n", rec)
			flusher.Flush()
		}
	}))
}

func waitDone(t *testing.T, token *CancelToken) {
	t.Helper()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish in time")
	}
}

func TestSessionDeliversOrderedText(t *testing.T) {
	srv := sseServer(`{"message": "Hello"}`, `{"message": " world"}`, `{}`)
	defer srv.Close()

	col := &collector{}
	token, err := Open(context.Background(), DefaultConfig(), srv.URL, map[string]string{}, col.callbacks())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, token)

	if got := col.text(); got != "Hello world" {
		t.Errorf("text: got %q, want %q", got, "Hello world")
	}
	if n := atomic.LoadInt32(&col.completes); n != 1 {
		t.Errorf("OnComplete fired %d times, want 1", n)
	}
	if col.errCount() != 0 {
		t.Errorf("unexpected errors: %v", col.errs)
	}
	if token.State() != StateDone {
		t.Errorf("state: got %s, want done", token.State())
	}
}

func TestSessionCompletesOnEOFWithoutDoneMarker(t *testing.T) {
	srv := sseServer(`{"message": "hi"}`)
	defer srv.Close()

	col := &collector{}
	token, err := Open(context.Background(), DefaultConfig(), srv.URL, nil, col.callbacks())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, token)

	if n := atomic.LoadInt32(&col.completes); n != 1 {
		t.Errorf("OnComplete fired %d times, want 1", n)
	}
	if col.text() != "hi" {
		t.Errorf("text: got %q", col.text())
	}
}

func TestSessionReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "project not found", http.StatusNotFound)
	}))
	defer srv.Close()

	col := &collector{}
	token, err := Open(context.Background(), DefaultConfig(), srv.URL, nil, col.callbacks())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, token)

	if col.errCount() != 1 {
		t.Fatalf("expected 1 error, got %d", col.errCount())
	}
	var netErr *NetworkError
	if !errors.As(col.errs[0], &netErr) {
		t.Fatalf("expected NetworkError, got %T", col.errs[0])
	}
	if netErr.Status != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", netErr.Status)
	}
	if !strings.Contains(netErr.Body, "project not found") {
		t.Errorf("body: got %q", netErr.Body)
	}
	if n := atomic.LoadInt32(&col.completes); n != 0 {
		t.Errorf("OnComplete fired %d times on error, want 0", n)
	}
	if token.State() != StateErrored {
		t.Errorf("state: got %s, want errored", token.State())
	}
}

func TestSessionCancelSuppressesDispatch(t *testing.T) {
	firstSent := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"message\": \"before\"}\n\n")
		flusher.Flush()
		close(firstSent)
		<-release
		fmt.Fprint(w, "data: {\"message\": \"after\"}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()
	defer close(release)

	col := &collector{}
	token, err := Open(context.Background(), DefaultConfig(), srv.URL, nil, col.callbacks())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	<-firstSent
	// Give the first event time to land before cancelling.
	deadline := time.Now().Add(2 * time.Second)
	for col.eventCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	token.Cancel()
	token.Cancel() // idempotent
	waitDone(t, token)

	if got := col.text(); got != "before" {
		t.Errorf("text after cancel: got %q, want %q", got, "before")
	}
	if n := atomic.LoadInt32(&col.completes); n != 1 {
		t.Errorf("OnComplete fired %d times, want 1", n)
	}
	if col.errCount() != 0 {
		t.Errorf("cancellation surfaced as error: %v", col.errs)
	}
	if token.State() != StateCancelled {
		t.Errorf("state: got %s, want cancelled", token.State())
	}
}

func TestSessionCancelBeforeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	col := &collector{}
	token, err := Open(context.Background(), DefaultConfig(), srv.URL, nil, col.callbacks())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	token.Cancel()
	waitDone(t, token)

	if n := atomic.LoadInt32(&col.completes); n != 1 {
		t.Errorf("OnComplete fired %d times, want 1", n)
	}
	if col.errCount() != 0 {
		t.Errorf("cancellation surfaced as error: %v", col.errs)
	}
	if col.eventCount() != 0 {
		t.Errorf("events dispatched after early cancel: %d", col.eventCount())
	}
}

func TestSessionIdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.IdleTimeout = 50 * time.Millisecond

	col := &collector{}
	token, err := Open(context.Background(), cfg, srv.URL, nil, col.callbacks())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	waitDone(t, token)

	if col.errCount() != 1 {
		t.Fatalf("expected 1 error, got %d", col.errCount())
	}
	if !errors.Is(col.errs[0], ErrIdleTimeout) {
		t.Errorf("expected idle timeout, got %v", col.errs[0])
	}
}

func TestManagerLastWriteWins(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		select {
		case <-block:
			fmt.Fprint(w, "data: {}\n\n")
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	mgr := NewManager()
	first := &collector{}
	tok1, err := mgr.Open(context.Background(), DefaultConfig(), "conv-1", srv.URL, nil, first.callbacks())
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	second := &collector{}
	tok2, err := mgr.Open(context.Background(), DefaultConfig(), "conv-1", srv.URL, nil, second.callbacks())
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}

	waitDone(t, tok1)
	if tok1.State() != StateCancelled {
		t.Errorf("first session state: got %s, want cancelled", tok1.State())
	}
	if n := atomic.LoadInt32(&first.completes); n != 1 {
		t.Errorf("first OnComplete fired %d times, want 1", n)
	}
	if !mgr.Active("conv-1") {
		t.Error("second session should be the active one")
	}

	tok2.Cancel()
	waitDone(t, tok2)
}

func TestManagerCancelAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	mgr := NewManager()
	var tokens []*CancelToken
	for _, key := range []string{"a", "b", "c"} {
		col := &collector{}
		tok, err := mgr.Open(context.Background(), DefaultConfig(), key, srv.URL, nil, col.callbacks())
		if err != nil {
			t.Fatalf("Open %s failed: %v", key, err)
		}
		tokens = append(tokens, tok)
	}

	mgr.CancelAll()
	for i, tok := range tokens {
		waitDone(t, tok)
		if tok.State() != StateCancelled {
			t.Errorf("session %d state: got %s, want cancelled", i, tok.State())
		}
	}
}

func TestOpenReturnsBeforeResponse(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		// Drain the body so the server notices the client going away;
		// otherwise the handler outlives the test and Close hangs.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	col := &collector{}
	begin := time.Now()
	token, err := Open(context.Background(), DefaultConfig(), srv.URL, nil, col.callbacks())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Errorf("Open blocked for %v", elapsed)
	}
	<-started
	token.Cancel()
	waitDone(t, token)
}
