// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/planweave/planweave/internal/protocol"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultIdleTimeout aborts a stream that goes quiet. Slow models
	// pause between tokens, so this is generous.
	DefaultIdleTimeout = 90 * time.Second

	// readBufferSize is the per-read buffer for the response body.
	readBufferSize = 32 * 1024

	// maxErrorBodySize caps how much of a non-2xx response body is
	// captured into the error.
	maxErrorBodySize = 8 * 1024
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// State tracks a session through its lifecycle. Terminal states are
// absorbing: once reached, no further transitions or dispatches occur.
type State int

const (
	// StateIdle is a session created but not yet connected.
	StateIdle State = iota

	// StateOpen is a session whose request is in flight.
	StateOpen

	// StateStreaming is a session that has received at least one event.
	StateStreaming

	// StateDone is a stream that completed normally.
	StateDone

	// StateErrored is a stream that failed.
	StateErrored

	// StateCancelled is a stream the caller abandoned.
	StateCancelled
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored || s == StateCancelled
}

// =============================================================================
// CALLBACKS AND CONFIG
// =============================================================================

// Callbacks receive a session's output. All callbacks are invoked from
// the session's own goroutine, in stream order, one at a time. Exactly
// one of OnComplete or OnError fires, exactly once, for every session
// that Open returns a token for; a cancelled session fires OnComplete
// so callers can clean up UI state.
type Callbacks struct {
	// OnEvent receives each decoded stream event. Never invoked after
	// Cancel returns or after a terminal callback.
	OnEvent func(protocol.StreamEvent)

	// OnComplete fires once when the stream ends normally or is
	// cancelled.
	OnComplete func()

	// OnError fires once when the stream fails.
	OnError func(error)
}

// Config controls session behavior.
type Config struct {
	// Client performs the streaming request. It must not have a
	// request timeout set; lifetime is controlled per session.
	Client *http.Client

	// IdleTimeout aborts the stream when no bytes arrive for this
	// long. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Header entries are added to the request.
	Header http.Header
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		Client:      http.DefaultClient,
		IdleTimeout: DefaultIdleTimeout,
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one streaming request/response exchange. Callers interact
// with it only through the CancelToken returned by Open.
type Session struct {
	mu        sync.Mutex
	state     State
	cancelled bool
	timedOut  bool
	completed bool

	cancelCtx context.CancelFunc
	parser    *protocol.Parser
	cb        Callbacks
	done      chan struct{}
}

// CancelToken is the caller's handle on a running session. It is safe
// for concurrent use.
type CancelToken struct {
	s *Session
}

// Cancel abandons the stream. Idempotent, and a no-op once the session
// has reached a terminal state. After Cancel returns, no further
// OnEvent callbacks fire; OnComplete still fires exactly once.
func (t *CancelToken) Cancel() {
	s := t.s
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.state = StateCancelled
	s.mu.Unlock()
	s.cancelCtx()
}

// State returns the session's current lifecycle state.
func (t *CancelToken) State() State {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.state
}

// Done returns a channel closed after the terminal callback has run.
func (t *CancelToken) Done() <-chan struct{} {
	return t.s.done
}

// Open starts a streaming POST to url with the JSON-encoded body and
// returns a cancellation token immediately; it never blocks on the
// network. Connection and protocol failures are reported through
// cb.OnError. The only synchronous errors are request construction
// problems (unmarshalable body, invalid URL).
func Open(ctx context.Context, cfg Config, url string, body any, cb Callbacks) (*CancelToken, error) {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stream request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")
	for k, vals := range cfg.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	s := &Session{
		state:     StateIdle,
		cancelCtx: cancel,
		parser:    protocol.NewParser(),
		cb:        cb,
		done:      make(chan struct{}),
	}

	go s.run(cfg, req)
	return &CancelToken{s: s}, nil
}

// =============================================================================
// SESSION GOROUTINE
// =============================================================================

// run performs the request and pumps the response body through the
// parser. It is the only goroutine that dispatches callbacks, which
// gives FIFO ordering for free.
func (s *Session) run(cfg Config, req *http.Request) {
	defer close(s.done)
	defer s.cancelCtx()

	s.transition(StateOpen)

	// RELIABILITY: the idle timer aborts streams whose peer silently
	// stopped sending. It is reset on every read below.
	idle := time.AfterFunc(cfg.IdleTimeout, func() {
		s.mu.Lock()
		s.timedOut = true
		s.mu.Unlock()
		s.cancelCtx()
	})
	defer idle.Stop()

	resp, err := cfg.Client.Do(req)
	if err != nil {
		s.finish(&NetworkError{Err: err})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		s.finish(&NetworkError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(body))})
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			idle.Reset(cfg.IdleTimeout)
			if s.dispatch(s.parser.Feed(string(buf[:n]))) {
				s.finish(nil)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				s.dispatch(s.parser.Flush())
				s.finish(nil)
				return
			}
			s.finish(&NetworkError{Err: err})
			return
		}
	}
}

// dispatch delivers events in order and reports whether a done event
// was seen. Events arriving after cancellation are dropped.
func (s *Session) dispatch(events []protocol.StreamEvent) (sawDone bool) {
	for _, ev := range events {
		if ev.Kind == protocol.EventDone {
			return true
		}
		s.mu.Lock()
		suppressed := s.cancelled || s.state.Terminal()
		if !suppressed && s.state == StateOpen {
			s.state = StateStreaming
		}
		s.mu.Unlock()
		if suppressed {
			continue
		}
		if s.cb.OnEvent != nil {
			s.cb.OnEvent(ev)
		}
	}
	return false
}

// finish moves the session to its terminal state and fires the
// matching callback exactly once. Cancellation wins over the cause
// that unblocked the read loop, so a cancelled stream never reports
// the context error it provoked.
func (s *Session) finish(cause error) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	switch {
	case s.cancelled:
		s.state = StateCancelled
		cause = nil
	case s.timedOut:
		s.state = StateErrored
		cause = &NetworkError{Err: ErrIdleTimeout}
	case cause != nil:
		s.state = StateErrored
	default:
		s.state = StateDone
	}
	s.mu.Unlock()

	if cause != nil {
		if s.cb.OnError != nil {
			s.cb.OnError(cause)
		}
		return
	}
	if s.cb.OnComplete != nil {
		s.cb.OnComplete()
	}
}

// transition advances a non-terminal session to the given state.
func (s *Session) transition(next State) {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = next
	}
	s.mu.Unlock()
}
