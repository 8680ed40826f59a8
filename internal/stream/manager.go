// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"
)

// Manager enforces the one-live-session-per-subject rule. Opening a
// stream for a key that already has a live session cancels the old one
// first, so a superseded stream can never write into state the new one
// owns. Last write wins.
type Manager struct {
	mu   sync.Mutex
	live map[string]*CancelToken
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		live: make(map[string]*CancelToken),
	}
}

// Open cancels any live session registered under key, then starts a
// new one and registers it. The cancelled session still delivers its
// OnComplete callback from its own goroutine.
func (m *Manager) Open(ctx context.Context, cfg Config, key, url string, body any, cb Callbacks) (*CancelToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.live[key]; ok {
		prev.Cancel()
		delete(m.live, key)
	}

	token, err := Open(ctx, cfg, url, body, cb)
	if err != nil {
		return nil, err
	}
	m.live[key] = token
	return token, nil
}

// Cancel aborts the live session under key, if any.
func (m *Manager) Cancel(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.live[key]; ok {
		token.Cancel()
		delete(m.live, key)
	}
}

// CancelAll aborts every live session. Used on shutdown and when the
// user navigates away from a project.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, token := range m.live {
		token.Cancel()
		delete(m.live, key)
	}
}

// Active reports whether a session under key is still running.
func (m *Manager) Active(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.live[key]
	return ok && !token.State().Terminal()
}
