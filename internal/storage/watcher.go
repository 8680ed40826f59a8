// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// DRAFT WATCHER
// =============================================================================

// DefaultDebounce is how long a draft file must stay quiet before a
// change notification fires. Editors tend to write a file several
// times in quick succession (truncate, write, rename), and we only
// want one reload per save.
const DefaultDebounce = 300 * time.Millisecond

// DraftChange describes an externally edited draft file.
type DraftChange struct {
	// Path is the absolute path of the changed file.
	Path string

	// Removed is true when the file was renamed or deleted.
	Removed bool
}

// DraftWatcher watches a drafts directory for external edits so that
// locally edited plan and tech spec documents can be reloaded without
// restarting the client.
type DraftWatcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(DraftChange)

	mu      sync.Mutex
	pending map[string]time.Time // File path -> last change time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDraftWatcher creates a watcher over dir. onChange is called from a
// background goroutine after each debounced change.
func NewDraftWatcher(dir string, debounce time.Duration, onChange func(DraftChange)) (*DraftWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	dw := &DraftWatcher{
		dir:      dir,
		watcher:  watcher,
		debounce: debounce,
		onChange: onChange,
		pending:  make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}

	return dw, nil
}

// Watch starts watching the drafts directory.
func (dw *DraftWatcher) Watch() error {
	if err := dw.watcher.Add(dw.dir); err != nil {
		return err
	}

	go dw.processEvents()
	go dw.processPending()

	return nil
}

// Close stops watching and releases resources.
func (dw *DraftWatcher) Close() error {
	dw.cancel()
	return dw.watcher.Close()
}

// processEvents drains fsnotify events into the pending map.
func (dw *DraftWatcher) processEvents() {
	defer func() {
		// A panic here would take down the whole process; the watcher
		// goroutine just exits instead.
		_ = recover()
	}()

	for {
		select {
		case <-dw.ctx.Done():
			return

		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}

			if !dw.isDraft(event.Name) {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				dw.mu.Lock()
				dw.pending[event.Name] = time.Now()
				dw.mu.Unlock()
			}

			if event.Op&fsnotify.Rename == fsnotify.Rename ||
				event.Op&fsnotify.Remove == fsnotify.Remove {
				dw.mu.Lock()
				delete(dw.pending, event.Name)
				dw.mu.Unlock()

				if dw.onChange != nil {
					dw.onChange(DraftChange{Path: event.Name, Removed: true})
				}
			}

		case _, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the next save still fires.
		}
	}
}

// processPending flushes debounced changes on a fixed tick.
func (dw *DraftWatcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-dw.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()

			dw.mu.Lock()
			var toProcess []string
			for path, changeTime := range dw.pending {
				if now.Sub(changeTime) >= dw.debounce {
					toProcess = append(toProcess, path)
					delete(dw.pending, path)
				}
			}
			dw.mu.Unlock()

			for _, path := range toProcess {
				if dw.onChange != nil {
					dw.onChange(DraftChange{Path: path})
				}
			}
		}
	}
}

// isDraft reports whether path is a markdown draft we care about.
// Editor swap files and hidden files are ignored.
func (dw *DraftWatcher) isDraft(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return filepath.Ext(base) == ".md"
}
