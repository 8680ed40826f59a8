// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/planweave/planweave/internal/api"
	"github.com/planweave/planweave/internal/model"
	"github.com/planweave/planweave/internal/protocol"
	"github.com/planweave/planweave/internal/reconcile"
	"github.com/planweave/planweave/internal/storage"
	"github.com/planweave/planweave/internal/stream"
)

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// NotificationKind classifies what changed during an exchange.
type NotificationKind int

const (
	// NotifyText is new assistant prose for the transcript.
	NotifyText NotificationKind = iota

	// NotifyProposal means pending document or issue changes grew.
	NotifyProposal

	// NotifyComplete means the exchange finished.
	NotifyComplete

	// NotifyError means the exchange failed.
	NotifyError
)

// Notification tells the UI that an in-flight exchange progressed.
// Notifications for one subject arrive in stream order.
type Notification struct {
	Kind    NotificationKind
	Subject model.Kind
	IssueID string
	Delta   string
	Err     error
}

// Notifier receives progress notifications. It is called from the
// stream's dispatch goroutine and must not block.
type Notifier func(Notification)

// =============================================================================
// CHAT CLIENT
// =============================================================================

// ErrNoProject is returned by operations that need a selected project.
var ErrNoProject = errors.New("no project selected")

// Client ties together the REST client, the stream manager, the
// conversation model, and the reconcilers behind one conversational
// surface. One Client serves one project at a time.
type Client struct {
	api       *api.Client
	mgr       *stream.Manager
	store     *storage.ConversationStore
	cache     *storage.TicketCache
	notify    Notifier
	projectID string
	github    bool

	mu     sync.Mutex
	convs  map[string]*model.Conversation
	docs   map[string]*reconcile.DocumentReconciler
	loaded map[string]bool
	issues *reconcile.IssueReconciler
}

// New creates a chat client for a project.
func New(apiClient *api.Client, projectID string) *Client {
	return &Client{
		api:       apiClient,
		mgr:       stream.NewManager(),
		projectID: projectID,
		convs:     make(map[string]*model.Conversation),
		docs:      make(map[string]*reconcile.DocumentReconciler),
		loaded:    make(map[string]bool),
		issues:    reconcile.NewIssueReconciler(projectID),
	}
}

// WithStore enables transcript persistence between runs.
func (c *Client) WithStore(store *storage.ConversationStore) *Client {
	c.store = store
	return c
}

// WithCache enables the local ticket cache.
func (c *Client) WithCache(cache *storage.TicketCache) *Client {
	c.cache = cache
	return c
}

// WithGitHub routes issue operations through the GitHub-backed
// endpoints.
func (c *Client) WithGitHub(github bool) *Client {
	c.github = github
	return c
}

// WithNotifier sets the progress callback.
func (c *Client) WithNotifier(fn Notifier) *Client {
	c.notify = fn
	return c
}

// ProjectID returns the project this client serves.
func (c *Client) ProjectID() string {
	return c.projectID
}

// =============================================================================
// SENDING MESSAGES
// =============================================================================

// Send starts a streaming exchange on the given subject. It returns as
// soon as the stream is launched; progress arrives through the
// notifier and the returned token's Done channel closes when the
// exchange settles.
//
// Sending on a subject with a live stream supersedes it: the old
// stream is cancelled and its remaining events are discarded.
func (c *Client) Send(ctx context.Context, kind model.Kind, issueID, message string) (*stream.CancelToken, error) {
	if c.projectID == "" {
		return nil, ErrNoProject
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid conversation kind %q", kind)
	}

	conv := c.conversation(kind, issueID)

	if err := c.ensureBaseline(ctx, kind, issueID); err != nil {
		// A missing baseline degrades the diff view but should not
		// block the exchange.
		c.emit(Notification{Kind: NotifyError, Subject: kind, IssueID: issueID, Err: err})
	}

	// History must not include the message being sent.
	history := conv.HistoryPayload()
	placeholder := conv.BeginExchange(message)

	req := api.ChatRequest{
		Message:   message,
		History:   history,
		ProjectID: c.projectID,
	}

	key := storage.SubjectKey(c.projectID, kind, issueID)
	cb := stream.Callbacks{
		OnEvent: func(ev protocol.StreamEvent) {
			c.handleEvent(kind, issueID, conv, placeholder, ev)
		},
		OnComplete: func() {
			conv.Finalize(placeholder)
			c.persist(conv)
			c.emit(Notification{Kind: NotifyComplete, Subject: kind, IssueID: issueID})
		},
		OnError: func(err error) {
			conv.Fail(placeholder, err.Error())
			c.persist(conv)
			c.emit(Notification{Kind: NotifyError, Subject: kind, IssueID: issueID, Err: err})
		},
	}

	return c.api.OpenStream(ctx, c.mgr, key, kind, issueID, c.github, req, cb)
}

// handleEvent routes one decoded stream event. The placeholder pointer
// pins the event to the exchange that opened the stream, so a
// superseded session can never touch a newer exchange's messages.
func (c *Client) handleEvent(kind model.Kind, issueID string, conv *model.Conversation, placeholder *model.Message, ev protocol.StreamEvent) {
	switch ev.Kind {
	case protocol.EventText:
		conv.AppendDelta(placeholder, ev.Delta)
		c.emit(Notification{Kind: NotifyText, Subject: kind, IssueID: issueID, Delta: ev.Delta})

	case protocol.EventFileDelta:
		if kind == model.KindIssue {
			c.issues.ApplyDelta(ev.Delta)
		} else {
			c.documentReconciler(kind, issueID).ApplyDelta(ev.Delta)
		}
		c.emit(Notification{Kind: NotifyProposal, Subject: kind, IssueID: issueID, Delta: ev.Delta})

	case protocol.EventIssuesSnapshot:
		c.issues.ApplySnapshot(ev.Issues)
		c.emit(Notification{Kind: NotifyProposal, Subject: kind, IssueID: issueID})
	}
}

// Cancel stops the live stream for a subject, if any. The partial
// transcript is kept and the exchange completes rather than fails.
func (c *Client) Cancel(kind model.Kind, issueID string) {
	c.mgr.Cancel(storage.SubjectKey(c.projectID, kind, issueID))
}

// CancelAll stops every live stream. Called when leaving the project
// view.
func (c *Client) CancelAll() {
	c.mgr.CancelAll()
}

// Leave cancels a subject's live stream and discards any open
// proposal. Navigating away never auto-commits: a pending document
// change is rejected and pending issue items are cleared.
func (c *Client) Leave(kind model.Kind, issueID string) {
	c.Cancel(kind, issueID)
	if kind == model.KindIssue {
		c.ClearProposedIssueChanges()
		return
	}
	c.RejectDocument(kind, issueID)
}

// Streaming reports whether a subject has a live stream.
func (c *Client) Streaming(kind model.Kind, issueID string) bool {
	return c.mgr.Active(storage.SubjectKey(c.projectID, kind, issueID))
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// conversation returns the in-memory transcript for a subject,
// restoring it from the store on first access.
func (c *Client) conversation(kind model.Kind, issueID string) *model.Conversation {
	key := storage.SubjectKey(c.projectID, kind, issueID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if conv, ok := c.convs[key]; ok {
		return conv
	}

	if c.store != nil {
		if conv, err := c.store.Load(c.projectID, kind, issueID); err == nil {
			c.convs[key] = conv
			return conv
		}
	}

	conv := model.NewConversation(c.projectID, kind, issueID)
	c.convs[key] = conv
	return conv
}

// Conversation exposes the transcript for rendering.
func (c *Client) Conversation(kind model.Kind, issueID string) *model.Conversation {
	return c.conversation(kind, issueID)
}

// ClearConversation drops a transcript from memory and disk.
func (c *Client) ClearConversation(kind model.Kind, issueID string) error {
	key := storage.SubjectKey(c.projectID, kind, issueID)

	c.mu.Lock()
	delete(c.convs, key)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(c.projectID, kind, issueID); err != nil &&
			!errors.Is(err, storage.ErrConversationNotFound) {
			return err
		}
	}
	return nil
}

func (c *Client) persist(conv *model.Conversation) {
	if c.store == nil {
		return
	}
	// Persistence failures are not worth failing the exchange over.
	_ = c.store.Save(conv)
}

func (c *Client) emit(n Notification) {
	if c.notify != nil {
		c.notify(n)
	}
}
