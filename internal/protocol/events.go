// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import "github.com/planweave/planweave/internal/model"

// EventKind identifies what a StreamEvent carries.
type EventKind int

const (
	// EventText is an incremental piece of assistant prose.
	EventText EventKind = iota

	// EventFileDelta is an incremental piece of proposed document content.
	EventFileDelta

	// EventIssuesSnapshot is a full snapshot of proposed tickets.
	EventIssuesSnapshot

	// EventDone marks the end of a stream. Emitted for an empty payload
	// object and for the SSE [DONE] sentinel.
	EventDone

	// EventError carries a stream-level failure. The parser never emits
	// this kind itself; sessions synthesize it for transport errors.
	EventError
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventFileDelta:
		return "fileDelta"
	case EventIssuesSnapshot:
		return "issuesSnapshot"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is one semantic event decoded from the response stream.
// Exactly one of the payload fields is meaningful for a given Kind:
// Delta for EventText and EventFileDelta, Issues for EventIssuesSnapshot,
// Err for EventError.
type StreamEvent struct {
	Kind   EventKind
	Delta  string
	Issues []model.Ticket
	Err    error
}

// payload mirrors the wire format of a single stream chunk. Pointer
// fields distinguish an absent key from an empty value: an object with
// none of the keys present is the server's end-of-stream marker.
type payload struct {
	Message *string        `json:"message"`
	File    *string        `json:"file"`
	Issues  []model.Ticket `json:"issues"`
}

// done reports whether the payload is the terminal empty object.
func (p *payload) done() bool {
	return p.Message == nil && p.File == nil && p.Issues == nil
}
