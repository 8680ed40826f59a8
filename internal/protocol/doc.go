// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol decodes the planning backend's chunked response
// streams into semantic events.
//
// The backend streams JSON payloads of the form
// {"message": ..., "file": ..., "issues": ...} over one of two
// framings: Server-Sent Events (data: <json>\n\n) or bare JSON objects
// back to back. The parser sniffs the framing from the first bytes and
// reassembles records regardless of how the network splits them.
//
// # Key Types
//
//   - Parser: incremental chunk reassembler, one per stream
//   - StreamEvent: decoded event (text, fileDelta, issuesSnapshot, done)
//   - ParseError: non-fatal decode failure, logged and skipped
//
// # Usage
//
//	p := protocol.NewParser()
//	for chunk := range chunks {
//		for _, ev := range p.Feed(chunk) {
//			switch ev.Kind {
//			case protocol.EventText:
//				fmt.Print(ev.Delta)
//			case protocol.EventDone:
//				return
//			}
//		}
//	}
//	p.Flush()
//
// The parser is deliberately forgiving: a malformed payload is skipped
// with a log line so that one bad chunk cannot kill a long stream.
package protocol
