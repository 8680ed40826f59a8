// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
)

// =============================================================================
// Framing
// =============================================================================

// Framing selects how the raw byte stream is split into payloads.
type Framing int

const (
	// FramingAuto sniffs the first non-whitespace bytes: a '{' selects
	// JSON framing, anything else selects SSE framing.
	FramingAuto Framing = iota

	// FramingSSE expects "data: <payload>\n\n" records.
	FramingSSE

	// FramingJSON expects JSON objects back to back, with optional
	// whitespace or newlines between them (NDJSON is a special case).
	FramingJSON
)

// sseDonePayload is the sentinel some SSE backends send before closing.
const sseDonePayload = "[DONE]"

// MaxBufferSize caps the internal reassembly buffer. A stream that
// accumulates this much data without a record boundary is broken;
// the parser drops the buffer and logs rather than growing forever.
const MaxBufferSize = 1 << 20 // 1MB

// =============================================================================
// Errors
// =============================================================================

// ParseError describes a payload that could not be decoded. It is
// non-fatal: the parser logs it, skips the payload, and keeps going.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stream parse error: %v (payload: %q)", e.Err, truncatePayload(e.Payload))
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func truncatePayload(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// =============================================================================
// Parser
// =============================================================================

// Parser reassembles arbitrarily split network chunks into StreamEvents.
//
// Feed may be called with chunks cut at any byte offset, including mid
// record and mid UTF-8 rune; the concatenation of all chunks fully
// determines the emitted event sequence. Malformed payloads are skipped
// and logged, never surfaced as failures.
//
// Parser is not safe for concurrent use. A stream session owns one
// parser and feeds it from a single goroutine.
type Parser struct {
	framing Framing
	buf     strings.Builder
	done    bool

	// warnf receives non-fatal parse diagnostics. Defaults to log.Printf.
	warnf func(format string, args ...any)
}

// NewParser returns a parser that auto-detects the stream framing.
func NewParser() *Parser {
	return NewParserWithFraming(FramingAuto)
}

// NewParserWithFraming returns a parser locked to a specific framing.
func NewParserWithFraming(f Framing) *Parser {
	return &Parser{
		framing: f,
		warnf:   log.Printf,
	}
}

// SetWarnFunc redirects non-fatal parse diagnostics. Passing nil
// silences them.
func (p *Parser) SetWarnFunc(fn func(format string, args ...any)) {
	if fn == nil {
		fn = func(string, ...any) {}
	}
	p.warnf = fn
}

// Done reports whether a terminal payload has been seen. Once done,
// further input is ignored.
func (p *Parser) Done() bool {
	return p.done
}

// Feed appends a raw chunk to the internal buffer and returns every
// event that is now complete, in stream order. It never returns an
// error: malformed payloads are logged and skipped.
func (p *Parser) Feed(chunk string) []StreamEvent {
	if p.done || chunk == "" {
		return nil
	}
	p.buf.WriteString(chunk)
	if p.buf.Len() > MaxBufferSize {
		p.warnf("stream buffer exceeded %d bytes without a record boundary, dropping", MaxBufferSize)
		p.buf.Reset()
		return nil
	}
	if p.framing == FramingAuto {
		p.detectFraming()
		if p.framing == FramingAuto {
			return nil // not enough data to sniff yet
		}
	}

	switch p.framing {
	case FramingSSE:
		return p.drainSSE()
	default:
		return p.drainJSON()
	}
}

// Flush processes whatever remains in the buffer at end of stream.
// SSE backends sometimes close the connection after the final record
// without a trailing blank line; JSON framing has nothing to flush
// because an unterminated object is by definition incomplete.
func (p *Parser) Flush() []StreamEvent {
	if p.done || p.buf.Len() == 0 {
		return nil
	}
	if p.framing != FramingSSE {
		if rest := strings.TrimSpace(p.buf.String()); rest != "" {
			p.warnf("discarding %d bytes of incomplete stream data", len(rest))
		}
		p.buf.Reset()
		return nil
	}
	record := p.buf.String()
	p.buf.Reset()
	return p.parseSSERecord(record)
}

// detectFraming sniffs the buffered bytes. The first non-whitespace
// byte decides: '{' means raw JSON objects, anything else means SSE.
func (p *Parser) detectFraming() {
	s := strings.TrimLeft(p.buf.String(), " \t\r\n")
	if s == "" {
		return
	}
	if s[0] == '{' {
		p.framing = FramingJSON
	} else {
		p.framing = FramingSSE
	}
}

// =============================================================================
// SSE framing
// =============================================================================

// drainSSE emits events for every complete "\n\n"-terminated record.
func (p *Parser) drainSSE() []StreamEvent {
	var events []StreamEvent
	data := p.buf.String()
	for {
		idx, seplen := recordBoundary(data)
		if idx < 0 {
			break
		}
		record := data[:idx]
		data = data[idx+seplen:]
		events = append(events, p.parseSSERecord(record)...)
		if p.done {
			data = ""
			break
		}
	}
	p.buf.Reset()
	p.buf.WriteString(data)
	return events
}

// recordBoundary finds the earliest blank line separating SSE records,
// accepting both LF and CRLF line endings. Returns -1 when no complete
// record is buffered.
func recordBoundary(s string) (idx, seplen int) {
	lf := strings.Index(s, "\n\n")
	crlf := strings.Index(s, "\r\n\r\n")
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

// parseSSERecord extracts the data field(s) of one SSE record and
// decodes them. Comment lines and unknown fields are ignored per the
// SSE wire format.
func (p *Parser) parseSSERecord(record string) []StreamEvent {
	var dataLines []string
	for _, line := range strings.Split(record, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if len(dataLines) == 0 {
		return nil
	}
	data := strings.Join(dataLines, "\n")
	if strings.TrimSpace(data) == sseDonePayload {
		p.done = true
		return []StreamEvent{{Kind: EventDone}}
	}
	return p.decodePayload(data)
}

// =============================================================================
// JSON framing
// =============================================================================

// drainJSON emits events for every complete brace-balanced object in
// the buffer. Braces inside JSON strings, including escaped quotes, do
// not count toward nesting depth.
func (p *Parser) drainJSON() []StreamEvent {
	var events []StreamEvent
	data := p.buf.String()
	for {
		start, end, ok := nextObject(data)
		if !ok {
			break
		}
		if junk := strings.TrimSpace(data[:start]); junk != "" {
			p.warnf("skipping %d bytes of non-JSON stream data", len(junk))
		}
		events = append(events, p.decodePayload(data[start:end])...)
		data = data[end:]
		if p.done {
			data = ""
			break
		}
	}
	p.buf.Reset()
	p.buf.WriteString(data)
	return events
}

// nextObject locates the first complete top-level JSON object in s.
// It returns the byte offsets of its opening brace and one past its
// closing brace. ok is false when no complete object is present yet.
func nextObject(s string) (start, end int, ok bool) {
	start = strings.IndexByte(s, '{')
	if start < 0 {
		return 0, 0, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1, true
			}
		}
	}
	return 0, 0, false
}

// =============================================================================
// Payload decoding
// =============================================================================

// decodePayload maps one wire payload to events. Field order within a
// single payload is fixed: text first, then file delta, then issues.
func (p *Parser) decodePayload(data string) []StreamEvent {
	var pl payload
	if err := json.Unmarshal([]byte(data), &pl); err != nil {
		perr := &ParseError{Payload: data, Err: err}
		p.warnf("%v", perr)
		return nil
	}
	if pl.done() {
		p.done = true
		return []StreamEvent{{Kind: EventDone}}
	}
	var events []StreamEvent
	if pl.Message != nil && *pl.Message != "" {
		events = append(events, StreamEvent{Kind: EventText, Delta: *pl.Message})
	}
	if pl.File != nil && *pl.File != "" {
		events = append(events, StreamEvent{Kind: EventFileDelta, Delta: *pl.File})
	}
	if pl.Issues != nil {
		events = append(events, StreamEvent{Kind: EventIssuesSnapshot, Issues: pl.Issues})
	}
	return events
}
