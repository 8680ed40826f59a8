// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream runs streaming chat requests against the planning
// backend and turns the response into ordered callback dispatches.
//
// A session is opened with Open, which returns a CancelToken before
// any network activity completes. All callbacks fire from the
// session's own goroutine in stream order. The lifecycle guarantee is
// strict: exactly one of OnComplete or OnError fires, exactly once,
// for every session; cancellation routes to OnComplete because an
// abandoned stream is not a failure.
//
// # Key Types
//
//   - Session / CancelToken: one streaming exchange and its handle
//   - Callbacks: OnEvent, OnComplete, OnError
//   - Manager: one-live-session-per-subject bookkeeping
//   - NetworkError: transport failure with status and body
//
// # Usage
//
//	token, err := stream.Open(ctx, stream.DefaultConfig(), url, reqBody, stream.Callbacks{
//		OnEvent:    func(ev protocol.StreamEvent) { ... },
//		OnComplete: func() { ... },
//		OnError:    func(err error) { ... },
//	})
//	if err != nil {
//		return err
//	}
//	// Later, if the user navigates away:
//	token.Cancel()
package stream
