// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"
)

// ErrIdleTimeout is wrapped into the NetworkError reported when a
// stream goes quiet for longer than the configured idle timeout.
var ErrIdleTimeout = errors.New("stream idle timeout")

// NetworkError is a transport-level stream failure: connection
// problems, non-2xx responses, or an idle timeout. Cancellation is
// deliberately not a NetworkError; a cancelled stream completes
// normally with no output.
type NetworkError struct {
	// Status is the HTTP status code, or 0 when the failure happened
	// before a response arrived.
	Status int

	// Body holds the response body for non-2xx failures, truncated.
	Body string

	// Err is the underlying error, if any.
	Err error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		if e.Body != "" {
			return fmt.Sprintf("stream request failed with status %d: %s", e.Status, e.Body)
		}
		return fmt.Sprintf("stream request failed with status %d", e.Status)
	}
	return fmt.Sprintf("stream request failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
