// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
)

// Error variables for common backend errors.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrRateLimited indicates the backend rejected the request for
	// rate limiting reasons after retries were exhausted.
	ErrRateLimited = errors.New("rate limited")
)

// RequestError is a failed REST call: connection problems or a non-2xx
// response. Status is 0 when no response arrived.
type RequestError struct {
	Op     string // e.g. "get plan document"
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
		}
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// PersistenceError marks a failure to persist an accepted proposal.
// Callers that see one must keep the pending state so the user can
// retry; the proposal itself is never lost to a flaky save.
type PersistenceError struct {
	Op  string // e.g. "save plan document", "create ticket"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
