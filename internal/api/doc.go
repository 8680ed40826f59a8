// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the planning backend.
//
// It covers the REST surface (documents, issues, projects) and the
// chat streaming endpoints. REST calls go through a pooled client with
// rate limiting and exponential backoff on transient failures; chat
// streams use a second pooled client with no request timeout, since a
// stream's lifetime is bounded by its context and idle timer instead.
//
// # Key Types
//
//   - Client: configured with the builder-style With methods
//   - ChatRequest: streaming chat request body
//   - RequestError: failed REST call with status and body
//   - PersistenceError: failed save of an accepted proposal
//
// # Usage
//
//	client := api.NewClient(cfg.BaseURL).WithMaxRetries(3)
//	content, err := client.Document(ctx, model.KindPlan, projectID)
//
// Projects imported from GitHub route their issue traffic through the
// /issues/github endpoints; every issue operation takes a github flag
// so the caller decides per project, not per call site.
package api
