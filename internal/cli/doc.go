// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for planweave.
//
// The default invocation opens an interactive planning session: a liner
// REPL that chats with the backend about one subject at a time (plan,
// tech spec, issue list, or one issue's content) and reviews the
// proposed changes as diffs. Non-interactive commands cover one-shot
// questions, document printing, ticket listing, and draft syncing.
//
// # Key Types
//
//   - Session: state of one interactive planning session
//   - ArgParser: unified flag and positional argument parsing
//   - GlobalFlags: flags shared by every command
//
// # Usage
//
// From main:
//
//	os.Exit(cli.Run(os.Args[1:]))
//
// # Commands Overview
//
//   - (default): interactive planning session
//   - ask: one-shot question about the plan or tech spec
//   - show: print a document
//   - tickets: list tickets or move one to a new status
//   - watch: sync local draft documents to the backend
//   - config: show effective configuration
//
// Output respects NO_COLOR and FORCE_COLOR, and falls back to plain
// text on non-TTY output.
package cli
