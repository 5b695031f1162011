// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli parses the glial command line and runs its commands.
//
// # Commands
//
//   - tui: full-screen chat (the default)
//   - ask: one turn, printed as it streams
//   - chat: line-based chat with input history
//   - history, show: browse the transcript archive
//   - serve: the replay backend for local testing
//   - version
//
// Global flags (--config, --server, --session, --conversation, --debug,
// --log-file, --json) may appear anywhere on the command line and are
// layered over the config file and its environment overrides.
//
// # Usage
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
//	defer stop()
//	os.Exit(cli.Run(ctx, os.Args[1:]))
//
// Commands that stream install their own interrupt handling: Ctrl+C stops
// the running turn in chat and ends ask.
package cli
