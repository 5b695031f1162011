// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript holds the ordered list of message bubbles a chat
// session renders.
//
// A Bubble is either the user's prompt or one assistant item. Its content
// is a list of Parts; Part is a closed set of four variants (text,
// reasoning, function call, custom tool call) and every consumer switches
// over all of them. Bubbles are never removed. They only grow by gaining a
// part or by text being appended into an existing part.
//
// A Transcript has one writer (the session's reconciler) and any number of
// readers. Readers take copies with Snapshot or Bubble, and can watch
// Version or register a Subscribe callback to learn about changes.
package transcript
