// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds the small string and file helpers shared across glial.
//
// # Strings
//
// Widths are terminal cells, not bytes or runes, so CJK text and emoji
// line up in the history table and the chat status bar:
//   - TruncateWidth, TruncateRunes: shorten with an ellipsis
//   - PadWidth, StringWidth: align columns
//   - SingleLine: collapse whitespace for one-line previews
//
// # Files
//
// AtomicWriteFile writes to a temp file in the target directory, syncs it
// and renames it over the target, so config saves and transcript exports
// never leave a half-written file behind.
//
//	title := util.PadWidth(util.TruncateWidth(util.SingleLine(text), 40), 40)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
