// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/glial-tui/internal/config"
	"github.com/jeranaias/glial-tui/internal/session"
)

// =============================================================================
// SESSION MESSAGES
// =============================================================================

// TranscriptChangedMsg asks the view to re-read the transcript. It carries
// no data; the transcript snapshot is the source of truth.
type TranscriptChangedMsg struct{}

// TurnEndedMsg reports a finished turn.
type TurnEndedMsg struct {
	Result session.TurnResult
}

// =============================================================================
// ARCHIVE MESSAGES
// =============================================================================

// SavedMsg reports the result of archiving the transcript.
type SavedMsg struct {
	ID  string
	Err error
}

// ExportedMsg reports the result of exporting the transcript.
type ExportedMsg struct {
	Path string
	Err  error
}

// =============================================================================
// CONFIG MESSAGES
// =============================================================================

// ConfigChangedMsg carries a configuration reloaded from disk.
type ConfigChangedMsg struct {
	Config *config.Config
}
