// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/glial-tui/internal/config"
	"github.com/jeranaias/glial-tui/internal/storage"
)

// Archiver stores transcripts. storage.Archive implements it.
type Archiver interface {
	Save(ctx context.Context, st *storage.StoredTranscript) (string, error)
}

// =============================================================================
// SAVE AND EXPORT
// =============================================================================

// stored snapshots the transcript with its session metadata. Repeated
// saves reuse the archive id, so they replace the earlier copy.
func (m Model) stored() *storage.StoredTranscript {
	st := storage.NewStoredTranscript(m.ctrl.Transcript().Snapshot())
	st.ID = m.archiveID
	st.CreatedAt = m.created
	st.Server = m.cfg.Server.URL
	if m.cfg.Server.Conversation != "" {
		st.ConversationID = m.cfg.Server.Conversation
	} else {
		st.Session = m.cfg.Server.Session
	}
	if usage, ok := m.ctrl.Usage(); ok {
		st.Usage = usage
	}
	return st
}

// save archives the transcript asynchronously.
func (m Model) save() (Model, tea.Cmd) {
	if m.archive == nil {
		return m.withError("no archive configured"), nil
	}
	if m.ctrl.Transcript().Len() == 0 {
		return m.withError("nothing to save yet"), nil
	}

	ctx, archive, st := m.ctx, m.archive, m.stored()
	return m.withNotice("saving..."), func() tea.Msg {
		id, err := archive.Save(ctx, st)
		return SavedMsg{ID: id, Err: err}
	}
}

func (m Model) handleSaved(msg SavedMsg) Model {
	if msg.Err != nil {
		return m.withError(fmt.Sprintf("save failed: %v", msg.Err))
	}
	m.archiveID = msg.ID
	return m.withNotice("saved as " + msg.ID)
}

// export writes the transcript to path; the format follows the extension.
func (m Model) export(path string) (Model, tea.Cmd) {
	path = filepath.Clean(config.ExpandHome(path))
	st := m.stored()
	return m.withNotice("exporting..."), func() tea.Msg {
		return ExportedMsg{Path: path, Err: storage.WriteExport(path, st)}
	}
}

func (m Model) handleExported(msg ExportedMsg) Model {
	if msg.Err != nil {
		return m.withError(fmt.Sprintf("export failed: %v", msg.Err))
	}
	return m.withNotice("exported to " + msg.Path)
}
