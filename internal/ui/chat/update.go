// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/glial-tui/internal/session"
)

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.resize()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case TranscriptChangedMsg:
		m.running = m.ctrl.Busy()
		m.refresh(false)
		return m, nil

	case TurnEndedMsg:
		return m.handleTurnEnded(msg.Result), nil

	case SavedMsg:
		return m.handleSaved(msg), nil

	case ExportedMsg:
		return m.handleExported(msg), nil

	case ConfigChangedMsg:
		if msg.Config != nil {
			m.applyConfig(msg.Config)
			m = m.withNotice("configuration reloaded")
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.running {
			m.ctrl.Cancel()
			return m.withNotice("stopping..."), nil
		}
		m.notice = ""
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.Save):
		return m.save()

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.resize()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
		return m, nil

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input as a prompt or runs it as a command. A prompt
// sent while a turn is running preempts it.
func (m Model) submit() (tea.Model, tea.Cmd) {
	raw := m.input.Value()
	text := strings.TrimSpace(raw)
	if text == "" {
		return m, nil
	}
	m.input.Reset()

	if IsCommand(text) {
		return m.handleCommand(text)
	}
	if strings.HasPrefix(text, "//") {
		text = text[1:]
	}

	m.ctrl.SubmitPrompt(text)
	m.running = true
	m.notice = ""
	m.refresh(true)
	return m, nil
}

// =============================================================================
// TURN RESULTS
// =============================================================================

func (m Model) handleTurnEnded(res session.TurnResult) Model {
	// A preempted turn ends after its successor started; only the latest
	// turn drives the status bar.
	if res.Generation != m.ctrl.Generation() {
		return m
	}
	m.running = m.ctrl.Busy()
	m.last = &res
	m.refresh(false)

	switch res.Status {
	case session.StatusFailed:
		return m.withError(fmt.Sprintf("turn failed: %v", res.Err))
	case session.StatusCancelled:
		return m.withNotice("turn stopped")
	}
	if res.Dropped > 0 || res.Malformed > 0 {
		return m.withNotice(fmt.Sprintf("%d deltas dropped, %d frames malformed", res.Dropped, res.Malformed))
	}
	m.notice = ""
	return m
}
