// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/glial-tui/internal/session"
	"github.com/jeranaias/glial-tui/internal/util"
)

// =============================================================================
// MAIN RENDER
// =============================================================================

// View implements tea.Model.
// Layout: header (1 line) + messages (viewport) + [help] + input + status (1 line).
// The viewport height is computed in resize(); change both together.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Initializing..."
	}

	sections := []string{m.renderHeader(), m.viewport.View()}
	if m.showHelp {
		sections = append(sections, m.renderHelp())
	}
	sections = append(sections, m.renderInput(), m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// helpHeight is the number of rows renderHelp occupies.
func helpHeight() int {
	rows := 0
	for _, group := range DefaultKeyMap().FullHelp() {
		rows = max(rows, len(group))
	}
	// blank line and title, then the command list
	return rows + 2 + len(commands)
}

// =============================================================================
// HEADER
// =============================================================================

// renderHeader renders the title, the session target and the token total.
func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("glial")
	if m.version != "" {
		title += m.theme.HeaderInfo.Render(" " + m.version)
	}

	target := m.cfg.Server.Session
	if m.cfg.Server.Conversation != "" {
		target = "conversation " + m.cfg.Server.Conversation
	}
	info := m.theme.HeaderInfo.Render(fmt.Sprintf(" | %s | %s", m.cfg.Server.URL, target))

	right := ""
	if usage, ok := m.ctrl.Usage(); ok {
		right = m.theme.HeaderInfo.Render(formatTokens(usage))
	}

	inner := m.width - 2
	left := title + info
	gap := inner - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	line := left + strings.Repeat(" ", gap) + right
	return m.theme.Header.Width(m.width).MaxWidth(m.width).MaxHeight(1).Render(line)
}

// =============================================================================
// HELP AND INPUT
// =============================================================================

func (m Model) renderHelp() string {
	keys := m.help.FullHelpView(m.keys.FullHelp())
	body := "\n" + keys + "\n" + m.theme.Help.Render("Commands") + "\n" + m.theme.Help.Render(CommandHelp())
	return lipgloss.NewStyle().MaxWidth(m.width).Height(helpHeight()).MaxHeight(helpHeight()).Render(body)
}

func (m Model) renderInput() string {
	return m.theme.InputContainer.Width(m.width).Render(m.input.View())
}

// =============================================================================
// STATUS BAR
// =============================================================================

// renderStatusBar renders the turn state on the left and the notice or key
// hints on the right. It never wraps.
func (m Model) renderStatusBar() string {
	sep := m.theme.StatusKey.Render(" | ")

	var left string
	switch {
	case m.running:
		left = m.theme.StatusRunning.Render(" " + m.spinner.View() + " streaming")
	case m.last != nil:
		left = " " + m.renderLastTurn(*m.last, sep)
	default:
		left = m.theme.StatusValue.Render(" ready")
	}

	var right string
	switch {
	case m.notice != "" && m.noticeErr:
		right = m.theme.StatusFailed.Render(m.notice)
	case m.notice != "":
		right = m.theme.Notice.Inherit(m.theme.StatusBar).Render(m.notice)
	default:
		right = m.theme.StatusKey.Render("enter send  esc stop  f1 help ")
	}

	room := m.width - lipgloss.Width(left) - 1
	if lipgloss.Width(right) > room {
		// Notices are plain text; cut them by display width.
		plain := m.notice
		if plain == "" {
			plain = "f1 help"
		}
		right = m.theme.StatusKey.Render(util.TruncateWidth(plain, max(room, 0)))
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	line := left + m.theme.StatusBar.Render(strings.Repeat(" ", gap)) + right
	return m.theme.StatusBar.MaxWidth(m.width).MaxHeight(1).Render(line)
}

func (m Model) renderLastTurn(res session.TurnResult, sep string) string {
	var status string
	switch res.Status {
	case session.StatusCompleted:
		status = m.theme.StatusDone.Render("done")
	case session.StatusFailed:
		status = m.theme.StatusFailed.Render("failed")
	case session.StatusCancelled:
		status = m.theme.StatusKey.Render("stopped")
	default:
		status = m.theme.StatusValue.Render(res.Status.String())
	}

	parts := []string{status, m.theme.StatusValue.Render(formatDuration(res.Duration))}
	if res.HasUsage {
		parts = append(parts, m.theme.StatusValue.Render(formatTokens(res.Usage)))
	}
	return strings.Join(parts, sep)
}

// =============================================================================
// FORMATTING
// =============================================================================

// formatTokens renders a token count with thousands separators.
func formatTokens(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var sb strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	out := sb.String() + " tok"
	if neg {
		out = "-" + out
	}
	return out
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
