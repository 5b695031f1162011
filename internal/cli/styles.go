// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/glial-tui/internal/ui/styles"
)

// init picks the lipgloss color profile from the terminal, NO_COLOR and
// FORCE_COLOR.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Cyan)

	UserStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Cyan)

	AssistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Purple)

	ReasoningStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(styles.ReasoningFg)

	ToolStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Amber)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Rose)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	WarningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	// DimStyle is for hints and secondary information.
	DimStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Cyan)
)

// RenderSeparator renders a horizontal rule of width columns.
func RenderSeparator(width int) string {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	return DimStyle.Render(strings.Repeat("-", width))
}
