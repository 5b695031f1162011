// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme names accepted by NewTheme.
const (
	ThemeDark  = "dark"
	ThemeLight = "light"
	ThemeAuto  = "auto"
)

// Theme holds every style the chat view renders with.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// HEADER
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderInfo  lipgloss.Style

	// ==========================================================================
	// BUBBLES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Timestamp      lipgloss.Style

	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	ErrorBubble     lipgloss.Style

	// ==========================================================================
	// PARTS
	// ==========================================================================

	Reasoning      lipgloss.Style
	ReasoningLabel lipgloss.Style
	ToolCall       lipgloss.Style
	ToolName       lipgloss.Style
	ToolStatus     lipgloss.Style
	Collapsed      lipgloss.Style

	// ==========================================================================
	// INPUT AND STATUS BAR
	// ==========================================================================

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style

	StatusBar     lipgloss.Style
	StatusKey     lipgloss.Style
	StatusValue   lipgloss.Style
	StatusRunning lipgloss.Style
	StatusDone    lipgloss.Style
	StatusFailed  lipgloss.Style

	Spinner lipgloss.Style
	Help    lipgloss.Style
	Notice  lipgloss.Style
}

// NewTheme builds the theme called name. "auto" (or anything unknown)
// follows the terminal background.
func NewTheme(name string) *Theme {
	profile := termenv.ColorProfile()

	var isDark bool
	switch strings.ToLower(name) {
	case ThemeDark:
		isDark = true
	case ThemeLight:
		isDark = false
	default:
		isDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{
		IsDark:       isDark,
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	// Header
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)

	t.HeaderTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.HeaderInfo = lipgloss.NewStyle().
		Foreground(TextSecondary)

	// Bubble labels
	t.UserLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.AssistantLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.Timestamp = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Bubbles carry a left rule in their role color.
	t.UserBubble = lipgloss.NewStyle().
		Foreground(TextPrimary).
		BorderStyle(lipgloss.ThickBorder()).
		BorderLeft(true).
		BorderForeground(UserBorder).
		PaddingLeft(1)

	t.AssistantBubble = lipgloss.NewStyle().
		Foreground(TextPrimary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(AssistantBorder).
		PaddingLeft(1)

	t.ErrorBubble = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true).
		BorderStyle(lipgloss.ThickBorder()).
		BorderLeft(true).
		BorderForeground(ErrorBorder).
		PaddingLeft(1)

	// Parts
	t.Reasoning = lipgloss.NewStyle().
		Foreground(ReasoningFg).
		Italic(true)

	t.ReasoningLabel = lipgloss.NewStyle().
		Foreground(TextMuted).
		Bold(true)

	t.ToolCall = lipgloss.NewStyle().
		Foreground(ToolFg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ToolBorder).
		Padding(0, 1)

	t.ToolName = lipgloss.NewStyle().
		Bold(true).
		Foreground(Amber)

	t.ToolStatus = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.Collapsed = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	// Input
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(Overlay)

	t.InputPrompt = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	// Status bar
	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim)

	t.StatusKey = lipgloss.NewStyle().
		Foreground(TextMuted).
		Background(SurfaceDim)

	t.StatusValue = lipgloss.NewStyle().
		Foreground(TextPrimary).
		Background(SurfaceDim)

	t.StatusRunning = lipgloss.NewStyle().
		Foreground(Cyan).
		Background(SurfaceDim).
		Bold(true)

	t.StatusDone = lipgloss.NewStyle().
		Foreground(Emerald).
		Background(SurfaceDim)

	t.StatusFailed = lipgloss.NewStyle().
		Foreground(Rose).
		Background(SurfaceDim).
		Bold(true)

	t.Spinner = lipgloss.NewStyle().
		Foreground(Purple)

	t.Help = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.Notice = lipgloss.NewStyle().
		Foreground(Amber)
}

// SetSize updates the layout dimensions.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// BubbleWidth is the text width inside a bubble: the view width minus the
// left rule and padding.
func (t *Theme) BubbleWidth() int {
	w := t.Width - 2
	if w < 20 {
		w = 20
	}
	return w
}

// GlamourStyle names the glamour standard style matching the background.
func (t *Theme) GlamourStyle() string {
	if t.IsDark {
		return "dark"
	}
	return "light"
}

// ChromaStyle names the chroma style used for tool call payloads.
func (t *Theme) ChromaStyle() string {
	if t.IsDark {
		return "catppuccin-mocha"
	}
	return "catppuccin-latte"
}

// ThinkingSpinner is the spinner shown while a turn streams.
func (t *Theme) ThinkingSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Spinner{
		Frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		FPS:    spinner.Dot.FPS,
	}
	s.Style = t.Spinner
	return s
}
