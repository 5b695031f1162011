// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/glial-tui/internal/config"
	"github.com/jeranaias/glial-tui/internal/session"
	"github.com/jeranaias/glial-tui/internal/ui/styles"
)

// Layout constants.
const (
	headerHeight    = 1
	statusBarHeight = 1
	inputHeight     = 3
	inputBorder     = 1
	maxPromptLength = 32 * 1024
)

// Options configures a chat Model.
type Options struct {
	// Controller runs turns. Required.
	Controller *session.Controller

	// Config supplies UI settings and the session shown in the header.
	Config *config.Config

	// Theme defaults to NewTheme(Config.UI.Theme).
	Theme *styles.Theme

	// Archive enables /save and Ctrl+S. May be nil.
	Archive Archiver

	// Context carries the logger and bounds archive writes.
	Context context.Context

	Version string
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the bubbletea model of the chat view. It renders the session's
// transcript and never mutates it; prompts and cancellation go through the
// controller.
type Model struct {
	ctx     context.Context
	ctrl    *session.Controller
	archive Archiver
	cfg     *config.Config
	version string

	theme    *styles.Theme
	keys     KeyMap
	renderer *Renderer

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	help     help.Model

	width, height int
	ready         bool

	running  bool
	showHelp bool
	quitting bool

	notice    string
	noticeErr bool

	last      *session.TurnResult
	archiveID string
	created   time.Time
}

// New creates the chat model.
func New(opts Options) Model {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme(cfg.UI.Theme)
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	ta := textarea.New()
	ta.Placeholder = "Ask anything. Enter sends, Alt+Enter adds a line, /help for commands."
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.CharLimit = maxPromptLength
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = DefaultKeyMap().Newline
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.Focus()

	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true

	return Model{
		ctx:      ctx,
		ctrl:     opts.Controller,
		archive:  opts.Archive,
		cfg:      cfg,
		version:  opts.Version,
		theme:    theme,
		keys:     DefaultKeyMap(),
		renderer: NewRenderer(theme, 78, cfg.UI.Markdown, cfg.UI.ShowReasoning),
		viewport: vp,
		input:    ta,
		spinner:  theme.ThinkingSpinner(),
		help:     help.New(),
		running:  opts.Controller.Busy(),
		created:  time.Now(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, func() tea.Msg { return TranscriptChangedMsg{} })
}

// =============================================================================
// STATE HELPERS
// =============================================================================

func (m Model) withNotice(s string) Model {
	m.notice, m.noticeErr = s, false
	return m
}

func (m Model) withError(s string) Model {
	m.notice, m.noticeErr = s, true
	return m
}

// resize lays out the components for the current window size.
func (m *Model) resize() {
	if m.width == 0 {
		return
	}
	m.theme.SetSize(m.width, m.height)

	reserved := headerHeight + statusBarHeight + inputHeight + inputBorder
	if m.showHelp {
		reserved += helpHeight()
	}
	vpHeight := m.height - reserved
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = vpHeight

	m.input.SetWidth(m.width)
	m.help.Width = m.width
	m.renderer.SetWidth(m.theme.BubbleWidth())
	m.refresh(false)
}

// refresh re-renders the transcript into the viewport. The view follows the
// stream when it was already at the bottom, or when follow is set.
func (m *Model) refresh(follow bool) {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderer.Render(m.ctrl.Transcript().Snapshot()))
	if follow || atBottom {
		m.viewport.GotoBottom()
	}
}

// applyConfig takes UI settings from a reloaded configuration.
func (m *Model) applyConfig(cfg *config.Config) {
	if cfg.UI.Theme != m.cfg.UI.Theme {
		m.theme = styles.NewTheme(cfg.UI.Theme)
		m.renderer.SetTheme(m.theme)
		m.spinner.Style = m.theme.Spinner
	}
	m.renderer.SetShowReasoning(cfg.UI.ShowReasoning)
	// Server settings only apply to a new session.
	ui := cfg.UI
	next := m.cfg.Clone()
	next.UI = ui
	m.cfg = next
	m.resize()
}
