// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/glial-tui/internal/transcript"
	"github.com/jeranaias/glial-tui/internal/ui/styles"
)

// =============================================================================
// BUBBLE RENDERER
// =============================================================================

// Renderer turns transcript snapshots into view content. Rendered bubbles
// are cached by id and a content signature; parts only grow, so the
// signature is the part kinds and lengths.
type Renderer struct {
	theme         *styles.Theme
	width         int
	markdown      bool
	showReasoning bool

	md    *glamour.TermRenderer
	cache map[string]cachedBubble
}

type cachedBubble struct {
	sig string
	out string
}

// NewRenderer creates a renderer for content width.
func NewRenderer(theme *styles.Theme, width int, markdown, showReasoning bool) *Renderer {
	r := &Renderer{
		theme:         theme,
		markdown:      markdown,
		showReasoning: showReasoning,
		cache:         make(map[string]cachedBubble),
	}
	r.SetWidth(width)
	return r
}

// SetWidth changes the wrap width and drops the cache.
func (r *Renderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}
	if width == r.width && r.md != nil {
		return
	}
	r.width = width
	r.md = nil
	r.invalidate()
}

// SetShowReasoning toggles reasoning display.
func (r *Renderer) SetShowReasoning(show bool) {
	if show != r.showReasoning {
		r.showReasoning = show
		r.invalidate()
	}
}

// ShowReasoning reports whether reasoning is displayed.
func (r *Renderer) ShowReasoning() bool {
	return r.showReasoning
}

// SetTheme swaps the theme and drops the cache.
func (r *Renderer) SetTheme(theme *styles.Theme) {
	r.theme = theme
	r.md = nil
	r.invalidate()
}

func (r *Renderer) invalidate() {
	clear(r.cache)
}

// Render renders every bubble. A role label is shown where the role
// changes.
func (r *Renderer) Render(bubbles []transcript.Bubble) string {
	if len(bubbles) == 0 {
		return ""
	}

	seen := make(map[string]struct{}, len(bubbles))
	blocks := make([]string, 0, len(bubbles))
	for i, b := range bubbles {
		label := i == 0 || bubbles[i-1].Role != b.Role
		seen[b.ID] = struct{}{}

		sig := signature(b, label)
		if c, ok := r.cache[b.ID]; ok && c.sig == sig {
			blocks = append(blocks, c.out)
			continue
		}
		out := r.RenderBubble(b, label)
		r.cache[b.ID] = cachedBubble{sig: sig, out: out}
		blocks = append(blocks, out)
	}

	for id := range r.cache {
		if _, ok := seen[id]; !ok {
			delete(r.cache, id)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func signature(b transcript.Bubble, label bool) string {
	var sb strings.Builder
	sb.WriteString(string(b.Role))
	if label {
		sb.WriteString("+l")
	}
	if b.IsError {
		sb.WriteString("+e")
	}
	for _, p := range b.Parts {
		sb.WriteByte('|')
		sb.WriteString(strconv.Itoa(int(p.Kind())))
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(len(p.Content())))
	}
	return sb.String()
}

// RenderBubble renders one bubble, with its role label when label is set.
func (r *Renderer) RenderBubble(b transcript.Bubble, label bool) string {
	var sb strings.Builder
	if label {
		sb.WriteString(r.renderLabel(b))
		sb.WriteByte('\n')
	}

	switch {
	case b.IsError:
		sb.WriteString(r.theme.ErrorBubble.Render(b.Text()))
	case b.Role == transcript.RoleUser:
		sb.WriteString(r.theme.UserBubble.Width(r.width).Render(b.Text()))
	default:
		sb.WriteString(r.theme.AssistantBubble.Render(r.renderParts(b.Parts)))
	}
	return sb.String()
}

func (r *Renderer) renderLabel(b transcript.Bubble) string {
	name := b.Role.DisplayName()
	style := r.theme.AssistantLabel
	if b.Role == transcript.RoleUser {
		style = r.theme.UserLabel
	}
	label := style.Render(name)
	if !b.CreatedAt.IsZero() {
		label += " " + r.theme.Timestamp.Render(b.CreatedAt.Format("15:04"))
	}
	return label
}

func (r *Renderer) renderParts(parts []transcript.Part) string {
	inner := r.width - 2
	if len(parts) == 0 {
		return r.theme.Collapsed.Render("...")
	}

	blocks := make([]string, 0, len(parts))
	for _, p := range parts {
		switch part := p.(type) {
		case transcript.TextPart:
			blocks = append(blocks, r.renderText(part.Text, inner))
		case transcript.ReasoningPart:
			blocks = append(blocks, r.renderReasoning(part.Text, inner))
		case transcript.FunctionCallPart:
			blocks = append(blocks, r.renderToolCall("function", part.Name, part.CallID,
				highlightArguments(part.Text, r.theme.ChromaStyle()), inner))
		case transcript.CustomToolCallPart:
			blocks = append(blocks, r.renderToolCall("tool", part.Name, part.CallID, part.Text, inner))
		}
	}
	return strings.Join(blocks, "\n")
}

func (r *Renderer) renderText(text string, width int) string {
	if text == "" {
		return r.theme.Collapsed.Render("...")
	}
	if r.markdown {
		if out, ok := r.renderMarkdown(text, width); ok {
			return out
		}
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}

func (r *Renderer) renderMarkdown(text string, width int) (string, bool) {
	if r.md == nil {
		md, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.theme.GlamourStyle()),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "", false
		}
		r.md = md
	}
	out, err := r.md.Render(text)
	if err != nil {
		return "", false
	}
	return strings.Trim(out, "\n"), true
}

func (r *Renderer) renderReasoning(text string, width int) string {
	if !r.showReasoning {
		return r.theme.Collapsed.Render(fmt.Sprintf("Thinking (%d chars hidden, /reasoning to show)", len([]rune(text))))
	}
	body := text
	if body == "" {
		body = "..."
	}
	return r.theme.ReasoningLabel.Render("Thinking") + "\n" +
		r.theme.Reasoning.Width(width).Render(body)
}

func (r *Renderer) renderToolCall(kind, name, callID, body string, width int) string {
	header := r.theme.ToolName.Render(kind + " " + name)
	if callID != "" {
		header += " " + r.theme.ToolStatus.Render("("+callID+")")
	}
	if body == "" {
		return header
	}
	return header + "\n" + r.theme.ToolCall.MaxWidth(width).Render(body)
}
