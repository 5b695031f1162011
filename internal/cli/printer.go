// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/glial-tui/internal/transcript"
)

// =============================================================================
// INCREMENTAL TRANSCRIPT PRINTER
// =============================================================================

// printer writes a growing transcript to a line-oriented stream. Each
// Flush prints only what was appended since the last one. Parts of
// different bubbles can grow in turn; switching to another part starts a
// new line with that part's header again.
type printer struct {
	w             io.Writer
	styled        bool
	showReasoning bool

	progress map[string][]int // bytes printed per part, by bubble id; -1 before the part's header
	cursor   position
	midLine  bool
}

type position struct {
	bubble string
	part   int
}

func newPrinter(w io.Writer, styled, showReasoning bool) *printer {
	return &printer{
		w:             w,
		styled:        styled,
		showReasoning: showReasoning,
		progress:      make(map[string][]int),
		cursor:        position{part: -1},
	}
}

// Flush prints what bubbles hold beyond what was already printed. User
// bubbles are skipped; the user typed them.
func (p *printer) Flush(bubbles []transcript.Bubble) {
	for _, b := range bubbles {
		if b.Role == transcript.RoleUser {
			continue
		}
		done, seen := p.progress[b.ID]
		if b.IsError {
			if !seen {
				p.progress[b.ID] = nil
				p.startLine()
				p.write(ErrorStyle, transcript.ErrorText)
				p.Finish()
			}
			continue
		}

		for i, part := range b.Parts {
			if i >= len(done) {
				done = append(done, -1) // not visited
			}
			content := part.Content()
			if done[i] >= len(content) {
				continue
			}
			from := max(done[i], 0)
			p.moveTo(position{b.ID, i}, part, done[i] >= 0)
			done[i] = len(content)
			if part.Kind() == transcript.KindReasoning && !p.showReasoning {
				continue
			}
			p.write(styleFor(part), content[from:])
		}
		p.progress[b.ID] = done
	}
}

// Finish ends the current line.
func (p *printer) Finish() {
	p.endLine()
	p.cursor = position{part: -1}
}

func (p *printer) moveTo(pos position, part transcript.Part, continued bool) {
	if p.cursor == pos {
		return
	}
	p.startLine()
	p.cursor = pos

	header := partHeader(part, p.showReasoning)
	if continued && header == "" {
		header = "..."
	}
	if header != "" {
		p.write(headerStyle(part), header)
		p.writeRaw(" ")
	}
}

func (p *printer) startLine() {
	if p.midLine {
		p.writeRaw("\n")
		p.midLine = false
	}
}

func (p *printer) endLine() {
	if p.midLine {
		p.writeRaw("\n")
		p.midLine = false
	}
}

func (p *printer) write(style lipgloss.Style, s string) {
	if s == "" {
		return
	}
	if p.styled {
		s = style.Render(s)
	}
	p.writeRaw(s)
}

func (p *printer) writeRaw(s string) {
	if s == "" {
		return
	}
	io.WriteString(p.w, s)
	p.midLine = s[len(s)-1] != '\n'
}

func partHeader(part transcript.Part, showReasoning bool) string {
	switch pt := part.(type) {
	case transcript.ReasoningPart:
		if !showReasoning {
			return "[thinking...]"
		}
		return "[thinking]"
	case transcript.FunctionCallPart:
		return fmt.Sprintf("[function %s%s]", pt.Name, callSuffix(pt.CallID))
	case transcript.CustomToolCallPart:
		return fmt.Sprintf("[tool %s%s]", pt.Name, callSuffix(pt.CallID))
	}
	return ""
}

func callSuffix(id string) string {
	if id == "" {
		return ""
	}
	return " " + id
}

func headerStyle(part transcript.Part) lipgloss.Style {
	if part.Kind().IsToolCall() {
		return ToolStyle
	}
	return DimStyle
}

func styleFor(part transcript.Part) lipgloss.Style {
	switch part.Kind() {
	case transcript.KindReasoning:
		return ReasoningStyle
	case transcript.KindText:
		return lipgloss.NewStyle()
	}
	return DimStyle
}
