// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestNewTheme_ForcedBackground(t *testing.T) {
	dark := NewTheme(ThemeDark)
	if !dark.IsDark {
		t.Error("dark theme should report IsDark")
	}
	if dark.GlamourStyle() != "dark" || dark.ChromaStyle() != "catppuccin-mocha" {
		t.Errorf("dark styles = %q, %q", dark.GlamourStyle(), dark.ChromaStyle())
	}

	light := NewTheme("LIGHT")
	if light.IsDark {
		t.Error("light theme should not report IsDark")
	}
	if light.GlamourStyle() != "light" || light.ChromaStyle() != "catppuccin-latte" {
		t.Errorf("light styles = %q, %q", light.GlamourStyle(), light.ChromaStyle())
	}
}

func TestThemeStylesRenderText(t *testing.T) {
	theme := NewTheme(ThemeDark)

	styles := []struct {
		name  string
		style lipgloss.Style
	}{
		{"UserBubble", theme.UserBubble},
		{"AssistantBubble", theme.AssistantBubble},
		{"ErrorBubble", theme.ErrorBubble},
		{"Reasoning", theme.Reasoning},
		{"ToolCall", theme.ToolCall},
		{"StatusBar", theme.StatusBar},
		{"InputContainer", theme.InputContainer},
	}

	for _, s := range styles {
		if !strings.Contains(s.style.Render("payload"), "payload") {
			t.Errorf("%s style dropped its content", s.name)
		}
	}
}

func TestBubblesHaveLeftRule(t *testing.T) {
	theme := NewTheme(ThemeDark)

	for name, style := range map[string]lipgloss.Style{
		"user":      theme.UserBubble,
		"assistant": theme.AssistantBubble,
		"error":     theme.ErrorBubble,
	} {
		if !style.GetBorderLeft() {
			t.Errorf("%s bubble should draw a left border", name)
		}
		if style.GetBorderTop() || style.GetBorderBottom() {
			t.Errorf("%s bubble should only draw a left border", name)
		}
	}
}

func TestBubbleWidth(t *testing.T) {
	theme := NewTheme(ThemeDark)

	theme.SetSize(100, 40)
	if got := theme.BubbleWidth(); got != 98 {
		t.Errorf("BubbleWidth() = %d, want 98", got)
	}

	theme.SetSize(10, 5)
	if got := theme.BubbleWidth(); got != 20 {
		t.Errorf("BubbleWidth() = %d, want minimum 20", got)
	}
}

func TestThinkingSpinner(t *testing.T) {
	s := NewTheme(ThemeDark).ThinkingSpinner()
	if len(s.Spinner.Frames) == 0 {
		t.Fatal("spinner has no frames")
	}
	if s.Spinner.FPS <= 0 {
		t.Error("spinner FPS should be positive")
	}
}

func TestStatusRenderers(t *testing.T) {
	tests := []struct {
		name   string
		render func(string) string
		marker string
	}{
		{"success", RenderSuccess, StatusIndicators.Success},
		{"error", RenderError, StatusIndicators.Error},
		{"warning", RenderWarning, StatusIndicators.Warning},
		{"info", RenderInfo, StatusIndicators.Info},
	}

	for _, tt := range tests {
		out := tt.render("saved")
		if !strings.Contains(out, tt.marker) || !strings.Contains(out, "saved") {
			t.Errorf("%s: %q lacks marker or message", tt.name, out)
		}
	}
	if !strings.Contains(RenderMuted("12:30"), "12:30") {
		t.Error("RenderMuted dropped its content")
	}
}
