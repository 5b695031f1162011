// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the glial color palette and lipgloss theme.

All colors are lipgloss AdaptiveColor values, so one palette serves both
light and dark terminals. NewTheme("auto") asks termenv for the terminal
background; "dark" and "light" force a side.

# Roles

	Cyan    - the user, the brand, a running turn
	Purple  - assistant output
	Amber   - tool calls, cancelled turns
	Emerald - completed turns
	Rose    - errors

Reasoning is rendered in italics with ReasoningFg so it reads as an aside
to the answer that follows it.

# Usage

	theme := styles.NewTheme(cfg.UI.Theme)
	theme.SetSize(width, height)
	fmt.Println(theme.UserLabel.Render("You"))
*/
package styles
