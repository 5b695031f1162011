// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// COMMAND HANDLER REGISTRY
// =============================================================================

// CommandHandler handles one slash command.
type CommandHandler func(m Model, args []string) (Model, tea.Cmd)

type command struct {
	handler CommandHandler
	usage   string
	desc    string
}

// commands maps command names to their handlers. Aliases share an entry's
// handler.
var commands = map[string]command{
	"help":      {handleHelpCommand, "/help", "show commands and keys"},
	"save":      {handleSaveCommand, "/save", "archive this transcript"},
	"export":    {handleExportCommand, "/export <path>", "write Markdown, or JSON for .json paths"},
	"reasoning": {handleReasoningCommand, "/reasoning", "show or hide reasoning"},
	"cancel":    {handleCancelCommand, "/cancel", "stop the running turn"},
	"quit":      {handleQuitCommand, "/quit", "leave glial"},
}

var commandAliases = map[string]string{
	"h":    "help",
	"?":    "help",
	"s":    "save",
	"e":    "export",
	"r":    "reasoning",
	"q":    "quit",
	"exit": "quit",
}

// IsCommand reports whether input is a slash command rather than a prompt.
// A leading "//" sends the rest as a prompt starting with "/".
func IsCommand(input string) bool {
	return strings.HasPrefix(input, "/") && !strings.HasPrefix(input, "//")
}

// lookupCommand resolves name or an alias.
func lookupCommand(name string) (command, bool) {
	name = strings.ToLower(name)
	if target, ok := commandAliases[name]; ok {
		name = target
	}
	c, ok := commands[name]
	return c, ok
}

// handleCommand runs the slash command in input.
func (m Model) handleCommand(input string) (Model, tea.Cmd) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return m, nil
	}
	name := strings.TrimPrefix(parts[0], "/")

	cmd, ok := lookupCommand(name)
	if !ok {
		m = m.withError(fmt.Sprintf("unknown command /%s, try /help", name))
		return m, nil
	}
	return cmd.handler(m, parts[1:])
}

// CommandHelp lists the commands, one per line.
func CommandHelp() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(&sb, "  %-16s %s\n", c.usage, c.desc)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// =============================================================================
// HANDLERS
// =============================================================================

func handleHelpCommand(m Model, _ []string) (Model, tea.Cmd) {
	m.showHelp = !m.showHelp
	m.resize()
	return m, nil
}

func handleSaveCommand(m Model, _ []string) (Model, tea.Cmd) {
	return m.save()
}

func handleExportCommand(m Model, args []string) (Model, tea.Cmd) {
	if len(args) == 0 {
		return m.withError("usage: /export <path>"), nil
	}
	return m.export(strings.Join(args, " "))
}

func handleReasoningCommand(m Model, _ []string) (Model, tea.Cmd) {
	show := !m.renderer.ShowReasoning()
	m.renderer.SetShowReasoning(show)
	m.refresh(false)
	if show {
		return m.withNotice("reasoning shown"), nil
	}
	return m.withNotice("reasoning hidden"), nil
}

func handleCancelCommand(m Model, _ []string) (Model, tea.Cmd) {
	m.ctrl.Cancel()
	return m, nil
}

func handleQuitCommand(m Model, _ []string) (Model, tea.Cmd) {
	m.quitting = true
	return m, tea.Quit
}
