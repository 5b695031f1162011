// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.4.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdChat
	CmdHistory
	CmdShow
	CmdServe
	CmdVersion
	CmdHelp
)

var commandNames = map[Command]string{
	CmdTUI:     "tui",
	CmdAsk:     "ask",
	CmdChat:    "chat",
	CmdHistory: "history",
	CmdShow:    "show",
	CmdServe:   "serve",
	CmdVersion: "version",
	CmdHelp:    "help",
}

// String returns the command name.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Args holds the global flags and the command's own arguments.
type Args struct {
	// Global flags
	ConfigPath   string
	Server       string
	Session      string
	Conversation string
	LogFile      string
	Debug        bool
	JSON         bool

	// Raw holds the arguments after the command name, global flags removed.
	Raw []string
}

const usageText = `glial - terminal client for streaming LLM chat backends

Usage:
  glial [tui] [--resume ID]        Full-screen chat (default)
  glial ask "prompt"               Run one turn and print the transcript
  glial chat                       Line-based chat
  glial history [--limit N] [--search TEXT]
                                   List archived transcripts
  glial history rm <id|#>          Remove an archived transcript
  glial show <id|#> [--json]       Print an archived transcript
  glial serve [--addr ADDR] [--script FILE] [--db FILE] [--token TOKEN]
                                   Run the replay backend
  glial version                    Print version information

Global flags:
  --config FILE          Config file (default: ~/.glial/config.toml)
  --server URL           Backend URL (GLIAL_SERVER_URL)
  --session ID           Backend session (GLIAL_SESSION)
  --conversation ID      Stored conversation instead of a session (GLIAL_CONVERSATION)
  --debug                Debug logging (GLIAL_DEBUG)
  --log-file FILE        Log file (GLIAL_LOG_FILE)
  --json                 JSON output for ask, history, show and version

Chat keys:
  Enter sends, Alt+Enter adds a line, Esc stops the running turn,
  Ctrl+S archives, F1 shows help, Ctrl+C quits.
`

// PrintUsage writes the usage text to stdout.
func PrintUsage() {
	fmt.Print(usageText)
}

// =============================================================================
// PARSING
// =============================================================================

// Parse splits argv (without the program name) into a command and its
// arguments. Global flags may appear anywhere.
func Parse(argv []string) (Command, Args, error) {
	remaining, args, err := parseGlobalFlags(argv)
	if err != nil {
		return CmdHelp, args, err
	}
	if len(remaining) == 0 {
		return CmdTUI, args, nil
	}

	name, rest := remaining[0], remaining[1:]
	args.Raw = rest
	switch name {
	case "tui":
		return CmdTUI, args, nil
	case "ask", "a":
		return CmdAsk, args, nil
	case "chat", "c":
		return CmdChat, args, nil
	case "history", "ls":
		return CmdHistory, args, nil
	case "show":
		return CmdShow, args, nil
	case "serve":
		return CmdServe, args, nil
	case "version", "-v", "--version":
		return CmdVersion, args, nil
	case "help", "-h", "--help":
		return CmdHelp, args, nil
	}
	if strings.HasPrefix(name, "-") {
		// Command flags without a command belong to the TUI.
		args.Raw = remaining
		return CmdTUI, args, nil
	}
	return CmdHelp, args, NewUsageError(fmt.Sprintf("unknown command %q", name))
}

// globalValueFlags take a value; the others are booleans.
var globalValueFlags = map[string]func(*Args, string){
	"config":       func(a *Args, v string) { a.ConfigPath = v },
	"server":       func(a *Args, v string) { a.Server = v },
	"session":      func(a *Args, v string) { a.Session = v },
	"conversation": func(a *Args, v string) { a.Conversation = v },
	"log-file":     func(a *Args, v string) { a.LogFile = v },
}

// parseGlobalFlags extracts global flags from args and returns the rest.
func parseGlobalFlags(argv []string) ([]string, Args, error) {
	var (
		args      Args
		remaining []string
	)
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if arg == "--" {
			remaining = append(remaining, argv[i:]...)
			break
		}
		switch arg {
		case "--debug":
			args.Debug = true
			continue
		case "--json":
			args.JSON = true
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		set, ok := globalValueFlags[name]
		if !strings.HasPrefix(arg, "--") || !ok {
			remaining = append(remaining, arg)
			continue
		}
		if !hasValue {
			if i+1 >= len(argv) {
				return nil, args, NewUsageError(fmt.Sprintf("--%s requires a value", name))
			}
			i++
			value = argv[i]
		}
		set(&args, value)
	}
	return remaining, args, nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// Run parses argv, runs the command and returns the process exit code.
func Run(ctx context.Context, argv []string) int {
	cmd, args, err := Parse(argv)
	if err == nil {
		err = dispatch(ctx, cmd, args)
	}
	if err != nil {
		DisplayError(err)
		if IsUsageError(err) {
			fmt.Fprintln(os.Stderr, DimStyle.Render("Run 'glial help' for usage."))
		}
	}
	return GetExitCode(err)
}

func dispatch(ctx context.Context, cmd Command, args Args) error {
	switch cmd {
	case CmdTUI:
		return HandleTUI(ctx, args)
	case CmdAsk:
		return HandleAsk(ctx, args)
	case CmdChat:
		return HandleChat(ctx, args)
	case CmdHistory:
		return HandleHistory(ctx, args)
	case CmdShow:
		return HandleShow(ctx, args)
	case CmdServe:
		return HandleServe(ctx, args)
	case CmdVersion:
		return HandleVersion(os.Stdout, args)
	default:
		PrintUsage()
		return nil
	}
}

// =============================================================================
// VERSION
// =============================================================================

// VersionData is the JSON shape of "glial version --json".
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HandleVersion prints version information.
func HandleVersion(w io.Writer, args Args) error {
	data := VersionData{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if args.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	fmt.Fprintf(w, "glial %s\n", data.Version)
	fmt.Fprintf(w, "  commit:   %s\n", data.GitCommit)
	fmt.Fprintf(w, "  built:    %s\n", data.BuildDate)
	fmt.Fprintf(w, "  go:       %s\n", data.GoVersion)
	fmt.Fprintf(w, "  platform: %s\n", data.Platform)
	return nil
}
