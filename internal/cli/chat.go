// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"goa.design/clue/log"

	"github.com/jeranaias/glial-tui/internal/config"
	"github.com/jeranaias/glial-tui/internal/session"
	"github.com/jeranaias/glial-tui/internal/storage"
)

// Chat keys:
//
//	Ctrl+C   stop the running turn; at the prompt, leave
//	Ctrl+D   leave
//	Up/Down  input history

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineEditor wraps liner with persistent input history.
type lineEditor struct {
	line        *liner.State
	historyFile string
}

func newLineEditor() *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(os.TempDir(), "glial_chat_history")
	if dir, err := config.ConfigDir(); err == nil {
		historyFile = filepath.Join(dir, "chat_history")
	}

	le := &lineEditor{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return le
}

// ReadInput reads one line. Non-empty lines join the history.
func (le *lineEditor) ReadInput(prompt string) (string, error) {
	input, err := le.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		le.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (le *lineEditor) Close() {
	if err := os.MkdirAll(filepath.Dir(le.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(le.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			le.line.WriteHistory(f)
			f.Close()
		}
	}
	le.line.Close()
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// chatSession is the state of one line-based chat.
type chatSession struct {
	env     *env
	ctrl    *session.Controller
	changed chan struct{}
	printer *printer
	out     io.Writer

	archive   *storage.Archive
	archiveID string
}

// HandleChat runs the line-based chat. Each prompt streams to stdout; a
// new prompt is read once the turn ends.
func HandleChat(ctx context.Context, args Args) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, args, logQuiet)
	if err != nil {
		return err
	}
	defer e.close()

	streamer, err := e.streamer()
	if err != nil {
		return err
	}

	cs := &chatSession{
		env:     e,
		changed: make(chan struct{}, 1),
		out:     os.Stdout,
		printer: newPrinter(os.Stdout, ColorsEnabled(), e.cfg.UI.ShowReasoning),
	}
	cs.ctrl = session.New(streamer,
		session.WithContext(e.ctx),
		session.WithOnChange(cs.notify))
	defer cs.ctrl.Close()

	le := newLineEditor()
	defer le.Close()

	cs.printWelcome()
	for {
		input, err := le.ReadInput("> ")
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin all leave.
			fmt.Fprintln(cs.out)
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") && !strings.HasPrefix(input, "//") {
			if quit := cs.command(input); quit {
				break
			}
			continue
		}
		if strings.HasPrefix(input, "//") {
			input = input[1:]
		}
		cs.send(input)
		if e.ctx.Err() != nil {
			break
		}
	}

	if e.cfg.Archive.AutoSave && cs.ctrl.Transcript().Len() > 0 {
		if err := cs.save(); err != nil {
			log.Error(e.ctx, err, log.KV{K: "event", V: "autosave_failed"})
		}
	}
	return nil
}

func (cs *chatSession) notify() {
	select {
	case cs.changed <- struct{}{}:
	default:
	}
}

// send runs one turn. Ctrl+C stops it and returns to the prompt.
func (cs *chatSession) send(prompt string) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	turn := cs.ctrl.SubmitPrompt(prompt)
	follow(cs.ctrl, turn, cs.changed, cs.printer, interrupt)

	res := turn.Result()
	switch res.Status {
	case session.StatusFailed:
		fmt.Fprintln(cs.out, DimStyle.Render(fmt.Sprintf("(%v)", res.Err)))
	case session.StatusCancelled:
		fmt.Fprintln(cs.out, WarningStyle.Render("[stopped]"))
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `Commands:
  /help              show this help
  /save              archive this transcript
  /export <path>     write Markdown, or JSON for .json paths
  /reasoning         show or hide reasoning
  /quit              leave (also Ctrl+D)
Start a prompt with "//" to send a leading "/".`

// command runs a slash command and reports whether the chat should end.
func (cs *chatSession) command(input string) bool {
	fields := strings.Fields(input)
	name, rest := strings.ToLower(strings.TrimPrefix(fields[0], "/")), fields[1:]

	switch name {
	case "quit", "q", "exit":
		return true
	case "help", "h", "?":
		fmt.Fprintln(cs.out, DimStyle.Render(chatHelp))
	case "save", "s":
		if err := cs.save(); err != nil {
			cs.fail(err)
			break
		}
		fmt.Fprintln(cs.out, SuccessStyle.Render("saved as "+cs.archiveID))
	case "export", "e":
		if len(rest) == 0 {
			cs.fail(errors.New("usage: /export <path>"))
			break
		}
		path := filepath.Clean(config.ExpandHome(strings.Join(rest, " ")))
		if err := storage.WriteExport(path, cs.env.stored(cs.ctrl)); err != nil {
			cs.fail(err)
			break
		}
		fmt.Fprintln(cs.out, SuccessStyle.Render("exported to "+path))
	case "reasoning", "r":
		cs.printer.showReasoning = !cs.printer.showReasoning
		state := "hidden"
		if cs.printer.showReasoning {
			state = "shown"
		}
		fmt.Fprintln(cs.out, DimStyle.Render("reasoning "+state))
	default:
		cs.fail(fmt.Errorf("unknown command /%s, try /help", name))
	}
	return false
}

// save archives the transcript, replacing this chat's earlier copy.
func (cs *chatSession) save() error {
	if cs.ctrl.Transcript().Len() == 0 {
		return errors.New("nothing to save yet")
	}
	if cs.archive == nil {
		a, err := cs.env.archive()
		if err != nil {
			return err
		}
		cs.archive = a
	}
	st := cs.env.stored(cs.ctrl)
	st.ID = cs.archiveID
	id, err := cs.archive.Save(cs.env.ctx, st)
	if err != nil {
		return err
	}
	cs.archiveID = id
	return nil
}

func (cs *chatSession) fail(err error) {
	fmt.Fprintf(cs.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
}

func (cs *chatSession) printWelcome() {
	cfg := cs.env.cfg
	target := "session " + cfg.Server.Session
	if cfg.Server.Conversation != "" {
		target = "conversation " + cfg.Server.Conversation
	}
	fmt.Fprintln(cs.out, TitleStyle.Render("glial chat")+" "+DimStyle.Render(cfg.Server.URL+" | "+target))
	fmt.Fprintln(cs.out, DimStyle.Render("Ctrl+C stops a reply, Ctrl+D leaves, /help lists commands."))
	fmt.Fprintln(cs.out)
}
