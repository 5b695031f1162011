// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"goa.design/clue/log"

	"github.com/jeranaias/glial-tui/internal/session"
	"github.com/jeranaias/glial-tui/internal/storage"
)

// maxStdinPrompt bounds a prompt read from stdin.
const maxStdinPrompt = 1 << 20

// =============================================================================
// ASK COMMAND
// =============================================================================

// HandleAsk runs one turn and prints the transcript as it streams. With
// --json the finished transcript is printed as JSON instead. "-" or a
// piped stdin supplies the prompt.
//
//	glial ask "explain SSE"
//	git diff | glial ask -
//	glial ask --save "summarize this"
func HandleAsk(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "save", "json")
	prompt, err := askPrompt(p)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
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

	jsonOut := args.JSON || p.BoolFlag("json")
	out := io.Writer(os.Stdout)
	if jsonOut {
		out = io.Discard
	}
	res, ctrl := runTurn(e.ctx, streamer, prompt, newPrinter(out, ColorsEnabled(), e.cfg.UI.ShowReasoning))
	defer ctrl.Close()

	st := e.stored(ctrl)
	if jsonOut {
		data, err := storage.ExportJSON(st)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
	}

	if p.BoolFlag("save") {
		a, err := e.archive()
		if err != nil {
			return err
		}
		id, err := a.Save(e.ctx, st)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, DimStyle.Render("saved as "+id))
	}

	if res.HasUsage && !jsonOut && IsStdoutTTY() {
		fmt.Fprintln(os.Stderr, DimStyle.Render(fmt.Sprintf("%d tokens", res.Usage)))
	}
	return turnErr(e.ctx, res)
}

// askPrompt joins the positionals, or reads stdin for "-" or when stdin is
// piped and no prompt was given.
func askPrompt(p *ArgParser) (string, error) {
	prompt := strings.Join(p.PositionalFrom(0), " ")
	if prompt == "-" || (prompt == "" && !IsTTY()) {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, maxStdinPrompt))
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", ErrMissingArgument("prompt", `glial ask "prompt"`)
	}
	return prompt, nil
}

// runTurn submits prompt on a fresh controller and prints the transcript
// until the turn ends. The caller closes the controller.
func runTurn(ctx context.Context, streamer session.Streamer, prompt string, pr *printer) (session.TurnResult, *session.Controller) {
	changed := make(chan struct{}, 1)
	ctrl := session.New(streamer,
		session.WithContext(ctx),
		session.WithOnChange(func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}))

	turn := ctrl.SubmitPrompt(prompt)
	follow(ctrl, turn, changed, pr, nil)
	return turn.Result(), ctrl
}

// follow prints the transcript on every change until turn ends. A signal
// on interrupt cancels the turn.
func follow(ctrl *session.Controller, turn *session.Turn, changed <-chan struct{}, pr *printer, interrupt <-chan os.Signal) {
	tr := ctrl.Transcript()
	for {
		select {
		case <-changed:
			pr.Flush(tr.Snapshot())
		case <-interrupt:
			ctrl.Cancel()
		case <-turn.Done():
			pr.Flush(tr.Snapshot())
			pr.Finish()
			return
		}
	}
}

// turnErr turns an unfinished turn into the command's error.
func turnErr(ctx context.Context, res session.TurnResult) error {
	switch res.Status {
	case session.StatusFailed:
		return &TurnError{Status: res.Status.String(), Err: res.Err}
	case session.StatusCancelled:
		if ctx.Err() != nil {
			return context.Canceled
		}
		return &TurnError{Status: res.Status.String()}
	}
	if res.Dropped > 0 || res.Malformed > 0 {
		log.Info(ctx,
			log.KV{K: "event", V: "turn_lossy"},
			log.KV{K: "dropped", V: res.Dropped},
			log.KV{K: "malformed", V: res.Malformed})
	}
	return nil
}
