// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"goa.design/clue/log"

	"github.com/jeranaias/glial-tui/internal/config"
	"github.com/jeranaias/glial-tui/internal/session"
	"github.com/jeranaias/glial-tui/internal/transcript"
)

// RunOptions configures Run.
type RunOptions struct {
	Config *config.Config

	// ConfigPath is watched for UI changes when set.
	ConfigPath string

	// Transcript seeds the session, e.g. with a restored archive.
	Transcript *transcript.Transcript

	Archive Archiver
	Version string

	// ProgramOptions are passed to tea.NewProgram after the defaults.
	ProgramOptions []tea.ProgramOption
}

// Run runs the full-screen chat against streamer until the user quits.
// The session is closed on return and, when the configuration asks for it,
// a non-empty transcript is archived.
func Run(ctx context.Context, streamer session.Streamer, opts RunOptions) error {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifier := NewNotifier(cfg.UI.RedrawHz)
	sessionOpts := []session.Option{
		session.WithContext(ctx),
		session.WithOnChange(notifier.Changed),
		session.WithOnTurnEnd(notifier.TurnEnded),
	}
	if opts.Transcript != nil {
		sessionOpts = append(sessionOpts, session.WithTranscript(opts.Transcript))
	}
	ctrl := session.New(streamer, sessionOpts...)

	model := New(Options{
		Controller: ctrl,
		Config:     cfg,
		Archive:    opts.Archive,
		Context:    ctx,
		Version:    opts.Version,
	})

	progOpts := append([]tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	}, opts.ProgramOptions...)
	p := tea.NewProgram(model, progOpts...)

	go notifier.Run(ctx, p.Send)

	if opts.ConfigPath != "" {
		err := config.Watch(ctx, opts.ConfigPath, func(next *config.Config, err error) {
			if err == nil {
				p.Send(ConfigChangedMsg{Config: next})
			}
		})
		if err != nil {
			log.Error(ctx, err, log.KV{K: "event", V: "config_watch_failed"})
		}
	}

	final, err := p.Run()
	ctrl.Close()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat: %w", err)
	}

	if m, ok := final.(Model); ok && cfg.Archive.AutoSave {
		autoSave(ctx, m)
	}
	return nil
}

// autoSave archives the transcript on exit. Failures are logged only.
func autoSave(ctx context.Context, m Model) {
	if m.archive == nil || m.ctrl.Transcript().Len() == 0 {
		return
	}
	id, err := m.archive.Save(context.WithoutCancel(ctx), m.stored())
	if err != nil {
		log.Error(ctx, err, log.KV{K: "event", V: "autosave_failed"})
		return
	}
	log.Info(ctx, log.KV{K: "event", V: "autosaved"}, log.KV{K: "id", V: id})
}
