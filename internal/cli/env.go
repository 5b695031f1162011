// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"goa.design/clue/log"

	"github.com/jeranaias/glial-tui/internal/api"
	"github.com/jeranaias/glial-tui/internal/config"
	"github.com/jeranaias/glial-tui/internal/logging"
	"github.com/jeranaias/glial-tui/internal/session"
	"github.com/jeranaias/glial-tui/internal/storage"
)

// =============================================================================
// COMMAND ENVIRONMENT
// =============================================================================

// env is what every command starts from: the effective configuration and
// a logging context.
type env struct {
	ctx     context.Context
	cfg     *config.Config
	cfgPath string // file the config came from, "" for defaults
	closers []io.Closer
}

// logTarget says where a command's logs go.
type logTarget int

const (
	// logQuiet writes to the configured log file, or nowhere. Interactive
	// commands own the terminal.
	logQuiet logTarget = iota
	// logStderr writes to the configured log file, or stderr.
	logStderr
)

// setup loads the configuration, applies command-line overrides and builds
// the logging context.
func setup(ctx context.Context, args Args, target logTarget) (*env, error) {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	config.SetGlobal(cfg)

	e := &env{cfg: cfg, cfgPath: path}
	e.ctx, err = e.logContext(ctx, target)
	if err != nil {
		return nil, err
	}
	log.Debug(e.ctx,
		log.KV{K: "event", V: "config_loaded"},
		log.KV{K: "path", V: path},
		log.KV{K: "server", V: cfg.Server.URL})
	return e, nil
}

// loadConfig reads --config or the default search path, then layers the
// global flags on top.
func loadConfig(args Args) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if args.ConfigPath != "" {
		path = config.ExpandHome(args.ConfigPath)
		cfg, err = config.LoadFromPath(path)
		if err != nil {
			return nil, "", err
		}
	} else {
		path, _ = config.Find()
		cfg, err = config.Load()
		if cfg == nil {
			return nil, "", err
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v (using defaults)\n", WarningStyle.Render("Warning:"), err)
			path = ""
		}
	}

	applyFlags(cfg, args)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, path, nil
}

// applyFlags overrides cfg with the global flags that were given.
func applyFlags(cfg *config.Config, args Args) {
	if args.Server != "" {
		cfg.Server.URL = args.Server
	}
	if args.Session != "" {
		cfg.Server.Session = args.Session
		cfg.Server.Conversation = ""
	}
	if args.Conversation != "" {
		cfg.Server.Conversation = args.Conversation
	}
	if args.LogFile != "" {
		cfg.Log.File = args.LogFile
	}
	if args.Debug {
		cfg.Log.Debug = true
	}
}

func (e *env) logContext(ctx context.Context, target logTarget) (context.Context, error) {
	opts := logging.Options{Debug: e.cfg.Log.Debug, Format: e.cfg.Log.Format}

	file := e.cfg.Log.File
	if file == "" && target == logQuiet && e.cfg.Log.Debug {
		file = filepath.Join(storage.DataDir(), "glial.log")
	}
	switch {
	case file != "":
		f, err := logging.OpenFile(config.ExpandHome(file))
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, f)
		opts.Output = f
	case target == logQuiet:
		return logging.Discard(ctx), nil
	}
	return logging.Context(ctx, opts), nil
}

// close releases everything the command opened.
func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i].Close()
	}
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// client creates the backend client.
func (e *env) client() (*api.Client, error) {
	opts := []api.Option{api.WithTimeout(e.cfg.Server.Timeout())}
	if e.cfg.Server.Token != "" {
		opts = append(opts, api.WithToken(e.cfg.Server.Token))
	}
	return api.New(e.cfg.Server.URL, opts...)
}

// streamer binds the client to the configured conversation, or session.
func (e *env) streamer() (session.Streamer, error) {
	c, err := e.client()
	if err != nil {
		return nil, err
	}
	if id := e.cfg.Server.Conversation; id != "" {
		return c.ConversationStreamer(id), nil
	}
	return c.SessionStreamer(e.cfg.Server.Session), nil
}

// archive opens the transcript archive. The caller closes it with env.
func (e *env) archive() (*storage.Archive, error) {
	path := e.cfg.Archive.Path
	if path == "" {
		path = storage.DefaultArchivePath()
	}
	a, err := storage.OpenArchive(config.ExpandHome(path))
	if err != nil {
		return nil, err
	}
	a.MaxTranscripts = e.cfg.Archive.MaxTranscripts
	e.closers = append(e.closers, a)
	return a, nil
}

// stored snapshots a controller's transcript with its origin.
func (e *env) stored(ctrl *session.Controller) *storage.StoredTranscript {
	st := storage.NewStoredTranscript(ctrl.Transcript().Snapshot())
	st.Server = e.cfg.Server.URL
	if e.cfg.Server.Conversation != "" {
		st.ConversationID = e.cfg.Server.Conversation
	} else {
		st.Session = e.cfg.Server.Session
	}
	if usage, ok := ctrl.Usage(); ok {
		st.Usage = usage
	}
	return st
}
