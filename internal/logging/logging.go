// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures structured logging for glial.
//
// Logging is carried in a context.Context using goa.design/clue/log. The
// TUI owns stdout, so interactive commands write logs to a file; the
// serve command logs to stderr.
//
//	ctx := logging.Context(context.Background(), logging.Options{Debug: true, Output: f})
//	log.Info(ctx, log.KV{K: "event", V: "turn_start"})
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"goa.design/clue/log"
)

// Format names accepted by Options.Format.
const (
	FormatAuto     = "auto"
	FormatTerminal = "terminal"
	FormatJSON     = "json"
	FormatText     = "text"
)

// Options controls the logger placed in the context.
type Options struct {
	// Debug enables debug-level entries.
	Debug bool

	// Format is one of the Format constants. Empty means auto: terminal
	// formatting when stderr is a terminal, JSON otherwise.
	Format string

	// Output receives log entries. Nil means stderr.
	Output io.Writer
}

// Context returns ctx carrying a logger configured from opts. Entries are
// written immediately rather than buffered until an error.
func Context(ctx context.Context, opts Options) context.Context {
	logOpts := []log.LogOption{
		log.WithFormat(formatFunc(opts)),
		log.WithDisableBuffering(func(context.Context) bool { return true }),
	}
	if opts.Output != nil {
		logOpts = append(logOpts, log.WithOutput(opts.Output))
	}
	if opts.Debug {
		logOpts = append(logOpts, log.WithDebug())
	}
	return log.Context(ctx, logOpts...)
}

// Discard returns ctx with a logger that writes nowhere.
func Discard(ctx context.Context) context.Context {
	return Context(ctx, Options{Format: FormatText, Output: io.Discard})
}

func formatFunc(opts Options) log.FormatFunc {
	switch strings.ToLower(opts.Format) {
	case FormatTerminal:
		return log.FormatTerminal
	case FormatJSON:
		return log.FormatJSON
	case FormatText:
		return log.FormatText
	}
	if opts.Output == nil && log.IsTerminal() {
		return log.FormatTerminal
	}
	return log.FormatJSON
}

// OpenFile opens path for appending, creating it and its directory with
// owner-only permissions.
func OpenFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
