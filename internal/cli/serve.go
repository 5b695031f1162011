// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/jeranaias/glial-tui/internal/config"
	"github.com/jeranaias/glial-tui/internal/server"
	"github.com/jeranaias/glial-tui/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// HandleServe runs the replay backend: a local server that answers
// prompts with scripted SSE frames.
//
//	glial serve --addr 127.0.0.1:8000 --script demo.jsonl --db convs.db
func HandleServe(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, args, logStderr)
	if err != nil {
		return err
	}
	defer e.close()

	sc := e.cfg.Serve
	delayMs, err := p.FlagInt("delay-ms", sc.FrameDelayMs)
	if err != nil {
		return err
	}
	sc.FrameDelayMs = delayMs
	sc.Addr = p.FlagOrDefault("addr", sc.Addr)
	sc.Script = p.FlagOrDefault("script", sc.Script)
	sc.DB = p.FlagOrDefault("db", sc.DB)
	sc.Token = p.FlagOrDefault("token", sc.Token)

	opts := []server.Option{
		server.WithContext(e.ctx),
		server.WithToken(sc.Token),
		server.WithFrameDelay(sc.FrameDelay()),
	}

	if sc.Script != "" {
		script, err := server.LoadScript(config.ExpandHome(sc.Script))
		if err != nil {
			return err
		}
		opts = append(opts, server.WithScript(script))
	} else {
		opts = append(opts, server.WithScript(server.EchoScript{}))
	}

	var store storage.Conversations = storage.NewMemoryConversations()
	if sc.DB != "" {
		sqlStore, err := storage.OpenConversations(config.ExpandHome(sc.DB))
		if err != nil {
			return err
		}
		store = sqlStore
	}
	opts = append(opts, server.WithStore(store))

	srv := server.New(sc.Addr, opts...)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Fprintf(os.Stderr, "%s listening on http://%s\n", TitleStyle.Render("glial serve"), srv.Addr())

	select {
	case err := <-errCh:
		// Start failed before any shutdown; the store is still open.
		store.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(e.ctx, err, log.KV{K: "event", V: "shutdown_failed"})
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
