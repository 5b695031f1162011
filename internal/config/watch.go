// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"goa.design/clue/log"
)

// =============================================================================
// HOT RELOAD
// =============================================================================

// WatchDebounce coalesces the burst of events a single save produces.
const WatchDebounce = 150 * time.Millisecond

// Watch reloads path whenever it changes and passes the result to
// onChange. A file that fails to load is reported with a nil config and
// the previous configuration stays in effect at the caller. Watching stops
// when ctx is done.
//
// The parent directory is watched, so editors that save by renaming a new
// file over the old one are seen too.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	go watchLoop(ctx, w, path, onChange)
	return nil
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, path string, onChange func(*Config, error)) {
	defer w.Close()

	timer := time.NewTimer(WatchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(WatchDebounce)

		case <-timer.C:
			cfg, err := LoadFromPath(path)
			if err != nil {
				log.Error(ctx, err, log.KV{K: "event", V: "config_reload_failed"}, log.KV{K: "path", V: path})
			} else {
				log.Info(ctx, log.KV{K: "event", V: "config_reloaded"}, log.KV{K: "path", V: path})
			}
			onChange(cfg, err)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Error(ctx, err, log.KV{K: "event", V: "config_watch_error"})
		}
	}
}
