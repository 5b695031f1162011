// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"

	"goa.design/clue/log"

	"github.com/jeranaias/glial-tui/internal/transcript"
	"github.com/jeranaias/glial-tui/internal/ui/chat"
)

// HandleTUI runs the full-screen chat. --resume seeds it with an archived
// transcript and, unless a flag says otherwise, streams into the same
// session or conversation.
//
//	glial
//	glial tui --resume 1
func HandleTUI(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)

	e, err := setup(ctx, args, logQuiet)
	if err != nil {
		return err
	}
	defer e.close()

	opts := chat.RunOptions{
		Config:     e.cfg,
		ConfigPath: e.cfgPath,
		Version:    Version,
	}

	// The archive is optional; the TUI reports /save failures itself.
	archive, archiveErr := e.archive()
	if archiveErr == nil {
		opts.Archive = archive
	} else {
		log.Error(e.ctx, archiveErr, log.KV{K: "event", V: "archive_unavailable"})
	}

	if ref := p.Flag("resume"); ref != "" {
		if archiveErr != nil {
			return archiveErr
		}
		id, err := archive.Resolve(e.ctx, ref)
		if err != nil {
			return err
		}
		st, err := archive.Load(e.ctx, id)
		if err != nil {
			return err
		}
		opts.Transcript = transcript.FromBubbles(st.Bubbles)
		if args.Session == "" && args.Conversation == "" {
			switch {
			case st.ConversationID != "":
				e.cfg.Server.Conversation = st.ConversationID
			case st.Session != "":
				e.cfg.Server.Session = st.Session
				e.cfg.Server.Conversation = ""
			}
		}
		log.Info(e.ctx, log.KV{K: "event", V: "resumed"}, log.KV{K: "id", V: id})
	}

	streamer, err := e.streamer()
	if err != nil {
		return err
	}
	return chat.Run(e.ctx, streamer, opts)
}
