// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/glial-tui/internal/storage"
)

// DefaultHistoryLimit is how many transcripts `glial history` lists.
const DefaultHistoryLimit = 20

// =============================================================================
// HISTORY COMMAND
// =============================================================================

// HandleHistory lists archived transcripts, or removes one.
//
//	glial history [--limit N] [--search text] [--json]
//	glial history rm <ref>
func HandleHistory(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "json")
	limit, err := p.FlagInt("limit", DefaultHistoryLimit)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, args, logStderr)
	if err != nil {
		return err
	}
	defer e.close()

	archive, err := e.archive()
	if err != nil {
		return err
	}

	if p.Positional(0) == "rm" || p.Positional(0) == "delete" {
		return removeTranscript(e.ctx, archive, p.Positional(1), os.Stdout)
	}

	var metas []storage.TranscriptMeta
	if q := p.Flag("search"); q != "" {
		metas, err = archive.Search(e.ctx, q, limit)
	} else {
		metas, err = archive.List(e.ctx, limit)
	}
	if err != nil {
		return err
	}

	if args.JSON || p.BoolFlag("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(metas)
	}
	fmt.Fprint(os.Stdout, storage.FormatList(metas))
	if len(metas) > 0 {
		fmt.Fprintln(os.Stdout, DimStyle.Render("\nglial show <#|id> prints one, glial tui --resume <#|id> continues it."))
	}
	return nil
}

func removeTranscript(ctx context.Context, archive *storage.Archive, ref string, out io.Writer) error {
	if ref == "" {
		return ErrMissingArgument("transcript", "glial history rm <#|id>")
	}
	id, err := archive.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if err := archive.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintln(out, SuccessStyle.Render("removed "+id))
	return nil
}

// =============================================================================
// SHOW COMMAND
// =============================================================================

// HandleShow prints one archived transcript as Markdown, rendered for the
// terminal when colors are on, or as JSON.
//
//	glial show 1
//	glial show tr_1a2b --json
func HandleShow(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "json", "raw")
	ref := p.Positional(0)
	if ref == "" {
		return ErrMissingArgument("transcript", "glial show <#|id>")
	}

	e, err := setup(ctx, args, logStderr)
	if err != nil {
		return err
	}
	defer e.close()

	archive, err := e.archive()
	if err != nil {
		return err
	}
	id, err := archive.Resolve(e.ctx, ref)
	if err != nil {
		return err
	}
	st, err := archive.Load(e.ctx, id)
	if err != nil {
		return err
	}

	if args.JSON || p.BoolFlag("json") {
		data, err := storage.ExportJSON(st)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	}

	md := storage.ExportMarkdown(st)
	if p.BoolFlag("raw") || !ColorsEnabled() || !IsStdoutTTY() {
		fmt.Fprint(os.Stdout, md)
		return nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(GetTerminalWidth()-4),
	)
	if err != nil {
		fmt.Fprint(os.Stdout, md)
		return nil
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Fprint(os.Stdout, md)
		return nil
	}
	fmt.Fprint(os.Stdout, out)
	return nil
}
