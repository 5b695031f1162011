// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the full-screen chat view of glial.

The view is a Bubble Tea program over a session.Controller. The controller
owns the transcript; the view only renders snapshots of it and forwards
prompts and cancellation.

# Key Components

## Model (model.go, update.go, view.go)

Model holds the viewport, the multi-line input, the status bar state and
the last turn result. Enter submits, Alt+Enter inserts a newline, Esc stops
a running turn. Submitting while a turn streams preempts it.

## Notifier (streaming.go)

The controller reports changes while holding its lock, so the view must
never block there. Notifier coalesces change signals into a one-slot
channel and forwards them to the program at a bounded rate, followed by
the turn result when a turn ends.

## Renderer (render.go, highlight.go)

Renderer draws bubbles: user prompts, assistant parts, and error bubbles.
Assistant text goes through glamour, reasoning is dimmed or collapsed, and
function-call arguments are pretty-printed and highlighted with chroma.
Rendered bubbles are cached until their content grows.

## Commands (commands.go, export.go)

Slash commands:

	/help              show commands and keys
	/save              archive this transcript
	/export <path>     write Markdown, or JSON for .json paths
	/reasoning         show or hide reasoning
	/cancel            stop the running turn
	/quit              leave glial

A prompt that should start with "/" is written with "//".

# Usage

	err := chat.Run(ctx, client.SessionStreamer("default"), chat.RunOptions{
		Config:  cfg,
		Archive: archive,
	})
*/
package chat
