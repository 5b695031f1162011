// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"

	"github.com/jeranaias/glial-tui/internal/session"
)

// =============================================================================
// STREAMING NOTIFIER
// =============================================================================

// defaultRedrawHz is used when Notifier is given a non-positive rate.
const defaultRedrawHz = 30

// Notifier forwards session events to a tea.Program. Transcript changes are
// coalesced and rate limited, so a fast stream repaints at most hz times a
// second and the final state is always delivered.
//
// Changed and TurnEnded never block: the session calls them with its lock
// held.
type Notifier struct {
	limiter *rate.Limiter
	changed chan struct{}
	ended   chan session.TurnResult
}

// NewNotifier creates a notifier repainting at most hz times a second.
func NewNotifier(hz int) *Notifier {
	if hz <= 0 {
		hz = defaultRedrawHz
	}
	return &Notifier{
		limiter: rate.NewLimiter(rate.Limit(hz), 1),
		changed: make(chan struct{}, 1),
		ended:   make(chan session.TurnResult, 16),
	}
}

// Changed records that the transcript changed. Calls made while a
// repaint is pending collapse into it.
func (n *Notifier) Changed() {
	select {
	case n.changed <- struct{}{}:
	default:
	}
}

// TurnEnded queues res for delivery. Turn results are not coalesced.
func (n *Notifier) TurnEnded(res session.TurnResult) {
	select {
	case n.ended <- res:
	default:
	}
}

// Run delivers queued events through send until ctx is done. A pending
// change is delivered before the turn result that follows it.
func (n *Notifier) Run(ctx context.Context, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-n.changed:
			if err := n.limiter.Wait(ctx); err != nil {
				return
			}
			send(TranscriptChangedMsg{})

		case res := <-n.ended:
			// Flush a change that raced the result.
			select {
			case <-n.changed:
				send(TranscriptChangedMsg{})
			default:
			}
			send(TurnEndedMsg{Result: res})
		}
	}
}
