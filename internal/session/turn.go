// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// TURN STATUS
// =============================================================================

// Status is how a turn ended.
type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the status name used in logs.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// =============================================================================
// TURN RESULT
// =============================================================================

// TurnResult summarizes a finished turn.
type TurnResult struct {
	Generation uint64
	Prompt     string
	Status     Status

	// Err is the transport failure for StatusFailed.
	Err error

	// Usage is the session's total-token count when the turn ended.
	Usage    int64
	HasUsage bool

	Deltas    int // deltas applied
	Dropped   int // deltas the reconciler discarded
	Malformed int // frames that were not valid JSON

	StartedAt time.Time
	Duration  time.Duration
}

// =============================================================================
// TURN
// =============================================================================

// Turn is a handle on one submitted prompt.
type Turn struct {
	Generation uint64
	Prompt     string

	done   chan struct{}
	result TurnResult
}

func newTurn(gen uint64, prompt string) *Turn {
	return &Turn{
		Generation: gen,
		Prompt:     prompt,
		done:       make(chan struct{}),
		result: TurnResult{
			Generation: gen,
			Prompt:     prompt,
			Status:     StatusRunning,
			StartedAt:  time.Now(),
		},
	}
}

// closedTurn is returned by a closed controller.
func closedTurn(prompt string) *Turn {
	t := newTurn(0, prompt)
	t.finish(TurnResult{Prompt: prompt, Status: StatusFailed, Err: ErrClosed})
	return t
}

func (t *Turn) finish(res TurnResult) {
	t.result = res
	close(t.done)
}

// Done is closed when the turn has ended and its cleanup has run.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Result returns the turn's outcome. Before Done is closed it reports
// StatusRunning.
func (t *Turn) Result() TurnResult {
	select {
	case <-t.done:
		return t.result
	default:
		return TurnResult{
			Generation: t.Generation,
			Prompt:     t.Prompt,
			Status:     StatusRunning,
		}
	}
}

// Err returns the transport failure of a finished turn, or nil.
func (t *Turn) Err() error {
	return t.Result().Err
}

// Wait blocks until the turn ends or ctx is done.
func (t *Turn) Wait(ctx context.Context) (TurnResult, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return t.Result(), ctx.Err()
	}
}
