// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/jeranaias/glial-tui/internal/delta"
	"github.com/jeranaias/glial-tui/internal/reconcile"
	"github.com/jeranaias/glial-tui/internal/sse"
	"github.com/jeranaias/glial-tui/internal/transcript"
)

var (
	// ErrNoBody is reported when a Streamer returns neither a body nor an
	// error.
	ErrNoBody = errors.New("stream returned no body")

	// ErrClosed is the failure of a prompt submitted after Close.
	ErrClosed = errors.New("session closed")
)

// =============================================================================
// STREAMER
// =============================================================================

// Streamer opens the SSE response for one prompt. The body must stop
// blocking once ctx is cancelled or Close is called.
type Streamer interface {
	Stream(ctx context.Context, prompt string) (io.ReadCloser, error)
}

// StreamerFunc adapts a function to Streamer.
type StreamerFunc func(ctx context.Context, prompt string) (io.ReadCloser, error)

// Stream calls f.
func (f StreamerFunc) Stream(ctx context.Context, prompt string) (io.ReadCloser, error) {
	return f(ctx, prompt)
}

// =============================================================================
// OPTIONS
// =============================================================================

// Option configures a Controller.
type Option func(*Controller)

// WithContext sets the base context. Its logger is used for turn logging
// and turn contexts derive from it.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) {
		c.ctx = ctx
	}
}

// WithTranscript makes the controller continue an existing transcript.
func WithTranscript(tr *transcript.Transcript) Option {
	return func(c *Controller) {
		c.tr = tr
	}
}

// WithOnChange registers fn to run after every transcript mutation. fn is
// called with the controller lock held and must not block or call back into
// the Controller.
func WithOnChange(fn func()) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// WithOnTurnEnd registers fn to run after each turn's cleanup.
func WithOnTurnEnd(fn func(TurnResult)) Option {
	return func(c *Controller) {
		c.onTurnEnd = fn
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller owns a transcript and the single in-flight stream writing to
// it.
type Controller struct {
	streamer  Streamer
	ctx       context.Context
	tr        *transcript.Transcript
	onChange  func()
	onTurnEnd func(TurnResult)
	unsub     func()

	mu      sync.Mutex
	rec     *reconcile.Reconciler
	gen     uint64
	cancel  context.CancelFunc
	current *Turn
	closed  bool

	wg sync.WaitGroup
}

// New creates a Controller streaming through s.
func New(s Streamer, opts ...Option) *Controller {
	c := &Controller{
		streamer: s,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tr == nil {
		c.tr = transcript.New()
	}
	if c.onChange != nil {
		c.unsub = c.tr.Subscribe(c.onChange)
	}
	c.rec = reconcile.New(c.tr)
	return c
}

// Transcript returns the transcript this controller writes.
func (c *Controller) Transcript() *transcript.Transcript {
	return c.tr
}

// SubmitPrompt starts a turn for prompt. A running turn is cancelled first
// and not waited for.
func (c *Controller) SubmitPrompt(prompt string) *Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return closedTurn(prompt)
	}

	if c.cancel != nil {
		c.cancel()
		// The preempted turn's cleanup skips the reset once the generation
		// moves on, so it happens here.
		c.rec.Reset()
		log.Info(c.ctx,
			log.KV{K: "event", V: "turn_preempted"},
			log.KV{K: "generation", V: c.gen})
	}

	c.gen++
	turn := newTurn(c.gen, prompt)
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	c.current = turn

	c.tr.AppendUser(prompt)

	log.Info(c.ctx,
		log.KV{K: "event", V: "turn_start"},
		log.KV{K: "generation", V: turn.Generation},
		log.KV{K: "prompt_len", V: len(prompt)})

	c.wg.Add(1)
	go c.run(ctx, cancel, turn)
	return turn
}

// Cancel stops the running turn, if any. No error bubble is added.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Close cancels the running turn and waits for it to finish. Later prompts
// fail with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	if c.unsub != nil {
		c.unsub()
	}
}

// Busy reports whether a turn is running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Generation returns the number of prompts submitted so far.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Usage returns the latest total-token count reported by the server.
func (c *Controller) Usage() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.Usage()
}

// =============================================================================
// TURN LOOP
// =============================================================================

// run streams one turn. All transcript mutation goes through apply or fail,
// which take the lock and check the generation.
func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, turn *Turn) {
	defer c.wg.Done()

	res := turn.result
	defer func() {
		cancel()
		c.endTurn(turn, res)
	}()

	body, err := c.streamer.Stream(ctx, turn.Prompt)
	if err == nil && body == nil {
		err = ErrNoBody
	}
	if err != nil {
		if isCancelled(ctx, err) {
			res.Status = StatusCancelled
			return
		}
		res.Status, res.Err = StatusFailed, err
		c.fail(ctx, turn.Generation, err)
		return
	}
	defer body.Close()

	// Unblock a pending Read as soon as the turn is cancelled.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	onMalformed := func(ev sse.Event, err error) {
		res.Malformed++
		log.Debug(c.ctx,
			log.KV{K: "event", V: "frame_dropped"},
			log.KV{K: "generation", V: turn.Generation},
			log.KV{K: "name", V: ev.Name},
			log.KV{K: "err", V: err.Error()})
	}

	events := sse.NewReader(body).Events()
	for d, err := range delta.Deltas(events, onMalformed) {
		if err != nil {
			if isCancelled(ctx, err) {
				res.Status = StatusCancelled
				return
			}
			res.Status, res.Err = StatusFailed, err
			c.fail(ctx, turn.Generation, err)
			return
		}

		out, ok := c.apply(ctx, turn.Generation, d)
		if !ok {
			res.Status = StatusCancelled
			return
		}
		res.Deltas++
		if out.Action == reconcile.Dropped {
			res.Dropped++
			log.Debug(c.ctx,
				log.KV{K: "event", V: "delta_dropped"},
				log.KV{K: "generation", V: turn.Generation},
				log.KV{K: "kind", V: d.Kind.String()},
				log.KV{K: "reason", V: out.Reason})
		}
	}

	if ctx.Err() != nil {
		res.Status = StatusCancelled
		return
	}
	res.Status = StatusCompleted
}

// apply runs one delta through the reconciler if the turn is still live.
func (c *Controller) apply(ctx context.Context, gen uint64, d delta.Delta) (reconcile.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || ctx.Err() != nil {
		return reconcile.Outcome{}, false
	}
	return c.rec.Apply(d), true
}

// fail appends the error bubble for a transport failure.
func (c *Controller) fail(ctx context.Context, gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || ctx.Err() != nil {
		return
	}
	c.tr.AppendError()
	log.Error(c.ctx, err,
		log.KV{K: "event", V: "turn_failed"},
		log.KV{K: "generation", V: gen})
}

// endTurn is the cleanup every turn runs, however it exits.
func (c *Controller) endTurn(turn *Turn, res TurnResult) {
	c.mu.Lock()
	if c.gen == turn.Generation {
		c.rec.Reset()
		c.cancel = nil
		c.current = nil
	}
	res.Usage, res.HasUsage = c.rec.Usage()
	c.mu.Unlock()

	res.Duration = time.Since(res.StartedAt)
	turn.finish(res)

	log.Info(c.ctx,
		log.KV{K: "event", V: "turn_end"},
		log.KV{K: "generation", V: turn.Generation},
		log.KV{K: "status", V: res.Status.String()},
		log.KV{K: "deltas", V: res.Deltas},
		log.KV{K: "dropped", V: res.Dropped},
		log.KV{K: "malformed", V: res.Malformed},
		log.KV{K: "duration_ms", V: res.Duration.Milliseconds()})

	if c.onTurnEnd != nil {
		c.onTurnEnd(res)
	}
}

func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
