// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/glial-tui/internal/transcript"
)

// =============================================================================
// HELPERS
// =============================================================================

func frame(name, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, data)
}

func messageItem(id, text string) string {
	return frame("item.started", `{"item_id":"`+id+`","meta":{"type":"message"}}`) +
		frame("text", `{"item_id":"`+id+`","text":"`+text+`"}`)
}

// scripted serves a fixed body per prompt.
type scripted struct {
	mu     sync.Mutex
	bodies map[string]func(ctx context.Context) (io.ReadCloser, error)
	calls  []string
}

func newScripted() *scripted {
	return &scripted{bodies: make(map[string]func(context.Context) (io.ReadCloser, error))}
}

func (s *scripted) text(prompt, body string) {
	s.bodies[prompt] = func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

func (s *scripted) Stream(ctx context.Context, prompt string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.calls = append(s.calls, prompt)
	fn, ok := s.bodies[prompt]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no script for %q", prompt)
	}
	return fn(ctx)
}

func wait(t *testing.T, turn *Turn) TurnResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := turn.Wait(ctx)
	require.NoError(t, err, "turn did not finish")
	return res
}

func lastTextIs(c *Controller, want string) func() bool {
	return func() bool {
		b, ok := c.Transcript().Last()
		return ok && b.Text() == want
	}
}

func texts(bubbles []transcript.Bubble) []string {
	out := make([]string, len(bubbles))
	for i, b := range bubbles {
		out[i] = string(b.Role) + ":" + b.Text()
	}
	return out
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestSubmitPrompt_StreamsIntoTranscript(t *testing.T) {
	s := newScripted()
	s.text("hi",
		frame("response.status", `{"status":"in_progress"}`)+
			frame("item.started", `{"item_id":"r","meta":{"type":"reasoning"}}`)+
			frame("reasoning", `{"item_id":"r","text":"pondering"}`)+
			messageItem("x", "Hello")+
			frame("text", `{"item_id":"x","text":" world"}`)+
			frame("item.completed", `{"item_id":"x"}`)+
			frame("response.status", `{"status":"completed","meta":{"usage":{"total_tokens":31}}}`))

	c := New(s)
	defer c.Close()

	res := wait(t, c.SubmitPrompt("hi"))

	assert.Equal(t, StatusCompleted, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, int64(31), res.Usage)
	assert.True(t, res.HasUsage)

	snap := c.Transcript().Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "user:hi", texts(snap)[0])
	assert.Equal(t, []transcript.Part{transcript.ReasoningPart{Text: "pondering"}}, snap[1].Parts)
	assert.Equal(t, []transcript.Part{transcript.TextPart{Text: "Hello world"}}, snap[2].Parts)

	assert.False(t, c.Busy())
	assert.Zero(t, c.rec.Pending(), "indexes cleared at end of turn")
	n, ok := c.Usage()
	assert.True(t, ok)
	assert.Equal(t, int64(31), n)
}

func TestSubmitPrompt_UserBubbleIsSynchronous(t *testing.T) {
	release := make(chan struct{})
	c := New(StreamerFunc(func(ctx context.Context, _ string) (io.ReadCloser, error) {
		<-release
		return io.NopCloser(strings.NewReader("")), nil
	}))
	defer c.Close()

	turn := c.SubmitPrompt("first")
	snap := c.Transcript().Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "user:first", texts(snap)[0])
	assert.True(t, c.Busy())

	close(release)
	assert.Equal(t, StatusCompleted, wait(t, turn).Status)
}

func TestSubmitPrompt_MalformedFrameSkipped(t *testing.T) {
	s := newScripted()
	s.text("p",
		frame("item.started", `{"item_id":"m","meta":{"type":"message"}}`)+
			frame("text", `{"item_id":"m","text":"a"`)+
			frame("text", `{"item_id":"m","text":"b"}`))

	c := New(s)
	defer c.Close()
	res := wait(t, c.SubmitPrompt("p"))

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, []string{"user:p", "assistant:b"}, texts(c.Transcript().Snapshot()))
}

func TestSubmitPrompt_WrongTypedItemIDIsMalformed(t *testing.T) {
	s := newScripted()
	s.text("p",
		frame("item.started", `{"item_id":"m","meta":{"type":"message"}}`)+
			frame("text", `{"item_id":5,"text":"lost"}`)+
			frame("text", `{"item_id":"m","text":"kept"}`))

	c := New(s)
	defer c.Close()
	res := wait(t, c.SubmitPrompt("p"))

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 0, res.Dropped)
	assert.Equal(t, []string{"user:p", "assistant:kept"}, texts(c.Transcript().Snapshot()))
}

func TestSubmitPrompt_ErrorEventKeepsDraining(t *testing.T) {
	s := newScripted()
	s.text("p",
		messageItem("m", "before")+
			frame("error", `{"message":"tool crashed"}`)+
			messageItem("n", "after"))

	c := New(s)
	defer c.Close()
	res := wait(t, c.SubmitPrompt("p"))

	assert.Equal(t, StatusCompleted, res.Status)
	snap := c.Transcript().Snapshot()
	assert.Equal(t, []string{
		"user:p",
		"assistant:before",
		"assistant:" + transcript.ErrorText,
		"assistant:after",
	}, texts(snap))
	assert.True(t, snap[2].IsError)
}

func TestSubmitPrompt_DroppedDeltasCounted(t *testing.T) {
	s := newScripted()
	s.text("p", frame("function.arguments", `{"item_id":"y","text":"{\"a\":1}"}`))

	c := New(s)
	defer c.Close()
	res := wait(t, c.SubmitPrompt("p"))

	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, c.Transcript().Len(), "only the user bubble")
}

// =============================================================================
// TRANSPORT FAILURES
// =============================================================================

func TestSubmitPrompt_RequestFailure(t *testing.T) {
	boom := errors.New("connection refused")
	c := New(StreamerFunc(func(context.Context, string) (io.ReadCloser, error) {
		return nil, boom
	}))
	defer c.Close()

	res := wait(t, c.SubmitPrompt("p"))

	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, boom)
	snap := c.Transcript().Snapshot()
	require.Len(t, snap, 2)
	assert.True(t, snap[1].IsError)
	assert.Equal(t, transcript.ErrorText, snap[1].Text())
}

func TestSubmitPrompt_MissingBody(t *testing.T) {
	c := New(StreamerFunc(func(context.Context, string) (io.ReadCloser, error) {
		return nil, nil
	}))
	defer c.Close()

	res := wait(t, c.SubmitPrompt("p"))

	assert.ErrorIs(t, res.Err, ErrNoBody)
	assert.Equal(t, 2, c.Transcript().Len())
}

func TestSubmitPrompt_MidStreamReadError(t *testing.T) {
	pr, pw := io.Pipe()
	c := New(StreamerFunc(func(context.Context, string) (io.ReadCloser, error) {
		return pr, nil
	}))
	defer c.Close()

	turn := c.SubmitPrompt("p")
	_, err := io.WriteString(pw, messageItem("m", "partial"))
	require.NoError(t, err)
	pw.CloseWithError(errors.New("connection reset"))

	res := wait(t, turn)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{
		"user:p",
		"assistant:partial",
		"assistant:" + transcript.ErrorText,
	}, texts(c.Transcript().Snapshot()))
	assert.Zero(t, c.rec.Pending())
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancel_IsSilent(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := New(StreamerFunc(func(context.Context, string) (io.ReadCloser, error) {
		return pr, nil
	}))
	defer c.Close()

	turn := c.SubmitPrompt("p")
	_, err := io.WriteString(pw, messageItem("m", "partial"))
	require.NoError(t, err)
	require.Eventually(t, lastTextIs(c, "partial"), 2*time.Second, 5*time.Millisecond)

	c.Cancel()
	res := wait(t, turn)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"user:p", "assistant:partial"}, texts(c.Transcript().Snapshot()))
	assert.Zero(t, c.rec.Pending(), "cleanup runs on cancellation")
	assert.False(t, c.Busy())
}

func TestCancel_DuringRequest(t *testing.T) {
	c := New(StreamerFunc(func(ctx context.Context, _ string) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("dial: %w", ctx.Err())
	}))
	defer c.Close()

	turn := c.SubmitPrompt("p")
	c.Cancel()
	res := wait(t, turn)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, 1, c.Transcript().Len(), "no error bubble on cancellation")
}

func TestCancel_NoTurnIsNoop(t *testing.T) {
	c := New(newScripted())
	defer c.Close()
	c.Cancel()
	assert.False(t, c.Busy())
}

// =============================================================================
// PREEMPTION
// =============================================================================

func TestSubmitPrompt_PreemptsRunningTurn(t *testing.T) {
	firstR, firstW := io.Pipe()
	defer firstW.Close()

	s := newScripted()
	s.bodies["A"] = func(context.Context) (io.ReadCloser, error) { return firstR, nil }
	s.text("B", messageItem("1", "from B"))

	c := New(s)
	defer c.Close()

	turnA := c.SubmitPrompt("A")
	_, err := io.WriteString(firstW, messageItem("1", "from A"))
	require.NoError(t, err)
	require.Eventually(t, lastTextIs(c, "from A"), 2*time.Second, 5*time.Millisecond)

	turnB := c.SubmitPrompt("B")

	// A's unflushed tail arrives after B started. It must never land.
	go func() {
		_, _ = io.WriteString(firstW, frame("text", `{"item_id":"1","text":" LATE"}`)+messageItem("2", "LATE"))
	}()

	resA := wait(t, turnA)
	resB := wait(t, turnB)

	assert.Equal(t, StatusCancelled, resA.Status)
	assert.Equal(t, StatusCompleted, resB.Status)
	assert.Equal(t, uint64(2), c.Generation())

	assert.Equal(t, []string{
		"user:A",
		"assistant:from A",
		"user:B",
		"assistant:from B",
	}, texts(c.Transcript().Snapshot()))
	assert.Zero(t, c.rec.Pending())
}

func TestSubmitPrompt_PreemptDoesNotWait(t *testing.T) {
	s := newScripted()
	s.bodies["slow"] = func(ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	}
	s.text("fast", messageItem("m", "ok"))

	c := New(s)
	defer c.Close()

	slow := c.SubmitPrompt("slow")
	start := time.Now()
	fast := c.SubmitPrompt("fast")
	assert.Less(t, time.Since(start), 40*time.Millisecond, "SubmitPrompt must not block on the old turn")

	assert.Equal(t, StatusCancelled, wait(t, slow).Status)
	assert.Equal(t, StatusCompleted, wait(t, fast).Status)
	assert.Equal(t, []string{"user:slow", "user:fast", "assistant:ok"}, texts(c.Transcript().Snapshot()))
}

func TestConsecutiveTurns_ItemIDsDoNotLeak(t *testing.T) {
	s := newScripted()
	s.text("one", messageItem("1", "first"))
	s.text("two", frame("text", `{"item_id":"1","text":"second"}`))

	c := New(s)
	defer c.Close()

	wait(t, c.SubmitPrompt("one"))
	wait(t, c.SubmitPrompt("two"))

	snap := c.Transcript().Snapshot()
	assert.Equal(t, []string{"user:one", "assistant:first", "user:two", "assistant:second"}, texts(snap))
	assert.NotEqual(t, snap[1].ID, snap[3].ID)
}

// =============================================================================
// LIFECYCLE / HOOKS
// =============================================================================

func TestClose_RejectsNewPrompts(t *testing.T) {
	c := New(newScripted())
	c.Close()

	turn := c.SubmitPrompt("late")
	res := wait(t, turn)
	assert.ErrorIs(t, res.Err, ErrClosed)
	assert.Zero(t, c.Transcript().Len())
}

func TestClose_CancelsAndWaits(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c := New(StreamerFunc(func(context.Context, string) (io.ReadCloser, error) {
		return pr, nil
	}))

	turn := c.SubmitPrompt("p")
	c.Close()

	select {
	case <-turn.Done():
	default:
		t.Fatal("Close returned before the turn finished")
	}
	assert.Equal(t, StatusCancelled, turn.Result().Status)
}

func TestHooks(t *testing.T) {
	s := newScripted()
	s.text("p", messageItem("m", "hey"))

	var changes atomic.Int32
	ended := make(chan TurnResult, 1)
	c := New(s,
		WithOnChange(func() { changes.Add(1) }),
		WithOnTurnEnd(func(r TurnResult) { ended <- r }))
	defer c.Close()

	wait(t, c.SubmitPrompt("p"))

	select {
	case r := <-ended:
		assert.Equal(t, StatusCompleted, r.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("OnTurnEnd not called")
	}
	// user bubble, item.started, text
	assert.Equal(t, int32(3), changes.Load())
}

func TestWithTranscript_Continues(t *testing.T) {
	tr := transcript.New()
	tr.AppendUser("earlier")

	s := newScripted()
	s.text("p", messageItem("m", "now"))
	c := New(s, WithTranscript(tr))
	defer c.Close()

	wait(t, c.SubmitPrompt("p"))
	assert.Equal(t, []string{"user:earlier", "user:p", "assistant:now"}, texts(tr.Snapshot()))
}

func TestTurn_ResultWhileRunning(t *testing.T) {
	release := make(chan struct{})
	c := New(StreamerFunc(func(context.Context, string) (io.ReadCloser, error) {
		<-release
		return io.NopCloser(strings.NewReader("")), nil
	}))
	defer c.Close()

	turn := c.SubmitPrompt("p")
	assert.Equal(t, StatusRunning, turn.Result().Status)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := turn.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	wait(t, turn)
}
