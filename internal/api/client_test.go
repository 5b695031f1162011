// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/glial-tui/internal/server"
	"github.com/jeranaias/glial-tui/internal/session"
	"github.com/jeranaias/glial-tui/internal/sse"
	"github.com/jeranaias/glial-tui/internal/transcript"
)

// =============================================================================
// HELPERS
// =============================================================================

// replay starts the replay backend and returns a client for it.
func replay(t *testing.T, opts ...server.Option) *Client {
	t.Helper()
	opts = append([]server.Option{server.WithRateLimiter(nil)}, opts...)
	ts := httptest.NewServer(server.New("", opts...).Handler())
	t.Cleanup(ts.Close)

	c, err := New(ts.URL)
	require.NoError(t, err)
	return c
}

// capture records the last request a handler saw.
type capture struct {
	method string
	path   string
	header http.Header
	body   map[string]any
}

func capturing(t *testing.T, got *capture, respond http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		got.body = nil
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &got.body)
		}
		respond(w, r)
	}))
	t.Cleanup(ts.Close)

	c, err := New(ts.URL, WithToken("tok"))
	require.NoError(t, err)
	return c
}

func sseOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprint(w, "event: text\ndata: {\"item_id\":\"m\",\"text\":\"hi\"}\n\n")
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestNew_URLValidation(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())

	c, err = New("http://example.com:9000/")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:9000", c.BaseURL())

	for _, bad := range []string{"ftp://example.com", "http://", "example.com", "://bad"} {
		_, err := New(bad)
		assert.Error(t, err, bad)
	}
}

func TestStream_SessionRequest(t *testing.T) {
	var got capture
	c := capturing(t, &got, sseOK)

	body, err := c.Stream(context.Background(), StreamRequest{Prompt: "hello"})
	require.NoError(t, err)
	defer body.Close()

	ev, err := sse.NewReader(body).ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "text", ev.Name)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v1/stream", got.path)
	assert.Equal(t, "text/event-stream", got.header.Get("Accept"))
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "Bearer tok", got.header.Get("Authorization"))
	assert.Equal(t, map[string]any{"prompt": "hello", "session": "default"}, got.body)
}

func TestStream_ConversationRequest(t *testing.T) {
	var got capture
	c := capturing(t, &got, sseOK)

	body, err := c.ConversationStreamer("conv 1").Stream(context.Background(), "hi")
	require.NoError(t, err)
	body.Close()

	assert.Equal(t, "/v1/conversations/conv 1/stream", got.path)
	assert.Equal(t, map[string]any{"prompt": "hi"}, got.body)
}

func TestStream_NamedSession(t *testing.T) {
	var got capture
	c := capturing(t, &got, sseOK)

	body, err := c.SessionStreamer("work").Stream(context.Background(), "hi")
	require.NoError(t, err)
	body.Close()

	assert.Equal(t, "work", got.body["session"])
}

func TestStream_StatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
		is      error
	}{
		{"bad request", http.StatusBadRequest, `{"error":"prompt required"}`, "prompt required", ErrBadRequest},
		{"not found", http.StatusNotFound, `{"error":"not found"}`, "not found", ErrNotFound},
		{"plain text", http.StatusBadGateway, "upstream down\n", "upstream down", nil},
		{"empty", http.StatusServiceUnavailable, "", "Service Unavailable", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got capture
			c := capturing(t, &got, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := c.Stream(context.Background(), StreamRequest{Prompt: "x"})
			require.Error(t, err)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.Status)
			assert.Equal(t, tt.message, se.Message)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			} else {
				assert.False(t, errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRequest))
			}
		})
	}
}

func TestStream_EmptyBody(t *testing.T) {
	var got capture
	c := capturing(t, &got, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	})

	_, err := c.Stream(context.Background(), StreamRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNoBody)
}

func TestStream_CancelUnblocksRead(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	var got capture
	c := capturing(t, &got, func(w http.ResponseWriter, r *http.Request) {
		sseOK(w, r)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	body, err := c.Stream(ctx, StreamRequest{Prompt: "x"})
	require.NoError(t, err)
	defer body.Close()

	rd := sse.NewReader(body)
	_, err = rd.ReadEvent()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := rd.ReadEvent()
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not unblock after cancel")
	}
}

func TestStream_Unauthorized(t *testing.T) {
	c := replay(t, server.WithToken("secret"))

	_, err := c.Stream(context.Background(), StreamRequest{Prompt: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)

	WithToken("secret")(c)
	body, err := c.Stream(context.Background(), StreamRequest{Prompt: "x"})
	require.NoError(t, err)
	body.Close()
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversations_AgainstReplayServer(t *testing.T) {
	c := replay(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	conv, err := c.CreateConversation(ctx, "Trip")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, "Trip", conv.Title)
	assert.NotZero(t, conv.CreatedAt)

	renamed, err := c.RenameConversation(ctx, conv.ID, "Trip to Rome")
	require.NoError(t, err)
	assert.Equal(t, "Trip to Rome", renamed.Title)

	body, err := c.ConversationStreamer(conv.ID).Stream(ctx, "hello")
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, body)
	require.NoError(t, err)
	body.Close()

	full, err := c.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, full.Messages, 2)
	assert.Equal(t, "user", full.Messages[0].Role)
	assert.Equal(t, 1, full.Messages[1].Idx)

	list, err := c.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].MessageCount)
	assert.False(t, list[0].Updated().IsZero())

	_, err = c.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversations_Query(t *testing.T) {
	var query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		io.WriteString(w, `{"conversations":[]}`)
	}))
	defer ts.Close()

	c, err := New(ts.URL)
	require.NoError(t, err)

	_, err = c.ListConversations(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Equal(t, "limit=5&offset=10", query)

	_, err = c.ListConversations(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "", query)
}

// =============================================================================
// END TO END
// =============================================================================

func TestSessionController_AgainstReplayServer(t *testing.T) {
	c := replay(t)

	ctrl := session.New(c.SessionStreamer("e2e"))
	defer ctrl.Close()

	res := waitTurn(t, ctrl.SubmitPrompt("hello world"))
	require.Equal(t, session.StatusCompleted, res.Status, "err: %v", res.Err)
	assert.Zero(t, res.Dropped)
	assert.Zero(t, res.Malformed)
	assert.True(t, res.HasUsage)
	assert.Positive(t, res.Usage)

	bubbles := ctrl.Transcript().Snapshot()
	require.Len(t, bubbles, 3)
	assert.Equal(t, transcript.RoleUser, bubbles[0].Role)
	assert.Equal(t, "hello world", bubbles[0].Text())

	reasoning, ok := bubbles[1].Part(transcript.KindReasoning)
	require.True(t, ok)
	assert.Equal(t, "Reading the prompt and preparing an echo.", reasoning.Content())

	assert.Equal(t, "You said: hello world", bubbles[2].Text())
}

func TestSessionController_BackendRejects(t *testing.T) {
	c := replay(t)

	ctrl := session.New(c.SessionStreamer(""))
	defer ctrl.Close()

	// The backend trims the prompt and refuses it; the turn fails with the
	// fixed error bubble.
	res := waitTurn(t, ctrl.SubmitPrompt("   "))
	assert.Equal(t, session.StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrBadRequest)

	last, ok := ctrl.Transcript().Last()
	require.True(t, ok)
	assert.True(t, last.IsError)
	assert.Equal(t, transcript.ErrorText, last.Text())
}

func waitTurn(t *testing.T, turn *session.Turn) session.TurnResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := turn.Wait(ctx)
	require.NoError(t, err)
	return res
}
