// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// server.go - HTTP server speaking the glial streaming protocol.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/jeranaias/glial-tui/internal/delta"
	"github.com/jeranaias/glial-tui/internal/storage"
)

// Version is the server version reported by /healthz.
const Version = "0.4.0"

// Defaults for the listen address and list paging.
const (
	DefaultAddr      = "127.0.0.1:8000"
	DefaultListLimit = 50
	maxRequestBody   = 1 << 20
)

// ============================================================================
// SERVER
// ============================================================================

// Server is a replay backend: it answers prompts with scripted delta
// streams and keeps conversations in a storage.Conversations.
type Server struct {
	addr       string
	token      string
	script     Script
	store      storage.Conversations
	frameDelay time.Duration
	limiter    *RateLimiter
	logCtx     context.Context

	mux    *http.ServeMux
	mu     sync.Mutex
	server *http.Server

	// turns counts prompts per session id.
	turnsMu sync.Mutex
	turns   map[string]int
}

// Option configures a Server.
type Option func(*Server)

// WithScript sets the script answering prompts. Default EchoScript.
func WithScript(sc Script) Option {
	return func(s *Server) { s.script = sc }
}

// WithStore sets the conversation store. Default in-memory.
func WithStore(st storage.Conversations) Option {
	return func(s *Server) { s.store = st }
}

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithFrameDelay pauses between frames so streaming is visible.
func WithFrameDelay(d time.Duration) Option {
	return func(s *Server) { s.frameDelay = d }
}

// WithRateLimiter replaces the default per-IP limiter. nil disables
// limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithContext sets the logging context.
func WithContext(ctx context.Context) Option {
	return func(s *Server) { s.logCtx = ctx }
}

// New creates a server listening on addr once started.
func New(addr string, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:    addr,
		script:  EchoScript{},
		limiter: DefaultRateLimiter(),
		logCtx:  context.Background(),
		mux:     http.NewServeMux(),
		turns:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = storage.NewMemoryConversations()
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	s.mux.HandleFunc("POST /v1/conversations", s.handleCreateConversation)
	s.mux.HandleFunc("GET /v1/conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("PATCH /v1/conversations/{id}", s.handlePatchConversation)

	s.mux.HandleFunc("POST /v1/stream", s.handleStream)
	s.mux.HandleFunc("POST /v1/conversations/{id}/stream", s.handleConversationStream)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		LoggingMiddleware(s.logCtx),
		RecoveryMiddleware(),
		CORSMiddleware(),
	}
	if s.limiter != nil {
		mws = append(mws, RateLimitMiddleware(s.limiter))
	}
	mws = append(mws, AuthMiddleware(s.token))
	return Chain(mws...)(s.mux)
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "version": Version})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	convs, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if convs == nil {
		convs = []storage.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// conversationBody is the POST/PATCH body. Unparseable bodies count as
// empty.
type conversationBody struct {
	Title    *string        `json:"title"`
	Settings map[string]any `json:"settings"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var body conversationBody
	_ = decodeJSON(r, &body)

	title := ""
	if body.Title != nil {
		title = *body.Title
	}
	conv, err := s.store.Create(r.Context(), title, body.Settings)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handlePatchConversation(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookup(w, r); !ok {
		return
	}
	var body conversationBody
	_ = decodeJSON(r, &body)

	conv, err := s.store.Update(r.Context(), r.PathValue("id"), storage.ConversationUpdate{
		Title:    body.Title,
		Settings: body.Settings,
	})
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// streamBody is the body of both stream endpoints.
type streamBody struct {
	Prompt  *string `json:"prompt"`
	Session *string `json:"session"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var body streamBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	prompt := trimmed(body.Prompt)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt required")
		return
	}
	session := trimmed(body.Session)
	if session == "" {
		session = "default"
	}
	s.streamRound(w, r, session, prompt, "")
}

func (s *Server) handleConversationStream(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var body streamBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	prompt := trimmed(body.Prompt)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt required")
		return
	}
	s.streamRound(w, r, conv.ID, prompt, conv.ID)
}

// lookup loads the {id} conversation, answering 404 when it is missing.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*storage.Conversation, bool) {
	conv, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return nil, false
	}
	return conv, true
}

// ============================================================================
// STREAMING
// ============================================================================

// streamRound writes the script's frames for prompt as SSE, then the
// trailing usage event. A script failure is reported as an error event.
// Conversation rounds are recorded once the script has run to the end.
func (s *Server) streamRound(w http.ResponseWriter, r *http.Request, session, prompt, convID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ctx := r.Context()
	turn := s.nextTurn(session)

	log.Info(ctx,
		log.KV{K: "event", V: "stream_start"},
		log.KV{K: "session", V: session},
		log.KV{K: "conversation", V: convID},
		log.KV{K: "turn", V: turn})

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	frames, usage, err := s.script.Frames(prompt)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "event", V: "script_failed"})
		_ = writeFrame(w, flusher, errorFrame(err.Error()))
		return
	}

	var reply strings.Builder
	for i, f := range frames {
		if i > 0 && s.frameDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.frameDelay):
			}
		}
		if ctx.Err() != nil {
			log.Info(ctx,
				log.KV{K: "event", V: "client_gone"},
				log.KV{K: "sent", V: i})
			return
		}
		if err := writeFrame(w, flusher, f); err != nil {
			log.Info(ctx,
				log.KV{K: "event", V: "write_failed"},
				log.KV{K: "err", V: err.Error()})
			return
		}
		collectText(&reply, f)
	}
	if usage >= 0 {
		if err := writeFrame(w, flusher, usageFrame(usage)); err != nil {
			return
		}
	}

	if convID != "" {
		items := []map[string]any{
			messageItem("user", "input_text", prompt),
			messageItem("assistant", "output_text", reply.String()),
		}
		// Recording must not depend on the client still being connected.
		if err := s.store.AppendMessages(context.WithoutCancel(ctx), convID, items); err != nil {
			log.Error(ctx, err,
				log.KV{K: "event", V: "record_failed"},
				log.KV{K: "conversation", V: convID})
		}
	}

	log.Info(ctx,
		log.KV{K: "event", V: "stream_end"},
		log.KV{K: "session", V: session},
		log.KV{K: "frames", V: len(frames)})
}

func (s *Server) nextTurn(session string) int {
	s.turnsMu.Lock()
	defer s.turnsMu.Unlock()
	s.turns[session]++
	return s.turns[session]
}

// writeFrame writes one SSE event and flushes it.
func writeFrame(w io.Writer, flusher http.Flusher, f Frame) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Event, f.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// collectText appends the text of a "text" frame to b.
func collectText(b *strings.Builder, f Frame) {
	if f.Event != delta.Text.String() {
		return
	}
	var p struct {
		Text *string `json:"text"`
	}
	if json.Unmarshal(f.Data, &p) == nil && p.Text != nil {
		b.WriteString(*p.Text)
	}
}

// messageItem builds a stored model item for one side of a round.
func messageItem(role, contentType, text string) map[string]any {
	return map[string]any{
		"type": "message",
		"role": role,
		"content": []any{
			map[string]any{"type": contentType, "text": text},
		},
	}
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	log.Info(s.logCtx,
		log.KV{K: "event", V: "server_start"},
		log.KV{K: "addr", V: s.addr},
		log.KV{K: "version", V: Version})
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	log.Info(s.logCtx, log.KV{K: "event", V: "server_shutdown"})

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error(r.Context(), err,
		log.KV{K: "event", V: "handler_failed"},
		log.KV{K: "path", V: r.URL.Path})
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
