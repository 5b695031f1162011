// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"goa.design/clue/log"
)

// Configuration constants for the backend API.
const (
	// DefaultBaseURL is where `glial serve` listens by default.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultSession is the session id the backend assumes when none is sent.
	DefaultSession = "default"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// sharedTransport pools connections for every client in the process.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to one glial backend.
type Client struct {
	baseURL *url.URL
	token   string

	// http serves JSON requests; stream has no timeout, the caller's
	// context bounds it.
	http   *http.Client
	stream *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces both underlying HTTP clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
		c.stream = hc
	}
}

// WithTimeout sets the timeout of non-streaming requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http = &http.Client{Transport: c.http.Transport, Timeout: d}
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Transport: sharedTransport, Timeout: DefaultTimeout},
		stream:  &http.Client{Transport: sharedTransport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.baseURL
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	// Path holds the decoded form; RawPath keeps a "/" inside an id escaped.
	u.RawPath = strings.TrimRight(u.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/")
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamRequest selects the streaming endpoint. ConversationID wins over
// Session when both are set.
type StreamRequest struct {
	Prompt         string `json:"prompt"`
	Session        string `json:"session,omitempty"`
	ConversationID string `json:"-"`
}

// Stream posts a prompt and returns the SSE response body. The caller must
// close it.
func (c *Client) Stream(ctx context.Context, sr StreamRequest) (io.ReadCloser, error) {
	endpoint := c.endpoint("v1", "stream")
	payload := map[string]string{"prompt": sr.Prompt}
	if sr.ConversationID != "" {
		endpoint = c.endpoint("v1", "conversations", sr.ConversationID, "stream")
	} else {
		session := sr.Session
		if session == "" {
			session = DefaultSession
		}
		payload["session"] = session
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	log.Debug(ctx,
		log.KV{K: "event", V: "stream_request"},
		log.KV{K: "url", V: endpoint})

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newStatusError(resp.StatusCode, body)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}
	return resp.Body, nil
}

// BoundStreamer streams prompts to a fixed session or conversation. It
// satisfies session.Streamer.
type BoundStreamer struct {
	client         *Client
	session        string
	conversationID string
}

// SessionStreamer binds the client to a backend session id.
func (c *Client) SessionStreamer(session string) *BoundStreamer {
	return &BoundStreamer{client: c, session: session}
}

// ConversationStreamer binds the client to a stored conversation.
func (c *Client) ConversationStreamer(id string) *BoundStreamer {
	return &BoundStreamer{client: c, conversationID: id}
}

// Stream opens the SSE body for prompt.
func (b *BoundStreamer) Stream(ctx context.Context, prompt string) (io.ReadCloser, error) {
	return b.client.Stream(ctx, StreamRequest{
		Prompt:         prompt,
		Session:        b.session,
		ConversationID: b.conversationID,
	})
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Conversation is a backend-stored conversation. Timestamps are Unix
// seconds.
type Conversation struct {
	ID           string                `json:"id"`
	Title        string                `json:"title,omitempty"`
	CreatedAt    int64                 `json:"created_at,omitempty"`
	UpdatedAt    int64                 `json:"updated_at,omitempty"`
	Settings     map[string]any        `json:"settings,omitempty"`
	Messages     []ConversationMessage `json:"messages,omitempty"`
	MessageCount int                   `json:"message_count,omitempty"`
}

// ConversationMessage is one stored model item; Payload is opaque.
type ConversationMessage struct {
	ID      string         `json:"id"`
	Idx     int            `json:"idx"`
	Role    string         `json:"role"`
	Payload map[string]any `json:"payload"`
}

// Updated returns UpdatedAt as a time.
func (c Conversation) Updated() time.Time {
	return time.Unix(c.UpdatedAt, 0)
}

// CreateConversation creates a conversation with an optional title.
func (c *Client) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	body := map[string]any{}
	if title != "" {
		body["title"] = title
	}
	var conv Conversation
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("v1", "conversations"), body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation fetches one conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("v1", "conversations", id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// RenameConversation sets a conversation's title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) (*Conversation, error) {
	var conv Conversation
	body := map[string]string{"title": title}
	if err := c.doJSON(ctx, http.MethodPatch, c.endpoint("v1", "conversations", id), body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns conversations, most recently updated first.
func (c *Client) ListConversations(ctx context.Context, limit, offset int) ([]Conversation, error) {
	u, _ := url.Parse(c.endpoint("v1", "conversations"))
	q := u.Query()
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	u.RawQuery = q.Encode()

	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, u.String(), nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("healthz"), nil, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("backend reported unhealthy")
	}
	return nil
}

// doJSON performs a non-streaming request and decodes the JSON response.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
