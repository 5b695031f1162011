// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation or transcript doesn't exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = errors.New("not found")

// DefaultSettings returns the settings stored with a conversation created
// without any.
func DefaultSettings() map[string]any {
	return map[string]any{
		"model":          "gpt-5",
		"reasoning":      map[string]any{"effort": "medium", "summary": "auto"},
		"text":           map[string]any{"verbosity": "high"},
		"tool_allowlist": nil,
	}
}

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// Conversation is a backend conversation. Timestamps are Unix seconds.
type Conversation struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
	Settings  map[string]any `json:"settings"`
	Messages  []Message      `json:"messages"`
}

// Message is one stored model item. Payload is kept verbatim.
type Message struct {
	ID      string         `json:"id"`
	Idx     int            `json:"idx"`
	Role    string         `json:"role"`
	Payload map[string]any `json:"payload"`
}

// ConversationSummary is a list entry.
type ConversationSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

// ConversationUpdate is a partial update; nil fields are left alone.
type ConversationUpdate struct {
	Title    *string
	Settings map[string]any
}

func (u ConversationUpdate) empty() bool {
	return u.Title == nil && u.Settings == nil
}

// Conversations stores backend conversations.
type Conversations interface {
	Create(ctx context.Context, title string, settings map[string]any) (*Conversation, error)
	Get(ctx context.Context, id string) (*Conversation, error)
	Update(ctx context.Context, id string, u ConversationUpdate) (*Conversation, error)
	// List returns summaries, most recently updated first.
	List(ctx context.Context, limit, offset int) ([]ConversationSummary, error)
	// AppendMessages appends items after the last stored index and bumps
	// the conversation's updated_at.
	AppendMessages(ctx context.Context, id string, payloads []map[string]any) error
	Close() error
}

func newConversationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// messageRole picks the role of a stored item: its "role", else its
// "type", else "unknown".
func messageRole(p map[string]any) string {
	for _, key := range []string{"role", "type"} {
		if s, ok := p[key].(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// MemoryConversations is a Conversations held in memory.
type MemoryConversations struct {
	mu    sync.RWMutex
	convs map[string]*memConversation
	seq   int
}

type memConversation struct {
	conv Conversation
	seq  int
}

// NewMemoryConversations creates an empty in-memory store.
func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{convs: make(map[string]*memConversation)}
}

// Create implements Conversations.
func (m *MemoryConversations) Create(_ context.Context, title string, settings map[string]any) (*Conversation, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	ts := now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	mc := &memConversation{
		conv: Conversation{
			ID:        newConversationID(),
			Title:     title,
			CreatedAt: ts,
			UpdatedAt: ts,
			Settings:  maps.Clone(settings),
			Messages:  []Message{},
		},
		seq: m.seq,
	}
	m.convs[mc.conv.ID] = mc
	return copyConversation(mc.conv), nil
}

// Get implements Conversations.
func (m *MemoryConversations) Get(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(mc.conv), nil
}

// Update implements Conversations.
func (m *MemoryConversations) Update(_ context.Context, id string, u ConversationUpdate) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !u.empty() {
		if u.Title != nil {
			mc.conv.Title = *u.Title
		}
		if u.Settings != nil {
			mc.conv.Settings = maps.Clone(u.Settings)
		}
		mc.conv.UpdatedAt = now()
	}
	return copyConversation(mc.conv), nil
}

// List implements Conversations.
func (m *MemoryConversations) List(_ context.Context, limit, offset int) ([]ConversationSummary, error) {
	m.mu.RLock()
	all := make([]*memConversation, 0, len(m.convs))
	for _, mc := range m.convs {
		all = append(all, mc)
	}
	slices.SortFunc(all, func(a, b *memConversation) int {
		if c := cmp.Compare(b.conv.UpdatedAt, a.conv.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	out := make([]ConversationSummary, 0, len(all))
	for _, mc := range all {
		out = append(out, ConversationSummary{
			ID:           mc.conv.ID,
			Title:        mc.conv.Title,
			CreatedAt:    mc.conv.CreatedAt,
			UpdatedAt:    mc.conv.UpdatedAt,
			MessageCount: len(mc.conv.Messages),
		})
	}
	m.mu.RUnlock()

	return page(out, limit, offset), nil
}

// AppendMessages implements Conversations.
func (m *MemoryConversations) AppendMessages(_ context.Context, id string, payloads []map[string]any) error {
	if len(payloads) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.convs[id]
	if !ok {
		return ErrNotFound
	}
	idx := len(mc.conv.Messages)
	for _, p := range payloads {
		mc.conv.Messages = append(mc.conv.Messages, Message{
			ID:      newConversationID(),
			Idx:     idx,
			Role:    messageRole(p),
			Payload: p,
		})
		idx++
	}
	mc.conv.UpdatedAt = now()
	return nil
}

// Close implements Conversations.
func (m *MemoryConversations) Close() error { return nil }

func copyConversation(c Conversation) *Conversation {
	c.Settings = maps.Clone(c.Settings)
	c.Messages = slices.Clone(c.Messages)
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return &c
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// =============================================================================
// SQLITE STORE
// =============================================================================

const conversationSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    title TEXT,
    settings TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    role TEXT,
    payload TEXT NOT NULL,
    FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, idx);
`

// SQLConversations is a Conversations backed by a SQLite file.
type SQLConversations struct {
	db *sql.DB
}

// OpenConversations opens the conversation database at path.
func OpenConversations(path string) (*SQLConversations, error) {
	db, err := openDB(path, conversationSchema)
	if err != nil {
		return nil, err
	}
	return &SQLConversations{db: db}, nil
}

// Create implements Conversations.
func (s *SQLConversations) Create(ctx context.Context, title string, settings map[string]any) (*Conversation, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	id := newConversationID()
	ts := now()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, created_at, updated_at, title, settings) VALUES (?, ?, ?, ?, ?)",
		id, ts, ts, title, string(data)); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return s.Get(ctx, id)
}

// Get implements Conversations.
func (s *SQLConversations) Get(ctx context.Context, id string) (*Conversation, error) {
	var (
		conv     Conversation
		title    sql.NullString
		settings string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, created_at, updated_at, settings FROM conversations WHERE id = ?", id).
		Scan(&conv.ID, &title, &conv.CreatedAt, &conv.UpdatedAt, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.Title = title.String
	if err := json.Unmarshal([]byte(settings), &conv.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, idx, role, payload FROM messages WHERE conversation_id = ? ORDER BY idx ASC", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []Message{}
	for rows.Next() {
		var (
			msg     Message
			role    sql.NullString
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.Idx, &role, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = role.String
		if err := json.Unmarshal([]byte(payload), &msg.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", msg.ID, err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return &conv, rows.Err()
}

// Update implements Conversations.
func (s *SQLConversations) Update(ctx context.Context, id string, u ConversationUpdate) (*Conversation, error) {
	if u.empty() {
		return s.Get(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	if u.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *u.Title)
	}
	if u.Settings != nil {
		data, err := json.Marshal(u.Settings)
		if err != nil {
			return nil, fmt.Errorf("failed to encode settings: %w", err)
		}
		sets = append(sets, "settings = ?")
		args = append(args, string(data))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now(), id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// List implements Conversations.
func (s *SQLConversations) List(ctx context.Context, limit, offset int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at,
		  (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count
		FROM conversations c
		ORDER BY updated_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	out := []ConversationSummary{}
	for rows.Next() {
		var (
			cs    ConversationSummary
			title sql.NullString
		)
		if err := rows.Scan(&cs.ID, &title, &cs.CreatedAt, &cs.UpdatedAt, &cs.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		cs.Title = title.String
		out = append(out, cs)
	}
	return out, rows.Err()
}

// AppendMessages implements Conversations.
func (s *SQLConversations) AppendMessages(ctx context.Context, id string, payloads []map[string]any) error {
	if len(payloads) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(idx), -1) + 1 FROM messages WHERE conversation_id = ?", id).
		Scan(&next); err != nil {
		return fmt.Errorf("failed to read next index: %w", err)
	}

	for _, p := range payloads {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO messages (id, conversation_id, idx, role, payload) VALUES (?, ?, ?, ?, ?)",
			newConversationID(), id, next, messageRole(p), string(data)); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		next++
	}
	return tx.Commit()
}

// Close implements Conversations.
func (s *SQLConversations) Close() error {
	return s.db.Close()
}
