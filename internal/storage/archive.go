// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/glial-tui/internal/transcript"
	"github.com/jeranaias/glial-tui/internal/util"
)

// DefaultMaxTranscripts is how many transcripts an archive keeps.
const DefaultMaxTranscripts = 200

// =============================================================================
// STORED TRANSCRIPT TYPE
// =============================================================================

// StoredTranscript is an archived transcript and where it came from.
type StoredTranscript struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Origin
	Server         string `json:"server,omitempty"`
	Session        string `json:"session,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Usage is the last total-token count the server reported.
	Usage int64 `json:"usage,omitempty"`

	Bubbles []transcript.Bubble `json:"bubbles"`
}

// NewStoredTranscript wraps a transcript snapshot for archiving.
func NewStoredTranscript(bubbles []transcript.Bubble) *StoredTranscript {
	return &StoredTranscript{Bubbles: bubbles}
}

// Preview returns the first user prompt, truncated.
func (st *StoredTranscript) Preview() string {
	for _, b := range st.Bubbles {
		if b.Role == transcript.RoleUser {
			if p := b.Preview(80); p != "" {
				return p
			}
		}
	}
	return ""
}

// generateTitle titles a transcript after its first prompt.
func (st *StoredTranscript) generateTitle() string {
	for _, b := range st.Bubbles {
		if b.Role == transcript.RoleUser {
			if p := b.Preview(50); p != "" {
				return p
			}
		}
	}
	return "New conversation"
}

// TranscriptMeta is a list entry.
type TranscriptMeta struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	BubbleCount int       `json:"bubble_count"`
	Usage       int64     `json:"usage,omitempty"`
	Preview     string    `json:"preview"`
}

// =============================================================================
// ARCHIVE
// =============================================================================

const archiveSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL,  -- Unix milliseconds
    updated_at INTEGER NOT NULL,  -- Unix milliseconds
    server TEXT,
    session TEXT,
    conversation_id TEXT,
    usage INTEGER NOT NULL DEFAULT 0,
    bubble_count INTEGER NOT NULL,
    preview TEXT NOT NULL,
    body TEXT NOT NULL            -- JSON array of bubbles
);

CREATE INDEX IF NOT EXISTS idx_transcripts_updated ON transcripts(updated_at);
`

// Archive is the local transcript archive.
type Archive struct {
	db *sql.DB

	// MaxTranscripts limits stored transcripts (0 = unlimited). The least
	// recently updated are removed first.
	MaxTranscripts int
}

// DefaultArchivePath returns ~/.glial/archive.db.
func DefaultArchivePath() string {
	return filepath.Join(DataDir(), "archive.db")
}

// OpenArchive opens the archive database at path.
func OpenArchive(path string) (*Archive, error) {
	db, err := openDB(path, archiveSchema)
	if err != nil {
		return nil, err
	}
	return &Archive{db: db, MaxTranscripts: DefaultMaxTranscripts}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Save inserts or replaces st and returns its id. A missing id, title or
// timestamp is filled in on st.
func (a *Archive) Save(ctx context.Context, st *StoredTranscript) (string, error) {
	if st.ID == "" {
		st.ID = "tr_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	if st.Title == "" {
		st.Title = st.generateTitle()
	}
	st.UpdatedAt = time.Now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}

	body, err := json.Marshal(st.Bubbles)
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, title, created_at, updated_at, server, session,
		  conversation_id, usage, bubble_count, preview, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  title = excluded.title,
		  updated_at = excluded.updated_at,
		  server = excluded.server,
		  session = excluded.session,
		  conversation_id = excluded.conversation_id,
		  usage = excluded.usage,
		  bubble_count = excluded.bubble_count,
		  preview = excluded.preview,
		  body = excluded.body`,
		st.ID, st.Title, st.CreatedAt.UnixMilli(), st.UpdatedAt.UnixMilli(),
		st.Server, st.Session, st.ConversationID, st.Usage,
		len(st.Bubbles), st.Preview(), string(body))
	if err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	if a.MaxTranscripts > 0 {
		if err := a.enforceLimit(ctx); err != nil {
			return st.ID, err
		}
	}
	return st.ID, nil
}

// enforceLimit removes the oldest transcripts beyond MaxTranscripts.
func (a *Archive) enforceLimit(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		DELETE FROM transcripts WHERE id IN (
		  SELECT id FROM transcripts
		  ORDER BY updated_at DESC, rowid DESC
		  LIMIT -1 OFFSET ?)`, a.MaxTranscripts)
	if err != nil {
		return fmt.Errorf("failed to prune archive: %w", err)
	}
	return nil
}

// Load retrieves a transcript by id.
func (a *Archive) Load(ctx context.Context, id string) (*StoredTranscript, error) {
	var (
		st                      StoredTranscript
		created, updated        int64
		server, session, convID sql.NullString
		body                    string
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at, server, session, conversation_id, usage, body
		FROM transcripts WHERE id = ?`, id).
		Scan(&st.ID, &st.Title, &created, &updated, &server, &session, &convID, &st.Usage, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	st.CreatedAt = time.UnixMilli(created)
	st.UpdatedAt = time.UnixMilli(updated)
	st.Server, st.Session, st.ConversationID = server.String, session.String, convID.String
	if err := json.Unmarshal([]byte(body), &st.Bubbles); err != nil {
		return nil, fmt.Errorf("failed to decode transcript %s: %w", id, err)
	}
	return &st, nil
}

// List returns up to limit transcripts, most recent first. limit <= 0
// lists all.
func (a *Archive) List(ctx context.Context, limit int) ([]TranscriptMeta, error) {
	return a.query(ctx, "", limit)
}

// Search lists transcripts whose title or content contains query,
// case-insensitively.
func (a *Archive) Search(ctx context.Context, query string, limit int) ([]TranscriptMeta, error) {
	return a.query(ctx, strings.TrimSpace(query), limit)
}

func (a *Archive) query(ctx context.Context, search string, limit int) ([]TranscriptMeta, error) {
	if limit <= 0 {
		limit = -1
	}
	q := `SELECT id, title, created_at, updated_at, bubble_count, usage, preview FROM transcripts`
	args := []any{}
	if search != "" {
		q += ` WHERE instr(lower(title), lower(?)) > 0 OR instr(lower(body), lower(?)) > 0`
		args = append(args, search, search)
	}
	q += ` ORDER BY updated_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	metas := []TranscriptMeta{}
	for rows.Next() {
		var (
			m                TranscriptMeta
			created, updated int64
		)
		if err := rows.Scan(&m.ID, &m.Title, &created, &updated, &m.BubbleCount, &m.Usage, &m.Preview); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		m.CreatedAt = time.UnixMilli(created)
		m.UpdatedAt = time.UnixMilli(updated)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Resolve finds a transcript id from a full id, a unique id prefix, or a
// 1-based position in List order.
func (a *Archive) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrNotFound
	}
	metas, err := a.List(ctx, 0)
	if err != nil {
		return "", err
	}
	var match string
	for _, m := range metas {
		if m.ID == ref {
			return m.ID, nil
		}
		if strings.HasPrefix(m.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("ambiguous transcript id %q", ref)
			}
			match = m.ID
		}
	}
	if match != "" {
		return match, nil
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(metas) {
		return metas[n-1].ID, nil
	}
	return "", ErrNotFound
}

// Delete removes a transcript.
func (a *Archive) Delete(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, "DELETE FROM transcripts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatList renders transcript metas as a fixed-width table.
func FormatList(metas []TranscriptMeta) string {
	if len(metas) == 0 {
		return "No saved transcripts."
	}

	var sb strings.Builder
	rule := strings.Repeat("-", 72) + "\n"
	sb.WriteString(util.PadWidth("#", 4) + util.PadWidth("ID", 20) + util.PadWidth("Updated", 18) +
		util.PadWidth("Msgs", 6) + "Title\n")
	sb.WriteString(rule)
	for i, m := range metas {
		sb.WriteString(util.PadWidth(fmt.Sprint(i+1), 4))
		sb.WriteString(util.PadWidth(util.TruncateWidth(m.ID, 19), 20))
		sb.WriteString(util.PadWidth(m.UpdatedAt.Format("2006-01-02 15:04"), 18))
		sb.WriteString(util.PadWidth(fmt.Sprint(m.BubbleCount), 6))
		sb.WriteString(util.TruncateWidth(util.SingleLine(m.Title), 40))
		sb.WriteString("\n")
	}
	return sb.String()
}
