// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/glial-tui/internal/util"
)

// ErrorText is the fixed text of the bubble shown when a turn fails.
const ErrorText = "Sorry, something went wrong."

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a bubble.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// BUBBLE TYPE
// =============================================================================

// Bubble is one transcript entry: a user prompt or one assistant item.
type Bubble struct {
	ID        string
	Role      Role
	Parts     []Part
	CreatedAt time.Time

	// IsError marks the fixed-text bubble appended on failure.
	IsError bool
}

// NewBubble creates a bubble with a fresh id.
func NewBubble(role Role, parts ...Part) Bubble {
	return Bubble{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     append([]Part(nil), parts...),
		CreatedAt: time.Now(),
	}
}

// Part returns the first part of the given kind.
func (b Bubble) Part(kind PartKind) (Part, bool) {
	for _, p := range b.Parts {
		if p.Kind() == kind {
			return p, true
		}
	}
	return nil, false
}

// Text returns the bubble's text part content, or "".
func (b Bubble) Text() string {
	if p, ok := b.Part(KindText); ok {
		return p.Content()
	}
	return ""
}

// IsToolCall reports whether the bubble holds a single tool call part.
func (b Bubble) IsToolCall() bool {
	return len(b.Parts) == 1 && b.Parts[0].Kind().IsToolCall()
}

// Preview returns a one-line rune-truncated summary of the bubble.
func (b Bubble) Preview(maxLen int) string {
	for _, p := range b.Parts {
		if c := util.SingleLine(p.Content()); c != "" {
			return util.TruncateRunes(c, maxLen)
		}
	}
	return ""
}

// clone returns a copy that shares no slices with b.
func (b Bubble) clone() Bubble {
	b.Parts = append([]Part(nil), b.Parts...)
	return b
}

// bubbleJSON is the persisted form of a Bubble.
type bubbleJSON struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Parts     json.RawMessage `json:"parts"`
	CreatedAt time.Time       `json:"created_at"`
	IsError   bool            `json:"is_error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (b Bubble) MarshalJSON() ([]byte, error) {
	parts, err := MarshalParts(b.Parts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(bubbleJSON{
		ID:        b.ID,
		Role:      b.Role,
		Parts:     parts,
		CreatedAt: b.CreatedAt,
		IsError:   b.IsError,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bubble) UnmarshalJSON(data []byte) error {
	var raw bubbleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var parts []Part
	if len(raw.Parts) > 0 && string(raw.Parts) != "null" {
		var err error
		if parts, err = UnmarshalParts(raw.Parts); err != nil {
			return err
		}
	}
	*b = Bubble{
		ID:        raw.ID,
		Role:      raw.Role,
		Parts:     parts,
		CreatedAt: raw.CreatedAt,
		IsError:   raw.IsError,
	}
	return nil
}
