// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// TRANSCRIPT TYPE
// =============================================================================

// Transcript is the ordered, append-only list of bubbles for one session.
// It is safe for one writer and concurrent readers.
type Transcript struct {
	mu      sync.RWMutex
	bubbles []*Bubble
	index   map[string]int
	version uint64

	subMu  sync.Mutex
	subs   map[int]func()
	nextID int
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{
		index: make(map[string]int),
		subs:  make(map[int]func()),
	}
}

// FromBubbles creates a transcript pre-populated with copies of bubbles,
// e.g. an archived conversation being reopened.
func FromBubbles(bubbles []Bubble) *Transcript {
	t := New()
	for _, b := range bubbles {
		c := b.clone()
		t.index[c.ID] = len(t.bubbles)
		t.bubbles = append(t.bubbles, &c)
	}
	return t
}

// =============================================================================
// MUTATION
// =============================================================================

// Append adds a bubble to the end of the transcript and returns its id.
// A missing id or timestamp is filled in.
func (t *Transcript) Append(b Bubble) string {
	c := b.clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	t.mu.Lock()
	t.index[c.ID] = len(t.bubbles)
	t.bubbles = append(t.bubbles, &c)
	t.version++
	t.mu.Unlock()

	t.notify()
	return c.ID
}

// AppendUser adds a user prompt bubble.
func (t *Transcript) AppendUser(text string) string {
	return t.Append(NewBubble(RoleUser, TextPart{Text: text}))
}

// AppendAssistant adds an assistant bubble holding the given parts.
func (t *Transcript) AppendAssistant(parts ...Part) string {
	return t.Append(NewBubble(RoleAssistant, parts...))
}

// AppendError adds the fixed-text error bubble.
func (t *Transcript) AppendError() string {
	b := NewBubble(RoleAssistant, TextPart{Text: ErrorText})
	b.IsError = true
	return t.Append(b)
}

// AppendToPart appends text into the bubble's part of the given kind.
//
// Text and reasoning parts are created on first use, so a bubble never
// holds more than one of each. Tool call text is appended only when the
// bubble's sole part is a tool call of that kind. Returns false when the
// bubble does not exist or cannot take the text.
func (t *Transcript) AppendToPart(bubbleID string, kind PartKind, text string) bool {
	t.mu.Lock()
	i, ok := t.index[bubbleID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	b := t.bubbles[i]

	switch kind {
	case KindText, KindReasoning:
		if b.IsToolCall() {
			t.mu.Unlock()
			return false
		}
		j := partIndex(b.Parts, kind)
		if j < 0 {
			b.Parts = append(b.Parts, emptyPart(kind).withContent(text))
		} else {
			b.Parts[j] = b.Parts[j].withContent(b.Parts[j].Content() + text)
		}
	case KindFunctionCall, KindCustomToolCall:
		if len(b.Parts) != 1 || b.Parts[0].Kind() != kind {
			t.mu.Unlock()
			return false
		}
		b.Parts[0] = b.Parts[0].withContent(b.Parts[0].Content() + text)
	default:
		t.mu.Unlock()
		return false
	}
	t.version++
	t.mu.Unlock()

	t.notify()
	return true
}

func partIndex(parts []Part, kind PartKind) int {
	for i, p := range parts {
		if p.Kind() == kind {
			return i
		}
	}
	return -1
}

// =============================================================================
// READERS
// =============================================================================

// Bubble returns a copy of the bubble with the given id.
func (t *Transcript) Bubble(id string) (Bubble, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, ok := t.index[id]
	if !ok {
		return Bubble{}, false
	}
	return t.bubbles[i].clone(), true
}

// Snapshot returns copies of every bubble in order.
func (t *Transcript) Snapshot() []Bubble {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Bubble, len(t.bubbles))
	for i, b := range t.bubbles {
		out[i] = b.clone()
	}
	return out
}

// Last returns a copy of the most recent bubble.
func (t *Transcript) Last() (Bubble, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.bubbles) == 0 {
		return Bubble{}, false
	}
	return t.bubbles[len(t.bubbles)-1].clone(), true
}

// Len returns the number of bubbles.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bubbles)
}

// Version increases on every mutation.
func (t *Transcript) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// Subscribe registers fn to be called after every mutation. fn runs on the
// writer's goroutine without the transcript lock held and must not block.
// The returned function removes the subscription.
func (t *Transcript) Subscribe(fn func()) (unsubscribe func()) {
	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

func (t *Transcript) notify() {
	t.subMu.Lock()
	fns := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
