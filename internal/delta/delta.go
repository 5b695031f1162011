// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package delta

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"strconv"
	"strings"

	"github.com/jeranaias/glial-tui/internal/sse"
)

// ErrMalformed is wrapped by Decode when an event payload is not a JSON
// object.
var ErrMalformed = errors.New("malformed delta payload")

// =============================================================================
// DELTA TYPE
// =============================================================================

// Delta is one typed record decoded from an SSE event. It is consumed
// immediately by the reconciler and never stored.
type Delta struct {
	Kind Kind

	// Position of the item within the response. Absent fields are nil.
	OutputIndex  *int
	ItemID       *string
	ContentIndex *int
	SummaryIndex *int

	Text   string
	Name   string
	CallID string
	Status string

	// Meta is the open metadata map. Numbers are json.Number.
	Meta map[string]any

	// TotalTokens is set by response.usage.
	TotalTokens *int64

	// Message is the server's description on an error delta.
	Message string
}

// payload mirrors the JSON shape the backend sends on every event.
type payload struct {
	Kind         string          `json:"kind"`
	OutputIndex  *int            `json:"output_index"`
	ItemID       *string         `json:"item_id"`
	ContentIndex *int            `json:"content_index"`
	SummaryIndex *int            `json:"summary_index"`
	Text         *string         `json:"text"`
	Name         *string         `json:"name"`
	CallID       *string         `json:"call_id"`
	Status       *string         `json:"status"`
	Meta         map[string]any  `json:"meta"`
	TotalTokens  json.RawMessage `json:"total_tokens"`
	Message      *string         `json:"message"`
}

// Decode parses one event into a Delta. The returned error always wraps
// ErrMalformed.
func Decode(ev sse.Event) (Delta, error) {
	dec := json.NewDecoder(strings.NewReader(ev.Data))
	dec.UseNumber()

	var p payload
	if err := dec.Decode(&p); err != nil {
		return Delta{}, fmt.Errorf("%w: event %q: %v", ErrMalformed, ev.Name, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Delta{}, fmt.Errorf("%w: event %q: trailing data", ErrMalformed, ev.Name)
	}

	d := Delta{
		Kind:         kindOf(ev.Name, p.Kind),
		OutputIndex:  p.OutputIndex,
		ItemID:       p.ItemID,
		ContentIndex: p.ContentIndex,
		SummaryIndex: p.SummaryIndex,
		Text:         deref(p.Text),
		Name:         deref(p.Name),
		CallID:       deref(p.CallID),
		Status:       deref(p.Status),
		Meta:         p.Meta,
		Message:      deref(p.Message),
	}

	if len(p.TotalTokens) > 0 {
		var raw any
		rd := json.NewDecoder(strings.NewReader(string(p.TotalTokens)))
		rd.UseNumber()
		if err := rd.Decode(&raw); err == nil {
			if n, ok := toInt64(raw); ok {
				d.TotalTokens = &n
			}
		}
	}

	return d, nil
}

// kindOf prefers the SSE event name. Streams that omit the event field fall
// back to the payload's own kind.
func kindOf(eventName, payloadKind string) Kind {
	name := strings.TrimSpace(eventName)
	if name == "" || name == sse.DefaultEventName {
		name = strings.TrimSpace(payloadKind)
	}
	if name == "" {
		return Unknown
	}
	return Kind(name)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// =============================================================================
// ACCESSORS
// =============================================================================

// HasItemID reports whether the payload carried a non-null item_id.
func (d Delta) HasItemID() bool {
	return d.ItemID != nil
}

// ID returns the item id, or "" when absent.
func (d Delta) ID() string {
	return deref(d.ItemID)
}

// ItemType returns meta.type, the classification of an item.started delta.
func (d Delta) ItemType() string {
	t, _ := d.Meta["type"].(string)
	return t
}

// Usage returns the total-token count carried by a completed
// response.status or a response.usage delta.
func (d Delta) Usage() (int64, bool) {
	switch d.Kind {
	case ResponseStatus:
		if d.Status != StatusCompleted {
			return 0, false
		}
		usage, ok := d.Meta["usage"].(map[string]any)
		if !ok {
			return 0, false
		}
		return toInt64(usage["total_tokens"])
	case ResponseUsage:
		if d.TotalTokens == nil {
			return 0, false
		}
		return *d.TotalTokens, true
	default:
		return 0, false
	}
}

// toInt64 accepts JSON numbers and numeric strings.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		return parseNumber(n.String())
	case string:
		return parseNumber(strings.TrimSpace(n))
	case float64:
		return floatToInt64(n)
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func parseNumber(s string) (int64, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return floatToInt64(f)
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// =============================================================================
// STREAM ADAPTER
// =============================================================================

// Deltas decodes an event sequence lazily. Malformed events are skipped;
// onMalformed, if non-nil, is told about each one. A read error from the
// event sequence is yielded once and ends iteration.
func Deltas(events iter.Seq2[sse.Event, error], onMalformed func(sse.Event, error)) iter.Seq2[Delta, error] {
	return func(yield func(Delta, error) bool) {
		for ev, err := range events {
			if err != nil {
				yield(Delta{}, err)
				return
			}
			d, derr := Decode(ev)
			if derr != nil {
				if onMalformed != nil {
					onMalformed(ev, derr)
				}
				continue
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}
