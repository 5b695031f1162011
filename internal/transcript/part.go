// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// PART KIND
// =============================================================================

// PartKind identifies a Part variant.
type PartKind int

const (
	KindText PartKind = iota
	KindReasoning
	KindFunctionCall
	KindCustomToolCall
)

// String returns the wire name of the part kind.
func (k PartKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindReasoning:
		return "reasoning"
	case KindFunctionCall:
		return "function_call"
	case KindCustomToolCall:
		return "custom_tool_call"
	default:
		return fmt.Sprintf("PartKind(%d)", int(k))
	}
}

// IsToolCall reports whether parts of this kind occupy a bubble alone.
func (k PartKind) IsToolCall() bool {
	return k == KindFunctionCall || k == KindCustomToolCall
}

// ParsePartKind converts a wire name back to a PartKind.
func ParsePartKind(s string) (PartKind, error) {
	switch s {
	case "text":
		return KindText, nil
	case "reasoning":
		return KindReasoning, nil
	case "function_call":
		return KindFunctionCall, nil
	case "custom_tool_call":
		return KindCustomToolCall, nil
	default:
		return 0, fmt.Errorf("unknown part kind %q", s)
	}
}

// =============================================================================
// PART VARIANTS
// =============================================================================

// Part is one typed fragment of a bubble. The set of implementations is
// closed: only this package can add one.
type Part interface {
	Kind() PartKind
	// Content is the streamed text of the part.
	Content() string

	withContent(text string) Part
}

// TextPart is assistant or user prose.
type TextPart struct {
	Text string
}

// ReasoningPart is the model's reasoning summary.
type ReasoningPart struct {
	Text string
}

// FunctionCallPart is a function tool call; Text accumulates its JSON
// arguments.
type FunctionCallPart struct {
	Name   string
	CallID string
	Text   string
}

// CustomToolCallPart is a free-form tool call; Text accumulates its input.
type CustomToolCallPart struct {
	Name   string
	CallID string
	Text   string
}

func (TextPart) Kind() PartKind           { return KindText }
func (ReasoningPart) Kind() PartKind      { return KindReasoning }
func (FunctionCallPart) Kind() PartKind   { return KindFunctionCall }
func (CustomToolCallPart) Kind() PartKind { return KindCustomToolCall }

func (p TextPart) Content() string           { return p.Text }
func (p ReasoningPart) Content() string      { return p.Text }
func (p FunctionCallPart) Content() string   { return p.Text }
func (p CustomToolCallPart) Content() string { return p.Text }

func (p TextPart) withContent(s string) Part           { p.Text = s; return p }
func (p ReasoningPart) withContent(s string) Part      { p.Text = s; return p }
func (p FunctionCallPart) withContent(s string) Part   { p.Text = s; return p }
func (p CustomToolCallPart) withContent(s string) Part { p.Text = s; return p }

// emptyPart returns a zero-content part of the given kind.
func emptyPart(k PartKind) Part {
	switch k {
	case KindText:
		return TextPart{}
	case KindReasoning:
		return ReasoningPart{}
	case KindFunctionCall:
		return FunctionCallPart{}
	case KindCustomToolCall:
		return CustomToolCallPart{}
	default:
		panic(fmt.Sprintf("transcript: unknown part kind %d", int(k)))
	}
}

// =============================================================================
// JSON
// =============================================================================

// wirePart is the persisted form of a Part.
type wirePart struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Name   string `json:"name,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

func toWire(p Part) wirePart {
	switch v := p.(type) {
	case TextPart:
		return wirePart{Type: KindText.String(), Text: v.Text}
	case ReasoningPart:
		return wirePart{Type: KindReasoning.String(), Text: v.Text}
	case FunctionCallPart:
		return wirePart{Type: KindFunctionCall.String(), Text: v.Text, Name: v.Name, CallID: v.CallID}
	case CustomToolCallPart:
		return wirePart{Type: KindCustomToolCall.String(), Text: v.Text, Name: v.Name, CallID: v.CallID}
	default:
		panic(fmt.Sprintf("transcript: unhandled part %T", p))
	}
}

func fromWire(w wirePart) (Part, error) {
	kind, err := ParsePartKind(w.Type)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindText:
		return TextPart{Text: w.Text}, nil
	case KindReasoning:
		return ReasoningPart{Text: w.Text}, nil
	case KindFunctionCall:
		return FunctionCallPart{Name: w.Name, CallID: w.CallID, Text: w.Text}, nil
	case KindCustomToolCall:
		return CustomToolCallPart{Name: w.Name, CallID: w.CallID, Text: w.Text}, nil
	}
	return nil, fmt.Errorf("unknown part kind %q", w.Type)
}

// MarshalParts encodes parts as a JSON array of {type, text, name, call_id}.
func MarshalParts(parts []Part) ([]byte, error) {
	wire := make([]wirePart, len(parts))
	for i, p := range parts {
		wire[i] = toWire(p)
	}
	return json.Marshal(wire)
}

// UnmarshalParts decodes the output of MarshalParts.
func UnmarshalParts(data []byte) ([]Part, error) {
	var wire []wirePart
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	parts := make([]Part, 0, len(wire))
	for _, w := range wire {
		p, err := fromWire(w)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}
