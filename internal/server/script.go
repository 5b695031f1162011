// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/glial-tui/internal/delta"
)

// PromptPlaceholder is replaced by the JSON-escaped prompt in script data.
const PromptPlaceholder = "{{prompt}}"

// =============================================================================
// FRAMES
// =============================================================================

// Frame is one SSE event the backend writes.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Payload is the data object of a delta frame. Every field is always sent,
// null when unset.
type Payload struct {
	Kind         string         `json:"kind"`
	OutputIndex  *int           `json:"output_index"`
	ItemID       *string        `json:"item_id"`
	ContentIndex *int           `json:"content_index"`
	SummaryIndex *int           `json:"summary_index"`
	Text         *string        `json:"text"`
	Name         *string        `json:"name"`
	CallID       *string        `json:"call_id"`
	Status       *string        `json:"status"`
	Meta         map[string]any `json:"meta"`
}

// NewFrame encodes a payload as a frame named after its kind.
func NewFrame(p Payload) Frame {
	if p.Meta == nil {
		p.Meta = map[string]any{}
	}
	data, _ := json.Marshal(p)
	return Frame{Event: p.Kind, Data: data}
}

// usageFrame is the trailing usage event.
func usageFrame(total int64) Frame {
	data, _ := json.Marshal(map[string]any{
		"kind":         delta.ResponseUsage.String(),
		"total_tokens": total,
	})
	return Frame{Event: delta.ResponseUsage.String(), Data: data}
}

// errorFrame reports a failure before anything was streamed.
func errorFrame(msg string) Frame {
	data, _ := json.Marshal(map[string]string{"message": msg})
	return Frame{Event: delta.Error.String(), Data: data}
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// SCRIPTS
// =============================================================================

// Script produces the frames answering one prompt. Usage is the total
// token count sent in the trailing response.usage event; negative means
// none is sent.
type Script interface {
	Frames(prompt string) (frames []Frame, usage int64, err error)
}

// EchoScript is the built-in demo: a short reasoning item followed by a
// message repeating the prompt.
type EchoScript struct{}

// Frames implements Script.
func (EchoScript) Frames(prompt string) ([]Frame, int64, error) {
	reasoningID := "rs_" + uuid.NewString()
	messageID := "msg_" + uuid.NewString()

	var frames []Frame
	frames = append(frames, NewFrame(Payload{
		Kind:        delta.ItemStarted.String(),
		OutputIndex: ptr(0),
		ItemID:      ptr(reasoningID),
		Meta:        map[string]any{"type": delta.ItemReasoning},
	}))
	for _, chunk := range splitWords("Reading the prompt and preparing an echo.") {
		frames = append(frames, NewFrame(Payload{
			Kind:         delta.Reasoning.String(),
			OutputIndex:  ptr(0),
			ItemID:       ptr(reasoningID),
			SummaryIndex: ptr(0),
			Text:         ptr(chunk),
		}))
	}
	frames = append(frames, NewFrame(Payload{
		Kind:        delta.ItemCompleted.String(),
		OutputIndex: ptr(0),
		ItemID:      ptr(reasoningID),
	}))

	frames = append(frames, NewFrame(Payload{
		Kind:        delta.ItemStarted.String(),
		OutputIndex: ptr(1),
		ItemID:      ptr(messageID),
		Meta:        map[string]any{"type": delta.ItemMessage},
	}))
	reply := "You said: " + prompt
	for _, chunk := range splitWords(reply) {
		frames = append(frames, NewFrame(Payload{
			Kind:         delta.Text.String(),
			OutputIndex:  ptr(1),
			ItemID:       ptr(messageID),
			ContentIndex: ptr(0),
			Text:         ptr(chunk),
		}))
	}
	frames = append(frames, NewFrame(Payload{
		Kind:        delta.ItemCompleted.String(),
		OutputIndex: ptr(1),
		ItemID:      ptr(messageID),
	}))

	total := int64(len(strings.Fields(prompt)) + len(strings.Fields(reply)))
	frames = append(frames, NewFrame(Payload{
		Kind:   delta.ResponseStatus.String(),
		Status: ptr(delta.StatusCompleted),
		Meta:   map[string]any{"usage": map[string]any{"total_tokens": total}},
	}))
	return frames, total, nil
}

// splitWords cuts s into chunks that each keep their trailing space, so
// the chunks concatenate back to s.
func splitWords(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

// FileScript replays frames loaded from a JSON-lines file.
type FileScript struct {
	frames []Frame
	usage  int64
}

// LoadScript reads a JSON-lines script. Each line is either
// {"event": "...", "data": {...}} or a bare payload object whose "kind"
// names the event. A bare {"kind":"response.usage","total_tokens":N} line
// sets the trailing usage instead of being replayed inline. Blank lines
// and lines starting with '#' are skipped.
func LoadScript(path string) (*FileScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript parses the JSON-lines script format of LoadScript.
func ParseScript(data []byte) (*FileScript, error) {
	s := &FileScript{usage: -1}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		f, usage, err := parseScriptLine(line)
		if err != nil {
			return nil, fmt.Errorf("script line %d: %w", lineNo, err)
		}
		if usage >= 0 {
			s.usage = usage
			continue
		}
		s.frames = append(s.frames, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan script: %w", err)
	}
	if len(s.frames) == 0 {
		return nil, errors.New("script has no frames")
	}
	return s, nil
}

func parseScriptLine(line []byte) (Frame, int64, error) {
	var probe struct {
		Event       string          `json:"event"`
		Data        json.RawMessage `json:"data"`
		Kind        string          `json:"kind"`
		TotalTokens *int64          `json:"total_tokens"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return Frame{}, -1, fmt.Errorf("invalid json: %w", err)
	}
	if probe.Event != "" || len(probe.Data) > 0 {
		if probe.Event == "" {
			return Frame{}, -1, errors.New("frame without event name")
		}
		return Frame{Event: probe.Event, Data: probe.Data}, -1, nil
	}
	if probe.Kind == "" {
		return Frame{}, -1, errors.New("line has neither event nor kind")
	}
	if probe.Kind == delta.ResponseUsage.String() && probe.TotalTokens != nil {
		return Frame{}, *probe.TotalTokens, nil
	}
	return Frame{Event: probe.Kind, Data: json.RawMessage(line)}, -1, nil
}

// Frames implements Script. PromptPlaceholder in frame data is replaced by
// the prompt.
func (s *FileScript) Frames(prompt string) ([]Frame, int64, error) {
	escaped, err := json.Marshal(prompt)
	if err != nil {
		return nil, -1, err
	}
	// Drop the surrounding quotes; the placeholder sits inside a string.
	inner := escaped[1 : len(escaped)-1]
	placeholder := []byte(PromptPlaceholder)

	out := make([]Frame, len(s.frames))
	for i, f := range s.frames {
		out[i] = Frame{
			Event: f.Event,
			Data:  bytes.ReplaceAll(f.Data, placeholder, inner),
		}
	}
	return out, s.usage, nil
}

// Len returns the number of frames.
func (s *FileScript) Len() int {
	return len(s.frames)
}
