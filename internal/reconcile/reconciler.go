// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"fmt"

	"github.com/jeranaias/glial-tui/internal/delta"
	"github.com/jeranaias/glial-tui/internal/transcript"
)

// =============================================================================
// OUTCOME
// =============================================================================

// Action is what Apply did with a delta.
type Action int

const (
	// Ignored deltas are kinds with no transcript effect.
	Ignored Action = iota
	// Created means a new bubble was appended.
	Created
	// Appended means text went into an existing bubble.
	Appended
	// Dropped deltas were discarded because a precondition failed.
	Dropped
	// Usage means a total-token count was recorded.
	Usage
	// ErrorBubble means the fixed error bubble was appended.
	ErrorBubble
)

// String returns the action name used in logs.
func (a Action) String() string {
	switch a {
	case Ignored:
		return "ignored"
	case Created:
		return "created"
	case Appended:
		return "appended"
	case Dropped:
		return "dropped"
	case Usage:
		return "usage"
	case ErrorBubble:
		return "error_bubble"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Outcome reports the effect of one Apply call.
type Outcome struct {
	Action   Action
	BubbleID string // bubble created or appended to
	Reason   string // why a delta was dropped
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler maps one turn's deltas onto a Transcript. It is not safe for
// concurrent use; the session serializes calls.
type Reconciler struct {
	tr *transcript.Transcript

	reasoning map[string]string // item_id -> bubble id
	text      map[string]string
	function  map[string]string
	custom    map[string]string

	usage    int64
	hasUsage bool
}

// New creates a Reconciler writing into tr.
func New(tr *transcript.Transcript) *Reconciler {
	r := &Reconciler{tr: tr}
	r.Reset()
	return r
}

// Transcript returns the transcript being written.
func (r *Reconciler) Transcript() *transcript.Transcript {
	return r.tr
}

// Reset clears every item-id index. Usage is kept; it is session-level.
func (r *Reconciler) Reset() {
	r.reasoning = make(map[string]string)
	r.text = make(map[string]string)
	r.function = make(map[string]string)
	r.custom = make(map[string]string)
}

// Pending returns the number of tracked item ids across all indexes.
func (r *Reconciler) Pending() int {
	return len(r.reasoning) + len(r.text) + len(r.function) + len(r.custom)
}

// Usage returns the most recently reported total-token count.
func (r *Reconciler) Usage() (int64, bool) {
	return r.usage, r.hasUsage
}

// Apply mutates the transcript according to one delta.
func (r *Reconciler) Apply(d delta.Delta) Outcome {
	switch d.Kind {
	case delta.ItemStarted:
		return r.itemStarted(d)
	case delta.Reasoning:
		return r.appendOrCreate(d, r.reasoning, transcript.KindReasoning)
	case delta.Text:
		return r.appendOrCreate(d, r.text, transcript.KindText)
	case delta.FunctionArguments:
		return r.appendExisting(d, r.function, transcript.KindFunctionCall)
	case delta.CustomInput:
		return r.appendExisting(d, r.custom, transcript.KindCustomToolCall)
	case delta.ResponseStatus, delta.ResponseUsage:
		n, ok := d.Usage()
		if !ok {
			return Outcome{Action: Ignored}
		}
		r.usage, r.hasUsage = n, true
		return Outcome{Action: Usage}
	case delta.Error:
		return Outcome{Action: ErrorBubble, BubbleID: r.tr.AppendError()}
	default:
		// item.completed and unknown kinds
		return Outcome{Action: Ignored}
	}
}

func (r *Reconciler) itemStarted(d delta.Delta) Outcome {
	var (
		index map[string]string
		part  transcript.Part
	)
	switch d.ItemType() {
	case delta.ItemReasoning:
		index, part = r.reasoning, transcript.ReasoningPart{}
	case delta.ItemFunctionCall:
		index, part = r.function, transcript.FunctionCallPart{Name: d.Name, CallID: d.CallID}
	case delta.ItemCustomToolCall:
		index, part = r.custom, transcript.CustomToolCallPart{Name: d.Name, CallID: d.CallID}
	case delta.ItemMessage:
		index, part = r.text, transcript.TextPart{}
	default:
		return Outcome{Action: Ignored}
	}
	if !d.HasItemID() {
		return Outcome{Action: Dropped, Reason: "item.started without item_id"}
	}

	// A repeated item_id opens another bubble and the index moves to it.
	id := r.tr.AppendAssistant(part)
	index[d.ID()] = id
	return Outcome{Action: Created, BubbleID: id}
}

// appendOrCreate handles reasoning and text deltas. An unseen item_id
// means the delta overtook its item.started, so the bubble is opened here.
func (r *Reconciler) appendOrCreate(d delta.Delta, index map[string]string, kind transcript.PartKind) Outcome {
	if !d.HasItemID() {
		return Outcome{Action: Dropped, Reason: d.Kind.String() + " without item_id"}
	}

	if id, ok := index[d.ID()]; ok {
		if r.tr.AppendToPart(id, kind, d.Text) {
			return Outcome{Action: Appended, BubbleID: id}
		}
		return Outcome{Action: Dropped, BubbleID: id, Reason: "bubble rejected " + kind.String()}
	}

	var part transcript.Part
	switch kind {
	case transcript.KindReasoning:
		part = transcript.ReasoningPart{Text: d.Text}
	case transcript.KindText:
		part = transcript.TextPart{Text: d.Text}
	case transcript.KindFunctionCall, transcript.KindCustomToolCall:
		return Outcome{Action: Dropped, Reason: "tool calls are never opened by content"}
	}
	id := r.tr.AppendAssistant(part)
	index[d.ID()] = id
	return Outcome{Action: Created, BubbleID: id}
}

// appendExisting handles tool call deltas, which carry no name or call id
// and so cannot open a bubble themselves.
func (r *Reconciler) appendExisting(d delta.Delta, index map[string]string, kind transcript.PartKind) Outcome {
	if !d.HasItemID() {
		return Outcome{Action: Dropped, Reason: d.Kind.String() + " without item_id"}
	}
	id, ok := index[d.ID()]
	if !ok {
		return Outcome{Action: Dropped, Reason: d.Kind.String() + " before item.started"}
	}
	if !r.tr.AppendToPart(id, kind, d.Text) {
		return Outcome{Action: Dropped, BubbleID: id, Reason: "bubble is not a " + kind.String()}
	}
	return Outcome{Action: Appended, BubbleID: id}
}
