// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/glial-tui/internal/delta"
	"github.com/jeranaias/glial-tui/internal/sse"
	"github.com/jeranaias/glial-tui/internal/transcript"
)

// ev decodes a delta the way the session does.
func ev(t *testing.T, name, data string) delta.Delta {
	t.Helper()
	d, err := delta.Decode(sse.Event{Name: name, Data: data})
	require.NoError(t, err)
	return d
}

func apply(t *testing.T, r *Reconciler, events ...[2]string) []Outcome {
	t.Helper()
	out := make([]Outcome, 0, len(events))
	for _, e := range events {
		out = append(out, r.Apply(ev(t, e[0], e[1])))
	}
	return out
}

func newReconciler() (*Reconciler, *transcript.Transcript) {
	tr := transcript.New()
	return New(tr), tr
}

// =============================================================================
// ITEM LIFECYCLE
// =============================================================================

func TestApply_MessageItem(t *testing.T) {
	r, tr := newReconciler()

	apply(t, r,
		[2]string{"item.started", `{"item_id":"x","meta":{"type":"message"}}`},
		[2]string{"text", `{"item_id":"x","text":"Hello"}`},
		[2]string{"text", `{"item_id":"x","text":" world"}`},
	)

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, transcript.RoleAssistant, snap[0].Role)
	assert.Equal(t, []transcript.Part{transcript.TextPart{Text: "Hello world"}}, snap[0].Parts)
}

func TestApply_ItemStartedTypes(t *testing.T) {
	tests := []struct {
		itemType string
		want     transcript.Part
	}{
		{"reasoning", transcript.ReasoningPart{}},
		{"message", transcript.TextPart{}},
		{"function_call", transcript.FunctionCallPart{Name: "search", CallID: "call_1"}},
		{"custom_tool_call", transcript.CustomToolCallPart{Name: "search", CallID: "call_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.itemType, func(t *testing.T) {
			r, tr := newReconciler()
			out := r.Apply(ev(t, "item.started",
				`{"item_id":"i","name":"search","call_id":"call_1","meta":{"type":"`+tt.itemType+`"}}`))

			assert.Equal(t, Created, out.Action)
			b, ok := tr.Bubble(out.BubbleID)
			require.True(t, ok)
			assert.Equal(t, []transcript.Part{tt.want}, b.Parts)
			assert.Equal(t, 1, r.Pending())
		})
	}
}

func TestApply_ItemStartedUnknownTypeIsNoop(t *testing.T) {
	r, tr := newReconciler()

	outs := apply(t, r,
		[2]string{"item.started", `{"item_id":"w","meta":{"type":"web_search_call"}}`},
		[2]string{"item.started", `{"item_id":"v"}`},
	)

	for _, o := range outs {
		assert.Equal(t, Ignored, o.Action)
	}
	assert.Zero(t, tr.Len())
	assert.Zero(t, r.Pending())
}

func TestApply_FunctionArguments(t *testing.T) {
	r, tr := newReconciler()

	apply(t, r,
		[2]string{"item.started", `{"item_id":"fc","name":"get_weather","call_id":"c1","meta":{"type":"function_call"}}`},
		[2]string{"function.arguments", `{"item_id":"fc","text":"{\"city\":"}`},
		[2]string{"function.arguments", `{"item_id":"fc","text":"\"Oslo\"}"}`},
	)

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []transcript.Part{transcript.FunctionCallPart{
		Name: "get_weather", CallID: "c1", Text: `{"city":"Oslo"}`,
	}}, snap[0].Parts)
}

func TestApply_CustomInput(t *testing.T) {
	r, tr := newReconciler()

	apply(t, r,
		[2]string{"item.started", `{"item_id":"ct","name":"shell","call_id":"c2","meta":{"type":"custom_tool_call"}}`},
		[2]string{"custom.input", `{"item_id":"ct","text":"ls "}`},
		[2]string{"custom.input", `{"item_id":"ct","text":"-la"}`},
	)

	b, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, []transcript.Part{transcript.CustomToolCallPart{
		Name: "shell", CallID: "c2", Text: "ls -la",
	}}, b.Parts)
}

func TestApply_ToolCallsGetOwnBubbles(t *testing.T) {
	r, tr := newReconciler()

	apply(t, r,
		[2]string{"item.started", `{"item_id":"m","meta":{"type":"message"}}`},
		[2]string{"item.started", `{"item_id":"f1","name":"a","call_id":"1","meta":{"type":"function_call"}}`},
		[2]string{"item.started", `{"item_id":"f2","name":"b","call_id":"2","meta":{"type":"function_call"}}`},
		[2]string{"function.arguments", `{"item_id":"f2","text":"B"}`},
		[2]string{"function.arguments", `{"item_id":"f1","text":"A"}`},
		[2]string{"text", `{"item_id":"m","text":"done"}`},
	)

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "done", snap[0].Text())
	assert.Equal(t, transcript.FunctionCallPart{Name: "a", CallID: "1", Text: "A"}, snap[1].Parts[0])
	assert.Equal(t, transcript.FunctionCallPart{Name: "b", CallID: "2", Text: "B"}, snap[2].Parts[0])
	for _, b := range snap[1:] {
		assert.Len(t, b.Parts, 1)
	}
}

// =============================================================================
// OUT-OF-ORDER RECOVERY
// =============================================================================

func TestApply_ReasoningBeforeItemStarted(t *testing.T) {
	r, tr := newReconciler()

	out := r.Apply(ev(t, "reasoning", `{"item_id":"z","text":"thinking"}`))

	assert.Equal(t, Created, out.Action)
	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []transcript.Part{transcript.ReasoningPart{Text: "thinking"}}, snap[0].Parts)

	r.Apply(ev(t, "reasoning", `{"item_id":"z","text":" more"}`))
	snap = tr.Snapshot()
	require.Len(t, snap, 1, "later deltas reuse the recovered bubble")
	assert.Equal(t, "thinking more", snap[0].Parts[0].Content())
}

func TestApply_TextBeforeItemStarted(t *testing.T) {
	r, tr := newReconciler()

	r.Apply(ev(t, "text", `{"item_id":"t","text":""}`))

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, []transcript.Part{transcript.TextPart{}}, snap[0].Parts)
}

func TestApply_FunctionArgumentsWithoutItemStartedDropped(t *testing.T) {
	r, tr := newReconciler()

	out := r.Apply(ev(t, "function.arguments", `{"item_id":"y","text":"{\"a\":1}"}`))

	assert.Equal(t, Dropped, out.Action)
	assert.Zero(t, tr.Len())
	assert.Zero(t, tr.Version(), "transcript unchanged")
}

func TestApply_CustomInputWithoutItemStartedDropped(t *testing.T) {
	r, tr := newReconciler()

	out := r.Apply(ev(t, "custom.input", `{"item_id":"y","text":"rm"}`))

	assert.Equal(t, Dropped, out.Action)
	assert.Zero(t, tr.Len())
}

func TestApply_ContentWithoutItemIDDropped(t *testing.T) {
	r, tr := newReconciler()

	outs := apply(t, r,
		[2]string{"reasoning", `{"text":"a"}`},
		[2]string{"text", `{"item_id":null,"text":"b"}`},
		[2]string{"function.arguments", `{"text":"c"}`},
		[2]string{"item.started", `{"meta":{"type":"message"}}`},
	)

	for _, o := range outs {
		assert.Equal(t, Dropped, o.Action)
	}
	assert.Zero(t, tr.Len())
}

func TestApply_IndexesAreSeparatePerKind(t *testing.T) {
	r, tr := newReconciler()

	apply(t, r,
		[2]string{"item.started", `{"item_id":"same","name":"f","meta":{"type":"function_call"}}`},
		[2]string{"text", `{"item_id":"same","text":"hi"}`},
	)

	snap := tr.Snapshot()
	require.Len(t, snap, 2, "text item_id does not resolve through the function index")
	assert.Equal(t, "hi", snap[1].Text())
	assert.Equal(t, "", snap[0].Parts[0].Content())
}

// =============================================================================
// DUPLICATES / ERRORS / USAGE
// =============================================================================

func TestApply_DuplicateItemStartedCreatesSecondBubble(t *testing.T) {
	r, tr := newReconciler()

	apply(t, r,
		[2]string{"item.started", `{"item_id":"d","meta":{"type":"message"}}`},
		[2]string{"item.started", `{"item_id":"d","meta":{"type":"message"}}`},
		[2]string{"text", `{"item_id":"d","text":"after"}`},
	)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "", snap[0].Text(), "first bubble is orphaned")
	assert.Equal(t, "after", snap[1].Text())
}

func TestApply_ErrorDoesNotStopStream(t *testing.T) {
	r, tr := newReconciler()

	outs := apply(t, r,
		[2]string{"item.started", `{"item_id":"m","meta":{"type":"message"}}`},
		[2]string{"text", `{"item_id":"m","text":"partial"}`},
		[2]string{"error", `{}`},
		[2]string{"text", `{"item_id":"m","text":" continued"}`},
		[2]string{"item.started", `{"item_id":"n","meta":{"type":"message"}}`},
	)

	assert.Equal(t, ErrorBubble, outs[2].Action)
	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "partial continued", snap[0].Text())
	assert.True(t, snap[1].IsError)
	assert.Equal(t, transcript.ErrorText, snap[1].Text())
	assert.Equal(t, transcript.RoleAssistant, snap[2].Role)
}

func TestApply_Usage(t *testing.T) {
	r, _ := newReconciler()

	_, ok := r.Usage()
	assert.False(t, ok)

	out := r.Apply(ev(t, "response.status", `{"status":"in_progress"}`))
	assert.Equal(t, Ignored, out.Action)

	out = r.Apply(ev(t, "response.status", `{"status":"completed","meta":{"usage":{"total_tokens":900}}}`))
	assert.Equal(t, Usage, out.Action)
	n, ok := r.Usage()
	assert.True(t, ok)
	assert.Equal(t, int64(900), n)

	// Last write wins, even when smaller.
	r.Apply(ev(t, "response.usage", `{"kind":"response.usage","total_tokens":12}`))
	n, _ = r.Usage()
	assert.Equal(t, int64(12), n)
}

func TestApply_IgnoredKinds(t *testing.T) {
	r, tr := newReconciler()

	outs := apply(t, r,
		[2]string{"item.completed", `{"item_id":"m"}`},
		[2]string{"response.audio.delta", `{"item_id":"m","text":"x"}`},
		[2]string{"unknown", `{"meta":{"type":"whatever"}}`},
	)

	for _, o := range outs {
		assert.Equal(t, Ignored, o.Action)
	}
	assert.Zero(t, tr.Len())
}

// =============================================================================
// TURN RESET
// =============================================================================

func TestReset_TurnsDoNotCrossContaminate(t *testing.T) {
	r, tr := newReconciler()

	apply(t, r,
		[2]string{"item.started", `{"item_id":"1","meta":{"type":"message"}}`},
		[2]string{"text", `{"item_id":"1","text":"first"}`},
	)
	require.Equal(t, 1, r.Pending())
	r.Reset()
	assert.Zero(t, r.Pending())

	apply(t, r,
		[2]string{"item.started", `{"item_id":"1","meta":{"type":"message"}}`},
		[2]string{"text", `{"item_id":"1","text":"second"}`},
	)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "first", snap[0].Text())
	assert.Equal(t, "second", snap[1].Text())
	assert.NotEqual(t, snap[0].ID, snap[1].ID)
}

func TestReset_ToolArgumentsAfterResetDropped(t *testing.T) {
	r, tr := newReconciler()

	apply(t, r, [2]string{"item.started", `{"item_id":"f","name":"x","meta":{"type":"function_call"}}`})
	r.Reset()
	out := r.Apply(ev(t, "function.arguments", `{"item_id":"f","text":"late"}`))

	assert.Equal(t, Dropped, out.Action)
	b, _ := tr.Last()
	assert.Equal(t, "", b.Parts[0].Content())
}

func TestReset_KeepsUsage(t *testing.T) {
	r, _ := newReconciler()
	r.Apply(ev(t, "response.usage", `{"total_tokens":5}`))
	r.Reset()
	n, ok := r.Usage()
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)
}
