// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/glial-tui/internal/transcript"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleTranscript() *StoredTranscript {
	tr := transcript.New()
	tr.AppendUser("What is the weather\nin Paris?")
	tr.AppendAssistant(transcript.ReasoningPart{Text: "Need a lookup."})
	tr.AppendAssistant(transcript.FunctionCallPart{Name: "get_weather", CallID: "call_1", Text: `{"city":"Paris"}`})
	tr.AppendAssistant(transcript.TextPart{Text: "It is sunny."})

	st := NewStoredTranscript(tr.Snapshot())
	st.Server = "http://localhost:8000"
	st.Session = "default"
	st.Usage = 42
	return st
}

// =============================================================================
// ARCHIVE TESTS
// =============================================================================

func TestArchive_SaveAndLoad(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	st := sampleTranscript()
	id, err := a.Save(ctx, st)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "tr_"))
	assert.Equal(t, id, st.ID)
	assert.Equal(t, "What is the weather in Paris?", st.Title)

	got, err := a.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, st.Title, got.Title)
	assert.Equal(t, "default", got.Session)
	assert.Equal(t, int64(42), got.Usage)
	require.Len(t, got.Bubbles, 4)

	call, ok := got.Bubbles[2].Part(transcript.KindFunctionCall)
	require.True(t, ok)
	fc := call.(transcript.FunctionCallPart)
	assert.Equal(t, "get_weather", fc.Name)
	assert.Equal(t, "call_1", fc.CallID)
	assert.Equal(t, `{"city":"Paris"}`, fc.Text)
	assert.Equal(t, st.Bubbles[3].ID, got.Bubbles[3].ID)
}

func TestArchive_SaveReplaces(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	st := sampleTranscript()
	id, err := a.Save(ctx, st)
	require.NoError(t, err)
	created := st.CreatedAt

	st.Bubbles = append(st.Bubbles, transcript.NewBubble(transcript.RoleUser, transcript.TextPart{Text: "thanks"}))
	_, err = a.Save(ctx, st)
	require.NoError(t, err)

	metas, err := a.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, id, metas[0].ID)
	assert.Equal(t, 5, metas[0].BubbleCount)
	assert.Equal(t, created.UnixMilli(), metas[0].CreatedAt.UnixMilli())
}

func TestArchive_LoadNotFound(t *testing.T) {
	a := openTestArchive(t)
	_, err := a.Load(context.Background(), "tr_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, a.Delete(context.Background(), "tr_missing"), ErrNotFound)
}

func TestArchive_ListSearchDelete(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	first := sampleTranscript()
	_, err := a.Save(ctx, first)
	require.NoError(t, err)

	second := NewStoredTranscript([]transcript.Bubble{
		transcript.NewBubble(transcript.RoleUser, transcript.TextPart{Text: "Tell me a joke"}),
	})
	time.Sleep(2 * time.Millisecond)
	_, err = a.Save(ctx, second)
	require.NoError(t, err)

	metas, err := a.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, second.ID, metas[0].ID)
	assert.Equal(t, "Tell me a joke", metas[0].Preview)

	limited, err := a.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	found, err := a.Search(ctx, "SUNNY", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first.ID, found[0].ID)

	require.NoError(t, a.Delete(ctx, first.ID))
	metas, err = a.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestArchive_MaxTranscripts(t *testing.T) {
	a := openTestArchive(t)
	a.MaxTranscripts = 2
	ctx := context.Background()

	var ids []string
	for _, prompt := range []string{"one", "two", "three"} {
		st := NewStoredTranscript([]transcript.Bubble{
			transcript.NewBubble(transcript.RoleUser, transcript.TextPart{Text: prompt}),
		})
		id, err := a.Save(ctx, st)
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	metas, err := a.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, ids[2], metas[0].ID)
	assert.Equal(t, ids[1], metas[1].ID)
}

func TestArchive_Resolve(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	st := sampleTranscript()
	id, err := a.Save(ctx, st)
	require.NoError(t, err)

	got, err := a.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = a.Resolve(ctx, id[:8])
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = a.Resolve(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = a.Resolve(ctx, "2")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// EXPORT TESTS
// =============================================================================

func TestExportMarkdown(t *testing.T) {
	st := sampleTranscript()
	st.Title = "Weather"
	st.Bubbles = append(st.Bubbles, transcript.Bubble{
		Role:    transcript.RoleAssistant,
		Parts:   []transcript.Part{transcript.TextPart{Text: transcript.ErrorText}},
		IsError: true,
	})

	md := ExportMarkdown(st)

	assert.True(t, strings.HasPrefix(md, "# Weather\n"))
	assert.Contains(t, md, "Session: default")
	assert.Contains(t, md, "Tokens: 42")
	assert.Contains(t, md, "**You**")
	assert.Contains(t, md, "What is the weather\nin Paris?")
	assert.Contains(t, md, "> Need a lookup.")
	assert.Contains(t, md, "*Function call* `get_weather` (call_1)")
	assert.Contains(t, md, "```json\n{\"city\":\"Paris\"}\n```")
	assert.Contains(t, md, "It is sunny.")
	assert.Contains(t, md, "_"+transcript.ErrorText+"_")
}

func TestWriteExport(t *testing.T) {
	dir := t.TempDir()
	st := sampleTranscript()

	mdPath := filepath.Join(dir, "out", "chat.md")
	require.NoError(t, WriteExport(mdPath, st))
	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "It is sunny.")

	jsonPath := filepath.Join(dir, "chat.JSON")
	require.NoError(t, WriteExport(jsonPath, st))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)

	var back StoredTranscript
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Bubbles, 4)
	assert.Equal(t, "It is sunny.", back.Bubbles[3].Text())
}

func TestExport_UnknownFormat(t *testing.T) {
	_, err := Export(sampleTranscript(), ExportFormat("pdf"))
	assert.Error(t, err)
}

func TestFormatList(t *testing.T) {
	assert.Equal(t, "No saved transcripts.", FormatList(nil))

	out := FormatList([]TranscriptMeta{{
		ID:          "tr_0123456789abcdef",
		Title:       "A title\nwith a newline",
		UpdatedAt:   time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
		BubbleCount: 4,
	}})
	assert.Contains(t, out, "tr_0123456789abcdef")
	assert.Contains(t, out, "2025-03-01 12:30")
	assert.Contains(t, out, "A title with a newline")
}
