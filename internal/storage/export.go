// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/glial-tui/internal/transcript"
	"github.com/jeranaias/glial-tui/internal/util"
)

// =============================================================================
// EXPORT FORMATS
// =============================================================================

// ExportFormat selects how a transcript is written out.
type ExportFormat string

const (
	FormatMarkdown ExportFormat = "markdown"
	FormatJSON     ExportFormat = "json"
)

// FormatForPath picks the export format from a file extension. Anything
// other than .json is Markdown.
func FormatForPath(path string) ExportFormat {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatMarkdown
}

// Export renders st in the given format.
func Export(st *StoredTranscript, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatJSON:
		return ExportJSON(st)
	case FormatMarkdown, "":
		return []byte(ExportMarkdown(st)), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// WriteExport writes st to path atomically, in the format the extension
// implies.
func WriteExport(path string, st *StoredTranscript) error {
	data, err := Export(st, FormatForPath(path))
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(path, data, 0644)
}

// ExportJSON exports the transcript as pretty-printed JSON.
func ExportJSON(st *StoredTranscript) ([]byte, error) {
	return json.MarshalIndent(st, "", "  ")
}

// =============================================================================
// MARKDOWN
// =============================================================================

// ExportMarkdown exports the transcript as Markdown: a header with the
// transcript metadata, then one section per bubble.
func ExportMarkdown(st *StoredTranscript) string {
	var sb strings.Builder

	title := st.Title
	if title == "" {
		title = st.generateTitle()
	}
	sb.WriteString("# " + util.SingleLine(title) + "\n\n")
	if !st.CreatedAt.IsZero() {
		sb.WriteString("Created: " + st.CreatedAt.Format(time.RFC3339) + "\n")
	}
	if st.Server != "" {
		sb.WriteString("Server: " + st.Server + "\n")
	}
	if st.ConversationID != "" {
		sb.WriteString("Conversation: " + st.ConversationID + "\n")
	} else if st.Session != "" {
		sb.WriteString("Session: " + st.Session + "\n")
	}
	if st.Usage > 0 {
		sb.WriteString(fmt.Sprintf("Tokens: %d\n", st.Usage))
	}
	sb.WriteString("\n---\n\n")

	for _, b := range st.Bubbles {
		writeBubbleMarkdown(&sb, b)
		sb.WriteString("\n---\n\n")
	}
	return sb.String()
}

func writeBubbleMarkdown(sb *strings.Builder, b transcript.Bubble) {
	sb.WriteString("**" + b.Role.DisplayName() + "**")
	if !b.CreatedAt.IsZero() {
		sb.WriteString(" (" + b.CreatedAt.Format("15:04") + ")")
	}
	sb.WriteString(":\n\n")

	if b.IsError {
		sb.WriteString("_" + transcript.ErrorText + "_\n")
		return
	}

	for _, p := range b.Parts {
		switch part := p.(type) {
		case transcript.TextPart:
			sb.WriteString(part.Text + "\n")
		case transcript.ReasoningPart:
			for _, line := range strings.Split(strings.TrimRight(part.Text, "\n"), "\n") {
				sb.WriteString("> " + line + "\n")
			}
		case transcript.FunctionCallPart:
			writeToolCallMarkdown(sb, "Function call", part.Name, part.CallID, part.Text, "json")
		case transcript.CustomToolCallPart:
			writeToolCallMarkdown(sb, "Tool call", part.Name, part.CallID, part.Text, "")
		}
		sb.WriteString("\n")
	}
}

func writeToolCallMarkdown(sb *strings.Builder, label, name, callID, input, lang string) {
	sb.WriteString("*" + label + "*")
	if name != "" {
		sb.WriteString(" `" + name + "`")
	}
	if callID != "" {
		sb.WriteString(" (" + callID + ")")
	}
	sb.WriteString("\n\n```" + lang + "\n" + strings.TrimRight(input, "\n") + "\n```\n")
}
