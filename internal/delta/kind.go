// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package delta

// =============================================================================
// KIND
// =============================================================================

// Kind is the SSE event name of a delta.
type Kind string

const (
	ItemStarted       Kind = "item.started"
	Reasoning         Kind = "reasoning"
	Text              Kind = "text"
	FunctionArguments Kind = "function.arguments"
	CustomInput       Kind = "custom.input"
	ResponseStatus    Kind = "response.status"
	ResponseUsage     Kind = "response.usage"
	Error             Kind = "error"
	ItemCompleted     Kind = "item.completed"

	// Unknown is used only when neither the event name nor the payload names
	// a kind. Unrecognized names are kept as-is.
	Unknown Kind = "unknown"
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	return string(k)
}

// Known reports whether k is one of the kinds the protocol defines.
func (k Kind) Known() bool {
	switch k {
	case ItemStarted, Reasoning, Text, FunctionArguments, CustomInput,
		ResponseStatus, ResponseUsage, Error, ItemCompleted:
		return true
	default:
		return false
	}
}

// =============================================================================
// ITEM TYPES
// =============================================================================

// Item types carried in meta.type of an item.started delta.
const (
	ItemReasoning      = "reasoning"
	ItemFunctionCall   = "function_call"
	ItemCustomToolCall = "custom_tool_call"
	ItemMessage        = "message"
)

// StatusCompleted is the response.status value that carries final usage.
const StatusCompleted = "completed"
