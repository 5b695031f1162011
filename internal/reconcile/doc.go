// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile applies a turn's stream deltas to a transcript.
//
// The Reconciler keeps four item-id indexes (reasoning, text, function
// call, custom tool call) mapping a server-assigned item_id to the bubble
// it opened. Deltas are applied strictly in arrival order with no
// buffering. Item ids are only unique within one turn, so the session
// calls Reset when every turn ends.
//
//	item.started{meta.type}   open a bubble, record item_id
//	reasoning / text          append; open a bubble if item_id is unseen
//	function.arguments        append to a known function call, else drop
//	custom.input              append to a known custom call, else drop
//	response.status / .usage  record total tokens (last write wins)
//	error                     append the fixed error bubble, keep going
//	anything else             ignore
package reconcile
