// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs chat turns against a streaming backend.
//
// A Controller owns one transcript and at most one in-flight stream.
// SubmitPrompt preempts: it cancels the running turn without waiting for it,
// appends the user's bubble, and starts a new stream. Each turn carries a
// generation number and every delta is applied under the controller lock
// only while that generation is current, so a preempted stream cannot touch
// the transcript once its successor exists.
//
// # Failure handling
//
//   - Request rejected, non-2xx status, missing body, or a broken read:
//     one fixed-text error bubble.
//   - Malformed frame: dropped, the stream continues.
//   - Server error event: error bubble, the stream continues.
//   - Cancellation: silent.
//
// Whatever the exit path, the reconciler's item-id indexes are cleared
// when the turn ends.
//
// # Usage
//
//	c := session.New(client.SessionStreamer("default"))
//	defer c.Close()
//	turn := c.SubmitPrompt("hello")
//	res, err := turn.Wait(ctx)
package session
