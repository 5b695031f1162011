// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package delta decodes SSE events into typed stream deltas.
//
// Each event's data is a single JSON object. Decode never fails the stream:
// a payload that is not valid JSON yields an error wrapping ErrMalformed and
// the caller drops the event. Event names are preserved verbatim, so kinds
// this package does not know about reach the reconciler unchanged and are
// classified there.
package delta
