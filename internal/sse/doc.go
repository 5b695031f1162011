// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse turns a raw Server-Sent Events byte stream into discrete
// protocol events.
//
// Two entry points are provided. Decoder is push-style: feed it network
// chunks as they arrive and it returns every event those chunks complete.
// Reader is pull-style: wrap an io.Reader (usually an HTTP response body)
// and call ReadEvent until io.EOF.
//
// # Framing
//
//	event: text
//	data: {"item_id":"msg_1","text":"Hel"}
//	data: {"more":"lines are joined with \n"}
//
// A blank line terminates an event. Lines starting with ':' are comments
// (heartbeats). Unknown fields are ignored. An event is only emitted when
// at least one data line was seen; the event name defaults to "message".
//
// # Encoding
//
// Chunks are decoded incrementally as UTF-8. A multi-byte sequence split
// across two chunks is held back and completed by the next chunk; invalid
// bytes decode to U+FFFD. Decoding is never fatal.
//
// # Usage
//
//	r := sse.NewReader(resp.Body)
//	for ev, err := range r.Events() {
//	    if err != nil {
//	        return err
//	    }
//	    handle(ev.Name, ev.Data)
//	}
package sse
