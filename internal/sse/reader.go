// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"errors"
	"io"
	"iter"
)

// readBufferSize is the size of a single read from the underlying stream.
const readBufferSize = 4 * 1024

// Reader parses Server-Sent Events from a stream.
// It is a lazy, finite sequence: it cannot be rewound, only replaced by
// opening a new stream.
type Reader struct {
	src   io.Reader
	dec   *Decoder
	buf   []byte
	queue []Event
	err   error
}

// NewReader creates a new SSE reader from an io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		src: r,
		dec: NewDecoder(),
		buf: make([]byte, readBufferSize),
	}
}

// ReadEvent reads the next SSE event from the stream.
// Returns io.EOF when the stream ends and every buffered event has been
// returned. Any other read error from the underlying stream is returned
// as-is once the events decoded before it are drained.
func (r *Reader) ReadEvent() (Event, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return Event{}, r.err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.queue = append(r.queue, r.dec.Feed(r.buf[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.queue = append(r.queue, r.dec.Flush()...)
				r.err = io.EOF
			} else {
				r.err = err
			}
		}
	}

	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}

// Events returns the remaining events as a range-over-func sequence.
// Iteration stops silently at end of stream; a read failure is yielded
// once as the error value and ends iteration.
func (r *Reader) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.ReadEvent()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
