// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultEventName is used when a block carries data lines but no event field.
const DefaultEventName = "message"

// Event is one logical SSE event.
type Event struct {
	Name string
	Data string
}

// Decoder incrementally decodes SSE byte chunks into events.
// It is not safe for concurrent use; one stream owns one Decoder.
type Decoder struct {
	utf8    transform.Transformer
	pending []byte // trailing bytes of an incomplete UTF-8 sequence
	line    strings.Builder

	event string
	data  []string
}

// NewDecoder creates a Decoder with an empty buffer.
func NewDecoder() *Decoder {
	return &Decoder{
		utf8:  unicode.UTF8.NewDecoder(),
		event: DefaultEventName,
	}
}

// Feed decodes one chunk and returns the events it completed, in order.
func (d *Decoder) Feed(chunk []byte) []Event {
	return d.consume(d.decode(chunk, false))
}

// Flush finishes the stream. Held UTF-8 bytes are decoded (incomplete
// sequences become U+FFFD), an unterminated last line is processed as a
// line, and one final event is emitted if data lines remain.
func (d *Decoder) Flush() []Event {
	events := d.consume(d.decode(nil, true))
	if d.line.Len() > 0 {
		last := d.line.String()
		d.line.Reset()
		if ev, ok := d.processLine(last); ok {
			events = append(events, ev)
		}
	}
	if ev, ok := d.dispatch(); ok {
		events = append(events, ev)
	}
	return events
}

// Reset discards all buffered state so the Decoder can read a new stream.
func (d *Decoder) Reset() {
	d.utf8.Reset()
	d.pending = nil
	d.line.Reset()
	d.event = DefaultEventName
	d.data = nil
}

// decode converts bytes to text, holding back an incomplete trailing
// sequence unless atEOF is set.
func (d *Decoder) decode(chunk []byte, atEOF bool) string {
	src := make([]byte, 0, len(d.pending)+len(chunk))
	src = append(src, d.pending...)
	src = append(src, chunk...)
	d.pending = nil
	if len(src) == 0 {
		return ""
	}

	// Worst case every byte becomes a 3-byte U+FFFD.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	var out strings.Builder
	for {
		nDst, nSrc, err := d.utf8.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch err {
		case nil:
			return out.String()
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src...)
			return out.String()
		case transform.ErrShortDst:
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		default:
			return out.String()
		}
	}
}

// consume splits text on '\n' and runs every complete line through the
// field rules. The unterminated remainder stays buffered.
func (d *Decoder) consume(text string) []Event {
	var events []Event
	for {
		nl := strings.IndexByte(text, '\n')
		if nl < 0 {
			d.line.WriteString(text)
			return events
		}

		var line string
		if d.line.Len() > 0 {
			d.line.WriteString(text[:nl])
			line = d.line.String()
			d.line.Reset()
		} else {
			line = text[:nl]
		}
		text = text[nl+1:]

		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
		}
	}
}

func (d *Decoder) processLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")

	switch {
	case line == "":
		return d.dispatch()
	case strings.HasPrefix(line, ":"):
		// comment / heartbeat
	case strings.HasPrefix(line, "event:"):
		d.event = strings.TrimSpace(line[len("event:"):])
	case strings.HasPrefix(line, "data:"):
		value := line[len("data:"):]
		value = strings.TrimPrefix(value, " ")
		d.data = append(d.data, value)
	}
	// Other fields (id:, retry:, garbage) are ignored.
	return Event{}, false
}

// dispatch terminates the pending block. Blocks without data are dropped.
func (d *Decoder) dispatch() (Event, bool) {
	defer func() {
		d.event = DefaultEventName
		d.data = nil
	}()

	if len(d.data) == 0 {
		return Event{}, false
	}
	name := d.event
	if name == "" {
		name = DefaultEventName
	}
	return Event{Name: name, Data: strings.Join(d.data, "\n")}, true
}
