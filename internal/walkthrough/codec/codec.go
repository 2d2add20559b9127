// Package codec maps walkthrough events to and from their line-delimited
// wire representation.
//
// Each wire line is a UTF-8 JSON envelope: {"type":"<kind>","data":{...}}.
// The decoder tolerates arbitrary chunk boundaries: bytes are appended to a
// carry-over buffer and only complete lines are parsed, so ordering and
// completeness hold regardless of how the stream was split in transit.
//
// Unknown discriminators and malformed payloads are dropped without aborting
// the stream. Drops are counted so operators can observe decode health.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"

	"github.com/stepforge/walkthrough/internal/walkthrough/event"
)

// envelope is the wire frame around a single event.
type envelope struct {
	Type event.Kind      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode serializes a single event as one newline-terminated wire line.
func Encode(evt event.Event) ([]byte, error) {
	if evt == nil {
		return nil, fmt.Errorf("event is required")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", evt.Kind(), err)
	}
	line, err := json.Marshal(envelope{Type: evt.Kind(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", evt.Kind(), err)
	}
	return append(line, '\n'), nil
}

// EncodeAll serializes events in order as consecutive wire lines.
func EncodeAll(events []event.Event) ([]byte, error) {
	var out []byte
	for _, evt := range events {
		line, err := Encode(evt)
		if err != nil {
			return nil, err
		}
		out = append(out, line...)
	}
	return out, nil
}

// Decoder incrementally parses an event stream from byte chunks.
//
// The zero value is ready to use. A Decoder carries no hidden state beyond
// the unparsed trailing bytes and the drop counters.
type Decoder struct {
	buf       []byte
	unknown   uint64
	malformed uint64
}

// Write appends a chunk to the carry-over buffer and returns every event
// whose line completed, in wire order. An incomplete trailing line is
// retained for the next call.
func (d *Decoder) Write(chunk []byte) []event.Event {
	d.buf = append(d.buf, chunk...)

	var events []event.Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return events
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		if evt, ok := d.decodeLine(line); ok {
			events = append(events, evt)
		}
	}
}

// Flush parses any buffered trailing bytes as a final line. It is intended
// for stream end, where the producer may have omitted the last newline.
func (d *Decoder) Flush() []event.Event {
	if len(bytes.TrimSpace(d.buf)) == 0 {
		d.buf = nil
		return nil
	}
	line := d.buf
	d.buf = nil
	if evt, ok := d.decodeLine(line); ok {
		return []event.Event{evt}
	}
	return nil
}

// UnknownDropped returns how many lines carried an unrecognized discriminator.
func (d *Decoder) UnknownDropped() uint64 { return d.unknown }

// MalformedDropped returns how many lines failed to parse for a known kind.
func (d *Decoder) MalformedDropped() uint64 { return d.malformed }

func (d *Decoder) decodeLine(line []byte) (event.Event, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		d.malformed++
		log.Printf("codec: drop malformed envelope: %v", err)
		return nil, false
	}
	if !env.Type.IsValid() {
		d.unknown++
		log.Printf("codec: drop unknown event kind %q", env.Type)
		return nil, false
	}

	evt, err := decodePayload(env.Type, env.Data)
	if err != nil {
		d.malformed++
		log.Printf("codec: drop malformed %s payload: %v", env.Type, err)
		return nil, false
	}
	return evt, true
}

// decodePayload maps a known discriminator to its concrete event type. The
// switch is exhaustive over the closed event set.
func decodePayload(kind event.Kind, data json.RawMessage) (event.Event, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	unmarshal := func(dst any) error {
		return json.Unmarshal(data, dst)
	}

	switch kind {
	case event.KindContext:
		var evt event.Context
		return evt, unmarshal(&evt)
	case event.KindSectionStart:
		var evt event.SectionStart
		return evt, unmarshal(&evt)
	case event.KindChunk:
		var evt event.Chunk
		return evt, unmarshal(&evt)
	case event.KindSectionComplete:
		var evt event.SectionComplete
		return evt, unmarshal(&evt)
	case event.KindChoiceRequired:
		var evt event.ChoiceRequired
		return evt, unmarshal(&evt)
	case event.KindUserInputRequired:
		var evt event.UserInputRequired
		return evt, unmarshal(&evt)
	case event.KindStepStart:
		var evt event.StepStart
		return evt, unmarshal(&evt)
	case event.KindStepComplete:
		var evt event.StepComplete
		return evt, unmarshal(&evt)
	case event.KindStepConfirmationRequired:
		var evt event.StepConfirmationRequired
		return evt, unmarshal(&evt)
	case event.KindProgressSaved:
		var evt event.ProgressSaved
		return evt, unmarshal(&evt)
	case event.KindRedirectToChat:
		var evt event.RedirectToChat
		return evt, unmarshal(&evt)
	case event.KindDone:
		var evt event.Done
		return evt, unmarshal(&evt)
	case event.KindError:
		var evt event.Error
		return evt, unmarshal(&evt)
	case event.KindUserResponse:
		var evt event.UserResponse
		return evt, unmarshal(&evt)
	case event.KindSessionRestored:
		var evt event.SessionRestored
		return evt, unmarshal(&evt)
	case event.KindRestoredContent:
		var evt event.RestoredContent
		return evt, unmarshal(&evt)
	case event.KindRestoredSteps:
		var evt event.RestoredSteps
		return evt, unmarshal(&evt)
	case event.KindRestoredDecisions:
		var evt event.RestoredDecisions
		return evt, unmarshal(&evt)
	case event.KindRestoredUserResponse:
		var evt event.RestoredUserResponse
		return evt, unmarshal(&evt)
	default:
		return nil, fmt.Errorf("unhandled event kind %q", kind)
	}
}
