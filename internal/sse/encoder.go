// Package sse encodes a channel of canonical.Event into the Server-Sent
// Events wire format, independent of any particular http.Handler. Pulling
// this out of the request handler (where the teacher inlined its
// OpenAI-style writer) makes §8's ordering and termination invariants
// testable against a plain channel, with no HTTP round trip involved.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/relaygw/aigateway/internal/canonical"
)

// eventPayload is the JSON body written after "data: " for a given event
// type. Only the fields relevant to that type are populated; canonical.Event
// itself stays an internal Go type and is never marshaled directly, so the
// wire shape can diverge from the in-process representation if needed.
type eventPayload struct {
	Message *canonical.Response     `json:"message,omitempty"`
	Index   *int                    `json:"index,omitempty"`
	Block   *canonical.ContentBlock `json:"content_block,omitempty"`
	Delta   *deltaPayload           `json:"delta,omitempty"`
	Usage   *canonical.Usage        `json:"usage,omitempty"`
	Error   *errorPayload           `json:"error,omitempty"`
}

type deltaPayload struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func toPayload(ev canonical.Event) eventPayload {
	p := eventPayload{Index: ev.Index}

	switch ev.Type {
	case canonical.EventMessageStart:
		p.Message = ev.Message
	case canonical.EventContentBlockStart:
		p.Block = ev.Block
	case canonical.EventContentBlockDelta:
		p.Delta = &deltaPayload{Type: "text_delta", Text: ev.TextDelta}
	case canonical.EventMessageDelta:
		p.Delta = &deltaPayload{StopReason: string(ev.StopReason)}
		p.Usage = ev.Usage
	case canonical.EventError:
		p.Error = &errorPayload{Type: ev.ErrorKind, Message: ev.ErrorMessage}
	}

	return p
}

// Encode drains events and writes each as one SSE frame:
//
//	event: <type>
//	data: <json>
//	<blank line>
//
// flushed immediately after every frame. It returns once the channel closes
// or ctx-equivalent cancellation is observed via the writer failing — the
// caller is expected to have wired request cancellation into the producer
// goroutine so the channel closes promptly on client disconnect.
//
// Per §8 invariant 2, Encode guarantees it writes events strictly in the
// order received and stops at the first message_stop or error frame — any
// events the producer sends after a terminator are never written.
func Encode(w http.ResponseWriter, events <-chan canonical.Event) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for ev := range events {
		payload := toPayload(ev)
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling SSE payload: %w", err)
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, body); err != nil {
			return fmt.Errorf("writing SSE frame: %w", err)
		}
		flusher.Flush()

		if ev.Type == canonical.EventMessageStop || ev.Type == canonical.EventError {
			return nil
		}
	}

	return nil
}
