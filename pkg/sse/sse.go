// Package sse implements the server-sent-event framing used by the relay:
// an encoder that keeps the outbound stream well-formed even when payload
// text contains newlines, and a consumer that reassembles it losslessly.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Event type names carried in the "event:" field. Text fragments use the
// default message type (no "event:" line). Success and failure share one
// content type and framing for the whole response, so consumers never need
// to special-case failures.
const (
	EventMeta  = "meta"
	EventError = "error"
	EventDone  = "done"
)

// Writer encodes payloads as server-sent events on an HTTP response.
//
// A payload containing embedded newlines is split into its constituent
// lines and each line is written as its own "data:" line of a single
// event. The SSE dispatch rule (data lines rejoined with "\n") then
// reconstructs the payload exactly, which is what makes the stream safe
// for arbitrary model output.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter prepares w for event streaming. The content type is fixed for
// the remainder of the response regardless of how the stream ends.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// WriteText emits one text fragment as a single event. Empty fragments are
// skipped: they carry nothing and some parsers drop empty-data events.
func (sw *Writer) WriteText(text string) error {
	if text == "" {
		return nil
	}
	return sw.writeEvent("", text)
}

// WriteEvent emits a payload under an explicit event type.
func (sw *Writer) WriteEvent(event, text string) error {
	return sw.writeEvent(event, text)
}

// WriteJSON emits a JSON-encoded payload under an explicit event type.
// Used for the optional diagnostic meta block sent before the first
// fragment.
func (sw *Writer) WriteJSON(event string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	return sw.writeEvent(event, string(b))
}

// WriteDone marks normal end of stream.
func (sw *Writer) WriteDone() error {
	return sw.writeEvent(EventDone, "")
}

func (sw *Writer) writeEvent(event, payload string) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteString("\n")
	}
	for _, line := range strings.Split(payload, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if _, err := io.WriteString(sw.w, b.String()); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}
