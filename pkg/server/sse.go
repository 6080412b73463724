package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// sseFrame is one event of the chat stream. The frame order is fixed:
// any number of text frames, then at most one usage frame, then at most one
// duration frame, then the stream closes.
type sseFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// sseWriter writes SSE frames and flushes after each one, so deltas reach
// the client as they arrive.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	raw     bool
}

// newSSEWriter prepares the response for streaming. raw drops the SSE
// envelope entirely and writes plain text chunks, for consumers that just
// want the words.
func newSSEWriter(w http.ResponseWriter, raw bool) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	if raw {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher, raw: raw}, nil
}

// writeText emits one text delta. Raw mode writes the bytes as-is.
func (s *sseWriter) writeText(delta string) error {
	if s.raw {
		if _, err := io.WriteString(s.w, delta); err != nil {
			return err
		}
		s.flusher.Flush()
		return nil
	}
	return s.writeFrame("text", delta)
}

// writeFrame emits one typed frame. The frame is marshaled before any bytes
// hit the wire, so a marshal failure never produces a partial frame.
func (s *sseWriter) writeFrame(frameType string, payload any) error {
	encoded, err := json.Marshal(sseFrame{Type: frameType, Payload: payload})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", encoded); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
