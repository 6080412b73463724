package llms

import (
	"log/slog"

	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

// discriminate classifies a raw adapter stream on its first non-empty chunk.
// A tool-call chunk first means the turn is a dispatch decision: the stream
// is drained synchronously and returned as a Response. A text chunk first
// starts a live Stream pumped in the background. A stream that terminates
// before producing anything is a terminal empty Response.
func discriminate(provider string, ch <-chan chunk) (*StreamResult, error) {
	for c := range ch {
		switch c.kind {
		case chunkText:
			if c.text == "" {
				continue
			}
			s := newStream()
			go pump(s, c.text, ch)
			return &StreamResult{Stream: s}, nil

		case chunkToolCall:
			resp, err := drainToolTurn(c, ch)
			if err != nil {
				return nil, err
			}
			return &StreamResult{Response: resp}, nil

		case chunkDone:
			resp := &Response{}
			if c.usage != nil {
				resp.Usage = *c.usage
			}
			if c.duration != nil {
				resp.Duration = *c.duration
			}
			return &StreamResult{Response: resp}, nil

		case chunkError:
			return nil, c.err
		}
	}
	// Channel closed without a terminal chunk; treat as an empty turn.
	slog.Warn("Provider stream closed without terminal chunk", "provider", provider)
	return &StreamResult{Response: &Response{}}, nil
}

// pump relays text deltas into the Stream until the terminal chunk.
func pump(s *Stream, first string, ch <-chan chunk) {
	s.text <- first
	for c := range ch {
		switch c.kind {
		case chunkText:
			if c.text != "" {
				s.text <- c.text
			}
		case chunkToolCall:
			// Tool calls after text began are not dispatchable this turn.
			slog.Warn("Discarding tool call received mid text stream", "tool", c.toolCall.Name)
		case chunkDone:
			s.finish(c.usage, c.duration, nil)
			return
		case chunkError:
			s.finish(c.usage, c.duration, c.err)
			return
		}
	}
	s.finish(nil, nil, nil)
}

// drainToolTurn consumes the rest of a tool-call turn, collecting every call
// and any surrounding text into a single Response.
func drainToolTurn(first chunk, ch <-chan chunk) (*Response, error) {
	resp := &Response{ToolCalls: []protocol.ToolCall{*first.toolCall}}
	for c := range ch {
		switch c.kind {
		case chunkText:
			resp.Content += c.text
		case chunkToolCall:
			resp.ToolCalls = append(resp.ToolCalls, *c.toolCall)
		case chunkDone:
			if c.usage != nil {
				resp.Usage = *c.usage
			}
			if c.duration != nil {
				resp.Duration = *c.duration
			}
			return resp, nil
		case chunkError:
			return nil, c.err
		}
	}
	return resp, nil
}
