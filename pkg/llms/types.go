// Package llms contains the provider adapters. Each adapter speaks one wire
// dialect (Gemini, Ollama, OpenAI-compatible) and normalizes it to the shared
// protocol types.
package llms

import (
	"context"
	"sync"

	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

// Provider is a configured upstream model endpoint.
type Provider interface {
	// Name returns the provider name this adapter was configured with.
	Name() string

	// Chat performs a blocking completion call.
	Chat(ctx context.Context, messages []protocol.Message, tools []protocol.ToolSchema) (*Response, error)

	// ChatStream performs a streaming call. The result is either a complete
	// Response (the model decided to call tools; the stream was drained
	// internally) or a live Stream of text deltas.
	ChatStream(ctx context.Context, messages []protocol.Message, tools []protocol.ToolSchema) (*StreamResult, error)

	// Close releases idle connections.
	Close() error
}

// Response is one completed model turn.
type Response struct {
	Content   string
	ToolCalls []protocol.ToolCall
	Usage     protocol.TokenUsage
	Duration  protocol.DurationUsage
}

// chunkType discriminates raw stream chunks inside the adapters.
type chunkType int

const (
	chunkText chunkType = iota
	chunkToolCall
	chunkDone
	chunkError
)

// chunk is the adapter-internal stream unit. Adapters emit text and tool-call
// chunks in wire order, then exactly one done or error chunk.
type chunk struct {
	kind     chunkType
	text     string
	toolCall *protocol.ToolCall
	usage    *protocol.TokenUsage
	duration *protocol.DurationUsage
	err      error
}

// StreamResult is the outcome of ChatStream. Exactly one field is set.
type StreamResult struct {
	// Response is set when the turn resolved without streamable text:
	// a tool-call batch, or an empty stream.
	Response *Response

	// Stream is set when the model produced text to relay.
	Stream *Stream
}

// Stream is a live text stream. Text yields deltas in source order and is
// closed at the end of the turn; Usage, Duration and Err are valid once Done
// is closed (equivalently, once Text is drained).
type Stream struct {
	text chan string
	done chan struct{}

	mu       sync.Mutex
	usage    *protocol.TokenUsage
	duration *protocol.DurationUsage
	err      error
}

func newStream() *Stream {
	return &Stream{
		text: make(chan string),
		done: make(chan struct{}),
	}
}

// Text returns the delta channel. It is closed when the stream ends.
func (s *Stream) Text() <-chan string { return s.text }

// Done is closed after the final delta and metadata are in place.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Usage reports token accounting if the provider sent it.
func (s *Stream) Usage() (protocol.TokenUsage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage == nil {
		return protocol.TokenUsage{}, false
	}
	return *s.usage, true
}

// Duration reports timing metadata if the provider sent it.
func (s *Stream) Duration() (protocol.DurationUsage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duration == nil {
		return protocol.DurationUsage{}, false
	}
	return *s.duration, true
}

// Err reports the terminal error, if the stream failed mid-flight.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) finish(usage *protocol.TokenUsage, duration *protocol.DurationUsage, err error) {
	s.mu.Lock()
	s.usage = usage
	s.duration = duration
	s.err = err
	s.mu.Unlock()
	close(s.text)
	close(s.done)
}
