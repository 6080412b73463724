// Package loop drives the tool-calling conversation: it alternates provider
// turns and tool dispatch until the model produces a final answer or the
// iteration budget runs out.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visionliao/llm-mcp-tools/pkg/config"
	"github.com/visionliao/llm-mcp-tools/pkg/llms"
	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

// ErrMaxIterations is returned when the model still wants tools after the
// iteration budget is spent. No further dispatch happens.
var ErrMaxIterations = errors.New("maximum tool call iterations exceeded")

// Runner executes one chat request against a provider, optionally with a
// tool server.
type Runner struct {
	Provider llms.Provider
	Tools    ToolClient // nil means toolless
	Config   config.GenerationConfig
	Recorder Recorder

	logger *slog.Logger
}

// ToolClient is the slice of the tool-server client the loop needs.
type ToolClient interface {
	ListTools(ctx context.Context) ([]protocol.ToolSchema, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Outcome is the result of a run. Either Stream is set (streaming terminal
// answer) or Content/Usage/Duration hold the complete answer.
type Outcome struct {
	Content  string
	Usage    protocol.TokenUsage
	Duration protocol.DurationUsage

	Stream *StreamOutcome
}

// StreamOutcome is a terminal text stream with the loop's accumulated
// accounting folded in. Usage and Duration are valid once Done is closed.
type StreamOutcome struct {
	stream *llms.Stream

	priorUsage    protocol.TokenUsage
	priorDuration protocol.DurationUsage
	sawUsage      bool
	sawDuration   bool
}

// Text yields the answer's deltas in source order.
func (s *StreamOutcome) Text() <-chan string { return s.stream.Text() }

// Done is closed after the final delta.
func (s *StreamOutcome) Done() <-chan struct{} { return s.stream.Done() }

// Err reports a mid-stream failure, valid after Done.
func (s *StreamOutcome) Err() error { return s.stream.Err() }

// Usage returns the run's total token usage. ok is false when no turn
// reported usage at all.
func (s *StreamOutcome) Usage() (protocol.TokenUsage, bool) {
	total := s.priorUsage
	ok := s.sawUsage
	if u, has := s.stream.Usage(); has {
		total.Add(u)
		ok = true
	}
	return total, ok
}

// Duration returns the run's total duration metadata. ok is false when no
// turn reported durations.
func (s *StreamOutcome) Duration() (protocol.DurationUsage, bool) {
	total := s.priorDuration
	ok := s.sawDuration
	if d, has := s.stream.Duration(); has {
		total.Add(d)
		ok = true
	}
	return total, ok
}

// Run executes the loop. Each provider turn gets its own timeout derived
// from TimeoutMS; tool calls run under the outer context with their own
// floors. The input conversation is not mutated.
func (r *Runner) Run(ctx context.Context, messages []protocol.Message) (*Outcome, error) {
	if r.Recorder == nil {
		r.Recorder = nopRecorder{}
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "loop")
	}

	cfg := r.Config
	cfg.SetDefaults()
	maxIter := *cfg.MaxToolCalls
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond

	convo := append([]protocol.Message(nil), messages...)
	schemas := r.discoverTools(ctx)

	var (
		totalUsage    protocol.TokenUsage
		totalDuration protocol.DurationUsage
		sawUsage      bool
		sawDuration   bool
	)
	accumulate := func(resp *llms.Response) {
		if !resp.Usage.IsZero() {
			totalUsage.Add(resp.Usage)
			sawUsage = true
		}
		if !resp.Duration.IsZero() {
			totalDuration.Add(resp.Duration)
			sawDuration = true
		}
	}

	for iter := 0; ; iter++ {
		resp, stream, err := r.turn(ctx, timeout, convo, schemas, cfg.Streaming())
		if err != nil {
			r.Recorder.ChatTurn(r.Provider.Name(), turnOutcome(err))
			return nil, err
		}

		if stream != nil {
			r.Recorder.ChatTurn(r.Provider.Name(), "ok")
			r.Recorder.Iterations(iter)
			return &Outcome{Stream: &StreamOutcome{
				stream:        stream,
				priorUsage:    totalUsage,
				priorDuration: totalDuration,
				sawUsage:      sawUsage,
				sawDuration:   sawDuration,
			}}, nil
		}

		accumulate(resp)

		if len(resp.ToolCalls) == 0 {
			r.Recorder.ChatTurn(r.Provider.Name(), "ok")
			r.Recorder.Iterations(iter)
			return &Outcome{
				Content:  resp.Content,
				Usage:    totalUsage,
				Duration: totalDuration,
			}, nil
		}

		r.Recorder.ChatTurn(r.Provider.Name(), "tool_calls")
		if iter >= maxIter {
			r.Recorder.Iterations(iter)
			return nil, ErrMaxIterations
		}

		calls := ensureToolCallIDs(resp.ToolCalls)
		convo = append(convo, protocol.NewAssistantToolCalls(resp.Content, calls))
		convo = append(convo, r.dispatch(ctx, calls)...)
	}
}

// turn performs one provider round-trip under the per-call timeout. For a
// streaming turn that yields a live stream, cancellation is deferred until
// the stream is drained.
func (r *Runner) turn(ctx context.Context, timeout time.Duration, convo []protocol.Message, schemas []protocol.ToolSchema, streaming bool) (*llms.Response, *llms.Stream, error) {
	turnCtx, cancel := context.WithTimeout(ctx, timeout)

	if !streaming {
		defer cancel()
		resp, err := r.Provider.Chat(turnCtx, convo, schemas)
		return resp, nil, err
	}

	res, err := r.Provider.ChatStream(turnCtx, convo, schemas)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if res.Stream != nil {
		// The timer must outlive this call: release it when the stream ends.
		go func() {
			<-res.Stream.Done()
			cancel()
		}()
		return nil, res.Stream, nil
	}
	cancel()
	return res.Response, nil, nil
}

// discoverTools lists the tool server's schemas once per run. Failure is
// logged and the run proceeds toolless.
func (r *Runner) discoverTools(ctx context.Context) []protocol.ToolSchema {
	if r.Tools == nil {
		return nil
	}
	schemas, err := r.Tools.ListTools(ctx)
	if err != nil {
		r.logger.Warn("Tool discovery failed, continuing without tools", "error", err)
		return nil
	}
	return schemas
}

// dispatch runs every call of the batch concurrently and returns the tool
// messages in declaration order. Failures fold into the result text so the
// model can react to them.
func (r *Runner) dispatch(ctx context.Context, calls []protocol.ToolCall) []protocol.Message {
	results := make([]string, len(calls))
	var wg sync.WaitGroup

	for i := range calls {
		wg.Add(1)
		go func(i int, call protocol.ToolCall) {
			defer wg.Done()
			results[i] = r.callTool(ctx, call)
		}(i, calls[i])
	}
	wg.Wait()

	messages := make([]protocol.Message, len(calls))
	for i, call := range calls {
		messages[i] = protocol.NewToolMessage(call.ID, call.Name, results[i])
	}
	return messages
}

func (r *Runner) callTool(ctx context.Context, call protocol.ToolCall) string {
	if r.Tools == nil {
		r.Recorder.ToolCall(call.Name, "error")
		return "Error: no tool server configured"
	}

	args, err := call.ArgumentsMap()
	if err != nil {
		r.Recorder.ToolCall(call.Name, "error")
		return "Error: " + err.Error()
	}

	result, err := r.Tools.CallTool(ctx, call.Name, args)
	if err != nil {
		r.logger.Warn("Tool call failed", "tool", call.Name, "error", err)
		r.Recorder.ToolCall(call.Name, "error")
		return "Error: " + err.Error()
	}
	r.Recorder.ToolCall(call.Name, "ok")
	return result
}

// ensureToolCallIDs assigns IDs to calls from providers that do not issue
// them (Gemini, Ollama), so tool results can be paired with their calls.
func ensureToolCallIDs(calls []protocol.ToolCall) []protocol.ToolCall {
	out := make([]protocol.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = "call_" + uuid.New().String()
		}
	}
	return out
}

func turnOutcome(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var ae *llms.AdapterError
	if errors.As(err, &ae) && ae.Kind == llms.KindTimeout {
		return "timeout"
	}
	return "error"
}
