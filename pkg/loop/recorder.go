package loop

// Recorder receives loop-level events for metrics. The server installs a
// Prometheus-backed implementation; the zero value of the loop uses a no-op.
type Recorder interface {
	// ChatTurn records one provider round-trip and its outcome
	// ("ok", "tool_calls", "error", "timeout").
	ChatTurn(provider, outcome string)

	// ToolCall records one tool dispatch and its outcome ("ok", "error").
	ToolCall(tool, outcome string)

	// Iterations records how many tool iterations a run used.
	Iterations(n int)
}

type nopRecorder struct{}

func (nopRecorder) ChatTurn(string, string) {}
func (nopRecorder) ToolCall(string, string) {}
func (nopRecorder) Iterations(int)          {}
