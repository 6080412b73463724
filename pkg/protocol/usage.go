package protocol

// TokenUsage is the token accounting for one or more model turns. Values
// accumulate across the tool-calling loop.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add folds another turn's usage into the total.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Normalize enforces total = prompt + completion.
func (u *TokenUsage) Normalize() {
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

func (u TokenUsage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// DurationUsage is the timing metadata some providers report, in
// nanoseconds. Values accumulate across the loop, so the totals describe
// the work done, not wall-clock time.
type DurationUsage struct {
	TotalDuration      int64 `json:"total_duration"`
	LoadDuration       int64 `json:"load_duration"`
	PromptEvalDuration int64 `json:"prompt_eval_duration"`
	EvalDuration       int64 `json:"eval_duration"`
}

// Add folds another turn's durations into the total.
func (d *DurationUsage) Add(other DurationUsage) {
	d.TotalDuration += other.TotalDuration
	d.LoadDuration += other.LoadDuration
	d.PromptEvalDuration += other.PromptEvalDuration
	d.EvalDuration += other.EvalDuration
}

func (d DurationUsage) IsZero() bool {
	return d.TotalDuration == 0 && d.LoadDuration == 0 &&
		d.PromptEvalDuration == 0 && d.EvalDuration == 0
}
