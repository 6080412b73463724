// Package config holds generation options and the environment-derived
// provider registry.
package config

const (
	DefaultTimeoutMS       = 60_000
	DefaultMaxOutputTokens = 8192
	DefaultTemperature     = 1.0
	DefaultTopP            = 1.0
	DefaultMaxToolCalls    = 5
)

// GenerationConfig are the per-request options recognized by the chat
// endpoint. Pointer fields distinguish "absent" from an explicit zero.
type GenerationConfig struct {
	Stream           *bool    `json:"stream,omitempty"`
	TimeoutMS        int      `json:"timeout_ms,omitempty"`
	MaxOutputTokens  int      `json:"max_output_tokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	MCPServerURL     string   `json:"mcp_server_url,omitempty"`
	SystemPrompt     string   `json:"system_prompt,omitempty"`
	MaxToolCalls     *int     `json:"max_tool_calls,omitempty"`
}

// SetDefaults fills unset fields and clamps out-of-range values.
func (c *GenerationConfig) SetDefaults() {
	if c.Stream == nil {
		c.Stream = boolPtr(true)
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = DefaultTimeoutMS
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.Temperature == nil {
		c.Temperature = floatPtr(DefaultTemperature)
	}
	if c.TopP == nil {
		c.TopP = floatPtr(DefaultTopP)
	}
	if c.PresencePenalty == nil {
		c.PresencePenalty = floatPtr(0)
	}
	if c.FrequencyPenalty == nil {
		c.FrequencyPenalty = floatPtr(0)
	}
	if c.MaxToolCalls == nil {
		c.MaxToolCalls = intPtr(DefaultMaxToolCalls)
	}

	*c.Temperature = clamp(*c.Temperature, 0, 2)
	*c.TopP = clamp(*c.TopP, 0, 1)
	*c.PresencePenalty = clamp(*c.PresencePenalty, -2, 2)
	*c.FrequencyPenalty = clamp(*c.FrequencyPenalty, -2, 2)
	if *c.MaxToolCalls < 0 {
		*c.MaxToolCalls = 0
	}
}

// Streaming reports the delivery mode; the default is streaming.
func (c *GenerationConfig) Streaming() bool {
	return c.Stream == nil || *c.Stream
}

// ProviderConfig is a GenerationConfig bound to a resolved provider entry.
type ProviderConfig struct {
	GenerationConfig

	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	ProxyURL string
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
