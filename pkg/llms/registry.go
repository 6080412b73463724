package llms

import (
	"strings"

	"github.com/visionliao/llm-mcp-tools/pkg/config"
)

// New builds the adapter for a resolved provider config. The provider name
// selects the wire family: gemini and ollama get their native dialects,
// everything else is treated as OpenAI-compatible.
func New(cfg config.ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		return NewGeminiProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return NewOpenAIProvider(cfg)
	}
}
