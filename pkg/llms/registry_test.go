package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionliao/llm-mcp-tools/pkg/config"
)

func TestNewSelectsFamily(t *testing.T) {
	gemini, err := New(config.ProviderConfig{Provider: "gemini", APIKey: "k", BaseURL: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &GeminiProvider{}, gemini)

	ollama, err := New(config.ProviderConfig{Provider: "ollama", BaseURL: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, ollama)

	// Unknown families fall back to the OpenAI-compatible dialect.
	deepseek, err := New(config.ProviderConfig{Provider: "deepseek", APIKey: "k", BaseURL: "http://x"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, deepseek)
}
