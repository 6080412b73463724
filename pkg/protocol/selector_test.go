package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelSelector(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		provider string
		model    string
		wantErr  bool
	}{
		{name: "simple", selector: "openai:gpt-4o", provider: "openai", model: "gpt-4o"},
		{name: "model with colon", selector: "ollama:llama3:8b", provider: "ollama", model: "llama3:8b"},
		{name: "no colon", selector: "gpt-4o", wantErr: true},
		{name: "empty provider", selector: ":gpt-4o", wantErr: true},
		{name: "empty model", selector: "openai:", wantErr: true},
		{name: "empty", selector: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, model, err := ParseModelSelector(tt.selector)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidSelector)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.model, model)
		})
	}
}
