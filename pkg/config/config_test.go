package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	var cfg GenerationConfig
	cfg.SetDefaults()

	require.NotNil(t, cfg.Stream)
	assert.True(t, *cfg.Stream)
	assert.Equal(t, DefaultTimeoutMS, cfg.TimeoutMS)
	assert.Equal(t, DefaultMaxOutputTokens, cfg.MaxOutputTokens)
	assert.Equal(t, DefaultTemperature, *cfg.Temperature)
	assert.Equal(t, DefaultTopP, *cfg.TopP)
	assert.Equal(t, float64(0), *cfg.PresencePenalty)
	assert.Equal(t, DefaultMaxToolCalls, *cfg.MaxToolCalls)
}

func TestSetDefaultsClamps(t *testing.T) {
	temp := 5.0
	topP := -0.5
	presence := 3.0
	frequency := -9.0
	maxCalls := -2

	cfg := GenerationConfig{
		Temperature:      &temp,
		TopP:             &topP,
		PresencePenalty:  &presence,
		FrequencyPenalty: &frequency,
		MaxToolCalls:     &maxCalls,
	}
	cfg.SetDefaults()

	assert.Equal(t, 2.0, *cfg.Temperature)
	assert.Equal(t, 0.0, *cfg.TopP)
	assert.Equal(t, 2.0, *cfg.PresencePenalty)
	assert.Equal(t, -2.0, *cfg.FrequencyPenalty)
	assert.Equal(t, 0, *cfg.MaxToolCalls)
}

func TestStreaming(t *testing.T) {
	var cfg GenerationConfig
	assert.True(t, cfg.Streaming(), "streaming is the default")

	off := false
	cfg.Stream = &off
	assert.False(t, cfg.Streaming())
}
