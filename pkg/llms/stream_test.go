package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

func feed(chunks ...chunk) <-chan chunk {
	ch := make(chan chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestDiscriminateTextFirst(t *testing.T) {
	res, err := discriminate("fake", feed(
		chunk{kind: chunkText, text: "a"},
		chunk{kind: chunkText, text: "b"},
		chunk{kind: chunkDone, usage: &protocol.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}},
	))
	require.NoError(t, err)
	require.NotNil(t, res.Stream)

	var text string
	for d := range res.Stream.Text() {
		text += d
	}
	assert.Equal(t, "ab", text)

	usage, ok := res.Stream.Usage()
	require.True(t, ok)
	assert.Equal(t, 2, usage.TotalTokens)
}

func TestDiscriminateSkipsEmptyText(t *testing.T) {
	res, err := discriminate("fake", feed(
		chunk{kind: chunkText, text: ""},
		chunk{kind: chunkToolCall, toolCall: &protocol.ToolCall{Name: "t", Arguments: "{}"}},
		chunk{kind: chunkDone},
	))
	require.NoError(t, err)
	require.NotNil(t, res.Response, "empty text does not decide the turn")
	assert.Len(t, res.Response.ToolCalls, 1)
}

func TestDiscriminateEmptyStream(t *testing.T) {
	res, err := discriminate("fake", feed(chunk{kind: chunkDone}))
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Empty(t, res.Response.Content)

	// A channel that closes without any terminal chunk behaves the same.
	res, err = discriminate("fake", feed())
	require.NoError(t, err)
	require.NotNil(t, res.Response)
}

func TestDiscriminateToolTurnCollectsText(t *testing.T) {
	res, err := discriminate("fake", feed(
		chunk{kind: chunkToolCall, toolCall: &protocol.ToolCall{Name: "a", Arguments: "{}"}},
		chunk{kind: chunkText, text: "thinking aloud"},
		chunk{kind: chunkToolCall, toolCall: &protocol.ToolCall{Name: "b", Arguments: "{}"}},
		chunk{kind: chunkDone},
	))
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Equal(t, "thinking aloud", res.Response.Content)
	require.Len(t, res.Response.ToolCalls, 2)
	assert.Equal(t, "a", res.Response.ToolCalls[0].Name)
	assert.Equal(t, "b", res.Response.ToolCalls[1].Name)
}

func TestStreamErrorAfterText(t *testing.T) {
	res, err := discriminate("fake", feed(
		chunk{kind: chunkText, text: "partial"},
		chunk{kind: chunkError, err: assert.AnError},
	))
	require.NoError(t, err)
	require.NotNil(t, res.Stream)

	var text string
	for d := range res.Stream.Text() {
		text += d
	}
	<-res.Stream.Done()

	assert.Equal(t, "partial", text)
	assert.ErrorIs(t, res.Stream.Err(), assert.AnError)
	_, ok := res.Stream.Usage()
	assert.False(t, ok)
}
