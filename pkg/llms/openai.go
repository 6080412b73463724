package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/visionliao/llm-mcp-tools/pkg/config"
	"github.com/visionliao/llm-mcp-tools/pkg/httpclient"
	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

// OpenAIProvider speaks the /v1/chat/completions dialect. It is the default
// family and covers every OpenAI-compatible endpoint (DeepSeek, vLLM,
// OpenRouter and friends).
type OpenAIProvider struct {
	cfg    config.ProviderConfig
	client *httpclient.Client
	base   *http.Client
}

type openAIRequest struct {
	Model            string               `json:"model"`
	Messages         []openAIMessage      `json:"messages"`
	Stream           bool                 `json:"stream"`
	MaxTokens        int                  `json:"max_tokens,omitempty"`
	Temperature      *float64             `json:"temperature,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty"`
	Tools            []openAITool         `json:"tools,omitempty"`
	StreamOptions    *openAIStreamOptions `json:"stream_options,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function openAIToolCallFunction `json:"function"`
}

type openAIToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	Delta        *openAIDelta  `json:"delta,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type openAIDelta struct {
	Content   string                `json:"content"`
	ToolCalls []openAIToolCallDelta `json:"tool_calls,omitempty"`
}

type openAIToolCallDelta struct {
	Index    int                    `json:"index"`
	ID       string                 `json:"id,omitempty"`
	Function openAIToolCallFunction `json:"function"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

func NewOpenAIProvider(cfg config.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}
	base, err := httpclient.NewHTTPClient(cfg.ProxyURL, 0)
	if err != nil {
		return nil, err
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: httpclient.New(httpclient.WithHTTPClient(base)),
		base:   base,
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.cfg.Provider }

func (p *OpenAIProvider) Close() error {
	p.base.CloseIdleConnections()
	return nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []protocol.Message, tools []protocol.ToolSchema) (*Response, error) {
	body, err := p.post(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp openAIResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}
	}
	if resp.Error != nil {
		return nil, &AdapterError{Kind: KindProtocol, Provider: p.Name(), Err: fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message)}
	}
	if len(resp.Choices) == 0 {
		return nil, &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: fmt.Errorf("no choices in response")}
	}

	msg := resp.Choices[0].Message
	out := &Response{Content: msg.Content, Usage: openAIUsageTokens(resp.Usage)}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []protocol.Message, tools []protocol.ToolSchema) (*StreamResult, error) {
	body, err := p.post(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan chunk)
	go p.parseStream(body, ch)
	return discriminate(p.Name(), ch)
}

func (p *OpenAIProvider) post(ctx context.Context, reqBody *openAIRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, wrapErr(p.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, statusErr(p.Name(), resp.StatusCode, string(raw))
	}
	return resp.Body, nil
}

func (p *OpenAIProvider) buildRequest(messages []protocol.Message, tools []protocol.ToolSchema, stream bool) *openAIRequest {
	req := &openAIRequest{
		Model:            p.cfg.Model,
		Messages:         p.convertMessages(messages),
		Stream:           stream,
		MaxTokens:        p.cfg.MaxOutputTokens,
		Temperature:      p.cfg.Temperature,
		TopP:             p.cfg.TopP,
		PresencePenalty:  p.cfg.PresencePenalty,
		FrequencyPenalty: p.cfg.FrequencyPenalty,
	}
	if stream {
		req.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

// convertMessages is an identity mapping; a configured system prompt is
// prepended as an extra system message.
func (p *OpenAIProvider) convertMessages(messages []protocol.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages)+1)
	if p.cfg.SystemPrompt != "" {
		out = append(out, openAIMessage{Role: "system", Content: p.cfg.SystemPrompt})
	}

	for _, m := range messages {
		om := openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIToolCallFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

// parseStream reads SSE chunks until the [DONE] sentinel. Text deltas are
// forwarded immediately; tool-call deltas are assembled by index and emitted
// once the stream ends, ahead of the terminal chunk.
func (p *OpenAIProvider) parseStream(body io.ReadCloser, ch chan<- chunk) {
	defer body.Close()
	defer close(ch)

	pending := make(map[int]*protocol.ToolCall)
	var usage *openAIUsage

	flush := func() {
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			ch <- chunk{kind: chunkToolCall, toolCall: pending[i]}
		}

		done := chunk{kind: chunkDone}
		if usage != nil {
			u := openAIUsageTokens(usage)
			done.usage = &u
		}
		ch <- done
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			flush()
			return
		}

		var resp openAIResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			ch <- chunk{kind: chunkError, err: &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}}
			return
		}
		if resp.Error != nil {
			ch <- chunk{kind: chunkError, err: &AdapterError{Kind: KindProtocol, Provider: p.Name(), Err: fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message)}}
			return
		}
		if resp.Usage != nil {
			usage = resp.Usage
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta == nil {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			ch <- chunk{kind: chunkText, text: delta.Content}
		}
		for _, d := range delta.ToolCalls {
			call, ok := pending[d.Index]
			if !ok {
				call = &protocol.ToolCall{}
				pending[d.Index] = call
			}
			if d.ID != "" {
				call.ID = d.ID
			}
			if d.Function.Name != "" {
				call.Name = d.Function.Name
			}
			call.Arguments += d.Function.Arguments
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- chunk{kind: chunkError, err: wrapErr(p.Name(), err)}
		return
	}
	// Stream ended without [DONE]; still surface what arrived.
	flush()
}

func openAIUsageTokens(u *openAIUsage) protocol.TokenUsage {
	if u == nil {
		return protocol.TokenUsage{}
	}
	out := protocol.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	out.Normalize()
	return out
}
