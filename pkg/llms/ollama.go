package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/visionliao/llm-mcp-tools/pkg/config"
	"github.com/visionliao/llm-mcp-tools/pkg/httpclient"
	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

// OllamaProvider speaks the native Ollama /api/chat dialect: NDJSON
// streaming, tool-call arguments as native JSON objects, and duration
// metadata on the terminal object.
type OllamaProvider struct {
	cfg    config.ProviderConfig
	client *httpclient.Client
	base   *http.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaToolCall struct {
	Function ollamaToolCallFunction `json:"function"`
}

type ollamaToolCallFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

// ollamaResponse covers both the blocking response and each stream object;
// the terminal object carries the counters.
type ollamaResponse struct {
	Message            ollamaMessage `json:"message"`
	Done               bool          `json:"done"`
	TotalDuration      int64         `json:"total_duration"`
	LoadDuration       int64         `json:"load_duration"`
	PromptEvalCount    int           `json:"prompt_eval_count"`
	PromptEvalDuration int64         `json:"prompt_eval_duration"`
	EvalCount          int           `json:"eval_count"`
	EvalDuration       int64         `json:"eval_duration"`
	Error              string        `json:"error,omitempty"`
}

func NewOllamaProvider(cfg config.ProviderConfig) (*OllamaProvider, error) {
	base, err := httpclient.NewHTTPClient(cfg.ProxyURL, 0)
	if err != nil {
		return nil, err
	}
	return &OllamaProvider{
		cfg:    cfg,
		client: httpclient.New(httpclient.WithHTTPClient(base)),
		base:   base,
	}, nil
}

func (p *OllamaProvider) Name() string { return p.cfg.Provider }

func (p *OllamaProvider) Close() error {
	p.base.CloseIdleConnections()
	return nil
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []protocol.Message, tools []protocol.ToolSchema) (*Response, error) {
	body, err := p.post(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp ollamaResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}
	}
	if resp.Error != "" {
		return nil, &AdapterError{Kind: KindProtocol, Provider: p.Name(), Err: fmt.Errorf("%s", resp.Error)}
	}

	out := &Response{
		Content:  resp.Message.Content,
		Usage:    ollamaUsage(&resp),
		Duration: ollamaDuration(&resp),
	}
	out.ToolCalls, err = convertOllamaToolCalls(resp.Message.ToolCalls)
	if err != nil {
		return nil, &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}
	}
	return out, nil
}

func (p *OllamaProvider) ChatStream(ctx context.Context, messages []protocol.Message, tools []protocol.ToolSchema) (*StreamResult, error) {
	body, err := p.post(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan chunk)
	go p.parseStream(body, ch)
	return discriminate(p.Name(), ch)
}

func (p *OllamaProvider) post(ctx context.Context, reqBody *ollamaRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

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

func (p *OllamaProvider) buildRequest(messages []protocol.Message, tools []protocol.ToolSchema, stream bool) *ollamaRequest {
	req := &ollamaRequest{
		Model:    p.cfg.Model,
		Messages: p.convertMessages(messages),
		Stream:   stream,
		Options: &ollamaOptions{
			Temperature: p.cfg.Temperature,
			TopP:        p.cfg.TopP,
			NumPredict:  p.cfg.MaxOutputTokens,
		},
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

// convertMessages maps the neutral conversation to Ollama's shape. A
// configured system prompt replaces the first system message, or is inserted
// at the front when the conversation has none.
func (p *OllamaProvider) convertMessages(messages []protocol.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages)+1)
	systemReplaced := false

	for _, m := range messages {
		switch m.Role {
		case protocol.RoleSystem:
			content := m.Content
			if p.cfg.SystemPrompt != "" && !systemReplaced {
				content = p.cfg.SystemPrompt
				systemReplaced = true
			}
			out = append(out, ollamaMessage{Role: "system", Content: content})

		case protocol.RoleAssistant:
			om := ollamaMessage{Role: "assistant", Content: m.Content}
			for _, tc := range m.ToolCalls {
				args, err := tc.ArgumentsMap()
				if err != nil {
					args = map[string]any{}
				}
				om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
					Function: ollamaToolCallFunction{Name: tc.Name, Arguments: args},
				})
			}
			out = append(out, om)

		case protocol.RoleTool:
			out = append(out, ollamaMessage{Role: "tool", Content: m.Content, ToolName: m.Name})

		default:
			out = append(out, ollamaMessage{Role: string(m.Role), Content: m.Content})
		}
	}

	if p.cfg.SystemPrompt != "" && !systemReplaced {
		out = append([]ollamaMessage{{Role: "system", Content: p.cfg.SystemPrompt}}, out...)
	}
	return out
}

func (p *OllamaProvider) parseStream(body io.ReadCloser, ch chan<- chunk) {
	defer body.Close()
	defer close(ch)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var obj ollamaResponse
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			ch <- chunk{kind: chunkError, err: &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}}
			return
		}
		if obj.Error != "" {
			ch <- chunk{kind: chunkError, err: &AdapterError{Kind: KindProtocol, Provider: p.Name(), Err: fmt.Errorf("%s", obj.Error)}}
			return
		}

		if calls, err := convertOllamaToolCalls(obj.Message.ToolCalls); err == nil {
			for i := range calls {
				ch <- chunk{kind: chunkToolCall, toolCall: &calls[i]}
			}
		}
		if obj.Message.Content != "" {
			ch <- chunk{kind: chunkText, text: obj.Message.Content}
		}

		if obj.Done {
			usage := ollamaUsage(&obj)
			duration := ollamaDuration(&obj)
			done := chunk{kind: chunkDone}
			if !usage.IsZero() {
				done.usage = &usage
			}
			if !duration.IsZero() {
				done.duration = &duration
			}
			ch <- done
			return
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- chunk{kind: chunkError, err: wrapErr(p.Name(), err)}
	}
}

func convertOllamaToolCalls(calls []ollamaToolCall) ([]protocol.ToolCall, error) {
	var out []protocol.ToolCall
	for _, c := range calls {
		args, err := json.Marshal(c.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool arguments: %w", err)
		}
		out = append(out, protocol.ToolCall{Name: c.Function.Name, Arguments: string(args)})
	}
	return out, nil
}

func ollamaUsage(r *ollamaResponse) protocol.TokenUsage {
	u := protocol.TokenUsage{
		PromptTokens:     r.PromptEvalCount,
		CompletionTokens: r.EvalCount,
	}
	u.Normalize()
	return u
}

func ollamaDuration(r *ollamaResponse) protocol.DurationUsage {
	return protocol.DurationUsage{
		TotalDuration:      r.TotalDuration,
		LoadDuration:       r.LoadDuration,
		PromptEvalDuration: r.PromptEvalDuration,
		EvalDuration:       r.EvalDuration,
	}
}
