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

// GeminiProvider speaks the generateContent dialect: assistant maps to the
// "model" role, system messages are lifted into systemInstruction, tool
// traffic travels as functionCall / functionResponse parts, and streaming
// uses :streamGenerateContent with alt=sse.
type GeminiProvider struct {
	cfg    config.ProviderConfig
	client *httpclient.Client
	base   *http.Client
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiToolSet         `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is a union: text, functionCall, or functionResponse.
type geminiPart map[string]any

type geminiToolSet struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *geminiError         `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func NewGeminiProvider(cfg config.ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	base, err := httpclient.NewHTTPClient(cfg.ProxyURL, 0)
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{
		cfg:    cfg,
		client: httpclient.New(httpclient.WithHTTPClient(base)),
		base:   base,
	}, nil
}

func (p *GeminiProvider) Name() string { return p.cfg.Provider }

func (p *GeminiProvider) Close() error {
	p.base.CloseIdleConnections()
	return nil
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []protocol.Message, tools []protocol.ToolSchema) (*Response, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		p.cfg.BaseURL, p.cfg.Model, p.cfg.APIKey)

	body, err := p.post(ctx, url, p.buildRequest(messages, tools))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp geminiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}
	}
	return p.parseResponse(&resp)
}

func (p *GeminiProvider) ChatStream(ctx context.Context, messages []protocol.Message, tools []protocol.ToolSchema) (*StreamResult, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?key=%s&alt=sse",
		p.cfg.BaseURL, p.cfg.Model, p.cfg.APIKey)

	body, err := p.post(ctx, url, p.buildRequest(messages, tools))
	if err != nil {
		return nil, err
	}

	ch := make(chan chunk)
	go p.parseStream(body, ch)
	return discriminate(p.Name(), ch)
}

func (p *GeminiProvider) post(ctx context.Context, url string, reqBody *geminiRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

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

func (p *GeminiProvider) buildRequest(messages []protocol.Message, tools []protocol.ToolSchema) *geminiRequest {
	req := &geminiRequest{
		Contents: p.convertMessages(messages),
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     p.cfg.Temperature,
			TopP:            p.cfg.TopP,
			MaxOutputTokens: p.cfg.MaxOutputTokens,
		},
	}

	instruction := p.cfg.SystemPrompt
	if instruction == "" {
		var parts []string
		for _, m := range messages {
			if m.Role == protocol.RoleSystem {
				parts = append(parts, m.Content)
			}
		}
		instruction = strings.Join(parts, "\n\n")
	}
	if instruction != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{"text": instruction}},
		}
	}

	if len(tools) > 0 {
		set := geminiToolSet{}
		for _, t := range tools {
			set.FunctionDeclarations = append(set.FunctionDeclarations, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		req.Tools = []geminiToolSet{set}
	}
	return req
}

// convertMessages maps the neutral conversation onto Gemini contents.
// System messages are lifted into systemInstruction when no explicit system
// prompt is configured; a configured prompt wins and in-band system messages
// are dropped.
func (p *GeminiProvider) convertMessages(messages []protocol.Message) []geminiContent {
	var out []geminiContent
	// Tool results need the function name; look it up from the preceding
	// assistant batch by call ID.
	callNames := make(map[string]string)

	for _, m := range messages {
		switch m.Role {
		case protocol.RoleSystem:
			// Lifted into systemInstruction by buildRequest.
			continue

		case protocol.RoleAssistant:
			content := geminiContent{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, geminiPart{"text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Name
				args, err := tc.ArgumentsMap()
				if err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, geminiPart{
					"functionCall": map[string]any{
						"name": tc.Name,
						"args": args,
					},
				})
			}
			out = append(out, content)

		case protocol.RoleTool:
			name := m.Name
			if name == "" {
				name = callNames[m.ToolCallID]
			}
			out = append(out, geminiContent{
				Role: "function",
				Parts: []geminiPart{{
					"functionResponse": map[string]any{
						"name":     name,
						"response": map[string]any{"result": m.Content},
					},
				}},
			})

		default:
			out = append(out, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{"text": m.Content}},
			})
		}
	}
	return out
}

func (p *GeminiProvider) parseResponse(resp *geminiResponse) (*Response, error) {
	if resp.Error != nil {
		return nil, &AdapterError{
			Kind:     KindProtocol,
			Provider: p.Name(),
			Err:      fmt.Errorf("%s (%d): %s", resp.Error.Status, resp.Error.Code, resp.Error.Message),
		}
	}
	if len(resp.Candidates) == 0 {
		return nil, &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: fmt.Errorf("no candidates in response")}
	}

	out := &Response{}
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part["text"].(string); ok {
			out.Content += text
		}
		if fc, ok := part["functionCall"].(map[string]any); ok {
			call, err := geminiFunctionCall(fc)
			if err != nil {
				return nil, &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}
	}
	out.Usage = geminiUsage(resp.UsageMetadata)
	return out, nil
}

func (p *GeminiProvider) parseStream(body io.ReadCloser, ch chan<- chunk) {
	defer body.Close()
	defer close(ch)

	var usage *geminiUsageMetadata
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var resp geminiResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			ch <- chunk{kind: chunkError, err: &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}}
			return
		}
		if resp.Error != nil {
			ch <- chunk{kind: chunkError, err: &AdapterError{
				Kind:     KindProtocol,
				Provider: p.Name(),
				Err:      fmt.Errorf("%s (%d): %s", resp.Error.Status, resp.Error.Code, resp.Error.Message),
			}}
			return
		}

		if resp.UsageMetadata != nil {
			usage = resp.UsageMetadata
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part["text"].(string); ok && text != "" {
				ch <- chunk{kind: chunkText, text: text}
			}
			if fc, ok := part["functionCall"].(map[string]any); ok {
				call, err := geminiFunctionCall(fc)
				if err != nil {
					ch <- chunk{kind: chunkError, err: &AdapterError{Kind: KindInvalidResponse, Provider: p.Name(), Err: err}}
					return
				}
				ch <- chunk{kind: chunkToolCall, toolCall: &call}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- chunk{kind: chunkError, err: wrapErr(p.Name(), err)}
		return
	}

	done := chunk{kind: chunkDone}
	if usage != nil {
		u := geminiUsage(usage)
		done.usage = &u
	}
	ch <- done
}

func geminiFunctionCall(fc map[string]any) (protocol.ToolCall, error) {
	name, _ := fc["name"].(string)
	args := fc["args"]
	if args == nil {
		args = map[string]any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return protocol.ToolCall{}, fmt.Errorf("failed to encode functionCall args: %w", err)
	}
	return protocol.ToolCall{Name: name, Arguments: string(encoded)}, nil
}

func geminiUsage(m *geminiUsageMetadata) protocol.TokenUsage {
	if m == nil {
		return protocol.TokenUsage{}
	}
	u := protocol.TokenUsage{
		PromptTokens:     m.PromptTokenCount,
		CompletionTokens: m.CandidatesTokenCount,
		TotalTokens:      m.TotalTokenCount,
	}
	u.Normalize()
	return u
}
