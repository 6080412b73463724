package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/visionliao/llm-mcp-tools/pkg/httpclient"
	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

// FastAPIClient speaks the plain HTTP/JSON tool protocol: GET /tools returns
// the schemas (either bare or wrapped in OpenAI-style {"type","function"}
// envelopes), POST /call invokes one tool.
type FastAPIClient struct {
	baseURL    string
	serverType string
	client     *httpclient.Client

	mu    sync.Mutex
	cache []protocol.ToolSchema
}

type fastAPICallRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

type fastAPICallResponse struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// fastAPIToolEntry accepts both the wrapped and the bare schema shape.
type fastAPIToolEntry struct {
	Type     string              `json:"type,omitempty"`
	Function *fastAPIToolDetails `json:"function,omitempty"`
	fastAPIToolDetails
}

type fastAPIToolDetails struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func NewFastAPIClient(baseURL, serverType string) *FastAPIClient {
	return &FastAPIClient{
		baseURL:    baseURL,
		serverType: serverType,
		client:     httpclient.New(),
	}
}

func (c *FastAPIClient) ServerType() string { return c.serverType }

func (c *FastAPIClient) Close() error { return nil }

func (c *FastAPIClient) ListTools(ctx context.Context) ([]protocol.ToolSchema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil {
		return c.cache, nil
	}

	ctx, cancel := withFloor(ctx, listTimeout)
	defer cancel()

	raw, err := c.get(ctx, c.baseURL+"/tools")
	if err != nil {
		return nil, &DiscoveryError{URL: c.baseURL, Err: err}
	}

	entries, err := decodeToolEntries(raw)
	if err != nil {
		return nil, &DiscoveryError{URL: c.baseURL, Err: err}
	}

	schemas := make([]protocol.ToolSchema, 0, len(entries))
	for _, e := range entries {
		details := e.fastAPIToolDetails
		if e.Function != nil {
			details = *e.Function
		}
		if details.Name == "" {
			continue
		}
		schemas = append(schemas, protocol.ToolSchema{
			Name:        details.Name,
			Description: details.Description,
			Parameters:  details.Parameters,
		})
	}

	c.cache = schemas
	return schemas, nil
}

func (c *FastAPIClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	ctx, cancel := withFloor(ctx, callTimeout)
	defer cancel()

	payload, err := json.Marshal(fastAPICallRequest{ToolName: name, Arguments: args})
	if err != nil {
		return "", &ToolInvocationError{Tool: name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(payload))
	if err != nil {
		return "", &ToolInvocationError{Tool: name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &ToolInvocationError{Tool: name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ToolInvocationError{Tool: name, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ToolInvocationError{Tool: name, Err: fmt.Errorf("server returned %d: %s", resp.StatusCode, body)}
	}

	var result fastAPICallResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &ToolInvocationError{Tool: name, Err: fmt.Errorf("invalid call response: %w", err)}
	}
	if result.Error != "" {
		return "", &ToolInvocationError{Tool: name, Err: fmt.Errorf("%s", result.Error)}
	}

	switch v := result.Result.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", &ToolInvocationError{Tool: name, Err: err}
		}
		return string(encoded), nil
	}
}

func (c *FastAPIClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// decodeToolEntries accepts either a bare JSON array or an object with a
// "tools" array.
func decodeToolEntries(raw []byte) ([]fastAPIToolEntry, error) {
	var entries []fastAPIToolEntry
	if err := json.Unmarshal(raw, &entries); err == nil {
		return entries, nil
	}

	var wrapped struct {
		Tools []fastAPIToolEntry `json:"tools"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("unrecognized tool list payload: %w", err)
	}
	return wrapped.Tools, nil
}
