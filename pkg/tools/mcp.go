package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

const (
	mcpTransportStreamable = "streamable-http"
	mcpTransportSSE        = "sse"

	clientName    = "llm-mcp-tools"
	clientVersion = "1.0.0"
)

// MCPClient wraps an mcp-go client over either HTTP transport. The
// connection is established lazily on first use and reused afterwards.
// The transport runs under a client-lifetime context: the SSE variant binds
// its long-lived GET stream to the context given to Start, so that context
// must stay alive until Close.
type MCPClient struct {
	endpoint  string
	transport string

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu        sync.Mutex
	conn      *client.Client
	connected bool
	cache     []protocol.ToolSchema
}

func NewMCPClient(endpoint, transport string) *MCPClient {
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &MCPClient{
		endpoint:   endpoint,
		transport:  transport,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
}

func (c *MCPClient) ServerType() string { return "FastMCP" }

// connect dials, starts, and initializes the MCP session. Callers hold c.mu.
// The connect floor bounds only the handshake; the transport itself is
// started under the lifetime context so it survives this call.
func (c *MCPClient) connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	handshakeCtx, cancel := withFloor(ctx, connectTimeout)
	defer cancel()

	var (
		conn *client.Client
		err  error
	)
	switch c.transport {
	case mcpTransportSSE:
		conn, err = client.NewSSEMCPClient(c.endpoint)
	default:
		conn, err = client.NewStreamableHttpClient(c.endpoint)
	}
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	started := make(chan error, 1)
	go func() {
		started <- conn.Start(c.lifeCtx)
	}()
	select {
	case err := <-started:
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to start MCP transport: %w", err)
		}
	case <-handshakeCtx.Done():
		conn.Close()
		return fmt.Errorf("failed to start MCP transport: %w", handshakeCtx.Err())
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := conn.Initialize(handshakeCtx, initReq); err != nil {
		conn.Close()
		return fmt.Errorf("MCP initialize failed: %w", err)
	}

	c.conn = conn
	c.connected = true
	return nil
}

func (c *MCPClient) ListTools(ctx context.Context) ([]protocol.ToolSchema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil {
		return c.cache, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, &DiscoveryError{URL: c.endpoint, Err: err}
	}

	ctx, cancel := withFloor(ctx, listTimeout)
	defer cancel()

	resp, err := c.conn.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, &DiscoveryError{URL: c.endpoint, Err: err}
	}

	schemas := make([]protocol.ToolSchema, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		schemas = append(schemas, protocol.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertInputSchema(t.InputSchema),
		})
	}

	c.cache = schemas
	return schemas, nil
}

func (c *MCPClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.Lock()
	if err := c.connect(ctx); err != nil {
		c.mu.Unlock()
		return "", &ToolInvocationError{Tool: name, Err: err}
	}
	conn := c.conn
	c.mu.Unlock()

	ctx, cancel := withFloor(ctx, callTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := conn.CallTool(ctx, req)
	if err != nil {
		return "", &ToolInvocationError{Tool: name, Err: err}
	}

	text := collectText(resp)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", &ToolInvocationError{Tool: name, Err: fmt.Errorf("%s", text)}
	}
	return text, nil
}

func (c *MCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifeCancel()
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.conn.Close()
}

// collectText concatenates the text content items of a call result.
func collectText(resp *mcp.CallToolResult) string {
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// convertInputSchema round-trips the typed schema through JSON to get the
// provider-neutral map shape.
func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
