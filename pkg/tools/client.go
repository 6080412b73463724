// Package tools connects to remote tool servers. Three dialects are
// supported: MCP over streamable HTTP, MCP over SSE, and a plain HTTP/JSON
// protocol (GET /tools, POST /call). The dialect is detected once per URL
// and the resulting client is cached process-wide.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

// Timeout floors for outbound tool-server operations. A caller context with
// an earlier deadline tightens these; they are never loosened.
const (
	connectTimeout = 10 * time.Second
	listTimeout    = 15 * time.Second
	callTimeout    = 30 * time.Second
)

// ErrProtocolUnknown is returned when no detection probe succeeds.
var ErrProtocolUnknown = errors.New("could not determine tool server protocol")

// Client is a connected tool server.
type Client interface {
	// ListTools returns the server's tool schemas. Results are cached for
	// the client's lifetime.
	ListTools(ctx context.Context) ([]protocol.ToolSchema, error)

	// CallTool invokes one tool and returns its textual result.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)

	// ServerType is the label reported by the probe endpoint.
	ServerType() string

	Close() error
}

// ToolInvocationError wraps a single tool call failure.
type ToolInvocationError struct {
	Tool string
	Err  error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// DiscoveryError wraps a tool listing failure. The loop logs these and
// proceeds without tools.
type DiscoveryError struct {
	URL string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("tool discovery failed for %s: %v", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// withFloor applies a timeout floor, keeping any tighter caller deadline.
func withFloor(ctx context.Context, floor time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < floor {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, floor)
}
