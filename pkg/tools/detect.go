package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/visionliao/llm-mcp-tools/pkg/httpclient"
)

const (
	probeTimeout     = 5 * time.Second
	rootProbeTimeout = 3 * time.Second
)

// probeClient carries the same proxy-aware transport as every other
// outbound call. Probes do not retry.
var probeClient = newProbeClient()

func newProbeClient() *http.Client {
	c, err := httpclient.NewHTTPClient("", 0)
	if err != nil {
		return http.DefaultClient
	}
	return c
}

// Detect probes a tool server URL and returns a client for the first dialect
// that answers, in order: MCP streamable HTTP at /mcp, MCP SSE at /sse,
// plain HTTP at /tools, plain HTTP with only a root endpoint. A URL whose
// path already ends in /mcp or /sse skips detection for that transport.
func Detect(ctx context.Context, rawURL string) (Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(rawURL), "/")

	if strings.HasSuffix(base, "/mcp") {
		return probeStreamable(ctx, base)
	}
	if strings.HasSuffix(base, "/sse") {
		return NewMCPClient(base, mcpTransportSSE), nil
	}

	if c, err := probeStreamable(ctx, base+"/mcp"); err == nil {
		return c, nil
	} else {
		slog.Debug("Streamable HTTP probe failed", "url", base, "error", err)
	}

	if probeHTTP(ctx, base+"/sse", probeTimeout, "text/event-stream") {
		return NewMCPClient(base+"/sse", mcpTransportSSE), nil
	}

	if probeToolList(ctx, base+"/tools") {
		return NewFastAPIClient(base, "FastAPI"), nil
	}

	if probeHTTP(ctx, base+"/", rootProbeTimeout, "") {
		return NewFastAPIClient(base, "FastAPI (HTTP fallback)"), nil
	}

	return nil, ErrProtocolUnknown
}

// probeStreamable attempts a full MCP handshake over streamable HTTP. On
// success the connected client is returned as-is; the session is kept.
func probeStreamable(ctx context.Context, endpoint string) (Client, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	c := NewMCPClient(endpoint, mcpTransportStreamable)
	c.mu.Lock()
	err := c.connect(probeCtx)
	c.mu.Unlock()
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// probeHTTP reports whether a GET returns a 2xx, optionally requiring a
// content type prefix.
func probeHTTP(ctx context.Context, url string, timeout time.Duration, wantContentType string) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if wantContentType != "" {
		req.Header.Set("Accept", wantContentType)
	}

	resp, err := probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if wantContentType != "" && !strings.HasPrefix(resp.Header.Get("Content-Type"), wantContentType) {
		return false
	}
	return true
}

// probeToolList reports whether GET /tools returns parseable JSON.
func probeToolList(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false
	}
	return json.Valid(body)
}
