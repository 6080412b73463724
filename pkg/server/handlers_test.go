package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionliao/llm-mcp-tools/pkg/config"
	"github.com/visionliao/llm-mcp-tools/pkg/tools"
)

// newTestServer wires a Server against an OpenAI-compatible fake upstream.
func newTestServer(t *testing.T, upstream http.HandlerFunc) http.Handler {
	t.Helper()

	fake := httptest.NewServer(upstream)
	t.Cleanup(fake.Close)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL_LIST", "gpt-4o")
	t.Setenv("OPENAI_BASE_URL", fake.URL)

	toolReg := tools.NewRegistry()
	t.Cleanup(toolReg.CloseAll)

	return New(config.NewRegistryFromEnv(), toolReg).Handler()
}

func postChat(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatRejectsBadRequests(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"empty messages", `{"selectedModel":"openai:gpt-4o","messages":[]}`},
		{"missing selector", `{"messages":[{"role":"user","content":"hi"}]}`},
		{"selector without colon", `{"selectedModel":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`},
		{"unknown provider", `{"selectedModel":"mystery:gpt-4o","messages":[{"role":"user","content":"hi"}]}`},
		{"model not configured", `{"selectedModel":"openai:gpt-5","messages":[{"role":"user","content":"hi"}]}`},
		{"orphan tool message", `{"selectedModel":"openai:gpt-4o","messages":[{"role":"tool","content":"r","tool_call_id":"x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(t, handler, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestChatNonStreaming(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "Hello."}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
		})
	})

	rec := postChat(t, handler, `{
		"selectedModel": "openai:gpt-4o",
		"messages": [{"role":"user","content":"hi"}],
		"options": {"stream": false}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello.", resp.Content)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestChatNonStreamingAlwaysShapesBody(t *testing.T) {
	// No usage from the upstream; the body still carries zero-valued usage
	// and duration objects.
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "Hello."}}},
		})
	})

	rec := postChat(t, handler, `{
		"selectedModel": "openai:gpt-4o",
		"messages": [{"role":"user","content":"hi"}],
		"options": {"stream": false}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "usage")
	require.Contains(t, body, "duration")

	var usage map[string]any
	require.NoError(t, json.Unmarshal(body["usage"], &usage))
	assert.Equal(t, float64(0), usage["total_tokens"])
}

func TestChatUpstreamFailure(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusBadGateway)
	})

	rec := postChat(t, handler, `{
		"selectedModel": "openai:gpt-4o",
		"messages": [{"role":"user","content":"hi"}],
		"options": {"stream": false}
	}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestChatStreaming(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w,
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
			"data: {\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n",
			"data: [DONE]\n\n")
	})

	rec := postChat(t, handler, `{
		"selectedModel": "openai:gpt-4o",
		"messages": [{"role":"user","content":"hi"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := parseFrames(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 3)

	// Frame order: text deltas, then usage, nothing after.
	assert.Equal(t, "text", frames[0].Type)
	assert.Equal(t, "Hel", frames[0].Payload)
	assert.Equal(t, "text", frames[1].Type)
	assert.Equal(t, "lo", frames[1].Payload)

	last := frames[len(frames)-1]
	assert.Equal(t, "usage", last.Type)
	usage := last.Payload.(map[string]any)
	assert.Equal(t, float64(7), usage["total_tokens"])

	for _, f := range frames {
		assert.NotEqual(t, "duration", f.Type, "openai reports no durations")
	}
}

func TestChatStreamingRawFormat(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w,
			"data: {\"choices\":[{\"delta\":{\"content\":\"plain words\"}}]}\n\n",
			"data: {\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n",
			"data: [DONE]\n\n")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/chat?format=raw", strings.NewReader(`{
		"selectedModel": "openai:gpt-4o",
		"messages": [{"role":"user","content":"hi"}]
	}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "plain words", rec.Body.String(), "raw streaming is bare text, no envelope and no trailers")
}

func TestChatStreamingUpstreamDiesMidStream(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	})

	rec := postChat(t, handler, `{
		"selectedModel": "openai:gpt-4o",
		"messages": [{"role":"user","content":"hi"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Frames sent before the failure arrive; the stream then closes with no
	// usage or duration trailers.
	frames := parseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, "text", frames[0].Type)
	assert.Equal(t, "partial", frames[0].Payload)
	for _, f := range frames {
		assert.Equal(t, "text", f.Type)
	}
}

func parseFrames(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f sseFrame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f))
		frames = append(frames, f)
	}
	return frames
}

func TestModelList(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	t.Run("options", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/model-list?type=options", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var opts []config.ModelOption
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
		require.Len(t, opts, 1)
		assert.Equal(t, "openai:gpt-4o", opts[0].Value)
		assert.Equal(t, "gpt-4o", opts[0].Label)
		assert.Equal(t, "openai", opts[0].Provider)
	})

	t.Run("unsupported type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/model-list", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMCPTest(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	toolSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tools":
			json.NewEncoder(w).Encode([]map[string]any{{
				"type": "function",
				"function": map[string]any{
					"name":        "get_weather",
					"description": "weather",
					"parameters":  map[string]any{"type": "object"},
				},
			}})
		case "/":
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(toolSrv.Close)

	t.Run("success", func(t *testing.T) {
		body := fmt.Sprintf(`{"url":%q}`, toolSrv.URL)
		req := httptest.NewRequest(http.MethodPost, "/mcp-test", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp mcpTestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "FastAPI", resp.ServerType)
		assert.Equal(t, 1, resp.ToolsCount)
		assert.Equal(t, []string{"get_weather"}, resp.Tools)
	})

	t.Run("unreachable", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp-test", strings.NewReader(`{"url":"http://127.0.0.1:1"}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp mcpTestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, "unknown", resp.ServerType)
		assert.NotEmpty(t, resp.Details)
	})

	t.Run("missing url", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp-test", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
