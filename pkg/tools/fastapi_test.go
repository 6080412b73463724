package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToolServer mimics the plain HTTP tool protocol: GET /tools, POST /call.
func fakeToolServer(t *testing.T, wrapped bool) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, r *http.Request) {
		bare := map[string]any{
			"name":        "get_weather",
			"description": "Look up the weather",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
			},
		}
		entry := bare
		if wrapped {
			entry = map[string]any{"type": "function", "function": bare}
		}
		json.NewEncoder(w).Encode([]any{entry})
	})
	mux.HandleFunc("POST /call", func(w http.ResponseWriter, r *http.Request) {
		var req fastAPICallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.ToolName {
		case "get_weather":
			json.NewEncoder(w).Encode(map[string]any{"result": "sunny in " + req.Arguments["city"].(string)})
		case "get_report":
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"temp": 21}})
		case "broken":
			json.NewEncoder(w).Encode(map[string]any{"error": "tool exploded"})
		default:
			http.Error(w, `{"error":"unknown tool"}`, http.StatusNotFound)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFastAPIListTools(t *testing.T) {
	for _, wrapped := range []bool{true, false} {
		name := "bare schemas"
		if wrapped {
			name = "wrapped schemas"
		}
		t.Run(name, func(t *testing.T) {
			srv := fakeToolServer(t, wrapped)
			c := NewFastAPIClient(srv.URL, "FastAPI")

			schemas, err := c.ListTools(context.Background())
			require.NoError(t, err)
			require.Len(t, schemas, 1)
			assert.Equal(t, "get_weather", schemas[0].Name)
			assert.Equal(t, "Look up the weather", schemas[0].Description)
			assert.Equal(t, "object", schemas[0].Parameters["type"])
		})
	}
}

func TestFastAPIListToolsCached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode([]any{map[string]any{"name": "t", "description": "d"}})
	}))
	t.Cleanup(srv.Close)

	c := NewFastAPIClient(srv.URL, "FastAPI")
	_, err := c.ListTools(context.Background())
	require.NoError(t, err)
	_, err = c.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "the tool list is fetched once")
}

func TestFastAPICallTool(t *testing.T) {
	srv := fakeToolServer(t, true)
	c := NewFastAPIClient(srv.URL, "FastAPI")

	t.Run("string result", func(t *testing.T) {
		result, err := c.CallTool(context.Background(), "get_weather", map[string]any{"city": "Oslo"})
		require.NoError(t, err)
		assert.Equal(t, "sunny in Oslo", result)
	})

	t.Run("non-string result is JSON encoded", func(t *testing.T) {
		result, err := c.CallTool(context.Background(), "get_report", map[string]any{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"temp":21}`, result)
	})

	t.Run("error payload", func(t *testing.T) {
		_, err := c.CallTool(context.Background(), "broken", map[string]any{})
		require.Error(t, err)
		var te *ToolInvocationError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "broken", te.Tool)
		assert.Contains(t, err.Error(), "tool exploded")
	})

	t.Run("http error", func(t *testing.T) {
		_, err := c.CallTool(context.Background(), "missing", map[string]any{})
		require.Error(t, err)
		var te *ToolInvocationError
		assert.ErrorAs(t, err, &te)
	})
}
