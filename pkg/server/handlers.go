package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/visionliao/llm-mcp-tools/pkg/config"
	"github.com/visionliao/llm-mcp-tools/pkg/llms"
	"github.com/visionliao/llm-mcp-tools/pkg/loop"
	"github.com/visionliao/llm-mcp-tools/pkg/protocol"
)

type chatRequest struct {
	SelectedModel string                  `json:"selectedModel"`
	Messages      []protocol.Message      `json:"messages"`
	Options       config.GenerationConfig `json:"options"`
}

type chatResponse struct {
	Content  string                 `json:"content"`
	Usage    protocol.TokenUsage    `json:"usage"`
	Duration protocol.DurationUsage `json:"duration"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if err := protocol.ValidateConversation(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation: %v", err)
		return
	}

	providerName, model, err := protocol.ParseModelSelector(req.SelectedModel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	cfg, err := s.registry.Resolve(providerName, model, req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	provider, err := llms.New(cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to initialize provider: %v", err)
		return
	}
	defer provider.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	runner := &loop.Runner{
		Provider: provider,
		Tools:    s.toolClient(ctx, cfg.MCPServerURL),
		Config:   cfg.GenerationConfig,
		Recorder: s.metrics,
	}

	outcome, err := runner.Run(ctx, req.Messages)
	if err != nil {
		s.logger.Error("Chat run failed", "provider", providerName, "model", model, "error", err)
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	if cfg.Streaming() {
		s.streamOutcome(w, r, cancel, outcome)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Content:  outcome.Content,
		Usage:    outcome.Usage,
		Duration: outcome.Duration,
	})
}

// toolClient resolves the tool server for a request. Resolution failures are
// logged and the request proceeds toolless; only /mcp-test surfaces them.
func (s *Server) toolClient(ctx context.Context, url string) loop.ToolClient {
	if url == "" {
		return nil
	}
	client, err := s.tools.Get(ctx, url)
	if err != nil {
		s.logger.Warn("Tool server unavailable, continuing without tools", "url", url, "error", err)
		return nil
	}
	return client
}

// streamOutcome relays a run result as SSE. Frame order: text deltas in
// source order, one usage frame if any turn reported usage, one duration
// frame likewise, then close. A mid-stream failure closes without trailers;
// a write failure cancels the upstream call.
func (s *Server) streamOutcome(w http.ResponseWriter, r *http.Request, cancel context.CancelFunc, outcome *loop.Outcome) {
	raw := r.URL.Query().Get("format") == "raw"
	sse, err := newSSEWriter(w, raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	// A run can resolve without a live stream (the provider returned an
	// empty or already-complete turn); emit it as a single frame.
	if outcome.Stream == nil {
		if outcome.Content != "" {
			if err := sse.writeText(outcome.Content); err != nil {
				return
			}
		}
		if raw {
			return
		}
		if !outcome.Usage.IsZero() {
			sse.writeFrame("usage", outcome.Usage)
		}
		if !outcome.Duration.IsZero() {
			sse.writeFrame("duration", outcome.Duration)
		}
		return
	}

	stream := outcome.Stream
	for delta := range stream.Text() {
		if err := sse.writeText(delta); err != nil {
			s.logger.Debug("Client write failed, canceling upstream", "error", err)
			cancel()
			for range stream.Text() {
				// drain so the producer can finish
			}
			return
		}
	}
	<-stream.Done()

	if err := stream.Err(); err != nil {
		// The stream broke after frames were sent; close without trailers.
		s.logger.Error("Stream failed mid-flight", "error", err)
		return
	}
	if raw {
		return
	}
	if usage, ok := stream.Usage(); ok {
		sse.writeFrame("usage", usage)
	}
	if duration, ok := stream.Duration(); ok {
		sse.writeFrame("duration", duration)
	}
}

func (s *Server) handleModelList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("type") != "options" {
		writeError(w, http.StatusBadRequest, "unsupported type, expected type=options")
		return
	}
	options := s.registry.Options()
	if options == nil {
		options = []config.ModelOption{}
	}
	writeJSON(w, http.StatusOK, options)
}

type mcpTestRequest struct {
	URL string `json:"url"`
}

type mcpTestResponse struct {
	Status     string   `json:"status"`
	ServerType string   `json:"serverType"`
	ToolsCount int      `json:"toolsCount"`
	Tools      []string `json:"tools,omitempty"`
	Message    string   `json:"message,omitempty"`
	Error      string   `json:"error,omitempty"`
	Details    string   `json:"details,omitempty"`
}

// handleMCPTest probes a tool server URL. This is the one endpoint where
// detection failures are reported instead of swallowed.
func (s *Server) handleMCPTest(w http.ResponseWriter, r *http.Request) {
	var req mcpTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	client, err := s.tools.Get(r.Context(), req.URL)
	if err != nil {
		writeJSON(w, http.StatusOK, mcpTestResponse{
			Status:     "error",
			ServerType: "unknown",
			Error:      "connection failed",
			Details:    err.Error(),
		})
		return
	}

	schemas, err := client.ListTools(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, mcpTestResponse{
			Status:     "error",
			ServerType: client.ServerType(),
			Error:      "tool discovery failed",
			Details:    err.Error(),
		})
		return
	}

	names := make([]string, 0, len(schemas))
	for _, t := range schemas {
		names = append(names, t.Name)
	}
	writeJSON(w, http.StatusOK, mcpTestResponse{
		Status:     "ok",
		ServerType: client.ServerType(),
		ToolsCount: len(names),
		Tools:      names,
		Message:    fmt.Sprintf("Connected to %s server, %d tools available", client.ServerType(), len(names)),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
