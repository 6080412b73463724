package tools

import (
	"context"
	"log/slog"
	"sync"
)

// Registry caches one client per tool server URL so detection and the MCP
// session happen once. Failed detections are not cached; the next request
// retries.
type Registry struct {
	mu      sync.Mutex
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Get returns the cached client for url, running detection on first use.
func (r *Registry) Get(ctx context.Context, url string) (Client, error) {
	r.mu.Lock()
	if c, ok := r.clients[url]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	// Detection runs outside the lock; concurrent first requests may race,
	// the first writer wins and the loser's client is closed.
	c, err := Detect(ctx, url)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[url]; ok {
		c.Close()
		return existing, nil
	}
	r.clients[url] = c
	return c, nil
}

// CloseAll closes every cached client. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for url, c := range r.clients {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close tool client", "url", url, "error", err)
		}
		delete(r.clients, url)
	}
}
