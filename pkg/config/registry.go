package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

const (
	apiKeySuffix    = "_API_KEY"
	modelListSuffix = "_MODEL_LIST"
	proxyURLSuffix  = "_PROXY_URL"
	baseURLSuffix   = "_BASE_URL"

	// A key literally equal to "None" marks a keyless deployment; only
	// Ollama is allowed to run without credentials.
	noKeyMarker = "None"
)

// defaultBaseURLs maps provider names to their well-known API hosts.
// Providers outside this map must set <PROVIDER>_BASE_URL.
var defaultBaseURLs = map[string]string{
	"openai":   "https://api.openai.com",
	"gemini":   "https://generativelanguage.googleapis.com",
	"ollama":   "http://localhost:11434",
	"deepseek": "https://api.deepseek.com",
}

// Entry is one configured provider.
type Entry struct {
	Name     string
	APIKey   string
	BaseURL  string
	ProxyURL string
	Models   []string
}

// ModelOption is one row of the model-discovery endpoint.
type ModelOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Provider string `json:"provider"`
}

// Registry is the set of providers resolved from environment variables of
// the form <PROVIDER>_API_KEY + <PROVIDER>_MODEL_LIST [+ <PROVIDER>_PROXY_URL].
type Registry struct {
	entries map[string]Entry
}

// LoadEnvFiles loads .env.local then .env if present. Missing files are not
// an error.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// NewRegistryFromEnv scans the process environment for provider entries.
// Entries with an empty model list or a "None" key on a non-Ollama provider
// are skipped with a warning.
func NewRegistryFromEnv() *Registry {
	r := &Registry{entries: make(map[string]Entry)}

	for _, kv := range os.Environ() {
		eq := strings.Index(kv, "=")
		if eq < 0 {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]
		if !strings.HasSuffix(key, apiKeySuffix) || value == "" {
			continue
		}

		upper := strings.TrimSuffix(key, apiKeySuffix)
		if upper == "" {
			continue
		}
		name := strings.ToLower(upper)

		if value == noKeyMarker && upper != "OLLAMA" {
			slog.Warn("Provider with key 'None' is only allowed for OLLAMA, skipping", "provider", name)
			continue
		}

		models := splitModelList(os.Getenv(upper + modelListSuffix))
		if len(models) == 0 {
			slog.Warn("Provider has no model list, skipping", "provider", name)
			continue
		}

		baseURL := os.Getenv(upper + baseURLSuffix)
		if baseURL == "" {
			baseURL = defaultBaseURLs[name]
		}
		if baseURL == "" {
			slog.Warn("Provider has no base URL and no default, skipping", "provider", name)
			continue
		}

		apiKey := value
		if apiKey == noKeyMarker {
			apiKey = ""
		}

		r.entries[name] = Entry{
			Name:     name,
			APIKey:   apiKey,
			BaseURL:  strings.TrimSuffix(baseURL, "/"),
			ProxyURL: os.Getenv(upper + proxyURLSuffix),
			Models:   models,
		}
	}

	return r
}

// Providers returns the configured provider names, sorted.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options lists all provider:model combinations for the model selector.
func (r *Registry) Options() []ModelOption {
	var opts []ModelOption
	for _, name := range r.Providers() {
		entry := r.entries[name]
		for _, model := range entry.Models {
			opts = append(opts, ModelOption{
				Value:    name + ":" + model,
				Label:    model,
				Provider: name,
			})
		}
	}
	return opts
}

// Resolve binds a provider/model pair and the request's generation options
// into a ProviderConfig. The model must appear in the provider's model list.
func (r *Registry) Resolve(provider, model string, gen GenerationConfig) (ProviderConfig, error) {
	entry, ok := r.entries[strings.ToLower(provider)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("unknown provider %q", provider)
	}

	found := false
	for _, m := range entry.Models {
		if m == model {
			found = true
			break
		}
	}
	if !found {
		return ProviderConfig{}, fmt.Errorf("model %q is not configured for provider %q", model, provider)
	}

	gen.SetDefaults()
	return ProviderConfig{
		GenerationConfig: gen,
		Provider:         entry.Name,
		Model:            model,
		APIKey:           entry.APIKey,
		BaseURL:          entry.BaseURL,
		ProxyURL:         entry.ProxyURL,
	}, nil
}

func splitModelList(list string) []string {
	var models []string
	for _, m := range strings.Split(list, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return models
}
