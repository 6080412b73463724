package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// NewHTTPClient builds an *http.Client routed through proxyURL when set,
// falling back to the standard proxy environment variables otherwise.
// A zero timeout disables the client-level deadline; streaming callers rely
// on per-request contexts instead.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyFromEnvironment

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
