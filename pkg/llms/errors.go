package llms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies adapter failures for the HTTP layer and callers.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindTransport       ErrorKind = "transport"
	KindProtocol        ErrorKind = "protocol"
	KindAuth            ErrorKind = "auth"
	KindInvalidResponse ErrorKind = "invalid_response"
)

// AdapterError wraps a provider failure with its classification.
type AdapterError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// wrapErr classifies an error from an outbound call. Context deadline maps
// to timeout, everything else to transport.
func wrapErr(provider string, err error) error {
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &AdapterError{Kind: kind, Provider: provider, Err: err}
}

// statusErr classifies a non-2xx upstream status.
func statusErr(provider string, status int, body string) error {
	kind := KindProtocol
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	}
	return &AdapterError{
		Kind:     kind,
		Provider: provider,
		Err:      fmt.Errorf("upstream returned %d: %s", status, truncate(body, 512)),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
