package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSelector marks a malformed provider:model selector.
var ErrInvalidSelector = errors.New("invalid model selector")

// ParseModelSelector splits "provider:model" on the FIRST colon, so model
// names containing colons (ollama tags like "llama3:8b") survive.
func ParseModelSelector(selector string) (provider, model string, err error) {
	i := strings.Index(selector, ":")
	if i < 0 {
		return "", "", fmt.Errorf("%w: %q has no colon", ErrInvalidSelector, selector)
	}
	provider, model = selector[:i], selector[i+1:]
	if provider == "" || model == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSelector, selector)
	}
	return provider, model, nil
}
