package imagegen

import (
	"fmt"
	"strings"
)

// ProviderOptions selects an image provider implementation.
type ProviderOptions struct {
	Mode    string // auto | openai | mock
	APIKey  string
	BaseURL string
	Model   string
}

// NewProvider picks the OpenAI-compatible provider when a key is configured,
// otherwise the mock renderer.
func NewProvider(opts ProviderOptions) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{APIKey: opts.APIKey, BaseURL: opts.BaseURL, Model: opts.Model})
	case "mock":
		return NewMockProvider(), nil
	case "auto":
		if strings.TrimSpace(opts.APIKey) != "" {
			return NewOpenAIProvider(OpenAIConfig{APIKey: opts.APIKey, BaseURL: opts.BaseURL, Model: opts.Model})
		}
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("invalid IMAGE_PROVIDER: %q (expected auto|openai|mock)", opts.Mode)
	}
}
