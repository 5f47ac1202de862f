// Package llm is the language-model completion port used by the move
// generator, with an adapter for OpenAI-compatible chat APIs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderAzure     = "azure"
)

// Config is the per-run model configuration. The API key is opaque and never
// persisted.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

// String hides the API key.
func (c Config) String() string {
	return fmt.Sprintf("llm.Config{Provider:%s Model:%s}", c.Provider, c.Model)
}

// Validate reports a ConfigurationError naming every missing field.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Provider) == "" {
		missing = append(missing, "provider")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(c.Model) == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	case ProviderAzure:
		if c.BaseURL == "" {
			return &ConfigurationError{Missing: []string{"base url"}}
		}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unsupported provider %q", c.Provider)}
	}
	return nil
}

// Request is one completion call.
type Request struct {
	System string
	Prompt string
}

// Completion is the model's reply plus token usage.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client calls a completion endpoint.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Config() Config
}

// ConfigurationError is returned before any network call when the caller did
// not supply usable credentials.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return "llm configuration missing: " + strings.Join(e.Missing, ", ")
	}
	return "llm configuration invalid: " + e.Reason
}

// ErrEmptyResponse means the API answered without any choice.
var ErrEmptyResponse = errors.New("empty completion")

// APIError is a transport, auth or server failure calling the model.
type APIError struct {
	Provider   string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("llm %s: timeout: %v", e.Provider, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("llm %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("llm %s: %v", e.Provider, e.Err)
	}
}

func (e *APIError) Unwrap() error { return e.Err }
