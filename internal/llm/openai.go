package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultTimeout = 60 * time.Second

// OpenAI talks to OpenAI-compatible chat completion APIs (OpenAI, Anthropic's
// compatibility endpoint, Azure OpenAI).
type OpenAI struct {
	client *openai.Client
	cfg    Config
}

// Compile-time check that OpenAI implements Client.
var _ Client = (*OpenAI)(nil)

// NewOpenAI validates cfg and builds a client. No request is made.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	var oc openai.ClientConfig
	switch cfg.Provider {
	case ProviderAnthropic:
		oc = openai.DefaultAnthropicConfig(cfg.APIKey, cfg.BaseURL)
	case ProviderAzure:
		oc = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	default:
		oc = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAI{client: openai.NewClientWithConfig(oc), cfg: cfg}, nil
}

func (o *OpenAI) Config() Config { return o.cfg }

func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Messages:    msgs,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		return Completion{}, o.classify(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, &APIError{Provider: o.cfg.Provider, Err: ErrEmptyResponse}
	}

	return Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (o *OpenAI) classify(err error) error {
	out := &APIError{Provider: o.cfg.Provider, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		out.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		out.StatusCode = reqErr.HTTPStatusCode
	}
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		out.Timeout = true
	}
	return out
}
