package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// ErrMissingAPIKey indicates neither the request nor the provider carries a
// credential.
var ErrMissingAPIKey = errors.New("api key required")

// ErrUnauthorized indicates the provider rejected the request's credential.
var ErrUnauthorized = errors.New("api key rejected")

// OpenAIConfig configures the OpenAI chat provider.
type OpenAIConfig struct {
	// APIKey is used when a request carries no key of its own.
	APIKey string
	// BaseURL points at an OpenAI-compatible server.
	BaseURL string
}

// OpenAIProvider completes prompts with OpenAI chat models.
type OpenAIProvider struct {
	cfg OpenAIConfig
}

// NewOpenAIProvider returns an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	return &OpenAIProvider{cfg: cfg}
}

func (p *OpenAIProvider) client(req Request) (*openai.LLM, error) {
	key := req.APIKey
	if key == "" {
		key = p.cfg.APIKey
	}
	if key == "" && p.cfg.BaseURL != "" {
		key = "unused"
	}
	if key == "" {
		return nil, errkind.E(errkind.Configuration, "llm.OpenAIProvider", ErrMissingAPIKey)
	}
	opts := []openai.Option{
		openai.WithToken(key),
		openai.WithModel(string(req.Model)),
	}
	if p.cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.cfg.BaseURL))
	}
	return openai.New(opts...)
}

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	client, err := p.client(req)
	if err != nil {
		return "", err
	}

	opts := []llms.CallOption{
		llms.WithModel(string(req.Model)),
		llms.WithTemperature(req.Temperature),
	}
	if onDelta != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return onDelta(string(chunk))
		}))
	}

	resp, err := client.GenerateContent(ctx, openAIMessages(req), opts...)
	if err != nil {
		if openAIAuthFailure(err) {
			return "", errkind.E(errkind.Configuration, "llm.OpenAIProvider", fmt.Errorf("%w: %v", ErrUnauthorized, err))
		}
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty response")
	}
	return resp.Choices[0].Content, nil
}

// Close implements Provider.
func (p *OpenAIProvider) Close() error { return nil }

func openAIMessages(req Request) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.Messages)+1)
	msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem, req.System))

	last := len(req.Messages) - 1
	for i, m := range req.Messages {
		role := schema.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		mc := llms.TextParts(role, m.Content)
		if i == last && role == schema.ChatMessageTypeHuman && req.Model.Info().Vision {
			for _, a := range req.Attachments {
				switch {
				case len(a.Data) > 0:
					mc.Parts = append(mc.Parts, llms.BinaryPart(a.MIMEType, a.Data))
				case a.URL != "":
					mc.Parts = append(mc.Parts, llms.ImageURLPart(a.URL))
				}
			}
		}
		msgs = append(msgs, mc)
	}
	return msgs
}

// openAIAuthFailure reports whether err is a 401 or 403 from the API. The
// client only surfaces the status code in the message.
func openAIAuthFailure(err error) bool {
	msg := err.Error()
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		if strings.Contains(msg, fmt.Sprintf("status code: %d", code)) {
			return true
		}
	}
	return false
}
