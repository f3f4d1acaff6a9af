package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiConfig configures the Gemini chat provider.
type GeminiConfig struct {
	// APIKey is used when a request carries no key of its own.
	APIKey string
}

// GeminiProvider completes prompts with Gemini models. The client for the
// configured key is shared; a client for a caller's own key lives for one
// request.
type GeminiProvider struct {
	cfg GeminiConfig

	mu     sync.Mutex
	shared *genai.Client
}

// NewGeminiProvider returns a Gemini provider.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	return &GeminiProvider{cfg: cfg}
}

// client returns a client for key and a func that releases it.
func (p *GeminiProvider) client(ctx context.Context, key string) (*genai.Client, func(), error) {
	if key == "" {
		key = p.cfg.APIKey
	}
	if key == "" {
		return nil, nil, errkind.E(errkind.Configuration, "llm.GeminiProvider", ErrMissingAPIKey)
	}

	if key != p.cfg.APIKey {
		c, err := genai.NewClient(ctx, option.WithAPIKey(key))
		if err != nil {
			return nil, nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return c, func() { _ = c.Close() }, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shared == nil {
		c, err := genai.NewClient(ctx, option.WithAPIKey(key))
		if err != nil {
			return nil, nil, fmt.Errorf("creating gemini client: %w", err)
		}
		p.shared = c
	}
	return p.shared, func() {}, nil
}

// Complete implements Provider.
func (p *GeminiProvider) Complete(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	client, release, err := p.client(ctx, req.APIKey)
	if err != nil {
		return "", err
	}
	defer release()

	model := client.GenerativeModel(string(req.Model))
	model.SetTemperature(float32(req.Temperature))
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}

	history, question := geminiHistory(req.Messages)
	cs := model.StartChat()
	cs.History = history
	parts := append([]genai.Part{genai.Text(question)}, geminiAttachments(req)...)

	var sb strings.Builder
	it := cs.SendMessageStream(ctx, parts...)
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			if geminiAuthFailure(err) {
				return "", errkind.E(errkind.Configuration, "llm.GeminiProvider", fmt.Errorf("%w: %v", ErrUnauthorized, err))
			}
			return "", fmt.Errorf("gemini completion: %w", err)
		}
		delta := responseText(resp)
		sb.WriteString(delta)
		if onDelta != nil && delta != "" {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}
	return sb.String(), nil
}

// Close implements Provider.
func (p *GeminiProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shared == nil {
		return nil
	}
	err := p.shared.Close()
	p.shared = nil
	return err
}

// geminiHistory splits msgs into prior turns and the final question. Gemini
// requires history to open with a user turn.
func geminiHistory(msgs []Message) ([]*genai.Content, string) {
	if len(msgs) == 0 {
		return nil, ""
	}
	last := msgs[len(msgs)-1]
	prior := msgs[:len(msgs)-1]
	for len(prior) > 0 && prior[0].Role != RoleUser {
		prior = prior[1:]
	}

	history := make([]*genai.Content, 0, len(prior))
	for _, m := range prior {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history, last.Content
}

func geminiAttachments(req Request) []genai.Part {
	if !req.Model.Info().Vision {
		return nil
	}
	var parts []genai.Part
	for _, a := range req.Attachments {
		switch {
		case len(a.Data) > 0:
			parts = append(parts, genai.Blob{MIMEType: a.MIMEType, Data: a.Data})
		case a.URL != "":
			parts = append(parts, genai.FileData{MIMEType: a.MIMEType, URI: a.URL})
		}
	}
	return parts
}

func responseText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return sb.String()
}

func geminiAuthFailure(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}
