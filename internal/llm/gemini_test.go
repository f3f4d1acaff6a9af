package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGeminiHistory(t *testing.T) {
	history, question := geminiHistory([]Message{
		{Role: RoleAssistant, Content: "welcome"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	})
	assert.Equal(t, "c", question)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, genai.Text("a"), history[0].Parts[0])
	assert.Equal(t, "model", history[1].Role)

	history, question = geminiHistory(nil)
	assert.Nil(t, history)
	assert.Empty(t, question)
}

func TestGeminiAttachments(t *testing.T) {
	req := Request{
		Model: Gemini15Flash,
		Attachments: []Attachment{
			{MIMEType: "application/pdf", URL: "https://example.com/a.pdf"},
			{MIMEType: "image/jpeg", Data: []byte{1, 2}},
			{},
		},
	}
	parts := geminiAttachments(req)
	require.Len(t, parts, 2)
	assert.Equal(t, genai.FileData{MIMEType: "application/pdf", URI: "https://example.com/a.pdf"}, parts[0])
	assert.Equal(t, genai.Blob{MIMEType: "image/jpeg", Data: []byte{1, 2}}, parts[1])

	req.Model = GPT35Turbo
	assert.Empty(t, geminiAttachments(req))
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello "), genai.Text("there")}}},
		{},
	}}
	assert.Equal(t, "Hello there", responseText(resp))
}

func TestGeminiProvider_MissingKey(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	_, err := p.Complete(context.Background(), Request{Model: Gemini15Pro}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.NoError(t, p.Close())
}

func TestGeminiProvider_SharesOnlyConfiguredClient(t *testing.T) {
	ctx := context.Background()
	p := NewGeminiProvider(GeminiConfig{APIKey: "platform-key"})
	defer p.Close()

	a, release, err := p.client(ctx, "")
	require.NoError(t, err)
	release()
	b, release, err := p.client(ctx, "platform-key")
	require.NoError(t, err)
	release()
	assert.Same(t, a, b)

	c, release, err := p.client(ctx, "caller-key")
	require.NoError(t, err)
	defer release()
	assert.NotSame(t, a, c)
	assert.Same(t, a, p.shared)
}

func TestGeminiAuthFailure(t *testing.T) {
	assert.True(t, geminiAuthFailure(&googleapi.Error{Code: http.StatusForbidden}))
	assert.True(t, geminiAuthFailure(fmt.Errorf("send: %w", status.Error(codes.Unauthenticated, "bad key"))))
	assert.True(t, geminiAuthFailure(status.Error(codes.PermissionDenied, "denied")))
	assert.False(t, geminiAuthFailure(status.Error(codes.Unavailable, "down")))
	assert.False(t, geminiAuthFailure(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.False(t, geminiAuthFailure(errors.New("eof")))
}
