package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAITTSConfig configures the hosted neural TTS endpoint.
type OpenAITTSConfig struct {
	BaseURL string
	APIKey  string
	Model   string // default tts-1
	Voice   string // default nova
	Timeout time.Duration
}

// OpenAISynthesizer calls POST {BaseURL}/audio/speech. The voices are
// multilingual, so language is not sent.
type OpenAISynthesizer struct {
	config OpenAITTSConfig
	client *http.Client
}

var _ Synthesizer = (*OpenAISynthesizer)(nil)

// NewOpenAISynthesizer creates an OpenAI TTS client.
func NewOpenAISynthesizer(cfg OpenAITTSConfig) (*OpenAISynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key required for tts", ErrEngineNotConfigured)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "nova"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAISynthesizer{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize returns MP3 audio for text.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	const op = "speech.OpenAISynthesizer.Synthesize"

	body, err := json.Marshal(speechRequest{
		Model:          s.config.Model,
		Input:          StripMarkdown(text),
		Voice:          s.config.Voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, synthesisError(op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, synthesisError(op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, synthesisError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, synthesisError(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, synthesisError(op, fmt.Errorf("reading audio: %w", err))
	}
	return audio, nil
}
