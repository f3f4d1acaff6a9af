package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/groundd/internal/lang"
)

// WhisperConfig configures a whisper-compatible transcription endpoint.
type WhisperConfig struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1.
	BaseURL string
	APIKey  string
	// Model defaults to whisper-1.
	Model   string
	Timeout time.Duration
}

// WhisperRecognizer calls POST {BaseURL}/audio/transcriptions. It serves
// both the hosted whisper engine and self-hosted compatible servers.
type WhisperRecognizer struct {
	config WhisperConfig
	client *http.Client
}

var _ Recognizer = (*WhisperRecognizer)(nil)

// NewWhisperRecognizer creates a whisper client.
func NewWhisperRecognizer(cfg WhisperConfig) (*WhisperRecognizer, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: whisper base url required", ErrEngineNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &WhisperRecognizer{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

// Recognize uploads audio as multipart form data. Whisper takes the bare
// language code.
func (w *WhisperRecognizer) Recognize(ctx context.Context, audio []byte, language string) (string, error) {
	const op = "speech.WhisperRecognizer.Recognize"
	if len(audio) == 0 {
		return "", transcriptionError(op, ErrEmptyAudio)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.webm")
	if err != nil {
		return "", transcriptionError(op, err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", transcriptionError(op, err)
	}
	_ = mw.WriteField("model", w.config.Model)
	if base := lang.Base(language); base != "" {
		_ = mw.WriteField("language", base)
	}
	if err := mw.Close(); err != nil {
		return "", transcriptionError(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", transcriptionError(op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", transcriptionError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", transcriptionError(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", transcriptionError(op, fmt.Errorf("decoding response: %w", err))
	}
	return strings.TrimSpace(out.Text), nil
}
