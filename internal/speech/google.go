package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/groundd/internal/lang"
	"google.golang.org/api/option"
	speechapi "google.golang.org/api/speech/v1"
	"google.golang.org/api/texttospeech/v1"
)

// GoogleConfig configures the Google Cloud speech engines.
type GoogleConfig struct {
	APIKey string
	// Endpoint overrides the API root.
	Endpoint string
	// HTTPClient replaces the authenticated transport when set.
	HTTPClient *http.Client
}

func (c GoogleConfig) options() []option.ClientOption {
	var opts []option.ClientOption
	if c.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(c.HTTPClient))
	} else {
		opts = append(opts, option.WithAPIKey(c.APIKey))
	}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	return opts
}

// recognitionSampleRate is the rate clients record LINEAR16 audio at.
const recognitionSampleRate = 16000

// GoogleRecognizer transcribes LINEAR16 audio with Cloud Speech-to-Text.
type GoogleRecognizer struct {
	svc *speechapi.Service
}

var _ Recognizer = (*GoogleRecognizer)(nil)

// NewGoogleRecognizer creates a Cloud Speech client.
func NewGoogleRecognizer(ctx context.Context, cfg GoogleConfig) (*GoogleRecognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: google api key required for stt", ErrEngineNotConfigured)
	}
	svc, err := speechapi.NewService(ctx, cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("creating speech client: %w", err)
	}
	return &GoogleRecognizer{svc: svc}, nil
}

// Recognize returns the top alternative of the first result. Bare language
// codes get the default region appended.
func (g *GoogleRecognizer) Recognize(ctx context.Context, audio []byte, language string) (string, error) {
	const op = "speech.GoogleRecognizer.Recognize"
	if len(audio) == 0 {
		return "", transcriptionError(op, ErrEmptyAudio)
	}

	resp, err := g.svc.Speech.Recognize(&speechapi.RecognizeRequest{
		Config: &speechapi.RecognitionConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: recognitionSampleRate,
			LanguageCode:    lang.Locale(language, ""),
		},
		Audio: &speechapi.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(audio),
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", transcriptionError(op, err)
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Results[0].Alternatives[0].Transcript), nil
}

// voices maps locales to the preferred Google voice.
var voices = map[string]string{
	"bn-IN": "bn-IN-Wavenet-A",
	"en-US": "en-US-Neural2-C",
	"en-IN": "en-IN-Neural2-A",
	"gu-IN": "gu-IN-Wavenet-A",
	"hi-IN": "hi-IN-Neural2-D",
	"kn-IN": "kn-IN-Wavenet-A",
	"ml-IN": "ml-IN-Wavenet-C",
	"mr-IN": "mr-IN-Wavenet-C",
	"pa-IN": "pa-IN-Wavenet-C",
	"ta-IN": "ta-IN-Wavenet-C",
	"te-IN": "te-IN-Standard-A",
}

// VoiceFor returns the locale and voice name used for language. Locales
// without a mapped voice leave the choice to Google.
func VoiceFor(language string) (locale, voice string) {
	locale = lang.Locale(language, "")
	return locale, voices[locale]
}

// GoogleSynthesizer produces MP3 audio with Cloud Text-to-Speech.
type GoogleSynthesizer struct {
	svc *texttospeech.Service
}

var _ Synthesizer = (*GoogleSynthesizer)(nil)

// NewGoogleSynthesizer creates a Cloud Text-to-Speech client.
func NewGoogleSynthesizer(ctx context.Context, cfg GoogleConfig) (*GoogleSynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: google api key required for tts", ErrEngineNotConfigured)
	}
	svc, err := texttospeech.NewService(ctx, cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("creating text-to-speech client: %w", err)
	}
	return &GoogleSynthesizer{svc: svc}, nil
}

// Synthesize returns MP3 audio for text in language.
func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	const op = "speech.GoogleSynthesizer.Synthesize"

	locale, voice := VoiceFor(language)
	resp, err := g.svc.Text.Synthesize(&texttospeech.SynthesizeSpeechRequest{
		Input:       &texttospeech.SynthesisInput{Text: StripMarkdown(text)},
		Voice:       &texttospeech.VoiceSelectionParams{LanguageCode: locale, Name: voice},
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "MP3"},
	}).Context(ctx).Do()
	if err != nil {
		return nil, synthesisError(op, err)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, synthesisError(op, fmt.Errorf("decoding audio: %w", err))
	}
	return audio, nil
}
