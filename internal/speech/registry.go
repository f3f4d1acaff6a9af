package speech

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"go.uber.org/zap"
)

// Registry holds the engines built from configuration. Engines missing
// credentials are left out and reported as not configured on lookup.
type Registry struct {
	recognizers  map[STTEngine]Recognizer
	synthesizers map[TTSEngine]Synthesizer
}

// NewRegistry builds every engine that cfg has credentials for.
func NewRegistry(ctx context.Context, cfg config.SpeechConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		recognizers:  map[STTEngine]Recognizer{},
		synthesizers: map[TTSEngine]Synthesizer{},
	}

	if cfg.OpenAIAPIKey.IsSet() {
		w, err := NewWhisperRecognizer(WhisperConfig{
			BaseURL: cfg.WhisperBaseURL,
			APIKey:  cfg.OpenAIAPIKey.Value(),
			Model:   cfg.WhisperModel,
		})
		if err != nil {
			return nil, err
		}
		r.recognizers[STTWhisper] = w

		tts, err := NewOpenAISynthesizer(OpenAITTSConfig{
			BaseURL: cfg.WhisperBaseURL,
			APIKey:  cfg.OpenAIAPIKey.Value(),
			Model:   cfg.OpenAITTSModel,
			Voice:   cfg.OpenAITTSVoice,
		})
		if err != nil {
			return nil, err
		}
		r.synthesizers[TTSOpenAI] = tts
	}

	if cfg.SelfHostedBaseURL != "" {
		w, err := NewWhisperRecognizer(WhisperConfig{
			BaseURL: cfg.SelfHostedBaseURL,
			Model:   cfg.WhisperModel,
		})
		if err != nil {
			return nil, err
		}
		r.recognizers[STTSelfHosted] = w
	}

	if cfg.GoogleAPIKey.IsSet() {
		gcfg := GoogleConfig{APIKey: cfg.GoogleAPIKey.Value()}
		rec, err := NewGoogleRecognizer(ctx, gcfg)
		if err != nil {
			return nil, err
		}
		r.recognizers[STTGoogle] = rec
		syn, err := NewGoogleSynthesizer(ctx, gcfg)
		if err != nil {
			return nil, err
		}
		r.synthesizers[TTSGoogle] = syn
	}

	logger.Info("speech engines ready",
		zap.Int("recognizers", len(r.recognizers)),
		zap.Int("synthesizers", len(r.synthesizers)),
	)
	return r, nil
}

// RegisterRecognizer installs or replaces a recognizer.
func (r *Registry) RegisterRecognizer(engine STTEngine, rec Recognizer) {
	r.recognizers[engine] = rec
}

// RegisterSynthesizer installs or replaces a synthesizer.
func (r *Registry) RegisterSynthesizer(engine TTSEngine, syn Synthesizer) {
	r.synthesizers[engine] = syn
}

// Recognizer returns the engine named by name.
func (r *Registry) Recognizer(name string) (Recognizer, error) {
	engine, err := ParseSTTEngine(name)
	if err != nil {
		return nil, err
	}
	rec, ok := r.recognizers[engine]
	if !ok {
		return nil, errkind.E(errkind.Configuration, "speech.Registry.Recognizer", fmt.Errorf("%w: %s", ErrEngineNotConfigured, engine))
	}
	return rec, nil
}

// Synthesizer returns the engine named by name.
func (r *Registry) Synthesizer(name string) (Synthesizer, error) {
	engine, err := ParseTTSEngine(name)
	if err != nil {
		return nil, err
	}
	syn, ok := r.synthesizers[engine]
	if !ok {
		return nil, errkind.E(errkind.Configuration, "speech.Registry.Synthesizer", fmt.Errorf("%w: %s", ErrEngineNotConfigured, engine))
	}
	return syn, nil
}
