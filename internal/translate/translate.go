// Package translate converts text between the user's language and the
// pivot language used for retrieval and generation.
//
// Translation failures are never swallowed: every error is returned as an
// errkind Translation error and the caller fails the turn.
package translate

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/lang"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	translateapi "google.golang.org/api/translate/v2"
)

// ErrNotConfigured is returned by Noop when asked to cross languages.
var ErrNotConfigured = errors.New("translation not configured")

// Translator translates text into target.
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// GoogleConfig configures the Google Translate v2 backend.
type GoogleConfig struct {
	APIKey            string
	RequestsPerSecond float64
	Burst             int

	// Endpoint and HTTPClient override transport details.
	Endpoint   string
	HTTPClient *http.Client
}

// Google translates with the Cloud Translation v2 API.
type Google struct {
	svc     *translateapi.Service
	limiter *rate.Limiter
}

var _ Translator = (*Google)(nil)

// NewGoogle creates a Google translator.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.APIKey == "" && cfg.HTTPClient == nil {
		return nil, fmt.Errorf("%w: google api key required", ErrNotConfigured)
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	var opts []option.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := translateapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating translate client: %w", err)
	}
	return &Google{
		svc:     svc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

// Translate returns text in the target language. Empty text is returned
// unchanged without a request.
func (g *Google) Translate(ctx context.Context, text, target string) (string, error) {
	const op = "translate.Google.Translate"
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", errkind.E(errkind.Translation, op, fmt.Errorf("rate limiter: %w", err))
	}

	resp, err := g.svc.Translations.List([]string{text}, lang.Base(target)).
		Format("text").
		Context(ctx).
		Do()
	if err != nil {
		return "", errkind.E(errkind.Translation, op, err)
	}
	if len(resp.Translations) == 0 {
		return "", errkind.Errorf(errkind.Translation, op, "empty response for target %q", target)
	}
	return html.UnescapeString(resp.Translations[0].TranslatedText), nil
}

// Noop serves deployments without a translation backend. Callers only
// translate across languages, so every non-empty request fails.
type Noop struct{}

var _ Translator = Noop{}

func (Noop) Translate(_ context.Context, text, target string) (string, error) {
	if text == "" {
		return "", nil
	}
	return "", errkind.E(errkind.Translation, "translate.Noop.Translate", fmt.Errorf("%w: target %q", ErrNotConfigured, target))
}

// New returns a Google translator when cfg carries a key and Noop
// otherwise.
func New(ctx context.Context, cfg config.TranslateConfig) (Translator, error) {
	if !cfg.GoogleAPIKey.IsSet() {
		return Noop{}, nil
	}
	return NewGoogle(ctx, GoogleConfig{
		APIKey:            cfg.GoogleAPIKey.Value(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
}
