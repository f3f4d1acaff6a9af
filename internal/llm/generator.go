package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrProviderNotConfigured indicates no provider is registered for a model's
// family.
var ErrProviderNotConfigured = errors.New("llm provider not configured")

// Attachment is a file sent alongside the question. Data wins over URL.
type Attachment struct {
	MIMEType string
	URL      string
	Data     []byte
}

// Request is a rendered prompt ready for a provider.
type Request struct {
	Model       Model
	System      string
	Messages    []Message
	Attachments []Attachment
	Temperature float64
	// APIKey overrides the provider's default credential when set.
	APIKey string
}

// Provider completes prompts for one model family. When onDelta is non-nil
// the provider streams and calls it for every fragment; an error from
// onDelta aborts the call.
type Provider interface {
	Complete(ctx context.Context, req Request, onDelta func(string) error) (string, error)
	Close() error
}

// Generator routes requests to the provider for the model's family through a
// per-family circuit breaker.
type Generator struct {
	mu        sync.RWMutex
	providers map[Family]Provider
	breakers  map[Family]*gobreaker.CircuitBreaker
	settings  config.BreakerConfig
	timeout   time.Duration
	logger    *zap.Logger
}

// NewGenerator returns a Generator with no providers. Timeout bounds a single
// completion; zero disables it.
func NewGenerator(breaker config.BreakerConfig, timeout time.Duration, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		providers: make(map[Family]Provider),
		breakers:  make(map[Family]*gobreaker.CircuitBreaker),
		settings:  breaker,
		timeout:   timeout,
		logger:    logger,
	}
}

// Register installs p for family, replacing any earlier provider.
func (g *Generator) Register(family Family, p Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[family] = p
	if _, ok := g.breakers[family]; !ok {
		g.breakers[family] = g.newBreaker(family)
	}
}

// Has reports whether a provider serves family.
func (g *Generator) Has(family Family) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.providers[family]
	return ok
}

func (g *Generator) newBreaker(family Family) *gobreaker.CircuitBreaker {
	failures := g.settings.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	logger := g.logger
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + string(family),
		MaxRequests: g.settings.MaxRequests,
		Interval:    g.settings.Interval.Duration(),
		Timeout:     g.settings.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Credential failures belong to the caller, not the provider.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errkind.Is(err, errkind.Configuration)
		},
	})
}

// Complete sends req to the provider for its model.
func (g *Generator) Complete(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	const op = "llm.Generate"
	family := req.Model.Info().Family

	g.mu.RLock()
	p, ok := g.providers[family]
	cb := g.breakers[family]
	g.mu.RUnlock()
	if !ok {
		return "", errkind.E(errkind.Configuration, op, fmt.Errorf("%w: %s", ErrProviderNotConfigured, family))
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := cb.Execute(func() (any, error) {
		return p.Complete(ctx, req, onDelta)
	})
	if err != nil {
		g.logger.Warn("completion failed",
			zap.String("model", string(req.Model)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		if errkind.KindOf(err) != errkind.Unknown {
			return "", err
		}
		return "", errkind.E(errkind.Generation, op, err)
	}
	g.logger.Debug("completion finished",
		zap.String("model", string(req.Model)),
		zap.Duration("elapsed", time.Since(start)))
	return out.(string), nil
}

// Close releases every provider.
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for _, p := range g.providers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// New returns a Generator with the OpenAI and Gemini providers registered.
// Providers without a configured key still serve requests that carry one.
func New(cfg config.LLMConfig, logger *zap.Logger) *Generator {
	g := NewGenerator(cfg.Breaker, cfg.Timeout.Duration(), logger)
	g.Register(FamilyOpenAI, NewOpenAIProvider(OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey.Value(),
		BaseURL: cfg.OpenAIBaseURL,
	}))
	g.Register(FamilyGemini, NewGeminiProvider(GeminiConfig{APIKey: cfg.GeminiAPIKey.Value()}))
	return g
}
