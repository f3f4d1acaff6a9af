package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/tmc/langchaingo/prompts"
)

// DefaultStreamBuffer is the stream channel capacity when none is set.
const DefaultStreamBuffer = 64

// ChainConfig configures one turn's chain.
type ChainConfig struct {
	// SystemTemplate must contain {reference}. Default DefaultSystemTemplate.
	SystemTemplate string
	// HumanTemplate must contain {user_msg}. Default DefaultHumanTemplate.
	HumanTemplate string
	// Reminder is appended to the history. Default GroundingReminder; set
	// DisableReminder to omit it.
	Reminder        string
	DisableReminder bool

	Model        Model
	Temperature  float64
	StreamBuffer int
}

// Input is one question to answer.
type Input struct {
	Question    string
	Reference   string
	History     []Message
	Attachments []Attachment
	// APIKey is the caller's credential for the model's provider.
	APIKey string
}

// Chain renders prompts and calls the model through a Generator.
type Chain struct {
	gen          *Generator
	system       prompts.PromptTemplate
	human        prompts.PromptTemplate
	reminder     string
	model        Model
	temperature  float64
	streamBuffer int
}

// NewChain validates cfg and returns a chain. A system template without
// {reference} is a Configuration error.
func NewChain(cfg ChainConfig, gen *Generator) (*Chain, error) {
	const op = "llm.NewChain"
	if gen == nil {
		return nil, errkind.Errorf(errkind.Configuration, op, "generator required")
	}
	if cfg.SystemTemplate == "" {
		cfg.SystemTemplate = DefaultSystemTemplate
	}
	if cfg.HumanTemplate == "" {
		cfg.HumanTemplate = DefaultHumanTemplate
	}
	if cfg.Reminder == "" && !cfg.DisableReminder {
		cfg.Reminder = GroundingReminder
	}
	if cfg.DisableReminder {
		cfg.Reminder = ""
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if _, err := ParseModel(string(cfg.Model)); err != nil {
		return nil, err
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = DefaultStreamBuffer
	}

	if err := ValidateSystemTemplate(cfg.SystemTemplate); err != nil {
		return nil, err
	}
	system, _ := parseTemplate(op, cfg.SystemTemplate, "reference")
	if !strings.Contains(cfg.HumanTemplate, "{user_msg}") {
		return nil, errkind.Errorf(errkind.Configuration, op, "human template must contain {user_msg}")
	}
	human, err := parseTemplate(op, cfg.HumanTemplate, "user_msg")
	if err != nil {
		return nil, err
	}

	return &Chain{
		gen:          gen,
		system:       system,
		human:        human,
		reminder:     cfg.Reminder,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		streamBuffer: cfg.StreamBuffer,
	}, nil
}

// Model returns the chain's model.
func (c *Chain) Model() Model { return c.model }

// Request renders in into a provider request.
func (c *Chain) Request(in Input) (Request, error) {
	const op = "llm.Chain.Request"
	system, err := c.system.Format(map[string]any{"reference": in.Reference})
	if err != nil {
		return Request{}, errkind.E(errkind.Configuration, op, err)
	}
	human, err := c.human.Format(map[string]any{"user_msg": in.Question})
	if err != nil {
		return Request{}, errkind.E(errkind.Configuration, op, err)
	}

	msgs := make([]Message, 0, len(in.History)+2)
	msgs = append(msgs, in.History...)
	if c.reminder != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: c.reminder})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: human})

	return Request{
		Model:       c.model,
		System:      system,
		Messages:    mergeTurns(msgs),
		Attachments: in.Attachments,
		Temperature: c.temperature,
		APIKey:      in.APIKey,
	}, nil
}

// Generate returns the complete answer.
func (c *Chain) Generate(ctx context.Context, in Input) (string, error) {
	req, err := c.Request(in)
	if err != nil {
		return "", err
	}
	return c.gen.Complete(ctx, req, nil)
}

// EventType distinguishes stream events.
type EventType int

const (
	// EventDelta carries the next piece of the answer in Text.
	EventDelta EventType = iota
	// EventDone carries the complete answer in Text.
	EventDone
	// EventError carries the failure in Err.
	EventError
)

// Event is one element of a streamed answer.
type Event struct {
	Type EventType
	Text string
	Err  error
}

// Stream generates the answer incrementally. The channel is bounded and fed
// by a single goroutine; it carries deltas followed by exactly one Done or
// Error event and is then closed. Canceling ctx stops generation; the
// terminal Error event is then delivered only if the buffer has room.
func (c *Chain) Stream(ctx context.Context, in Input) <-chan Event {
	out := make(chan Event, c.streamBuffer)

	req, err := c.Request(in)
	if err != nil {
		out <- Event{Type: EventError, Err: err}
		close(out)
		return out
	}

	go func() {
		defer close(out)

		onDelta := func(delta string) error {
			if delta == "" {
				return nil
			}
			select {
			case out <- Event{Type: EventDelta, Text: delta}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		text, err := c.gen.Complete(ctx, req, onDelta)
		if err != nil {
			if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
				err = fmt.Errorf("%w: %w", ctx.Err(), err)
			}
			select {
			case out <- Event{Type: EventError, Err: err}:
			default:
				if ctx.Err() == nil {
					out <- Event{Type: EventError, Err: err}
				}
			}
			return
		}

		select {
		case out <- Event{Type: EventDone, Text: text}:
		case <-ctx.Done():
		}
	}()
	return out
}
