// Package events publishes document ingestion and test run progress.
//
// Events are published to NATS subjects of the form
//
//	{prefix}.{entity}.{id}.{type}
//
// for example groundd.runs.7f3c.result. The HTTP layer subscribes to a
// single entity to relay its events over SSE. Without NATS a no-op bus is
// used and subscriptions are unavailable.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/groundd/internal/config"
)

// ErrUnavailable is returned by Subscribe when no broker is configured.
var ErrUnavailable = errors.New("event bus unavailable")

// Entity is the kind of object an event is about.
type Entity string

const (
	EntityRun      Entity = "runs"
	EntityDocument Entity = "documents"
)

// Type is what happened.
type Type string

const (
	Started   Type = "started"
	Progress  Type = "progress"
	Result    Type = "result"
	Completed Type = "completed"
	Failed    Type = "failed"
	Canceled  Type = "canceled"
)

// Terminal reports whether no events follow t.
func (t Type) Terminal() bool {
	return t == Completed || t == Failed || t == Canceled
}

// Event is one progress notification.
type Event struct {
	Entity    Entity    `json:"entity"`
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Done      int       `json:"done,omitempty"`
	Total     int       `json:"total,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New returns an event stamped with the current time.
func New(entity Entity, id string, typ Type) Event {
	return Event{Entity: entity, ID: id, Type: typ, Timestamp: time.Now()}
}

// Publisher publishes events. Publishing is best-effort: callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus publishes and subscribes.
type Bus interface {
	Publisher
	// Subscribe delivers the events of one entity until ctx is done or the
	// returned cancel func is called.
	Subscribe(ctx context.Context, entity Entity, id string) (<-chan Event, func(), error)
	Close() error
}

// Open connects to the broker in cfg, or returns a no-op bus when cfg has
// no URL.
func Open(cfg config.NATSConfig, logger *zap.Logger) (Bus, error) {
	if cfg.URL == "" {
		return Nop{}, nil
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("groundd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if logger != nil && err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return NewNATSBus(nc, cfg.SubjectPrefix, logger), nil
}

// NATSBus is a Bus on a NATS connection.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSBus wraps nc. An empty prefix selects "groundd".
func NewNATSBus(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSBus {
	if prefix == "" {
		prefix = "groundd"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBus{nc: nc, prefix: prefix, logger: logger}
}

// Subject returns the subject ev is published on.
func (b *NATSBus) Subject(ev Event) string {
	return fmt.Sprintf("%s.%s.%s.%s", b.prefix, ev.Entity, token(ev.ID), ev.Type)
}

// Publish implements Publisher.
func (b *NATSBus) Publish(_ context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := b.nc.Publish(b.Subject(ev), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Subscribe implements Bus.
func (b *NATSBus) Subscribe(ctx context.Context, entity Entity, id string) (<-chan Event, func(), error) {
	subject := fmt.Sprintf("%s.%s.%s.*", b.prefix, entity, token(id))
	msgs := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				var ev Event
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					b.logger.Warn("dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

// Close drains the connection.
func (b *NATSBus) Close() error {
	return b.nc.Drain()
}

// token makes id safe as a single subject token.
func token(id string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Subscribe(context.Context, Entity, string) (<-chan Event, func(), error) {
	return nil, nil, ErrUnavailable
}

func (Nop) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns the published events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the types of the published events in order.
func (r *Recorder) Types() []Type {
	var out []Type
	for _, ev := range r.Events() {
		out = append(out, ev.Type)
	}
	return out
}
