package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu     sync.Mutex
	chunks []string
	err    error
	block  bool
	got    []Request
}

func (f *fakeProvider) Complete(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	for _, c := range f.chunks {
		if onDelta != nil {
			if err := onDelta(c); err != nil {
				return "", err
			}
		}
	}
	return strings.Join(f.chunks, ""), nil
}

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) last() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

func newTestChain(t *testing.T, p Provider, cfg ChainConfig) *Chain {
	t.Helper()
	gen := NewGenerator(config.BreakerConfig{ConsecutiveFailures: 2}, 0, nil)
	gen.Register(FamilyOpenAI, p)
	chain, err := NewChain(cfg, gen)
	require.NoError(t, err)
	return chain
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestNewChain_Validation(t *testing.T) {
	gen := NewGenerator(config.BreakerConfig{}, 0, nil)

	_, err := NewChain(ChainConfig{SystemTemplate: "no placeholder"}, gen)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingReference)

	_, err = NewChain(ChainConfig{HumanTemplate: "Question"}, gen)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Configuration))

	_, err = NewChain(ChainConfig{Model: "gpt-2"}, gen)
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = NewChain(ChainConfig{}, nil)
	assert.True(t, errkind.Is(err, errkind.Configuration))

	chain, err := NewChain(ChainConfig{}, gen)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, chain.Model())
}

func TestChain_Request(t *testing.T) {
	chain := newTestChain(t, &fakeProvider{}, ChainConfig{
		SystemTemplate: "Refs: {reference}",
		Temperature:    0.1,
	})

	req, err := chain.Request(Input{
		Question:  "what is fever?",
		Reference: `{"doc1": "fever is heat"}`,
		History: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
		APIKey: "sk-test",
	})
	require.NoError(t, err)

	assert.Equal(t, `Refs: {"doc1": "fever is heat"}`, req.System)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: GroundingReminder + "\n\nNurse: what is fever?"},
	}, req.Messages)
	assert.Equal(t, "sk-test", req.APIKey)
	assert.InDelta(t, 0.1, req.Temperature, 1e-9)
}

func TestChain_RequestWithoutReminder(t *testing.T) {
	chain := newTestChain(t, &fakeProvider{}, ChainConfig{
		HumanTemplate:   "Q: {user_msg}",
		DisableReminder: true,
	})
	req, err := chain.Request(Input{Question: "dose?"})
	require.NoError(t, err)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "Q: dose?"}}, req.Messages)
}

func TestChain_Generate(t *testing.T) {
	p := &fakeProvider{chunks: []string{"Rest ", "and fluids.\nReferences: doc1"}}
	chain := newTestChain(t, p, ChainConfig{})

	text, err := chain.Generate(context.Background(), Input{Question: "q", Reference: "r"})
	require.NoError(t, err)
	assert.Equal(t, "Rest and fluids.\nReferences: doc1", text)
}

func TestChain_Stream(t *testing.T) {
	p := &fakeProvider{chunks: []string{"a", "", "b", "c"}}
	chain := newTestChain(t, p, ChainConfig{StreamBuffer: 1})

	events := collect(chain.Stream(context.Background(), Input{Question: "q"}))
	require.Len(t, events, 4)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, EventDelta, events[i].Type)
		assert.Equal(t, want, events[i].Text)
	}
	assert.Equal(t, EventDone, events[3].Type)
	assert.Equal(t, "abc", events[3].Text)
}

func TestChain_StreamError(t *testing.T) {
	p := &fakeProvider{err: errors.New("upstream 500")}
	chain := newTestChain(t, p, ChainConfig{})

	events := collect(chain.Stream(context.Background(), Input{Question: "q"}))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.True(t, errkind.Is(events[0].Err, errkind.Generation))
}

func TestChain_StreamCancel(t *testing.T) {
	p := &fakeProvider{block: true}
	chain := newTestChain(t, p, ChainConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	ch := chain.Stream(ctx, Input{Question: "q"})
	cancel()

	done := make(chan []Event)
	go func() { done <- collect(ch) }()
	select {
	case events := <-done:
		require.LessOrEqual(t, len(events), 1)
		if len(events) == 1 {
			assert.Equal(t, EventError, events[0].Type)
			assert.ErrorIs(t, events[0].Err, context.Canceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestGenerator_UnregisteredFamily(t *testing.T) {
	chain := newTestChain(t, &fakeProvider{}, ChainConfig{Model: Gemini15Flash})
	_, err := chain.Generate(context.Background(), Input{Question: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
	assert.True(t, errkind.Is(err, errkind.Configuration))
}

func TestGenerator_BreakerOpens(t *testing.T) {
	p := &fakeProvider{err: errors.New("boom")}
	chain := newTestChain(t, p, ChainConfig{})
	ctx := context.Background()

	for range 2 {
		_, err := chain.Generate(ctx, Input{Question: "q"})
		require.Error(t, err)
	}
	_, err := chain.Generate(ctx, Input{Question: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, errkind.Is(err, errkind.Generation))
	assert.Len(t, p.got, 2)
}

func TestGenerator_CancelDoesNotTrip(t *testing.T) {
	p := &fakeProvider{err: context.Canceled}
	chain := newTestChain(t, p, ChainConfig{})

	for range 3 {
		_, err := chain.Generate(context.Background(), Input{Question: "q"})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Len(t, p.got, 3)
}

type keyedProvider struct {
	mu    sync.Mutex
	calls int
}

func (k *keyedProvider) Complete(_ context.Context, req Request, _ func(string) error) (string, error) {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	if req.APIKey != "good" {
		return "", errkind.E(errkind.Configuration, "keyedProvider", ErrUnauthorized)
	}
	return "ok", nil
}

func (k *keyedProvider) Close() error { return nil }

func TestGenerator_RejectedKeyDoesNotTrip(t *testing.T) {
	gen := NewGenerator(config.BreakerConfig{}, 0, nil)
	p := &keyedProvider{}
	gen.Register(FamilyOpenAI, p)
	ctx := context.Background()

	for range 10 {
		_, err := gen.Complete(ctx, Request{Model: GPT4o, APIKey: "bad"}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	out, err := gen.Complete(ctx, Request{Model: GPT4o, APIKey: "good"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 11, p.calls)
}

func TestGenerator_MissingKeyDoesNotTrip(t *testing.T) {
	gen := NewGenerator(config.BreakerConfig{ConsecutiveFailures: 1}, 0, nil)
	gen.Register(FamilyOpenAI, NewOpenAIProvider(OpenAIConfig{}))

	for range 3 {
		_, err := gen.Complete(context.Background(), Request{Model: GPT4}, nil)
		assert.ErrorIs(t, err, ErrMissingAPIKey)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
}
