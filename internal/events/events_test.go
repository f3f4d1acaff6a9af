package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/groundd/internal/config"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSBus_PublishSubscribe(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	bus := NewNATSBus(nc, "", nil)
	ctx := context.Background()

	ch, cancel, err := bus.Subscribe(ctx, EntityRun, "run-1")
	require.NoError(t, err)
	defer cancel()
	require.NoError(t, nc.Flush())

	other := New(EntityRun, "run-2", Progress)
	require.NoError(t, bus.Publish(ctx, other))

	progress := New(EntityRun, "run-1", Progress)
	progress.Done, progress.Total = 1, 2
	require.NoError(t, bus.Publish(ctx, progress))
	require.NoError(t, bus.Publish(ctx, New(EntityRun, "run-1", Completed)))

	var got []Event
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("received %d events", len(got))
		}
	}
	assert.Equal(t, Progress, got[0].Type)
	assert.Equal(t, 1, got[0].Done)
	assert.Equal(t, "run-1", got[0].ID)
	assert.Equal(t, Completed, got[1].Type)
	assert.True(t, got[1].Type.Terminal())
}

func TestNATSBus_Subject(t *testing.T) {
	bus := NewNATSBus(nil, "custom", nil)
	assert.Equal(t, "custom.documents.a_b.failed", bus.Subject(New(EntityDocument, "a.b", Failed)))
}

func TestNATSBus_SubscriptionEndsWithContext(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, stop, err := NewNATSBus(nc, "", nil).Subscribe(ctx, EntityDocument, "d")
	require.NoError(t, err)
	defer stop()
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestOpen(t *testing.T) {
	bus, err := Open(config.NATSConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, bus)
	_, _, err = bus.Subscribe(context.Background(), EntityRun, "x")
	assert.ErrorIs(t, err, ErrUnavailable)

	server := startTestNATSServer(t)
	bus, err = Open(config.NATSConfig{URL: server.ClientURL()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &NATSBus{}, bus)
	assert.NoError(t, bus.Close())
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), New(EntityRun, "r", Started)))
	require.NoError(t, r.Publish(context.Background(), New(EntityRun, "r", Completed)))
	assert.Equal(t, []Type{Started, Completed}, r.Types())
}
