package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/auditfactory/internal/logging"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
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

func TestNATSPublisher_Notify(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := Connect(server.ClientURL(), "events-test")
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("auditfactory.events.>", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	pub := NewNATSPublisher(nc, "auditfactory.events")
	ctx := logging.WithCorrelationID(context.Background(), "corr-1")
	require.NoError(t, pub.Notify(ctx, Event{Type: RepoFinished, RunID: "r1", RepoID: "api", Status: "completed"}))

	select {
	case msg := <-received:
		assert.Equal(t, "auditfactory.events.repo.finished", msg.Subject)
		assert.Equal(t, "corr-1", msg.Header.Get("Correlation-ID"))
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "api", ev.RepoID)
		assert.Equal(t, "corr-1", ev.CorrelationID)
		assert.False(t, ev.At.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	pub := NewNATSPublisher(nil, "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Notify(ctx, Event{Type: RunStarted}), context.Canceled)
}

func TestRecorder_Concurrent(t *testing.T) {
	var rec Recorder
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rec.Notify(context.Background(), Event{Type: RepoFinished})
		}()
	}
	wg.Wait()
	_ = rec.Notify(context.Background(), Event{Type: RunFinished})
	assert.Len(t, rec.OfType(RepoFinished), 20)
	assert.Len(t, rec.Events(), 21)
}
