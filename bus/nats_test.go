package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getNATSURL returns the NATS URL for testing, or skips the test.
func getNATSURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}

	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.MaxReconnects = 0

	bus, err := NewNATSBus(cfg)
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	bus.Close()

	return url
}

func newTestNATSBus(t *testing.T) *NATSBus {
	cfg := DefaultNATSConfig()
	cfg.URL = getNATSURL(t)
	bus, err := NewNATSBus(cfg)
	require.NoError(t, err)
	return bus
}

func TestBuildNATSOptions(t *testing.T) {
	cfg := DefaultNATSConfig()
	base := len(buildNATSOptions(cfg))

	cfg.Token = "t"
	cfg.User = "u"
	cfg.Password = "p"
	assert.Len(t, buildNATSOptions(cfg), base+2)
}

// --- Integration Tests ---

func TestNATSBus_PubSub(t *testing.T) {
	bus := newTestNATSBus(t)
	defer bus.Close()

	sub, err := bus.Subscribe("taskgate.test.>")
	require.NoError(t, err)
	defer sub.Unsubscribe()
	bus.Flush()

	require.NoError(t, bus.Publish("taskgate.test.tasks", []byte("hello nats")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "hello nats", string(msg.Data))
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestNATSBus_Publisher(t *testing.T) {
	bus := newTestNATSBus(t)
	defer bus.Close()

	sub, err := bus.Subscribe("taskgate-it.session")
	require.NoError(t, err)
	defer sub.Unsubscribe()
	bus.Flush()

	pub := NewPublisher(bus, "taskgate-it")
	require.NoError(t, pub.Publish(context.Background(), "session", "session.authenticated", map[string]bool{"ok": true}))

	select {
	case msg := <-sub.Messages():
		ev, err := DecodeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, "session.authenticated", ev.Type)
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for event")
	}
}

func TestNATSBus_Closed(t *testing.T) {
	bus := newTestNATSBus(t)
	bus.Close()

	assert.Equal(t, ErrClosed, bus.Publish("x", nil))
}
