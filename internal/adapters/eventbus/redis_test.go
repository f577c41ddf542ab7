package eventbus

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgectl/forge3d/internal/core/domain"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Bus{rdb: redis.NewClient(&redis.Options{Addr: mr.Addr()}), log: logger}
}

func TestBus_PublishSubscribe_RoundTripsEventThroughWireEnvelope(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.Event{
		TaskID:    "req-1",
		EventType: domain.EventImageCompleted,
		Data:      map[string]any{"imageId": "img-1", "index": float64(2)},
	}))

	select {
	case evt := <-ch:
		assert.Equal(t, domain.RequestID("req-1"), evt.TaskID)
		assert.Equal(t, domain.EventImageCompleted, evt.EventType)
		data, ok := evt.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "img-1", data["imageId"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestBus_Subscribe_ClosesChannelWhenContextCancelled(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not closed after context cancellation")
	}
}
