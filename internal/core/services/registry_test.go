package services

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgectl/forge3d/internal/core/domain"
)

// fakeBus is a ports.EventBus in-process stand-in, the same shape as
// `services.NewEventBus` uses in the teacher's own tests.
type fakeBus struct {
	events chan domain.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{events: make(chan domain.Event, 16)}
}

func (b *fakeBus) Publish(ctx context.Context, event domain.Event) error {
	b.events <- event
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	return b.events, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_SubscribeSendsTaskInitSnapshotFirst(t *testing.T) {
	reqID := domain.RequestID("req-1")
	snap := domain.RequestSnapshot{Request: domain.Request{ID: reqID}}
	snapshots := func(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error) {
		return snap, nil
	}

	reg := NewRegistry(testLogger(), snapshots)

	ch, unsub, err := reg.Subscribe(context.Background(), reqID)
	require.NoError(t, err)
	defer unsub()

	select {
	case evt := <-ch:
		assert.Equal(t, domain.EventTaskInit, evt.EventType)
		assert.Equal(t, snap, evt.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task:init")
	}
}

func TestRegistry_SubscribeFailsWhenSnapshotFails(t *testing.T) {
	reqID := domain.RequestID("missing")
	snapshots := func(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error) {
		return domain.RequestSnapshot{}, domain.Classify(domain.KindNotFound, "get snapshot", domain.ErrRequestNotFound)
	}

	reg := NewRegistry(testLogger(), snapshots)
	ch, unsub, err := reg.Subscribe(context.Background(), reqID)

	assert.Error(t, err)
	assert.Nil(t, ch)
	assert.Nil(t, unsub)
}

func TestRegistry_RunFansOutBusEventsToMatchingSubscribersOnly(t *testing.T) {
	reqA := domain.RequestID("req-a")
	reqB := domain.RequestID("req-b")
	snapshots := func(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error) {
		return domain.RequestSnapshot{Request: domain.Request{ID: id}}, nil
	}

	reg := NewRegistry(testLogger(), snapshots)
	bus := newFakeBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx, bus)

	chA, unsubA, err := reg.Subscribe(ctx, reqA)
	require.NoError(t, err)
	defer unsubA()
	<-chA // drain task:init

	chB, unsubB, err := reg.Subscribe(ctx, reqB)
	require.NoError(t, err)
	defer unsubB()
	<-chB // drain task:init

	require.NoError(t, bus.Publish(ctx, domain.Event{TaskID: reqA, EventType: domain.EventImageCompleted}))

	select {
	case evt := <-chA:
		assert.Equal(t, domain.EventImageCompleted, evt.EventType)
	case <-time.After(time.Second):
		t.Fatal("subscriber A never received its event")
	}

	select {
	case evt := <-chB:
		t.Fatalf("subscriber B should not have received request A's event: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistry_UnsubscribeClosesChannel(t *testing.T) {
	reqID := domain.RequestID("req-1")
	snapshots := func(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error) {
		return domain.RequestSnapshot{}, nil
	}
	reg := NewRegistry(testLogger(), snapshots)

	ch, unsub, err := reg.Subscribe(context.Background(), reqID)
	require.NoError(t, err)
	<-ch // drain task:init

	unsub()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}
