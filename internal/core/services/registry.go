package services

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/ports"
)

const heartbeatInterval = 30 * time.Second

type subscriberChan struct {
	id string
	ch chan domain.Event
}

// Registry is the in-process Subscription Registry of §4.5: one or more
// SSE clients per request id, fed by events drained from the
// out-of-process Event Bus. It is distinct from that bus — the bus is
// how events travel between processes, the registry is who, in this
// process, is listening for which request.
type Registry struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.RequestID][]subscriberChan
	nextID uint64

	snapshots func(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error)
}

func NewRegistry(logger *slog.Logger, snapshots func(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error)) *Registry {
	return &Registry{
		logger:    logger,
		subs:      make(map[domain.RequestID][]subscriberChan),
		snapshots: snapshots,
	}
}

// Run drains the Event Bus and fans events out to local subscribers until
// ctx is cancelled.
func (r *Registry) Run(ctx context.Context, bus ports.EventBus) error {
	events, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			r.publish(evt)
		}
	}
}

// Subscribe attaches a new subscriber for requestID, immediately queueing
// a task:init snapshot event (§4.5) before returning the live channel.
func (r *Registry) Subscribe(ctx context.Context, requestID domain.RequestID) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, 100)

	r.mu.Lock()
	r.nextID++
	sub := subscriberChan{id: requestIDKey(requestID, r.nextID), ch: ch}
	r.subs[requestID] = append(r.subs[requestID], sub)
	r.mu.Unlock()

	unsub := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subscribers := r.subs[requestID]
		for i, s := range subscribers {
			if s.id == sub.id {
				close(s.ch)
				r.subs[requestID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(r.subs[requestID]) == 0 {
			delete(r.subs, requestID)
		}
	}

	if r.snapshots != nil {
		snap, err := r.snapshots(ctx, requestID)
		if err != nil {
			unsub()
			return nil, nil, err
		}
		ch <- domain.Event{TaskID: requestID, EventType: domain.EventTaskInit, Data: snap}
	}

	go r.heartbeat(requestID, sub)

	return ch, unsub, nil
}

func (r *Registry) heartbeat(requestID domain.RequestID, sub subscriberChan) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		r.mu.RLock()
		_, stillSubscribed := findSub(r.subs[requestID], sub.id)
		r.mu.RUnlock()
		if !stillSubscribed {
			return
		}
		select {
		case sub.ch <- domain.Event{TaskID: requestID, EventType: domain.EventHeartbeat, Data: map[string]any{"timestamp": time.Now()}}:
		default:
			r.logger.Warn("subscriber channel full, dropping heartbeat", "request_id", requestID)
		}
	}
}

// publish fans e out to every local subscriber of e.TaskID, dropping
// on a full channel rather than blocking — one slow client never stalls
// the others (§4.5).
func (r *Registry) publish(e domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscribers, ok := r.subs[e.TaskID]
	if !ok {
		return
	}
	for _, sub := range subscribers {
		select {
		case sub.ch <- e:
		default:
			r.logger.Warn("subscriber channel full, dropping event", "request_id", e.TaskID, "event_type", e.EventType)
		}
	}
}

func findSub(subs []subscriberChan, id string) (subscriberChan, bool) {
	for _, s := range subs {
		if s.id == id {
			return s, true
		}
	}
	return subscriberChan{}, false
}

func requestIDKey(id domain.RequestID, n uint64) string {
	return string(id) + ":" + strconv.FormatUint(n, 10)
}
