// Package eventbus implements the out-of-process Event Bus (§4.4) over
// Redis Pub/Sub, so the Subscription Registry can run on a different
// process than the worker that produced the event.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/forgectl/forge3d/internal/core/domain"
)

const channel = "forge3d:events"

type wireEvent struct {
	TaskID    domain.RequestID `json:"taskId"`
	EventType domain.EventType `json:"eventType"`
	Data      json.RawMessage  `json:"data"`
}

type Bus struct {
	rdb *redis.Client
	log *slog.Logger
}

func New(redisURL string, log *slog.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, domain.Classify(domain.KindFatal, "parse redis url", err)
	}
	return &Bus{rdb: redis.NewClient(opts), log: log}, nil
}

func (b *Bus) Close() error { return b.rdb.Close() }

func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return domain.Classify(domain.KindFatal, "marshal event data", err)
	}
	payload, err := json.Marshal(wireEvent{TaskID: event.TaskID, EventType: event.EventType, Data: data})
	if err != nil {
		return domain.Classify(domain.KindFatal, "marshal event envelope", err)
	}
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return domain.Classify(domain.KindRetryable, "publish event", err)
	}
	return nil
}

// Subscribe fans every published event out to the caller; the
// Subscription Registry is responsible for filtering by TaskID and
// routing to the right per-request subscribers (§4.5).
func (b *Bus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	sub := b.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, domain.Classify(domain.KindRetryable, "subscribe to event channel", err)
	}

	out := make(chan domain.Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var we wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
					b.log.Error("unmarshal event envelope", "error", err)
					continue
				}
				var data interface{}
				if err := json.Unmarshal(we.Data, &data); err != nil {
					b.log.Error("unmarshal event data", "error", err)
					continue
				}
				select {
				case out <- domain.Event{TaskID: we.TaskID, EventType: we.EventType, Data: data}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
