package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStreamPrefix names the event streams the services write.
const DefaultStreamPrefix = "r2p:events"

// RedisStreamPublisher appends events to one Redis stream per event type,
// named "<prefix>:<type>". It is used when no AMQP broker is configured.
type RedisStreamPublisher struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
}

func NewRedisStreamPublisher(client redis.UniversalClient, prefix string, maxLen int64) (*RedisStreamPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisStreamPublisher{client: client, prefix: prefix, maxLen: maxLen}, nil
}

func (p *RedisStreamPublisher) Stream(eventType string) string {
	return p.prefix + ":" + eventType
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, ev Event) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream(ev.Type),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":    ev.ID,
			"occurred_at": ev.OccurredAt.Format(time.RFC3339Nano),
			"payload":     string(ev.Payload),
		},
	}).Err()
}

// Recent returns up to count events of eventType, newest first.
func (p *RedisStreamPublisher) Recent(ctx context.Context, eventType string, count int64) ([]Event, error) {
	msgs, err := p.client.XRevRangeN(ctx, p.Stream(eventType), "+", "-", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		id, _ := msg.Values["event_id"].(string)
		payload, _ := msg.Values["payload"].(string)
		occurred, _ := msg.Values["occurred_at"].(string)
		at, _ := time.Parse(time.RFC3339Nano, occurred)
		out = append(out, Event{ID: id, Type: eventType, OccurredAt: at, Payload: json.RawMessage(payload)})
	}
	return out, nil
}

// Close is a no-op: the client is owned by the caller.
func (p *RedisStreamPublisher) Close() error { return nil }
