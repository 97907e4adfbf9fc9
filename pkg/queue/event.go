// Package queue publishes domain events (new orders, contact messages) to a
// broker so that back-office consumers can react to them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ready2publish/internal/ids"
)

// Routing keys of the events emitted by this repository.
const (
	OrderCreated    = "order.created"
	ContactReceived = "contact.received"
)

// Event is the envelope put on the wire.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent wraps payload in an envelope with a fresh ULID.
func NewEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{ID: ids.New(), Type: eventType, OccurredAt: time.Now().UTC(), Payload: raw}, nil
}

// Publisher delivers events. Publish must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Emit builds an event and publishes it.
func Emit(ctx context.Context, p Publisher, eventType string, payload any) (Event, error) {
	ev, err := NewEvent(eventType, payload)
	if err != nil {
		return Event{}, err
	}
	if err := p.Publish(ctx, ev); err != nil {
		return Event{}, fmt.Errorf("publish %s: %w", eventType, err)
	}
	return ev, nil
}
