package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Event[T] binds a topic name to its payload type so publishers and
// subscribers cannot disagree about the shape.
type Event[T any] struct {
	topicName string
}

// NewEvent declares a typed event on the given topic.
func NewEvent[T any](name string) Event[T] {
	return Event[T]{topicName: name}
}

// Name returns the topic name.
func (e Event[T]) Name() string {
	return e.topicName
}

// Publish sends a typed event addressed to userID.
func Publish[T any](ctx context.Context, p Publisher, event Event[T], userID string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event.Name(), err)
	}
	return p.Publish(ctx, Message{
		Topic:   event.Name(),
		UserID:  userID,
		Payload: data,
	})
}

// Subscribe delivers decoded payloads of event to handler until ctx is
// canceled. Payloads that do not decode are logged and skipped.
func Subscribe[T any](ctx context.Context, s Subscriber, event Event[T], handler func(ctx context.Context, userID string, payload T) error) error {
	return s.Subscribe(ctx, event.Name(), func(ctx context.Context, msg Message) error {
		var payload T
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			slog.WarnContext(ctx, "Dropping undecodable event", "topic", msg.Topic, "error", err)
			return nil
		}
		return handler(ctx, msg.UserID, payload)
	})
}
