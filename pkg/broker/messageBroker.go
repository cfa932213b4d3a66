package broker

import (
	"context"

	"github.com/campushub/records-outbox/pkg/outbox"
	"github.com/campushub/records-outbox/pkg/store"
)

// MessageBroker defines the operations to publish outbox events to a broker.
type MessageBroker interface {
	// Publish sends the event to the destination derived from its type.
	Publish(ctx context.Context, event *store.OutboxEvent) error
	// Close cleans up any resources (connections).
	Close() error
}

// Handler adapts a broker into a delivery handler, so a broker can be
// registered as the destination for an event type.
func Handler(b MessageBroker) outbox.DeliveryHandler {
	return func(ctx context.Context, event *store.OutboxEvent) error {
		return b.Publish(ctx, event)
	}
}
