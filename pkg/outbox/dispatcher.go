package outbox

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/campushub/records-outbox/pkg/store"
)

const tracerName = "records-outbox"

// DeliveryHandler delivers one due event to its destination. Returning an
// error signals delivery failure and schedules a retry.
type DeliveryHandler func(ctx context.Context, event *store.OutboxEvent) error

// dispatcher routes a due event to the handler registered for its type and
// records the outcome in the store.
type dispatcher struct {
	repo        store.EventStore
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logging     bool
	now         func() time.Time

	mu       sync.RWMutex
	handlers map[string]DeliveryHandler
}

func newDispatcher(repo store.EventStore, baseBackoff, maxBackoff time.Duration, logging bool) *dispatcher {
	return &dispatcher{
		repo:        repo,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		logging:     logging,
		now:         time.Now,
		handlers:    make(map[string]DeliveryHandler),
	}
}

// register binds a handler to an event type. The last registration for a type
// wins, which allows hot-swapping handlers in tests.
func (d *dispatcher) register(eventType string, handler DeliveryHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = handler
}

func (d *dispatcher) handler(eventType string) DeliveryHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if h, ok := d.handlers[eventType]; ok {
		return h
	}
	return d.defaultHandler
}

// defaultHandler runs when no handler is registered for an event's type. It
// logs and succeeds so unroutable types never wedge the queue.
func (d *dispatcher) defaultHandler(_ context.Context, event *store.OutboxEvent) error {
	if d.logging {
		log.Printf("no delivery handler registered for event type %q, marking event %s published", event.EventType, event.EventID)
	}
	return nil
}

// dispatch attempts delivery of one event. Failures are recorded in the store
// and never propagate, so one bad event cannot abort the rest of a batch.
func (d *dispatcher) dispatch(ctx context.Context, event *store.OutboxEvent) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "DispatchOutboxEvent", trace.WithAttributes(
		attribute.String("event.id", event.EventID),
		attribute.String("event.type", event.EventType),
		attribute.String("event.tenant_id", event.TenantID),
		attribute.Int("event.retry_count", event.RetryCount),
	))
	defer span.End()

	if err := d.invoke(ctx, event); err != nil {
		if d.logging {
			log.Printf("Failed to deliver event %s: %v", event.EventID, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		next := d.now().Add(backoffDelay(d.baseBackoff, d.maxBackoff, event.RetryCount+1))
		if err := d.repo.RecordFailure(ctx, event.EventID, next, err.Error()); err != nil {
			if d.logging {
				log.Printf("Failed to record failure for event %s: %v", event.EventID, err)
			}
			span.RecordError(err)
		}
		return
	}

	if err := d.repo.MarkPublished(ctx, event.EventID, d.now()); err != nil {
		if d.logging {
			log.Printf("Failed to mark event %s as published: %v", event.EventID, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// invoke runs the handler with a panic guard so a panicking handler is
// treated as an ordinary delivery failure.
func (d *dispatcher) invoke(ctx context.Context, event *store.OutboxEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery handler panicked: %v", r)
		}
	}()
	return d.handler(event.EventType)(ctx, event)
}

// backoffDelay computes min(base * 2^retry, max) with overflow protection.
func backoffDelay(base, max time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retry < 0 {
		retry = 0
	}
	delay := base
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= max || delay < 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
