// Package outbox implements the transactional outbox pattern for the
// student-records system: domain events are stored durably alongside the
// business write that produced them and delivered asynchronously, at least
// once, by a background worker.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/campushub/records-outbox/pkg/config"
	"github.com/campushub/records-outbox/pkg/store"
)

// RetryPolicy overrides the configured retry behavior for a single publish.
type RetryPolicy struct {
	MaxRetries int
}

// PublishOptions tune how a single event is stored.
type PublishOptions struct {
	// Immediate controls whether the event is eligible for delivery right
	// away. When false the first attempt is deferred by the base backoff.
	Immediate bool
	// RetryPolicy overrides the configured default max retries when set.
	RetryPolicy *RetryPolicy
}

// DefaultPublishOptions returns the options Publish uses when given nil.
func DefaultPublishOptions() *PublishOptions {
	return &PublishOptions{Immediate: true}
}

// PublishResult reports the outcome of storing one event. PublishedAt is the
// time of storage, not delivery; delivery happens asynchronously.
type PublishResult struct {
	EventID      string
	Success      bool
	PublishedAt  time.Time
	ScheduledFor time.Time
	Error        string
}

// Acknowledgment is a delivery confirmation from a subscriber. No
// subscriber-ack protocol exists in this design; PublishAndWait always
// returns an empty list and is best-effort by documentation.
type Acknowledgment struct {
	SubscriberID string
	AckedAt      time.Time
}

// CancelResult reports the outcome of canceling a scheduled event.
type CancelResult struct {
	EventID string
	Success bool
	Reason  string
}

// Publisher durably records domain events and owns the background delivery
// worker. All public methods return structured results; none panic or return
// errors across the boundary.
type Publisher struct {
	repo       store.EventStore
	dispatcher *dispatcher
	worker     *Worker

	maxRetries       int
	baseBackoff      time.Duration
	maxErrorRate     float64
	maxPendingEvents int
	now              func() time.Time
}

// NewPublisher wires a publisher around the given event store using the
// outbox and health sections of the settings.
func NewPublisher(repo store.EventStore, cfg *config.Settings) *Publisher {
	d := newDispatcher(repo, cfg.Outbox.BaseBackoff, cfg.Outbox.MaxBackoff, cfg.Outbox.EnableLogging)
	w := newWorker(d, cfg.Outbox.ProcessingInterval, cfg.Outbox.BatchSize, cfg.Outbox.EnableLogging)
	return &Publisher{
		repo:             repo,
		dispatcher:       d,
		worker:           w,
		maxRetries:       cfg.Outbox.MaxRetries,
		baseBackoff:      cfg.Outbox.BaseBackoff,
		maxErrorRate:     cfg.Health.MaxErrorRate,
		maxPendingEvents: cfg.Health.MaxPendingEvents,
		now:              time.Now,
	}
}

// RegisterDeliveryHandler binds a handler to an event type. The last
// registration for a type wins.
func (p *Publisher) RegisterDeliveryHandler(eventType string, handler DeliveryHandler) {
	p.dispatcher.register(eventType, handler)
}

// Start launches the background worker. It is idempotent.
func (p *Publisher) Start() {
	p.worker.Start()
}

// Stop shuts the background worker down, letting an in-flight poll cycle
// finish first.
func (p *Publisher) Stop() {
	p.worker.Stop()
}

// ProcessNow requests an immediate, best-effort poll cycle.
func (p *Publisher) ProcessNow() {
	p.worker.Kick()
}

// Publish stores one event with published=false and, unless deferred, kicks
// the worker so delivery does not wait for the next tick. Storage failures
// are reported in the result, never thrown.
func (p *Publisher) Publish(ctx context.Context, event *store.OutboxEvent, opts *PublishOptions) PublishResult {
	result := p.store(ctx, []*store.OutboxEvent{event}, opts)[0]
	if result.Success {
		p.worker.Kick()
	}
	return result
}

// PublishBatch stores all events in one atomic transaction. If storage fails,
// every event is reported failed with the same error and none are persisted.
// On success the worker is kicked once for the whole batch.
func (p *Publisher) PublishBatch(ctx context.Context, events []*store.OutboxEvent, opts *PublishOptions) []PublishResult {
	results := p.store(ctx, events, opts)
	for _, r := range results {
		if !r.Success {
			return results
		}
	}
	if len(results) > 0 {
		p.worker.Kick()
	}
	return results
}

// PublishAndWait stores the event like Publish and returns immediately with
// an empty acknowledgment list. There is no subscriber-ack protocol; the
// timeout parameter is accepted for interface compatibility only.
func (p *Publisher) PublishAndWait(ctx context.Context, event *store.OutboxEvent, _ time.Duration, opts *PublishOptions) (PublishResult, []Acknowledgment) {
	return p.Publish(ctx, event, opts), nil
}

// ScheduleEvent stores the event for delivery no earlier than scheduleTime.
func (p *Publisher) ScheduleEvent(ctx context.Context, event *store.OutboxEvent, scheduleTime time.Time, opts *PublishOptions) PublishResult {
	p.prepare(event, opts)
	event.ScheduledFor = scheduleTime
	if err := p.repo.Insert(ctx, event); err != nil {
		return PublishResult{EventID: event.EventID, Success: false, Error: err.Error()}
	}
	return PublishResult{
		EventID:      event.EventID,
		Success:      true,
		PublishedAt:  event.CreatedAt,
		ScheduledFor: scheduleTime,
	}
}

// CancelScheduledEvent deletes the event if it has not been delivered yet.
// Published events are historical record and can never be deleted.
func (p *Publisher) CancelScheduledEvent(ctx context.Context, eventID string) CancelResult {
	deleted, err := p.repo.DeleteUnpublished(ctx, eventID)
	if err != nil {
		return CancelResult{EventID: eventID, Success: false, Reason: err.Error()}
	}
	if !deleted {
		return CancelResult{EventID: eventID, Success: false, Reason: "not found or already published"}
	}
	return CancelResult{EventID: eventID, Success: true}
}

// store prepares and persists a set of events atomically, translating any
// storage error into per-event failure results.
func (p *Publisher) store(ctx context.Context, events []*store.OutboxEvent, opts *PublishOptions) []PublishResult {
	if opts == nil {
		opts = DefaultPublishOptions()
	}
	now := p.now()
	for _, event := range events {
		p.prepare(event, opts)
		if opts.Immediate {
			event.ScheduledFor = now
		} else {
			event.ScheduledFor = now.Add(p.baseBackoff)
		}
	}

	results := make([]PublishResult, len(events))
	if err := p.repo.Insert(ctx, events...); err != nil {
		for i, event := range events {
			results[i] = PublishResult{EventID: event.EventID, Success: false, Error: err.Error()}
		}
		return results
	}
	for i, event := range events {
		results[i] = PublishResult{
			EventID:      event.EventID,
			Success:      true,
			PublishedAt:  event.CreatedAt,
			ScheduledFor: event.ScheduledFor,
		}
	}
	return results
}

// prepare fills identity, timestamps and the retry ceiling on an event that
// a caller may have only partially constructed.
func (p *Publisher) prepare(event *store.OutboxEvent, opts *PublishOptions) {
	now := p.now()
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredOn.IsZero() {
		event.OccurredOn = now
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.Published = false
	event.PublishedAt = nil
	event.RetryCount = 0
	if opts != nil && opts.RetryPolicy != nil {
		event.MaxRetries = opts.RetryPolicy.MaxRetries
	} else if event.MaxRetries == 0 {
		event.MaxRetries = p.maxRetries
	}
}
