package store

import (
	"time"

	"github.com/google/uuid"
)

// OutboxEvent represents a domain event stored in the outbox table.
//
// A row is written in the same transaction as the business change it
// describes and delivered asynchronously by the background worker. Once
// Published is true the row is a historical record and is never mutated
// again.
type OutboxEvent struct {
	EventID      string     `json:"event_id" bson:"event_id"`
	EventType    string     `json:"event_type" bson:"event_type"`
	AggregateID  string     `json:"aggregate_id" bson:"aggregate_id"`
	TenantID     string     `json:"tenant_id" bson:"tenant_id"`
	EventData    []byte     `json:"event_data" bson:"event_data"`
	OccurredOn   time.Time  `json:"occurred_on" bson:"occurred_on"`
	Published    bool       `json:"published" bson:"published"`
	PublishedAt  *time.Time `json:"published_at,omitempty" bson:"published_at,omitempty"`
	RetryCount   int        `json:"retry_count" bson:"retry_count"`
	MaxRetries   int        `json:"max_retries" bson:"max_retries"`
	ScheduledFor time.Time  `json:"scheduled_for" bson:"scheduled_for"`
	LastError    string     `json:"last_error,omitempty" bson:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
}

// NewEvent creates a new OutboxEvent with required fields and sensible defaults.
// The event is eligible for delivery immediately.
func NewEvent(eventType, aggregateID, tenantID string, data []byte) *OutboxEvent {
	now := time.Now()
	return &OutboxEvent{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		AggregateID:  aggregateID,
		TenantID:     tenantID,
		EventData:    data,
		OccurredOn:   now,
		RetryCount:   0,
		ScheduledFor: now,
		CreatedAt:    now,
	}
}

// DeadLettered reports whether the event exhausted its retry budget and is
// excluded from automatic polling until an operator resets it.
func (e *OutboxEvent) DeadLettered() bool {
	return !e.Published && e.RetryCount >= e.MaxRetries
}
