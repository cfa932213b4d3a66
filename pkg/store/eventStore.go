package store

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned by single-row operations when no row matches
// the given event ID.
var ErrEventNotFound = errors.New("outbox event not found")

// WindowStats aggregates event counts for rows created since a point in time.
type WindowStats struct {
	Created        int
	Published      int
	DeadLettered   int
	AveragePublish time.Duration // mean published_at - created_at over published rows
}

// EventStore defines the database operations for outbox events.
type EventStore interface {
	// Insert stores the given events atomically. Either every event is
	// persisted or none are.
	Insert(ctx context.Context, events ...*OutboxEvent) error
	// FetchDue retrieves up to batchSize unpublished events whose schedule
	// time has passed and whose retry budget is not exhausted, ordered by
	// scheduled_for ascending.
	FetchDue(ctx context.Context, now time.Time, batchSize int) ([]OutboxEvent, error)
	// MarkPublished records successful delivery. The row is terminal afterwards.
	MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error
	// RecordFailure increments the retry count, reschedules the event and
	// stores the failure message.
	RecordFailure(ctx context.Context, eventID string, nextAttempt time.Time, lastError string) error
	// DeleteUnpublished removes an event that has not been delivered yet.
	// It reports false if the event is unknown or already published.
	DeleteUnpublished(ctx context.Context, eventID string) (bool, error)
	// CountPending counts unpublished, due, under-retry-limit events.
	CountPending(ctx context.Context, now time.Time) (int, error)
	// Stats aggregates counts over events created since the given time.
	Stats(ctx context.Context, since time.Time) (WindowStats, error)
	// ListDeadLettered pages through events that exhausted their retries.
	ListDeadLettered(ctx context.Context, limit, offset int) ([]OutboxEvent, error)
	// ResetForRetry clears retry bookkeeping so the given dead-lettered
	// events re-enter the polling pipeline. With no IDs, every dead-lettered
	// event is reset. It returns the number of rows reset.
	ResetForRetry(ctx context.Context, now time.Time, eventIDs ...string) (int, error)
}
