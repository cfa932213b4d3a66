package store

import (
	"context"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
)

// SpannerStore persists outbox events in a Cloud Spanner outbox_events table.
type SpannerStore struct {
	client *spanner.Client
}

func NewSpannerStore(client *spanner.Client) *SpannerStore {
	return &SpannerStore{client: client}
}

func (s *SpannerStore) Insert(ctx context.Context, events ...*OutboxEvent) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		stmts := make([]spanner.Statement, 0, len(events))
		for _, event := range events {
			stmts = append(stmts, spanner.Statement{
				SQL: `INSERT INTO outbox_events
                      (event_id, event_type, aggregate_id, tenant_id, event_data, occurred_on,
                       published, retry_count, max_retries, scheduled_for, last_error, created_at)
                      VALUES (@eventID, @eventType, @aggregateID, @tenantID, @eventData, @occurredOn,
                              FALSE, @retryCount, @maxRetries, @scheduledFor, '', @createdAt)`,
				Params: map[string]interface{}{
					"eventID":      event.EventID,
					"eventType":    event.EventType,
					"aggregateID":  event.AggregateID,
					"tenantID":     event.TenantID,
					"eventData":    event.EventData,
					"occurredOn":   event.OccurredOn,
					"retryCount":   event.RetryCount,
					"maxRetries":   event.MaxRetries,
					"scheduledFor": event.ScheduledFor,
					"createdAt":    event.CreatedAt,
				},
			})
		}
		_, err := txn.BatchUpdate(ctx, stmts)
		return err
	})
	return err
}

func (s *SpannerStore) FetchDue(ctx context.Context, now time.Time, batchSize int) ([]OutboxEvent, error) {
	stmt := spanner.Statement{
		SQL: `SELECT event_id, event_type, aggregate_id, tenant_id, event_data, occurred_on,
                     retry_count, max_retries, scheduled_for, last_error, created_at
              FROM outbox_events
              WHERE published = FALSE AND scheduled_for <= @now AND retry_count < max_retries
              ORDER BY scheduled_for ASC
              LIMIT @batchSize`,
		Params: map[string]interface{}{
			"now":       now,
			"batchSize": batchSize,
		},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var events []OutboxEvent
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var event OutboxEvent
		if err := row.Columns(
			&event.EventID,
			&event.EventType,
			&event.AggregateID,
			&event.TenantID,
			&event.EventData,
			&event.OccurredOn,
			&event.RetryCount,
			&event.MaxRetries,
			&event.ScheduledFor,
			&event.LastError,
			&event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, nil
}

func (s *SpannerStore) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	return s.update(ctx, spanner.Statement{
		SQL: `UPDATE outbox_events SET published = TRUE, published_at = @publishedAt
              WHERE event_id = @id AND published = FALSE`,
		Params: map[string]interface{}{
			"publishedAt": publishedAt,
			"id":          eventID,
		},
	})
}

func (s *SpannerStore) RecordFailure(ctx context.Context, eventID string, nextAttempt time.Time, lastError string) error {
	return s.update(ctx, spanner.Statement{
		SQL: `UPDATE outbox_events
              SET retry_count = retry_count + 1, scheduled_for = @nextAttempt, last_error = @lastError
              WHERE event_id = @id AND published = FALSE`,
		Params: map[string]interface{}{
			"nextAttempt": nextAttempt,
			"lastError":   lastError,
			"id":          eventID,
		},
	})
}

func (s *SpannerStore) DeleteUnpublished(ctx context.Context, eventID string) (bool, error) {
	var deleted bool
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		count, err := txn.Update(ctx, spanner.Statement{
			SQL: `DELETE FROM outbox_events WHERE event_id = @id AND published = FALSE`,
			Params: map[string]interface{}{
				"id": eventID,
			},
		})
		deleted = count > 0
		return err
	})
	return deleted, err
}

func (s *SpannerStore) CountPending(ctx context.Context, now time.Time) (int, error) {
	stmt := spanner.Statement{
		SQL: `SELECT COUNT(*) FROM outbox_events
              WHERE published = FALSE AND scheduled_for <= @now AND retry_count < max_retries`,
		Params: map[string]interface{}{
			"now": now,
		},
	}
	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := row.Columns(&count); err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *SpannerStore) Stats(ctx context.Context, since time.Time) (WindowStats, error) {
	stmt := spanner.Statement{
		SQL: `SELECT COUNT(*),
                     COUNTIF(published),
                     COUNTIF(NOT published AND retry_count >= max_retries),
                     AVG(IF(published, TIMESTAMP_DIFF(published_at, created_at, MILLISECOND), NULL))
              FROM outbox_events WHERE created_at >= @since`,
		Params: map[string]interface{}{
			"since": since,
		},
	}
	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err != nil {
		return WindowStats{}, err
	}

	var created, published, dead int64
	var avgMs spanner.NullFloat64
	if err := row.Columns(&created, &published, &dead, &avgMs); err != nil {
		return WindowStats{}, err
	}

	stats := WindowStats{
		Created:      int(created),
		Published:    int(published),
		DeadLettered: int(dead),
	}
	if avgMs.Valid {
		stats.AveragePublish = time.Duration(avgMs.Float64 * float64(time.Millisecond))
	}
	return stats, nil
}

func (s *SpannerStore) ListDeadLettered(ctx context.Context, limit, offset int) ([]OutboxEvent, error) {
	stmt := spanner.Statement{
		SQL: `SELECT event_id, event_type, aggregate_id, tenant_id, event_data, occurred_on,
                     retry_count, max_retries, scheduled_for, last_error, created_at
              FROM outbox_events
              WHERE published = FALSE AND retry_count >= max_retries
              ORDER BY created_at DESC
              LIMIT @limit OFFSET @offset`,
		Params: map[string]interface{}{
			"limit":  limit,
			"offset": offset,
		},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var events []OutboxEvent
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		var event OutboxEvent
		if err := row.Columns(
			&event.EventID,
			&event.EventType,
			&event.AggregateID,
			&event.TenantID,
			&event.EventData,
			&event.OccurredOn,
			&event.RetryCount,
			&event.MaxRetries,
			&event.ScheduledFor,
			&event.LastError,
			&event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, nil
}

func (s *SpannerStore) ResetForRetry(ctx context.Context, now time.Time, eventIDs ...string) (int, error) {
	var reset int64
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		stmt := spanner.Statement{
			SQL: `UPDATE outbox_events
                  SET retry_count = 0, scheduled_for = @now, last_error = ''
                  WHERE published = FALSE AND retry_count >= max_retries`,
			Params: map[string]interface{}{
				"now": now,
			},
		}
		if len(eventIDs) > 0 {
			stmt.SQL += ` AND event_id IN UNNEST(@ids)`
			stmt.Params["ids"] = eventIDs
		}
		count, err := txn.Update(ctx, stmt)
		reset = count
		return err
	})
	return int(reset), err
}

func (s *SpannerStore) update(ctx context.Context, stmt spanner.Statement) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		count, err := txn.Update(ctx, stmt)
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrEventNotFound
		}
		return nil
	})
	return err
}
