package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

// PostgresStore persists outbox events in a relational outbox_events table
// using database/sql with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertEventSQL = `INSERT INTO outbox_events
        (event_id, event_type, aggregate_id, tenant_id, event_data, occurred_on,
         published, retry_count, max_retries, scheduled_for, last_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, $9, '', $10)`

func (p *PostgresStore) Insert(ctx context.Context, events ...*OutboxEvent) error {
	return p.withTransaction(ctx, "Insert", len(events), func(ctx context.Context, tx *sql.Tx) error {
		return p.InsertTx(ctx, tx, events...)
	})
}

// InsertTx appends events to the outbox inside a caller-owned transaction, so
// a use case can persist its aggregate and the event it emits atomically.
func (p *PostgresStore) InsertTx(ctx context.Context, tx *sql.Tx, events ...*OutboxEvent) error {
	for _, event := range events {
		_, err := tx.ExecContext(ctx, insertEventSQL,
			event.EventID, event.EventType, event.AggregateID, event.TenantID,
			event.EventData, event.OccurredOn, event.RetryCount, event.MaxRetries,
			event.ScheduledFor, event.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) FetchDue(ctx context.Context, now time.Time, batchSize int) ([]OutboxEvent, error) {
	var events []OutboxEvent
	err := p.withTransaction(ctx, "FetchDue", batchSize, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT event_id, event_type, aggregate_id, tenant_id, event_data, occurred_on,
                    retry_count, max_retries, scheduled_for, last_error, created_at
             FROM outbox_events
             WHERE published = FALSE AND scheduled_for <= $1 AND retry_count < max_retries
             ORDER BY scheduled_for ASC
             LIMIT $2
             FOR UPDATE SKIP LOCKED`, now, batchSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var event OutboxEvent
			if err := rows.Scan(&event.EventID, &event.EventType, &event.AggregateID,
				&event.TenantID, &event.EventData, &event.OccurredOn, &event.RetryCount,
				&event.MaxRetries, &event.ScheduledFor, &event.LastError, &event.CreatedAt); err != nil {
				return err
			}
			events = append(events, event)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (p *PostgresStore) MarkPublished(ctx context.Context, eventID string, publishedAt time.Time) error {
	return p.withTransaction(ctx, "MarkPublished", 1, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE outbox_events SET published = TRUE, published_at = $1
             WHERE event_id = $2 AND published = FALSE`,
			publishedAt, eventID)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func (p *PostgresStore) RecordFailure(ctx context.Context, eventID string, nextAttempt time.Time, lastError string) error {
	return p.withTransaction(ctx, "RecordFailure", 1, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE outbox_events
             SET retry_count = retry_count + 1, scheduled_for = $1, last_error = $2
             WHERE event_id = $3 AND published = FALSE`,
			nextAttempt, lastError, eventID)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func (p *PostgresStore) DeleteUnpublished(ctx context.Context, eventID string) (bool, error) {
	var deleted bool
	err := p.withTransaction(ctx, "DeleteUnpublished", 1, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM outbox_events WHERE event_id = $1 AND published = FALSE`, eventID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func (p *PostgresStore) CountPending(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_events
         WHERE published = FALSE AND scheduled_for <= $1 AND retry_count < max_retries`,
		now).Scan(&count)
	return count, err
}

func (p *PostgresStore) Stats(ctx context.Context, since time.Time) (WindowStats, error) {
	var stats WindowStats
	var avgSeconds float64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
                COUNT(*) FILTER (WHERE published),
                COUNT(*) FILTER (WHERE NOT published AND retry_count >= max_retries),
                COALESCE(EXTRACT(EPOCH FROM AVG(published_at - created_at) FILTER (WHERE published)), 0)
         FROM outbox_events WHERE created_at >= $1`,
		since).Scan(&stats.Created, &stats.Published, &stats.DeadLettered, &avgSeconds)
	if err != nil {
		return WindowStats{}, err
	}
	stats.AveragePublish = time.Duration(avgSeconds * float64(time.Second))
	return stats, nil
}

func (p *PostgresStore) ListDeadLettered(ctx context.Context, limit, offset int) ([]OutboxEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT event_id, event_type, aggregate_id, tenant_id, event_data, occurred_on,
                retry_count, max_retries, scheduled_for, last_error, created_at
         FROM outbox_events
         WHERE published = FALSE AND retry_count >= max_retries
         ORDER BY created_at DESC
         LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var event OutboxEvent
		if err := rows.Scan(&event.EventID, &event.EventType, &event.AggregateID,
			&event.TenantID, &event.EventData, &event.OccurredOn, &event.RetryCount,
			&event.MaxRetries, &event.ScheduledFor, &event.LastError, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (p *PostgresStore) ResetForRetry(ctx context.Context, now time.Time, eventIDs ...string) (int, error) {
	var reset int
	err := p.withTransaction(ctx, "ResetForRetry", len(eventIDs), func(ctx context.Context, tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		if len(eventIDs) == 0 {
			res, err = tx.ExecContext(ctx,
				`UPDATE outbox_events
                 SET retry_count = 0, scheduled_for = $1, last_error = ''
                 WHERE published = FALSE AND retry_count >= max_retries`, now)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE outbox_events
                 SET retry_count = 0, scheduled_for = $1, last_error = ''
                 WHERE published = FALSE AND retry_count >= max_retries AND event_id = ANY($2)`,
				now, pq.Array(eventIDs))
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		reset = int(n)
		return nil
	})
	return reset, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (p *PostgresStore) withTransaction(ctx context.Context, spanName string, eventsCount int, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, spanName, eventsCount, time.Since(startTime))

	return nil
}
