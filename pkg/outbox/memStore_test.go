package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/campushub/records-outbox/pkg/store"
)

// memStore is an in-memory EventStore used to exercise publisher, dispatcher
// and worker behavior without a database.
type memStore struct {
	mu        sync.Mutex
	events    map[string]*store.OutboxEvent
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string]*store.OutboxEvent)}
}

func (m *memStore) get(eventID string) *store.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.events[eventID]; ok {
		copied := *e
		return &copied
	}
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *memStore) Insert(_ context.Context, events ...*store.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, e := range events {
		copied := *e
		m.events[e.EventID] = &copied
	}
	return nil
}

func (m *memStore) FetchDue(_ context.Context, now time.Time, batchSize int) ([]store.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []store.OutboxEvent
	for _, e := range m.events {
		if !e.Published && !e.ScheduledFor.After(now) && e.RetryCount < e.MaxRetries {
			due = append(due, *e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if len(due) > batchSize {
		due = due[:batchSize]
	}
	return due, nil
}

func (m *memStore) MarkPublished(_ context.Context, eventID string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok || e.Published {
		return store.ErrEventNotFound
	}
	e.Published = true
	e.PublishedAt = &publishedAt
	return nil
}

func (m *memStore) RecordFailure(_ context.Context, eventID string, nextAttempt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok || e.Published {
		return store.ErrEventNotFound
	}
	e.RetryCount++
	e.ScheduledFor = nextAttempt
	e.LastError = lastError
	return nil
}

func (m *memStore) DeleteUnpublished(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok || e.Published {
		return false, nil
	}
	delete(m.events, eventID)
	return true, nil
}

func (m *memStore) CountPending(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.events {
		if !e.Published && !e.ScheduledFor.After(now) && e.RetryCount < e.MaxRetries {
			count++
		}
	}
	return count, nil
}

func (m *memStore) Stats(_ context.Context, since time.Time) (store.WindowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats store.WindowStats
	var totalLatency time.Duration
	for _, e := range m.events {
		if e.CreatedAt.Before(since) {
			continue
		}
		stats.Created++
		if e.Published {
			stats.Published++
			if e.PublishedAt != nil {
				totalLatency += e.PublishedAt.Sub(e.CreatedAt)
			}
		} else if e.RetryCount >= e.MaxRetries {
			stats.DeadLettered++
		}
	}
	if stats.Published > 0 {
		stats.AveragePublish = totalLatency / time.Duration(stats.Published)
	}
	return stats, nil
}

func (m *memStore) ListDeadLettered(_ context.Context, limit, offset int) ([]store.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dead []store.OutboxEvent
	for _, e := range m.events {
		if !e.Published && e.RetryCount >= e.MaxRetries {
			dead = append(dead, *e)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].CreatedAt.After(dead[j].CreatedAt) })
	if offset >= len(dead) {
		return nil, nil
	}
	dead = dead[offset:]
	if len(dead) > limit {
		dead = dead[:limit]
	}
	return dead, nil
}

func (m *memStore) ResetForRetry(_ context.Context, now time.Time, eventIDs ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	targeted := func(id string) bool {
		if len(eventIDs) == 0 {
			return true
		}
		for _, want := range eventIDs {
			if want == id {
				return true
			}
		}
		return false
	}
	reset := 0
	for id, e := range m.events {
		if !e.Published && e.RetryCount >= e.MaxRetries && targeted(id) {
			e.RetryCount = 0
			e.ScheduledFor = now
			e.LastError = ""
			reset++
		}
	}
	return reset, nil
}

var errInsertRejected = errors.New("insert rejected")
