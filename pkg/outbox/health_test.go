package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campushub/records-outbox/pkg/store"
)

// seedEvent inserts an event directly into the fake store with the given
// terminal state.
func seedEvent(st *memStore, createdAt time.Time, published bool, dead bool) *store.OutboxEvent {
	event := newTestEvent()
	event.MaxRetries = 3
	event.CreatedAt = createdAt
	event.ScheduledFor = createdAt
	if published {
		event.Published = true
		publishedAt := createdAt.Add(2 * time.Second)
		event.PublishedAt = &publishedAt
	}
	if dead {
		event.RetryCount = event.MaxRetries
	}
	st.Insert(context.Background(), event)
	return event
}

func TestHealthCheck_Healthy(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	now := time.Now()
	for i := 0; i < 20; i++ {
		seedEvent(st, now.Add(-time.Minute), true, false)
	}
	seedEvent(st, now.Add(-time.Minute), false, true) // 1 of 21 dead => ~4.8%

	health, err := p.HealthCheck(context.Background())

	assert.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Equal(t, 0, health.PendingEvents)
	assert.InDelta(t, 100.0/21, health.ErrorRate, 0.01)
}

func TestHealthCheck_UnhealthyErrorRate(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	now := time.Now()
	seedEvent(st, now.Add(-time.Minute), true, false)
	seedEvent(st, now.Add(-time.Minute), false, true) // 50% error rate

	health, err := p.HealthCheck(context.Background())

	assert.NoError(t, err)
	assert.False(t, health.Healthy)
	assert.InDelta(t, 50, health.ErrorRate, 0.01)
}

func TestHealthCheck_UnhealthyBacklog(t *testing.T) {
	st := newMemStore()
	cfg := testSettings()
	cfg.Health.MaxPendingEvents = 5
	p := NewPublisher(st, cfg)

	now := time.Now()
	for i := 0; i < 6; i++ {
		seedEvent(st, now.Add(-time.Minute), false, false)
	}

	health, err := p.HealthCheck(context.Background())

	assert.NoError(t, err)
	assert.False(t, health.Healthy)
	assert.Equal(t, 6, health.PendingEvents)
}

func TestHealthCheck_IgnoresEventsOutsideWindow(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	// dead events older than an hour do not count against the error rate,
	// but they do stay inspectable
	old := seedEvent(st, time.Now().Add(-2*time.Hour), false, true)

	health, err := p.HealthCheck(context.Background())
	assert.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Zero(t, health.ErrorRate)

	failed, err := p.GetFailedEvents(context.Background(), 10, 0)
	assert.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.Equal(t, old.EventID, failed[0].EventID)
}

func TestGetStatistics(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	now := time.Now()
	for i := 0; i < 3; i++ {
		seedEvent(st, now.Add(-time.Minute), true, false)
	}
	seedEvent(st, now.Add(-time.Minute), false, true)

	stats, err := p.GetStatistics(context.Background(), time.Hour)

	assert.NoError(t, err)
	assert.Equal(t, 3, stats.Published)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 75, stats.SuccessRate, 0.01)
	assert.Equal(t, 2*time.Second, stats.AverageLatency)
	assert.InDelta(t, 3.0/3600, stats.Throughput, 1e-6)
	assert.Equal(t, time.Hour, stats.Window)
}
