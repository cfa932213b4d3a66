package outbox

import (
	"context"
	"time"

	"github.com/campushub/records-outbox/pkg/store"
)

// errorRateWindow is the lookback the health check rates errors over.
const errorRateWindow = time.Hour

// Health is a point-in-time snapshot of the outbox pipeline.
type Health struct {
	Healthy       bool
	PendingEvents int
	// ErrorRate is the percentage of events created in the last hour that
	// exhausted their retry budget.
	ErrorRate float64
	CheckedAt time.Time
}

// Statistics summarizes delivery outcomes for events created in a window.
type Statistics struct {
	Published      int
	Failed         int
	SuccessRate    float64
	AverageLatency time.Duration
	// Throughput is published events per second over the window.
	Throughput float64
	Window     time.Duration
}

// HealthCheck computes the pending backlog and the recent error rate and
// compares them against the configured thresholds.
func (p *Publisher) HealthCheck(ctx context.Context) (Health, error) {
	now := p.now()

	pending, err := p.repo.CountPending(ctx, now)
	if err != nil {
		return Health{}, err
	}

	stats, err := p.repo.Stats(ctx, now.Add(-errorRateWindow))
	if err != nil {
		return Health{}, err
	}

	var errorRate float64
	if stats.Created > 0 {
		errorRate = float64(stats.DeadLettered) / float64(stats.Created) * 100
	}

	return Health{
		Healthy:       errorRate < p.maxErrorRate && pending < p.maxPendingEvents,
		PendingEvents: pending,
		ErrorRate:     errorRate,
		CheckedAt:     now,
	}, nil
}

// GetStatistics aggregates delivery outcomes for events created within the
// given time range ending now.
func (p *Publisher) GetStatistics(ctx context.Context, timeRange time.Duration) (Statistics, error) {
	stats, err := p.repo.Stats(ctx, p.now().Add(-timeRange))
	if err != nil {
		return Statistics{}, err
	}

	result := Statistics{
		Published:      stats.Published,
		Failed:         stats.DeadLettered,
		AverageLatency: stats.AveragePublish,
		Window:         timeRange,
	}
	if stats.Created > 0 {
		result.SuccessRate = float64(stats.Published) / float64(stats.Created) * 100
	}
	if secs := timeRange.Seconds(); secs > 0 {
		result.Throughput = float64(stats.Published) / secs
	}
	return result, nil
}

// GetFailedEvents pages through dead-lettered events for inspection.
func (p *Publisher) GetFailedEvents(ctx context.Context, limit, offset int) ([]store.OutboxEvent, error) {
	return p.repo.ListDeadLettered(ctx, limit, offset)
}

// RetryFailedEvents resets retry bookkeeping for the given dead-lettered
// events (or all of them when no IDs are given) and kicks the worker so
// delivery is attempted again right away. It returns how many events were
// reset.
func (p *Publisher) RetryFailedEvents(ctx context.Context, eventIDs ...string) (int, error) {
	reset, err := p.repo.ResetForRetry(ctx, p.now(), eventIDs...)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		p.worker.Kick()
	}
	return reset, nil
}
