package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campushub/records-outbox/pkg/config"
	"github.com/campushub/records-outbox/pkg/store"
)

// newRetryTestPublisher removes backoff so failed events are due again
// immediately and each runCycle call is one delivery attempt.
func newRetryTestPublisher(st store.EventStore) *Publisher {
	cfg := config.Default()
	cfg.Outbox.EnableLogging = false
	cfg.Outbox.BaseBackoff = 0
	return NewPublisher(st, cfg)
}

func TestRunCycle_DeliversDueEvents(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	var delivered []string
	p.RegisterDeliveryHandler("student.enrolled", func(ctx context.Context, event *store.OutboxEvent) error {
		delivered = append(delivered, event.EventID)
		return nil
	})

	a := newTestEvent()
	b := newTestEvent()
	p.PublishBatch(context.Background(), []*store.OutboxEvent{a, b}, nil)

	ran := p.worker.runCycle(context.Background())

	assert.True(t, ran)
	assert.Len(t, delivered, 2)
	assert.True(t, st.get(a.EventID).Published)
	assert.True(t, st.get(b.EventID).Published)
}

func TestRunCycle_ProcessesEarliestScheduledFirst(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	var order []string
	p.RegisterDeliveryHandler("student.enrolled", func(ctx context.Context, event *store.OutboxEvent) error {
		order = append(order, event.EventID)
		return nil
	})

	now := time.Now()
	later := newTestEvent()
	p.ScheduleEvent(context.Background(), later, now.Add(-time.Minute), nil)
	earlier := newTestEvent()
	p.ScheduleEvent(context.Background(), earlier, now.Add(-time.Hour), nil)

	p.worker.runCycle(context.Background())

	assert.Equal(t, []string{earlier.EventID, later.EventID}, order)
}

func TestRunCycle_SingleFlight(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	entered := make(chan struct{})
	release := make(chan struct{})
	p.RegisterDeliveryHandler("student.enrolled", func(ctx context.Context, event *store.OutboxEvent) error {
		close(entered)
		<-release
		return nil
	})

	p.Publish(context.Background(), newTestEvent(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, p.worker.runCycle(context.Background()))
	}()

	<-entered
	// a second cycle while the first is in flight is rejected outright
	assert.False(t, p.worker.runCycle(context.Background()))

	close(release)
	wg.Wait()
}

func TestWorker_RetryCeilingDeadLetters(t *testing.T) {
	st := newMemStore()
	p := newRetryTestPublisher(st)

	attempts := 0
	p.RegisterDeliveryHandler("student.enrolled", func(ctx context.Context, event *store.OutboxEvent) error {
		attempts++
		return errors.New("handler always rejects")
	})

	event := newTestEvent()
	p.Publish(context.Background(), event, &PublishOptions{
		Immediate:   true,
		RetryPolicy: &RetryPolicy{MaxRetries: 2},
	})

	// two cycles exhaust the retry budget, further cycles never see the event
	for i := 0; i < 4; i++ {
		p.worker.runCycle(context.Background())
	}

	assert.Equal(t, 2, attempts)
	stored := st.get(event.EventID)
	assert.False(t, stored.Published)
	assert.Equal(t, 2, stored.RetryCount)

	due, err := st.FetchDue(context.Background(), time.Now(), 50)
	assert.NoError(t, err)
	assert.Empty(t, due)

	failed, err := p.GetFailedEvents(context.Background(), 10, 0)
	assert.NoError(t, err)
	assert.Len(t, failed, 1)
	assert.Equal(t, event.EventID, failed[0].EventID)
}

func TestRetryFailedEvents_ResetsAndRedelivers(t *testing.T) {
	st := newMemStore()
	p := newRetryTestPublisher(st)

	var fail = true
	p.RegisterDeliveryHandler("student.enrolled", func(ctx context.Context, event *store.OutboxEvent) error {
		if fail {
			return errors.New("handler always rejects")
		}
		return nil
	})

	event := newTestEvent()
	p.Publish(context.Background(), event, &PublishOptions{
		Immediate:   true,
		RetryPolicy: &RetryPolicy{MaxRetries: 2},
	})
	p.worker.runCycle(context.Background())
	p.worker.runCycle(context.Background())
	assert.True(t, st.get(event.EventID).DeadLettered())

	reset, err := p.RetryFailedEvents(context.Background(), event.EventID)
	assert.NoError(t, err)
	assert.Equal(t, 1, reset)

	stored := st.get(event.EventID)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Empty(t, stored.LastError)

	fail = false
	p.worker.runCycle(context.Background())
	assert.True(t, st.get(event.EventID).Published)
}

func TestWorker_StartIsIdempotent(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	p.Start()
	p.Start() // no-op while running
	p.Stop()
	p.Stop() // no-op once stopped
}

func TestWorker_StopWaitsForInFlightCycle(t *testing.T) {
	st := newMemStore()
	cfg := testSettings()
	cfg.Outbox.ProcessingInterval = 10 * time.Millisecond
	p := NewPublisher(st, cfg)

	entered := make(chan struct{})
	var finished bool
	p.RegisterDeliveryHandler("student.enrolled", func(ctx context.Context, event *store.OutboxEvent) error {
		close(entered)
		time.Sleep(50 * time.Millisecond)
		finished = true
		return nil
	})

	p.Start()
	p.Publish(context.Background(), newTestEvent(), nil)

	<-entered
	p.Stop()

	// Stop returned only after the in-flight dispatch completed
	assert.True(t, finished)
}
