package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/campushub/records-outbox/pkg/config"
	"github.com/campushub/records-outbox/pkg/store"
)

func testSettings() *config.Settings {
	cfg := config.Default()
	cfg.Outbox.EnableLogging = false
	return cfg
}

func newTestPublisher(st store.EventStore) *Publisher {
	return NewPublisher(st, testSettings())
}

func newTestEvent() *store.OutboxEvent {
	return store.NewEvent("student.enrolled", "student-1", "tenant-1", []byte(`{"student_id":"student-1"}`))
}

func TestPublish_StoresUnpublishedEvent(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	event := newTestEvent()
	result := p.Publish(context.Background(), event, nil)

	assert.True(t, result.Success)
	assert.Equal(t, event.EventID, result.EventID)
	assert.False(t, result.PublishedAt.IsZero())

	stored := st.get(event.EventID)
	assert.NotNil(t, stored)
	assert.False(t, stored.Published)
	assert.Nil(t, stored.PublishedAt)
	assert.Equal(t, 0, stored.RetryCount)
	assert.Equal(t, 3, stored.MaxRetries) // configured default
}

func TestPublish_StorageFailure(t *testing.T) {
	st := newMemStore()
	st.insertErr = errInsertRejected
	p := newTestPublisher(st)

	result := p.Publish(context.Background(), newTestEvent(), nil)

	assert.False(t, result.Success)
	assert.Equal(t, errInsertRejected.Error(), result.Error)
	assert.Equal(t, 0, st.len())
}

func TestPublish_RetryPolicyOverride(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	event := newTestEvent()
	result := p.Publish(context.Background(), event, &PublishOptions{
		Immediate:   true,
		RetryPolicy: &RetryPolicy{MaxRetries: 7},
	})

	assert.True(t, result.Success)
	assert.Equal(t, 7, st.get(event.EventID).MaxRetries)
}

func TestPublish_DeferredFirstAttempt(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	before := time.Now()
	event := newTestEvent()
	result := p.Publish(context.Background(), event, &PublishOptions{Immediate: false})

	assert.True(t, result.Success)
	// first attempt deferred by the base backoff
	assert.True(t, result.ScheduledFor.After(before.Add(p.baseBackoff/2)))
}

func TestPublishBatch_AllOrNothing(t *testing.T) {
	st := newMemStore()
	st.insertErr = errInsertRejected
	p := newTestPublisher(st)

	events := []*store.OutboxEvent{newTestEvent(), newTestEvent(), newTestEvent()}
	results := p.PublishBatch(context.Background(), events, nil)

	assert.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.Equal(t, errInsertRejected.Error(), r.Error)
	}
	assert.Equal(t, 0, st.len())
}

func TestPublishBatch_Success(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	events := []*store.OutboxEvent{newTestEvent(), newTestEvent()}
	results := p.PublishBatch(context.Background(), events, nil)

	assert.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.Equal(t, 2, st.len())
}

func TestPublishAndWait_ReturnsEmptyAcknowledgments(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	result, acks := p.PublishAndWait(context.Background(), newTestEvent(), time.Second, nil)

	assert.True(t, result.Success)
	assert.Empty(t, acks)
	assert.Equal(t, 1, st.len())
}

func TestScheduleEvent_NotDueUntilScheduleTime(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	now := time.Now()
	scheduleTime := now.Add(time.Hour)
	event := newTestEvent()
	result := p.ScheduleEvent(context.Background(), event, scheduleTime, nil)

	assert.True(t, result.Success)
	assert.Equal(t, scheduleTime, result.ScheduledFor)

	due, err := st.FetchDue(context.Background(), now, 50)
	assert.NoError(t, err)
	assert.Empty(t, due)

	due, err = st.FetchDue(context.Background(), scheduleTime.Add(time.Second), 50)
	assert.NoError(t, err)
	assert.Len(t, due, 1)
	assert.Equal(t, event.EventID, due[0].EventID)
}

func TestCancelScheduledEvent_Unpublished(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	event := newTestEvent()
	p.ScheduleEvent(context.Background(), event, time.Now().Add(time.Hour), nil)

	result := p.CancelScheduledEvent(context.Background(), event.EventID)

	assert.True(t, result.Success)
	assert.Equal(t, 0, st.len())
}

func TestCancelScheduledEvent_UnknownOrPublished(t *testing.T) {
	st := newMemStore()
	p := newTestPublisher(st)

	result := p.CancelScheduledEvent(context.Background(), "no-such-event")
	assert.False(t, result.Success)
	assert.Equal(t, "not found or already published", result.Reason)

	// published events are historical record
	event := newTestEvent()
	p.Publish(context.Background(), event, nil)
	assert.NoError(t, st.MarkPublished(context.Background(), event.EventID, time.Now()))

	result = p.CancelScheduledEvent(context.Background(), event.EventID)
	assert.False(t, result.Success)
	assert.Equal(t, 1, st.len())
}
