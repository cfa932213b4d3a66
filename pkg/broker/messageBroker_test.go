package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/campushub/records-outbox/pkg/store"
)

type failingBroker struct{}

func (f *failingBroker) Publish(ctx context.Context, event *store.OutboxEvent) error {
	return errors.New("broker unavailable")
}

func (f *failingBroker) Close() error {
	return nil
}

func TestHandler_DelegatesToBroker(t *testing.T) {
	event := store.NewEvent("student.enrolled", "student-1", "tenant-1", nil)

	handler := Handler(&mockRabbitMqBroker{})
	assert.NoError(t, handler(context.Background(), event))

	handler = Handler(&failingBroker{})
	err := handler(context.Background(), event)
	assert.EqualError(t, err, "broker unavailable")
}
