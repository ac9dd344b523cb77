package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBody(t *testing.T, eventType string, data any) []byte {
	t.Helper()
	event, err := NewEvent(eventType, "user-service", "corr-1", data)
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func TestConsumer_Process(t *testing.T) {
	c := newConsumer(nil, "test-queue", logger.Nop())

	var received UserCreatedEvent
	var gotCorrelation string
	c.RegisterHandler(EventUserCreated, func(ctx context.Context, event *Event) error {
		gotCorrelation = correlationID(ctx)
		return event.UnmarshalData(&received)
	})
	c.RegisterHandler(EventUserDeleted, func(ctx context.Context, event *Event) error {
		return fmt.Errorf("store unavailable")
	})

	t.Run("routes to handler and acks", func(t *testing.T) {
		body := mustBody(t, EventUserCreated, UserCreatedEvent{UserID: "u-1", RoleName: "MANAGER"})
		assert.Equal(t, actionAck, c.process(context.Background(), body, 0))
		assert.Equal(t, "u-1", received.UserID)
		assert.Equal(t, "corr-1", gotCorrelation)
	})

	t.Run("unknown event type is acked", func(t *testing.T) {
		body := mustBody(t, "user.role.changed", map[string]string{"user_id": "u-1"})
		assert.Equal(t, actionAck, c.process(context.Background(), body, 0))
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		assert.Equal(t, actionReject, c.process(context.Background(), []byte("{"), 0))
	})

	t.Run("handler failure requeues until retries exhausted", func(t *testing.T) {
		body := mustBody(t, EventUserDeleted, UserDeletedEvent{UserID: "u-1"})
		assert.Equal(t, actionRequeue, c.process(context.Background(), body, 1))
		assert.Equal(t, actionReject, c.process(context.Background(), body, maxRetries))
	})
}

func TestGetRetryCount(t *testing.T) {
	assert.Equal(t, 0, getRetryCount(amqp.Delivery{}))

	msg := amqp.Delivery{Headers: amqp.Table{
		"x-death": []interface{}{amqp.Table{"count": int64(2)}},
	}}
	assert.Equal(t, 2, getRetryCount(msg))
}
