package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// Publisher sends Event envelopes to one topic exchange, using the event
// type as routing key.
type Publisher struct {
	rmq      *RabbitMQ
	exchange string
	source   string
	logger   *logger.Logger
}

// NewPublisher declares exchange and returns a publisher stamping events
// with source.
func NewPublisher(rmq *RabbitMQ, exchange, source string, log *logger.Logger) (*Publisher, error) {
	if err := rmq.DeclareExchange(exchange); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		rmq:      rmq,
		exchange: exchange,
		source:   source,
		logger:   log.WithComponent("publisher"),
	}, nil
}

// Publish wraps data in an Event and publishes it persistently.
func (p *Publisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	event, err := NewEvent(eventType, p.source, correlationID(ctx), data)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.ID,
		CorrelationId: event.CorrelationID,
		Timestamp:     event.Timestamp,
		Type:          eventType,
		AppId:         p.source,
		Body:          body,
	}
	if err := p.rmq.Channel().PublishWithContext(ctx, p.exchange, eventType, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.logger.Debug().
		Str("exchange", p.exchange).
		Str("event_type", eventType).
		Str("event_id", event.ID).
		Msg("event published")
	return nil
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID makes events published under ctx carry correlationID.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
