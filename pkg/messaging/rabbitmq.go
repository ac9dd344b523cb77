package messaging

import (
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pantrypilot/pantrypilot-backend/pkg/config"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// Dead letter exchange shared by every service queue.
const deadLetterExchange = "dlx.events"

// RabbitMQ owns one AMQP connection and the channel shared by publishers
// and consumers of a service.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logger.Logger
	mu      sync.RWMutex
}

// New dials RabbitMQ, retrying up to cfg.MaxRetries times with
// cfg.ReconnectDelay between attempts.
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	log = log.WithComponent("rabbitmq")

	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, ch, err := dial(cfg)
		if err == nil {
			log.Info().Int("attempt", i).Msg("connected to RabbitMQ")
			return &RabbitMQ{conn: conn, channel: ch, logger: log}, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i).Msg("RabbitMQ connection attempt failed")
		if i < attempts {
			time.Sleep(cfg.ReconnectDelay)
		}
	}
	return nil, fmt.Errorf("connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

func dial(cfg *config.RabbitMQConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("set QoS: %w", err)
	}
	return conn, ch, nil
}

// Channel returns the shared channel.
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Close closes the channel and the connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health reports "up" while the connection is open.
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return map[string]string{"status": "down", "error": "connection closed"}
	}
	return map[string]string{"status": "up"}
}

// DeclareExchange declares a durable topic exchange.
func (r *RabbitMQ) DeclareExchange(name string) error {
	return r.Channel().ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// DeclareQueue declares a durable queue that dead-letters rejected messages.
func (r *RabbitMQ) DeclareQueue(name string) (amqp.Queue, error) {
	return r.Channel().QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": deadLetterExchange,
	})
}

// BindQueue binds a queue to an exchange with a routing key pattern.
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	return r.Channel().QueueBind(queueName, routingKey, exchange, false, nil)
}

// Setup declares the service's dead letter queue (dlq.<service>, bound to
// every key on the dead letter exchange) and the exchanges it publishes to.
func (r *RabbitMQ) Setup(serviceName string, exchanges ...string) error {
	if err := r.DeclareExchange(deadLetterExchange); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}

	dlq := "dlq." + serviceName
	if _, err := r.Channel().QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := r.BindQueue(dlq, deadLetterExchange, "#"); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	for _, exchange := range exchanges {
		if err := r.DeclareExchange(exchange); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}
	return nil
}
