package consumers

import (
	"context"
	"strings"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/messaging"
)

// UserEventConsumer keeps notification recipients in sync with user events.
type UserEventConsumer struct {
	consumer *messaging.Consumer
	users    repository.UserStore
	logger   *logger.Logger
}

// NewUserEventConsumer creates a new user event consumer
func NewUserEventConsumer(rmq *messaging.RabbitMQ, users repository.UserStore, log *logger.Logger) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "inventory-service.user-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	c := newUserEventConsumer(users, log)
	c.consumer = consumer

	consumer.RegisterHandler(messaging.EventUserCreated, c.handleUserCreated)
	consumer.RegisterHandler(messaging.EventUserUpdated, c.handleUserUpdated)
	consumer.RegisterHandler(messaging.EventUserDeleted, c.handleUserDeleted)

	return c, nil
}

func newUserEventConsumer(users repository.UserStore, log *logger.Logger) *UserEventConsumer {
	return &UserEventConsumer{
		users:  users,
		logger: log.WithComponent("user_consumer"),
	}
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// handleUserCreated registers the user with no alert subscriptions.
func (c *UserEventConsumer) handleUserCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Str("role", data.RoleName).
		Msg("received user created event")

	user := &repository.User{
		ID:    data.UserID,
		Name:  data.Name,
		Phone: data.Phone,
		Role:  strings.ToUpper(data.RoleName),
	}
	if data.Email != "" {
		email := data.Email
		user.Email = &email
	}
	return c.users.UpsertUser(ctx, user)
}

// handleUserUpdated applies changed contact fields. Unknown users are ignored.
func (c *UserEventConsumer) handleUserUpdated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserUpdatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user updated event")

	existing, err := c.users.GetUser(ctx, data.UserID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		return err
	}

	if name, ok := changedTo(data.Fields, "name"); ok {
		existing.Name = name
	}
	if email, ok := changedTo(data.Fields, "email"); ok {
		existing.Email = optional(email)
	}
	if phone, ok := changedTo(data.Fields, "phone"); ok {
		existing.Phone = optional(phone)
	}
	if role, ok := changedTo(data.Fields, "role_name"); ok {
		existing.Role = strings.ToUpper(role)
	}

	return c.users.UpsertUser(ctx, existing)
}

func (c *UserEventConsumer) handleUserDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("user_id", data.UserID).
		Msg("received user deleted event")

	return c.users.DeleteUser(ctx, data.UserID)
}

// changedTo reads fields[key]["to"] as a string.
func changedTo(fields map[string]any, key string) (string, bool) {
	change, ok := fields[key].(map[string]any)
	if !ok {
		return "", false
	}
	to, ok := change["to"].(string)
	return to, ok
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
