// Package notify fans alerts out to users over their preferred channels and
// records every attempt in the delivery log.
package notify

import (
	"context"
	"fmt"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/messaging"
)

// Receipt describes a finished delivery attempt.
type Receipt struct {
	Recipient string
	Payload   string
	Status    string
	Reason    string
}

// Channel delivers one notification to one user. A returned error marks the
// attempt failed; it never affects other channels.
type Channel interface {
	Deliver(ctx context.Context, user *repository.User, n *repository.Notification) (*Receipt, error)
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, user *repository.User, n *repository.Notification) (*Receipt, error)

// Deliver calls f.
func (f ChannelFunc) Deliver(ctx context.Context, user *repository.User, n *repository.Notification) (*Receipt, error) {
	return f(ctx, user, n)
}

// EmailChannel renders the branded subject line. Outbound mail is handed off
// by whatever drains the delivery log.
type EmailChannel struct {
	Brand string
}

// Deliver implements Channel.
func (c *EmailChannel) Deliver(_ context.Context, user *repository.User, n *repository.Notification) (*Receipt, error) {
	if user.Email == nil || *user.Email == "" {
		return nil, fmt.Errorf("user %s has no email address", user.ID)
	}
	return &Receipt{
		Recipient: *user.Email,
		Payload:   fmt.Sprintf("[%s] %s", c.Brand, n.Title),
		Status:    repository.DeliverySent,
	}, nil
}

// SMSChannel renders a one-line text message.
type SMSChannel struct{}

// Deliver implements Channel.
func (SMSChannel) Deliver(_ context.Context, user *repository.User, n *repository.Notification) (*Receipt, error) {
	if user.Phone == nil || *user.Phone == "" {
		return nil, fmt.Errorf("user %s has no phone number", user.ID)
	}
	return &Receipt{
		Recipient: *user.Phone,
		Payload:   fmt.Sprintf("%s: %s", n.Title, n.Message),
		Status:    repository.DeliverySent,
	}, nil
}

// NotificationWriter persists in-app notifications.
type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *repository.Notification) error
}

// InAppChannel stores the notification for the user's bell and unread count.
type InAppChannel struct {
	Store NotificationWriter
}

// Deliver implements Channel.
func (c *InAppChannel) Deliver(ctx context.Context, user *repository.User, n *repository.Notification) (*Receipt, error) {
	row := *n
	row.Channel = repository.ChannelInApp
	if err := c.Store.CreateNotification(ctx, &row); err != nil {
		return nil, err
	}
	return &Receipt{
		Recipient: user.ID,
		Payload:   n.Title,
		Status:    repository.DeliverySent,
	}, nil
}

// Publisher sends a typed event. *messaging.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// ChatChannel hands messages to the chat bridge over the notification
// exchange. Without a publisher the attempt is logged as skipped.
type ChatChannel struct {
	Publisher Publisher
}

// Deliver implements Channel.
func (c *ChatChannel) Deliver(ctx context.Context, user *repository.User, n *repository.Notification) (*Receipt, error) {
	text := fmt.Sprintf("%s: %s", n.Title, n.Message)
	if c.Publisher == nil {
		return &Receipt{
			Recipient: user.ID,
			Payload:   text,
			Status:    repository.DeliverySkipped,
			Reason:    "chat bridge not configured",
		}, nil
	}

	event := messaging.ChatMessageEvent{
		NotificationID: n.ID,
		UserID:         user.ID,
		AlertType:      string(n.Type),
		Severity:       string(n.Severity),
		Text:           text,
	}
	if err := c.Publisher.Publish(ctx, messaging.EventNotificationChat, event); err != nil {
		return nil, fmt.Errorf("publish chat message: %w", err)
	}
	return &Receipt{
		Recipient: user.ID,
		Payload:   text,
		Status:    repository.DeliverySent,
	}, nil
}
