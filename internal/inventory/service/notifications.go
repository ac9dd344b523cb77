package service

import (
	"context"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/clock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// Bell is the unread badge state.
type Bell struct {
	ShowDot bool `json:"show_dot"`
	Unread  int  `json:"unread"`
}

// NotificationList is a notification listing with its unread badge.
type NotificationList struct {
	Notifications []*repository.Notification `json:"notifications"`
	Unread        int                        `json:"unread"`
	Bell          Bell                       `json:"bell"`
}

// NotificationService exposes in-app notifications, preferences and the
// delivery log.
type NotificationService struct {
	notifications repository.NotificationStore
	users         repository.UserStore
	clock         clock.Clock
	logger        *logger.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(notifications repository.NotificationStore, users repository.UserStore, clk clock.Clock, log *logger.Logger) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		users:         users,
		clock:         clk,
		logger:        log.WithComponent("notifications"),
	}
}

// List returns notifications newest first for one user, or for everyone
// when userID is empty.
func (s *NotificationService) List(ctx context.Context, userID string) (*NotificationList, error) {
	notifications, err := s.notifications.ListNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	if notifications == nil {
		notifications = []*repository.Notification{}
	}

	unread := 0
	for _, n := range notifications {
		if n.ReadAt == nil {
			unread++
		}
	}

	return &NotificationList{
		Notifications: notifications,
		Unread:        unread,
		Bell:          Bell{ShowDot: unread > 0, Unread: unread},
	}, nil
}

// MarkRead sets read_at on first call. Later calls keep the original time.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*repository.Notification, error) {
	return s.notifications.MarkRead(ctx, id, s.clock.Now())
}

// GetPreferences returns the user's alert type x channel matrix.
func (s *NotificationService) GetPreferences(ctx context.Context, userID string) (*repository.AlertPreferences, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	prefs := user.AlertPreferences
	return &prefs, nil
}

// UpdatePreferences replaces the entries present in patch and keeps the rest.
func (s *NotificationService) UpdatePreferences(ctx context.Context, userID string, patch repository.AlertPreferences) (*repository.AlertPreferences, error) {
	merged, err := s.users.MergePreferences(ctx, userID, patch)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("user_id", userID).Msg("alert preferences updated")
	return &merged, nil
}

// DeliveryLog returns the most recent delivery attempts, newest first.
func (s *NotificationService) DeliveryLog(ctx context.Context, limit int) ([]*repository.DeliveryLogEntry, error) {
	return s.notifications.ListDeliveryLog(ctx, limit)
}

// AlertTypes lists the alert types users can subscribe to.
func (s *NotificationService) AlertTypes() []repository.AlertType {
	return repository.AlertTypes
}
