package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/pantrypilot/pantrypilot-backend/pkg/database"
	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
)

const notificationColumns = `
	id, alert_id, type, severity, title, message, dedupe_key, metadata,
	user_id, channel, read_at, created_at`

const userColumns = `
	id, name, email, phone, role, alert_preferences, created_at, updated_at`

// CreateVarianceEvent stores a physical count result
func (s *PostgresStore) CreateVarianceEvent(ctx context.Context, event *VarianceEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	query := `
		INSERT INTO variance_events (
			id, item_id, counted_qty, expected_qty, variance_qty, variance_percent, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.ItemID, event.CountedQty, event.ExpectedQty, event.VarianceQty,
		event.VariancePercent, event.RecordedAt,
	)
	return database.MapError(err)
}

// ListVarianceEvents lists variance events newest first
func (s *PostgresStore) ListVarianceEvents(ctx context.Context) ([]*VarianceEvent, error) {
	var events []*VarianceEvent
	query := `
		SELECT v.id, v.item_id, i.name AS item_name, v.counted_qty, v.expected_qty,
			v.variance_qty, v.variance_percent, v.recorded_at
		FROM variance_events v
		JOIN items i ON i.id = v.item_id
		ORDER BY v.recorded_at DESC, v.id
	`
	if err := s.db.SelectContext(ctx, &events, query); err != nil {
		return nil, err
	}
	return events, nil
}

// CreateDelivery schedules a supplier delivery
func (s *PostgresStore) CreateDelivery(ctx context.Context, delivery *SupplierDelivery) error {
	if delivery.ID == "" {
		delivery.ID = uuid.New().String()
	}
	if delivery.Status == "" {
		delivery.Status = DeliveryScheduled
	}

	query := `
		INSERT INTO supplier_deliveries (id, supplier_name, due_at, status, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := s.db.QueryRowxContext(ctx, query,
		delivery.ID, delivery.SupplierName, delivery.DueAt, delivery.Status, delivery.ReceivedAt,
	).Scan(&delivery.CreatedAt)
	return database.MapError(err)
}

// MarkDeliveryReceived closes out a scheduled delivery
func (s *PostgresStore) MarkDeliveryReceived(ctx context.Context, id string, at time.Time) (*SupplierDelivery, error) {
	var delivery SupplierDelivery
	query := `
		UPDATE supplier_deliveries SET status = $2, received_at = $3
		WHERE id = $1
		RETURNING id, supplier_name, due_at, status, received_at, created_at
	`
	if err := s.db.GetContext(ctx, &delivery, query, id, DeliveryReceived, at); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("delivery")
		}
		return nil, err
	}
	return &delivery, nil
}

// ListDeliveries lists deliveries by due time
func (s *PostgresStore) ListDeliveries(ctx context.Context) ([]*SupplierDelivery, error) {
	var deliveries []*SupplierDelivery
	query := `
		SELECT id, supplier_name, due_at, status, received_at, created_at
		FROM supplier_deliveries
		ORDER BY due_at, id
	`
	if err := s.db.SelectContext(ctx, &deliveries, query); err != nil {
		return nil, err
	}
	return deliveries, nil
}

// ClaimAlert inserts the alert record, doing nothing when its (type, dedupe_key)
// was claimed before.
func (s *PostgresStore) ClaimAlert(ctx context.Context, alert *AlertRecord) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	query := `
		INSERT INTO alert_history (id, type, severity, title, message, dedupe_key, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (type, dedupe_key) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		alert.ID, alert.Type, alert.Severity, alert.Title, alert.Message,
		alert.DedupeKey, alert.Metadata, alert.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// CreateNotification stores an in-app notification
func (s *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}

	query := `
		INSERT INTO notifications (
			id, alert_id, type, severity, title, message, dedupe_key, metadata,
			user_id, channel, read_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.AlertID, n.Type, n.Severity, n.Title, n.Message, n.DedupeKey, n.Metadata,
		n.UserID, n.Channel, n.ReadAt, n.CreatedAt,
	)
	return database.MapError(err)
}

// ListNotifications lists notifications newest first
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]*Notification, error) {
	var notifications []*Notification
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC, id`
	if err := s.db.SelectContext(ctx, &notifications, query, userID); err != nil {
		return nil, err
	}
	return notifications, nil
}

// CountUnread counts notifications without a read time
func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notifications WHERE read_at IS NULL AND ($1 = '' OR user_id = $1)`
	if err := s.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, err
	}
	return count, nil
}

// MarkRead sets the read time, keeping the first one if already read
func (s *PostgresStore) MarkRead(ctx context.Context, id string, at time.Time) (*Notification, error) {
	var n Notification
	query := `UPDATE notifications SET read_at = COALESCE(read_at, $2)
		WHERE id = $1
		RETURNING ` + notificationColumns
	if err := s.db.GetContext(ctx, &n, query, id, at); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("notification")
		}
		return nil, err
	}
	return &n, nil
}

// AppendDeliveryLog writes a delivery log entry
func (s *PostgresStore) AppendDeliveryLog(ctx context.Context, entry *DeliveryLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO delivery_log (
			id, channel, recipient, payload, status, reason, notification_id, user_id, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.Channel, entry.Recipient, entry.Payload, entry.Status, entry.Reason,
		entry.NotificationID, entry.UserID, entry.SentAt,
	)
	return database.MapError(err)
}

// ListDeliveryLog returns the most recent entries first
func (s *PostgresStore) ListDeliveryLog(ctx context.Context, limit int) ([]*DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []*DeliveryLogEntry
	query := `
		SELECT id, channel, recipient, payload, status, reason, notification_id, user_id, sent_at
		FROM delivery_log
		ORDER BY seq DESC
		LIMIT $1
	`
	if err := s.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListUsers lists every known recipient
func (s *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	query := `SELECT ` + userColumns + ` FROM notification_users ORDER BY id`
	if err := s.db.SelectContext(ctx, &users, query); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser gets a recipient by ID
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	query := `SELECT ` + userColumns + ` FROM notification_users WHERE id = $1`
	if err := s.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("user")
		}
		return nil, err
	}
	return &user, nil
}

// UpsertUser creates or updates a recipient. Preferences are only written on insert.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO notification_users (id, name, email, phone, role, alert_preferences)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			role = EXCLUDED.role,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	return s.db.QueryRowxContext(ctx, query,
		user.ID, user.Name, user.Email, user.Phone, user.Role, user.AlertPreferences,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
}

// MergePreferences overlays patch on the stored matrix with a single jsonb
// concatenation, so concurrent updates of different alert types both land.
func (s *PostgresStore) MergePreferences(ctx context.Context, id string, patch AlertPreferences) (AlertPreferences, error) {
	var prefs AlertPreferences
	query := `UPDATE notification_users SET alert_preferences = alert_preferences || $2::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING alert_preferences`
	if err := s.db.QueryRowxContext(ctx, query, id, patch).Scan(&prefs); err != nil {
		if err == sql.ErrNoRows {
			return AlertPreferences{}, errors.NotFound("user")
		}
		return AlertPreferences{}, err
	}
	return prefs, nil
}

// DeleteUser removes a recipient
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notification_users WHERE id = $1`, id)
	return err
}
