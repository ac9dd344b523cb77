package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/clock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/messaging"
	"github.com/pantrypilot/pantrypilot-backend/pkg/testutil"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func lowStockAlert() *repository.AlertRecord {
	return &repository.AlertRecord{
		ID:        "alert-1",
		Type:      repository.AlertLowStock,
		Severity:  repository.SeverityHigh,
		Title:     "Low stock: Flour",
		Message:   "Flour is at 3 units, below reorder level 5.",
		DedupeKey: "low-stock-flour",
		Metadata:  repository.Metadata{"itemId": "flour"},
	}
}

func newTestDispatcher(store *repository.MemoryStore, chat Publisher) *Dispatcher {
	channels := map[repository.Channel]Channel{
		repository.ChannelEmail: &EmailChannel{Brand: "PantryPilot"},
		repository.ChannelSMS:   SMSChannel{},
		repository.ChannelInApp: &InAppChannel{Store: store},
		repository.ChannelChat:  &ChatChannel{Publisher: chat},
	}
	return NewDispatcher(channels, store, clock.NewMock(now), nil, logger.Nop())
}

func TestDispatcher_FansOutPerPreference(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	d := newTestDispatcher(store, nil)

	user := &repository.User{
		ID:    "u1",
		Email: testutil.PtrString("chef@example.com"),
		AlertPreferences: repository.AlertPreferences{
			LowStock: &repository.ChannelSet{Email: true, SMS: true, InApp: true, Chat: true},
		},
	}

	res := d.DispatchTo(ctx, lowStockAlert(), user)
	assert.Equal(t, Result{Recipients: 1, Deliveries: 4, Failures: 1}, res)

	entries, err := store.ListDeliveryLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	byChannel := map[repository.Channel]*repository.DeliveryLogEntry{}
	for _, e := range entries {
		byChannel[e.Channel] = e
	}

	email := byChannel[repository.ChannelEmail]
	assert.Equal(t, repository.DeliverySent, email.Status)
	assert.Equal(t, "chef@example.com", email.Recipient)
	assert.Equal(t, "[PantryPilot] Low stock: Flour", email.Payload)

	sms := byChannel[repository.ChannelSMS]
	assert.Equal(t, repository.DeliveryFailed, sms.Status)
	require.NotNil(t, sms.Reason)
	assert.Contains(t, *sms.Reason, "no phone number")

	chat := byChannel[repository.ChannelChat]
	assert.Equal(t, repository.DeliverySkipped, chat.Status)
	assert.Equal(t, "Low stock: Flour: Flour is at 3 units, below reorder level 5.", chat.Payload)

	assert.Equal(t, repository.DeliverySent, byChannel[repository.ChannelInApp].Status)

	notifications, err := store.ListNotifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "alert-1", notifications[0].AlertID)
	assert.Equal(t, now, notifications[0].CreatedAt)

	for _, e := range entries {
		assert.Equal(t, notifications[0].ID, e.NotificationID, "log entries reference the user's notification")
	}
}

func TestDispatcher_DefaultDeny(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	d := newTestDispatcher(store, nil)

	users := []*repository.User{
		{ID: "no-prefs"},
		{ID: "other-type", AlertPreferences: repository.AlertPreferences{
			ExpiringSoon: &repository.ChannelSet{InApp: true},
		}},
		{ID: "all-off", AlertPreferences: repository.AlertPreferences{
			LowStock: &repository.ChannelSet{},
		}},
	}

	res := d.Dispatch(ctx, lowStockAlert(), users)
	assert.Equal(t, Result{}, res)

	entries, err := store.ListDeliveryLog(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDispatcher_EmailOnlyLeavesNoUnread(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	d := newTestDispatcher(store, nil)

	user := &repository.User{
		ID:    "u1",
		Email: testutil.PtrString("chef@example.com"),
		AlertPreferences: repository.AlertPreferences{
			LowStock: &repository.ChannelSet{Email: true},
		},
	}
	res := d.DispatchTo(ctx, lowStockAlert(), user)
	assert.Equal(t, 0, res.Failures)

	unread, err := store.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestDispatcher_ChatPublishes(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	pub := testutil.NewMockPublisher()
	d := newTestDispatcher(store, pub)

	user := &repository.User{ID: "u1", AlertPreferences: repository.AlertPreferences{
		LowStock: &repository.ChannelSet{Chat: true},
	}}

	res := d.DispatchTo(ctx, lowStockAlert(), user)
	assert.Equal(t, Result{Recipients: 1, Deliveries: 1}, res)

	published := pub.Events(messaging.EventNotificationChat)
	require.Len(t, published, 1)
	event := published[0].Payload.(messaging.ChatMessageEvent)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, "lowStock", event.AlertType)

	pub.Err = fmt.Errorf("channel closed")
	res = d.DispatchTo(ctx, lowStockAlert(), user)
	assert.Equal(t, 1, res.Failures)
}

func TestDispatcher_SiblingChannelsSurviveFailure(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	calls := 0
	channels := map[repository.Channel]Channel{
		repository.ChannelEmail: ChannelFunc(func(context.Context, *repository.User, *repository.Notification) (*Receipt, error) {
			calls++
			return nil, fmt.Errorf("smtp down")
		}),
		repository.ChannelInApp: &InAppChannel{Store: store},
	}
	d := NewDispatcher(channels, store, clock.NewMock(now), nil, logger.Nop())

	user := &repository.User{ID: "u1", AlertPreferences: repository.AlertPreferences{
		LowStock: &repository.ChannelSet{Email: true, InApp: true, SMS: true},
	}}

	res := d.DispatchTo(ctx, lowStockAlert(), user)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, res.Deliveries)
	assert.Equal(t, 2, res.Failures, "email errored and sms has no implementation")

	unread, err := store.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

type failingLog struct{}

func (failingLog) AppendDeliveryLog(context.Context, *repository.DeliveryLogEntry) error {
	return fmt.Errorf("disk full")
}

func TestDispatcher_DeliveryLogFailureIsCounted(t *testing.T) {
	channels := map[repository.Channel]Channel{
		repository.ChannelEmail: &EmailChannel{Brand: "PantryPilot"},
	}
	d := NewDispatcher(channels, failingLog{}, clock.NewMock(now), nil, logger.Nop())

	user := &repository.User{
		ID:    "u1",
		Email: testutil.PtrString("chef@example.com"),
		AlertPreferences: repository.AlertPreferences{
			LowStock: &repository.ChannelSet{Email: true},
		},
	}
	res := d.DispatchTo(context.Background(), lowStockAlert(), user)
	assert.Equal(t, 1, res.Failures)
}
