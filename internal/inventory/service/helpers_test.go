package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/notify"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/service"
	"github.com/pantrypilot/pantrypilot-backend/pkg/clock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/lock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/testutil"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store         *repository.MemoryStore
	clock         *clock.Mock
	ledger        *service.CostLedger
	batches       *service.BatchAllocator
	variance      *service.VarianceService
	deliveries    *service.DeliveryService
	notifications *service.NotificationService
	engine        *service.AlertSweepEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	clk := clock.NewMock(testNow)
	log := logger.Nop()
	locker := lock.NewLocalLocker()

	return &fixture{
		store:         store,
		clock:         clk,
		ledger:        service.NewCostLedger(store, locker, nil, clk, log),
		batches:       service.NewBatchAllocator(store, locker, nil, clk, log),
		variance:      service.NewVarianceService(store, store, clk, log),
		deliveries:    service.NewDeliveryService(store, clk, log),
		notifications: service.NewNotificationService(store, store, clk, log),
		engine:        newEngine(store, store, clk),
	}
}

func newEngine(store *repository.MemoryStore, signals repository.SignalStore, clk clock.Clock) *service.AlertSweepEngine {
	return newEngineWithItems(store, signals, store, clk)
}

// newEngineWithItems reads items through items and keeps the notification
// side on store.
func newEngineWithItems(items repository.Store, signals repository.SignalStore, store *repository.MemoryStore, clk clock.Clock) *service.AlertSweepEngine {
	log := logger.Nop()
	channels := map[repository.Channel]notify.Channel{
		repository.ChannelEmail: &notify.EmailChannel{Brand: "PantryPilot"},
		repository.ChannelSMS:   notify.SMSChannel{},
		repository.ChannelInApp: &notify.InAppChannel{Store: store},
		repository.ChannelChat:  &notify.ChatChannel{},
	}
	dispatcher := notify.NewDispatcher(channels, store, clk, nil, log)
	return service.NewAlertSweepEngine(
		items, signals, store, store, dispatcher, nil,
		service.DefaultThresholds(), clk, nil, log,
	)
}

func inAppAll() *repository.ChannelSet {
	return &repository.ChannelSet{InApp: true}
}

// addManager registers a manager subscribed in-app to every alert type.
func (f *fixture) addManager(t *testing.T, id string) *repository.User {
	t.Helper()
	user := &repository.User{
		ID:    id,
		Name:  "Manager " + id,
		Email: testutil.PtrString(id + "@example.com"),
		Role:  repository.RoleManager,
		AlertPreferences: repository.AlertPreferences{
			LowStock:            inAppAll(),
			ExpiringSoon:        inAppAll(),
			InventoryVariance:   inAppAll(),
			HighWaste:           inAppAll(),
			SupplierDeliveryDue: inAppAll(),
			DailyDigest:         &repository.ChannelSet{InApp: true, Email: true},
		},
	}
	require.NoError(t, f.store.UpsertUser(context.Background(), user))
	return user
}

func (f *fixture) stockIn(t *testing.T, itemID string, qty, price string) *service.MovementResult {
	t.Helper()
	res, err := f.ledger.StockIn(context.Background(), service.StockInInput{
		ItemID:     itemID,
		Quantity:   testutil.Dec(qty),
		PricePaid:  testutil.Dec(price),
		SupplierID: "S1",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) receive(t *testing.T, itemID, qty string, expiry time.Time) *repository.Batch {
	t.Helper()
	batch, err := f.batches.ReceiveBatch(context.Background(), service.ReceiveBatchInput{
		ItemID:      itemID,
		ReceivedQty: testutil.Dec(qty),
		UnitCost:    testutil.Dec("2"),
		ExpiryDate:  expiry,
	})
	require.NoError(t, err)
	return batch
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, testutil.Dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func decPtr(s string) *decimal.Decimal {
	d := testutil.Dec(s)
	return &d
}

func testLogger() *logger.Logger {
	return logger.Nop()
}
