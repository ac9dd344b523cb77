package service_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/service"
	"github.com/pantrypilot/pantrypilot-backend/pkg/testutil"
)

// seedAlertState creates one trigger for every sweep rule.
func seedAlertState(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	_, err := f.ledger.CreateItem(ctx, service.CreateItemInput{ID: "flour", Name: "Flour", ReorderPoint: testutil.Dec("5")})
	require.NoError(t, err)
	f.stockIn(t, "flour", "3", "6")

	f.receive(t, "milk", "10", day(2026, 3, 12))
	_, err = f.batches.ConsumeFIFO(ctx, service.ConsumeInput{
		ItemID: "milk", Quantity: testutil.Dec("1"), WasteQty: testutil.Dec("3"), WasteReason: testutil.PtrString("spilled"),
	})
	require.NoError(t, err)

	_, err = f.variance.RecordCount(ctx, "milk", testutil.Dec("9"))
	require.NoError(t, err)

	_, err = f.deliveries.Schedule(ctx, "Acme Produce", testNow.Add(12*time.Hour))
	require.NoError(t, err)
	_, err = f.deliveries.Schedule(ctx, "Later Farms", testNow.Add(72*time.Hour))
	require.NoError(t, err)
	received, err := f.deliveries.Schedule(ctx, "Done Dairy", testNow.Add(time.Hour))
	require.NoError(t, err)
	_, err = f.deliveries.MarkReceived(ctx, received.ID)
	require.NoError(t, err)
}

func notificationMessages(t *testing.T, f *fixture, userID string) map[repository.AlertType]string {
	t.Helper()
	list, err := f.notifications.List(context.Background(), userID)
	require.NoError(t, err)

	out := make(map[repository.AlertType]string, len(list.Notifications))
	for _, n := range list.Notifications {
		out[n.Type] = n.Message
	}
	return out
}

func TestAlertSweepEngine_RunGeneratesEveryRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")
	seedAlertState(t, f)

	res, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, &service.SweepResult{Generated: 5, Dispatched: 5}, res)

	msgs := notificationMessages(t, f, "u1")
	assert.Equal(t, map[repository.AlertType]string{
		repository.AlertLowStock:            "Flour is at 3 units, below reorder level 5.",
		repository.AlertExpiringSoon:        "milk expires on 2026-03-12 (within 3 days).",
		repository.AlertInventoryVariance:   "milk variance is 50% (threshold: 10%).",
		repository.AlertHighWaste:           "milk waste 3 exceeds threshold 2.",
		repository.AlertSupplierDeliveryDue: "Acme Produce delivery is due 2026-03-10.",
	}, msgs)
}

func TestAlertSweepEngine_SecondRunIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")
	seedAlertState(t, f)

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Generated)
	assert.Equal(t, 0, res.Dispatched)
	assert.Equal(t, 5, res.SkippedAsDuplicate)

	unread, err := f.store.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, unread)
}

func TestAlertSweepEngine_DedupIgnoresReadState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")
	seedAlertState(t, f)

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)

	list, err := f.notifications.List(ctx, "u1")
	require.NoError(t, err)
	for _, n := range list.Notifications {
		_, err := f.notifications.MarkRead(ctx, n.ID)
		require.NoError(t, err)
	}

	res, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Dispatched)
}

func TestAlertSweepEngine_DefaultDenyStillClaims(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.UpsertUser(ctx, &repository.User{ID: "cook", Role: repository.RoleStaff}))
	seedAlertState(t, f)

	res, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Dispatched)

	list, err := f.notifications.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list.Notifications)

	entries, err := f.notifications.DeliveryLog(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAlertSweepEngine_ChannelFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.UpsertUser(ctx, &repository.User{
		ID:   "owner",
		Role: repository.RoleAdmin,
		AlertPreferences: repository.AlertPreferences{
			LowStock: &repository.ChannelSet{SMS: true, InApp: true},
		},
	}))
	_, err := f.ledger.CreateItem(ctx, service.CreateItemInput{ID: "flour", Name: "Flour", ReorderPoint: testutil.Dec("5")})
	require.NoError(t, err)

	res, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, res.DeliveryFailures)

	unread, err := f.store.CountUnread(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

type failingSignals struct {
	repository.SignalStore
}

func (failingSignals) ListVarianceEvents(context.Context) ([]*repository.VarianceEvent, error) {
	return nil, fmt.Errorf("variance table unavailable")
}

func TestAlertSweepEngine_ScannerFailureDoesNotAbortSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")
	seedAlertState(t, f)

	engine := newEngine(f.store, failingSignals{f.store}, f.clock)
	res, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ScanErrors)
	assert.Equal(t, 4, res.Dispatched)
}

func TestAlertSweepEngine_VarianceAlertsOnOverageOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")
	f.stockIn(t, "beef", "100", "500")
	f.stockIn(t, "rice", "100", "80")

	short, err := f.variance.RecordCount(ctx, "beef", testutil.Dec("85"))
	require.NoError(t, err)
	assertDec(t, "-15", *short.VariancePercent)
	over, err := f.variance.RecordCount(ctx, "rice", testutil.Dec("115"))
	require.NoError(t, err)
	assertDec(t, "15", *over.VariancePercent)

	res, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.Equal(t, 1, res.Dispatched)

	list, err := f.notifications.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, "variance-"+over.ID, list.Notifications[0].DedupeKey)
	assert.Equal(t, "rice variance is 15% (threshold: 10%).", list.Notifications[0].Message)
}

type failingItemLookups struct {
	repository.Store
}

func (failingItemLookups) GetItem(context.Context, string) (*repository.Item, error) {
	return nil, fmt.Errorf("item table unavailable")
}

func TestAlertSweepEngine_ItemLookupFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")
	f.receive(t, "milk", "10", day(2026, 3, 11))
	_, err := f.batches.ConsumeFIFO(ctx, service.ConsumeInput{ItemID: "milk", Quantity: testutil.Dec("1"), WasteQty: testutil.Dec("3")})
	require.NoError(t, err)

	engine := newEngineWithItems(failingItemLookups{f.store}, f.store, f.store, f.clock)

	sweep, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.ScanErrors)
	assert.Equal(t, 2, sweep.Dispatched)

	check, err := engine.ExpireCheck(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, check.ScanErrors)
	assert.Equal(t, 0, check.Generated)
}

func TestAlertSweepEngine_ItemWasteThresholdOverridesDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")

	_, err := f.ledger.CreateItem(ctx, service.CreateItemInput{ID: "saffron", Name: "Saffron", WasteThreshold: decPtr("0.5")})
	require.NoError(t, err)
	f.receive(t, "saffron", "5", day(2026, 6, 1))
	_, err = f.batches.ConsumeFIFO(ctx, service.ConsumeInput{ItemID: "saffron", Quantity: testutil.Dec("1"), WasteQty: testutil.Dec("1")})
	require.NoError(t, err)

	res, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)

	msgs := notificationMessages(t, f, "u1")
	assert.Equal(t, "Saffron waste 1 exceeds threshold 0.5.", msgs[repository.AlertHighWaste])
}

func TestAlertSweepEngine_ExpireCheckSharesDedupWithSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")
	f.receive(t, "milk", "4", day(2026, 3, 11))
	f.receive(t, "cream", "4", day(2026, 3, 30))

	res, err := f.engine.ExpireCheck(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.Equal(t, 1, res.Dispatched)

	sweep, err := f.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Generated)
	assert.Equal(t, 1, sweep.SkippedAsDuplicate)

	again, err := f.engine.ExpireCheck(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Dispatched)
}

func TestAlertSweepEngine_DailyDigest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")
	f.addManager(t, "u2")
	require.NoError(t, f.store.UpsertUser(ctx, &repository.User{
		ID:               "cook",
		Role:             repository.RoleStaff,
		AlertPreferences: repository.AlertPreferences{DailyDigest: &repository.ChannelSet{InApp: true}},
	}))
	seedAlertState(t, f)

	_, err := f.engine.Run(ctx)
	require.NoError(t, err)

	u2List, err := f.notifications.List(ctx, "u2")
	require.NoError(t, err)
	for _, n := range u2List.Notifications[:3] {
		_, err := f.notifications.MarkRead(ctx, n.ID)
		require.NoError(t, err)
	}

	first, err := f.engine.SendDailyDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Recipients)
	assert.Equal(t, 2, first.Dispatched)
	assert.Equal(t, 0, first.SkippedAsDuplicate)
	assert.Equal(t, 7, first.UnreadCount)
	assert.Equal(t, "2026-03-10", first.Date)

	want := "You have 7 unread notifications. Open PantryPilot to review low stock, expiry, variance, waste, and deliveries."
	assert.Equal(t, want, notificationMessages(t, f, "u1")[repository.AlertDailyDigest])
	assert.Equal(t, want, notificationMessages(t, f, "u2")[repository.AlertDailyDigest])

	f.clock.Advance(6 * time.Hour)
	sameDay, err := f.engine.SendDailyDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sameDay.Dispatched)
	assert.Equal(t, 2, sameDay.SkippedAsDuplicate)

	f.clock.Set(testNow.AddDate(0, 0, 1))
	nextDay, err := f.engine.SendDailyDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, nextDay.Dispatched)
	assert.Equal(t, "2026-03-11", nextDay.Date)

	list, err := f.notifications.List(ctx, "u1")
	require.NoError(t, err)
	var digests []string
	for _, n := range list.Notifications {
		if n.Type == repository.AlertDailyDigest {
			digests = append(digests, n.DedupeKey)
		}
	}
	sort.Strings(digests)
	assert.Equal(t, []string{"digest-u1-2026-03-10", "digest-u1-2026-03-11"}, digests)

	cookList, err := f.notifications.List(ctx, "cook")
	require.NoError(t, err)
	assert.Empty(t, cookList.Notifications)
}

func TestAlertScheduler_RunsSweepAndDigest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addManager(t, "u1")
	seedAlertState(t, f)

	scheduler := service.NewAlertScheduler(f.engine, time.Hour, time.Hour, testLogger())
	scheduler.Start(ctx)

	testutil.RequireEventually(t, func() bool {
		list, err := f.notifications.List(ctx, "u1")
		if err != nil {
			return false
		}
		var sawDigest, sawLowStock bool
		for _, n := range list.Notifications {
			sawDigest = sawDigest || n.Type == repository.AlertDailyDigest
			sawLowStock = sawLowStock || n.Type == repository.AlertLowStock
		}
		return sawDigest && sawLowStock
	}, 2*time.Second, 10*time.Millisecond, "scheduler did not run initial sweep and digest")

	scheduler.Stop()
}
