package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/database"
	apperrors "github.com/pantrypilot/pantrypilot-backend/pkg/errors"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/testutil"
)

func TestPostgresStore_Integration(t *testing.T) {
	db := testutil.NewMigratedDB(t)
	store := repository.NewPostgresStore(database.Wrap(db, logger.Nop()))
	ctx := context.Background()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	t.Run("item unit of work commits ledger and batches", func(t *testing.T) {
		err := store.WithinItemTx(ctx, "flour", func(tx repository.ItemTx) error {
			if err := tx.SaveItem(ctx, &repository.Item{
				ID:                  "flour",
				Name:                "Flour",
				Unit:                "kg",
				QuantityOnHand:      testutil.Dec("10"),
				AverageUnitCost:     testutil.Dec("2.5"),
				TotalInventoryValue: testutil.Dec("25"),
				ReorderPoint:        testutil.Dec("4"),
			}); err != nil {
				return err
			}
			if err := tx.CreateBatch(ctx, &repository.Batch{
				ItemID:       "flour",
				ReceivedQty:  testutil.Dec("6"),
				RemainingQty: testutil.Dec("6"),
				UnitCost:     testutil.Dec("2.5"),
				ExpiryDate:   today.AddDate(0, 0, 2),
				ReceivedAt:   time.Now(),
			}); err != nil {
				return err
			}
			return tx.AppendTransaction(ctx, &repository.Transaction{
				Type:       repository.TxnStockIn,
				ItemID:     "flour",
				Quantity:   testutil.Dec("10"),
				UnitCost:   testutil.Dec("2.5"),
				PricePaid:  decPtr("25"),
				SupplierID: testutil.PtrString("mill"),
				CreatedAt:  time.Now(),
			})
		})
		require.NoError(t, err)

		item, err := store.GetItem(ctx, "flour")
		require.NoError(t, err)
		assert.True(t, item.TotalInventoryValue.Equal(testutil.Dec("25")))
		require.NotNil(t, item.ExpiresAt)

		txns, err := store.ListTransactions(ctx, "flour")
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.Equal(t, "mill", *txns[0].SupplierID)

		next, err := store.NextBatch(ctx, "flour", today)
		require.NoError(t, err)
		require.NotNil(t, next)

		expiring, err := store.ListExpiringBatches(ctx, "", today, today.AddDate(0, 0, 3))
		require.NoError(t, err)
		assert.Len(t, expiring, 1)
	})

	t.Run("failed unit leaves no trace", func(t *testing.T) {
		err := store.WithinItemTx(ctx, "flour", func(tx repository.ItemTx) error {
			item, err := tx.Item(ctx)
			if err != nil {
				return err
			}
			item.QuantityOnHand = testutil.Dec("0")
			if err := tx.SaveItem(ctx, item); err != nil {
				return err
			}
			return apperrors.InsufficientStock("10", "11")
		})
		assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)

		item, err := store.GetItem(ctx, "flour")
		require.NoError(t, err)
		assert.True(t, item.QuantityOnHand.Equal(testutil.Dec("10")))
	})

	t.Run("alert claims are unique per type and key", func(t *testing.T) {
		alert := &repository.AlertRecord{
			Type:      repository.AlertLowStock,
			Severity:  repository.SeverityHigh,
			Title:     "Low stock: Flour",
			Message:   "Flour is at 3 units, below reorder level 4.",
			DedupeKey: "low-stock-flour",
			Metadata:  repository.Metadata{"itemId": "flour"},
			CreatedAt: time.Now(),
		}
		claimed, err := store.ClaimAlert(ctx, alert)
		require.NoError(t, err)
		assert.True(t, claimed)

		dup := *alert
		dup.ID = ""
		claimed, err = store.ClaimAlert(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, claimed)

		n := &repository.Notification{
			AlertID:   alert.ID,
			Type:      alert.Type,
			Severity:  alert.Severity,
			Title:     alert.Title,
			Message:   alert.Message,
			DedupeKey: alert.DedupeKey,
			Metadata:  alert.Metadata,
			UserID:    "u1",
			Channel:   repository.ChannelInApp,
			CreatedAt: time.Now(),
		}
		require.NoError(t, store.CreateNotification(ctx, n))

		again := *n
		again.ID = ""
		assert.ErrorIs(t, store.CreateNotification(ctx, &again), apperrors.ErrDuplicateKey)

		unread, err := store.CountUnread(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, unread)

		read, err := store.MarkRead(ctx, n.ID, time.Now())
		require.NoError(t, err)
		assert.NotNil(t, read.ReadAt)
		assert.Equal(t, "flour", read.Metadata["itemId"])
	})

	t.Run("user preferences round trip", func(t *testing.T) {
		user := &repository.User{
			ID:   "u1",
			Name: "Ana",
			Role: repository.RoleManager,
			AlertPreferences: repository.AlertPreferences{
				DailyDigest: &repository.ChannelSet{Email: true},
			},
		}
		require.NoError(t, store.UpsertUser(ctx, user))

		var wg sync.WaitGroup
		for _, patch := range []repository.AlertPreferences{
			{LowStock: &repository.ChannelSet{InApp: true}},
			{HighWaste: &repository.ChannelSet{SMS: true}},
		} {
			wg.Add(1)
			go func(patch repository.AlertPreferences) {
				defer wg.Done()
				_, err := store.MergePreferences(ctx, "u1", patch)
				assert.NoError(t, err)
			}(patch)
		}
		wg.Wait()

		got, err := store.GetUser(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, got.AlertPreferences.DailyDigest)
		require.NotNil(t, got.AlertPreferences.LowStock)
		assert.True(t, got.AlertPreferences.LowStock.InApp)
		require.NotNil(t, got.AlertPreferences.HighWaste)
		assert.True(t, got.AlertPreferences.HighWaste.SMS)
	})
}

func decPtr(s string) *decimal.Decimal {
	d := testutil.Dec(s)
	return &d
}
