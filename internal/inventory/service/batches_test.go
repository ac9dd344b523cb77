package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/service"
	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
	"github.com/pantrypilot/pantrypilot-backend/pkg/testutil"
)

func remainingByID(t *testing.T, f *fixture, itemID string) map[string]decimal.Decimal {
	t.Helper()
	batches, err := f.store.ListBatches(context.Background(), itemID)
	require.NoError(t, err)

	out := make(map[string]decimal.Decimal, len(batches))
	for _, b := range batches {
		out[b.ID] = b.RemainingQty
	}
	return out
}

func TestBatchAllocator_ConsumeFIFO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b2 := f.receive(t, "cream", "5", day(2026, 1, 5))
	b1 := f.receive(t, "cream", "5", day(2026, 1, 1))

	usage, err := f.batches.ConsumeFIFO(ctx, service.ConsumeInput{ItemID: "cream", Quantity: testutil.Dec("7")})
	require.NoError(t, err)

	require.Len(t, usage.Allocations, 2)
	assert.Equal(t, b1.ID, usage.Allocations[0].BatchID)
	assertDec(t, "5", usage.Allocations[0].Quantity)
	assert.Equal(t, b2.ID, usage.Allocations[1].BatchID)
	assertDec(t, "2", usage.Allocations[1].Quantity)

	remaining := remainingByID(t, f, "cream")
	assertDec(t, "0", remaining[b1.ID])
	assertDec(t, "3", remaining[b2.ID])

	item, err := f.ledger.Balance(ctx, "cream")
	require.NoError(t, err)
	assertDec(t, "3", item.QuantityOnHand)
}

func TestBatchAllocator_ConsumeFIFOTiesBreakOnReceipt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.receive(t, "eggs", "2", day(2026, 4, 1))
	f.clock.Advance(1)
	second := f.receive(t, "eggs", "2", day(2026, 4, 1))

	usage, err := f.batches.ConsumeFIFO(ctx, service.ConsumeInput{ItemID: "eggs", Quantity: testutil.Dec("3")})
	require.NoError(t, err)
	require.Len(t, usage.Allocations, 2)
	assert.Equal(t, first.ID, usage.Allocations[0].BatchID)
	assert.Equal(t, second.ID, usage.Allocations[1].BatchID)
}

func TestBatchAllocator_InsufficientBatchStockIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b1 := f.receive(t, "cream", "5", day(2026, 1, 1))
	b2 := f.receive(t, "cream", "2", day(2026, 1, 5))

	_, err := f.batches.ConsumeFIFO(ctx, service.ConsumeInput{ItemID: "cream", Quantity: testutil.Dec("20")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientBatchStock))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "7", appErr.Details["available"])
	assert.Equal(t, "20", appErr.Details["requested"])

	remaining := remainingByID(t, f, "cream")
	assertDec(t, "5", remaining[b1.ID])
	assertDec(t, "2", remaining[b2.ID])

	item, err := f.ledger.Balance(ctx, "cream")
	require.NoError(t, err)
	assertDec(t, "7", item.QuantityOnHand)

	usage, err := f.store.ListUsageEvents(ctx, repository.UsageFilter{ItemID: "cream"})
	require.NoError(t, err)
	assert.Empty(t, usage)
}

func TestBatchAllocator_ConsumeChecksLedgerQuantity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.receive(t, "cream", "5", day(2026, 1, 1))
	_, err := f.ledger.StockOut(ctx, service.StockOutInput{ItemID: "cream", Quantity: testutil.Dec("4"), Reason: "spoilage"})
	require.NoError(t, err)

	_, err = f.batches.ConsumeFIFO(ctx, service.ConsumeInput{ItemID: "cream", Quantity: testutil.Dec("3")})
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	_, err = f.batches.ConsumeFIFO(ctx, service.ConsumeInput{ItemID: "ghost", Quantity: testutil.Dec("1")})
	assert.True(t, errors.Is(err, errors.ErrUnknownItem))
}

func TestBatchAllocator_ConsumeRecordsCookingAndWaste(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.receive(t, "basil", "10", day(2026, 3, 11))

	usage, err := f.batches.ConsumeFIFO(ctx, service.ConsumeInput{
		ItemID:      "basil",
		Quantity:    testutil.Dec("2"),
		WasteQty:    testutil.Dec("3"),
		WasteReason: testutil.PtrString("Expired on shelf"),
	})
	require.NoError(t, err)
	assert.True(t, usage.IsExpiredWaste)
	assert.Equal(t, testNow, usage.UsedDate)

	txns, err := f.ledger.TransactionHistory(ctx, "basil")
	require.NoError(t, err)
	require.Len(t, txns, 3)

	assert.Equal(t, repository.TxnStockIn, txns[0].Type)
	assert.Equal(t, repository.ReasonCooking, *txns[1].Reason)
	assertDec(t, "2", txns[1].Quantity)
	assertDec(t, "4", txns[1].COGSAmount)
	assert.Equal(t, repository.ReasonWaste, *txns[2].Reason)
	assertDec(t, "3", txns[2].Quantity)

	item, err := f.ledger.Balance(ctx, "basil")
	require.NoError(t, err)
	assertDec(t, "5", item.QuantityOnHand)

	sum := decimal.Zero
	for _, txn := range txns {
		sum = sum.Add(txn.SignedQuantity())
	}
	assertDec(t, "5", sum)
}

func TestBatchAllocator_ReceiveBatchValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.batches.ReceiveBatch(ctx, service.ReceiveBatchInput{ItemID: "x", ReceivedQty: decimal.Zero, ExpiryDate: testNow})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = f.batches.ReceiveBatch(ctx, service.ReceiveBatchInput{ItemID: "x", ReceivedQty: testutil.Dec("1")})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = f.batches.ConsumeFIFO(ctx, service.ConsumeInput{ItemID: "x", Quantity: testutil.Dec("1"), WasteQty: testutil.Dec("-1")})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestBatchAllocator_NextBatchSkipsExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.receive(t, "yogurt", "3", day(2026, 3, 9))
	today := f.receive(t, "yogurt", "3", day(2026, 3, 10))
	f.receive(t, "yogurt", "3", day(2026, 3, 20))

	next, err := f.batches.NextBatch(ctx, "yogurt")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, today.ID, next.ID)

	none, err := f.batches.NextBatch(ctx, "nothing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestBatchAllocator_ExpiringSoon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.receive(t, "milk", "1", day(2026, 3, 9))
	f.receive(t, "milk", "1", day(2026, 3, 10))
	f.receive(t, "milk", "1", day(2026, 3, 13))
	f.receive(t, "milk", "1", day(2026, 3, 14))
	f.receive(t, "cheese", "1", day(2026, 3, 12))

	t.Run("today only", func(t *testing.T) {
		got, err := f.batches.ExpiringSoon(ctx, "", 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "milk", got[0].ID)
		require.Len(t, got[0].Batches, 1)
		assert.Equal(t, day(2026, 3, 10), got[0].Batches[0].ExpiryDate)
	})

	t.Run("inclusive window", func(t *testing.T) {
		got, err := f.batches.ExpiringSoon(ctx, "", 3)
		require.NoError(t, err)
		require.Len(t, got, 2)

		byItem := map[string]int{}
		for _, e := range got {
			byItem[e.ID] = len(e.Batches)
		}
		assert.Equal(t, map[string]int{"milk": 2, "cheese": 1}, byItem)
	})

	t.Run("single item", func(t *testing.T) {
		got, err := f.batches.ExpiringSoon(ctx, "cheese", 3)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "cheese", got[0].ID)
	})

	t.Run("negative days", func(t *testing.T) {
		_, err := f.batches.ExpiringSoon(ctx, "", -1)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})
}

func TestBatchAllocator_WasteReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.receive(t, "basil", "10", day(2026, 3, 11))
	_, err := f.batches.ConsumeFIFO(ctx, service.ConsumeInput{
		ItemID: "basil", Quantity: testutil.Dec("1"), WasteQty: testutil.Dec("3"), WasteReason: testutil.PtrString("expired"),
	})
	require.NoError(t, err)
	_, err = f.batches.ConsumeFIFO(ctx, service.ConsumeInput{
		ItemID: "basil", Quantity: testutil.Dec("1"), WasteQty: testutil.Dec("1"), WasteReason: testutil.PtrString("dropped"),
	})
	require.NoError(t, err)

	report, err := f.batches.WasteReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count)
	assertDec(t, "3", report.TotalWasteQty)
	assertDec(t, "6", report.EstimatedWasteCost)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, "basil", report.Entries[0].ItemName)
}
