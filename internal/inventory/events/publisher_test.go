package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/messaging"
	"github.com/pantrypilot/pantrypilot-backend/pkg/testutil"
)

func TestInventoryEventPublisher_NilIsNoop(t *testing.T) {
	var p *InventoryEventPublisher
	ctx := context.Background()

	assert.NotPanics(t, func() {
		p.PublishStockMoved(ctx, &repository.Transaction{}, &repository.Item{})
		p.PublishBatchReceived(ctx, &repository.Batch{})
		p.PublishBatchConsumed(ctx, &repository.UsageEvent{})
		p.PublishAlertGenerated(ctx, &repository.AlertRecord{})
	})
}

func TestInventoryEventPublisher_PublishStockMoved(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := NewPublisherWith(mock, logger.Nop())
	reason := repository.ReasonWaste

	p.PublishStockMoved(context.Background(), &repository.Transaction{
		ID:         "t1",
		Type:       repository.TxnStockOut,
		ItemID:     "flour",
		Quantity:   testutil.Dec("2"),
		COGSAmount: testutil.Dec("5"),
		Reason:     &reason,
	}, &repository.Item{QuantityOnHand: testutil.Dec("8"), AverageUnitCost: testutil.Dec("2.5")})

	published := mock.Events(messaging.EventStockOut)
	require.Len(t, published, 1)
	data := published[0].Payload.(messaging.StockMovedEvent)
	assert.Equal(t, "waste", data.Reason)
	assert.True(t, data.QuantityOnHand.Equal(testutil.Dec("8")))
	assert.Empty(t, mock.Events(messaging.EventStockIn))
}

func TestInventoryEventPublisher_PublishBatchConsumed(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := NewPublisherWith(mock, logger.Nop())

	p.PublishBatchConsumed(context.Background(), &repository.UsageEvent{
		ID:       "u1",
		ItemID:   "milk",
		UsedQty:  testutil.Dec("3"),
		UsedDate: time.Now(),
		Allocations: []repository.Allocation{
			{BatchID: "b1", Quantity: testutil.Dec("2")},
			{BatchID: "b2", Quantity: testutil.Dec("1")},
		},
	})

	published := mock.Events(messaging.EventBatchConsumed)
	require.Len(t, published, 1)
	assert.Equal(t, []string{"b1", "b2"}, published[0].Payload.(messaging.BatchConsumedEvent).BatchIDs)
}

func TestInventoryEventPublisher_PublishErrorIsSwallowed(t *testing.T) {
	mock := testutil.NewMockPublisher()
	mock.Err = fmt.Errorf("channel closed")
	p := NewPublisherWith(mock, logger.Nop())

	assert.NotPanics(t, func() {
		p.PublishAlertGenerated(context.Background(), &repository.AlertRecord{
			Type:      repository.AlertLowStock,
			DedupeKey: "low-stock-flour",
		})
	})
	mock.AssertNoEventsPublished(t)
}

func TestInventoryEventPublisher_PublishAlertGenerated(t *testing.T) {
	mock := testutil.NewMockPublisher()
	p := NewPublisherWith(mock, logger.Nop())

	p.PublishAlertGenerated(context.Background(), &repository.AlertRecord{
		Type:      repository.AlertExpiringSoon,
		Severity:  repository.SeverityMedium,
		DedupeKey: "expiring-milk",
		Metadata:  repository.Metadata{"itemId": "milk"},
	})

	mock.AssertEventPublished(t, messaging.EventAlertGenerated)
	data := mock.Events(messaging.EventAlertGenerated)[0].Payload.(messaging.AlertGeneratedEvent)
	assert.Equal(t, "expiringSoon", data.AlertType)
	assert.Equal(t, "expiring-milk", data.DedupeKey)
	assert.Equal(t, "milk", data.Metadata["itemId"])
}
