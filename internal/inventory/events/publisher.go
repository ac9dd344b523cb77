package events

import (
	"context"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/messaging"
)

// Publisher sends a typed event. *messaging.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// InventoryEventPublisher publishes inventory-related events. A nil
// publisher is valid and drops every event.
type InventoryEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher creates a new inventory event publisher
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "inventory-service", log)
	if err != nil {
		return nil, err
	}

	return NewPublisherWith(publisher, log), nil
}

// NewPublisherWith wraps an existing publisher
func NewPublisherWith(publisher Publisher, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishStockMoved publishes a stock in or stock out event
func (p *InventoryEventPublisher) PublishStockMoved(ctx context.Context, txn *repository.Transaction, item *repository.Item) {
	if p == nil {
		return
	}

	data := messaging.StockMovedEvent{
		TransactionID:  txn.ID,
		ItemID:         txn.ItemID,
		Quantity:       txn.Quantity,
		UnitCost:       txn.UnitCost,
		COGSAmount:     txn.COGSAmount,
		QuantityOnHand: item.QuantityOnHand,
		AverageCost:    item.AverageUnitCost,
	}
	if txn.Reason != nil {
		data.Reason = *txn.Reason
	}
	if txn.SupplierID != nil {
		data.SupplierID = *txn.SupplierID
	}

	eventType := messaging.EventStockIn
	if txn.Type == repository.TxnStockOut {
		eventType = messaging.EventStockOut
	}

	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", txn.ItemID).Msg("failed to publish stock moved event")
	}
}

// PublishBatchReceived publishes a batch received event
func (p *InventoryEventPublisher) PublishBatchReceived(ctx context.Context, batch *repository.Batch) {
	if p == nil {
		return
	}

	data := messaging.BatchReceivedEvent{
		BatchID:     batch.ID,
		ItemID:      batch.ItemID,
		ReceivedQty: batch.ReceivedQty,
		UnitCost:    batch.UnitCost,
		ExpiryDate:  batch.ExpiryDate,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchReceived, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch received event")
	}
}

// PublishBatchConsumed publishes a FIFO consumption event
func (p *InventoryEventPublisher) PublishBatchConsumed(ctx context.Context, usage *repository.UsageEvent) {
	if p == nil {
		return
	}

	batchIDs := make([]string, 0, len(usage.Allocations))
	for _, a := range usage.Allocations {
		batchIDs = append(batchIDs, a.BatchID)
	}

	data := messaging.BatchConsumedEvent{
		UsageEventID:   usage.ID,
		ItemID:         usage.ItemID,
		UsedQty:        usage.UsedQty,
		WasteQty:       usage.WasteQty,
		IsExpiredWaste: usage.IsExpiredWaste,
		BatchIDs:       batchIDs,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchConsumed, data); err != nil {
		p.logger.Error().Err(err).Str("item_id", usage.ItemID).Msg("failed to publish batch consumed event")
	}
}

// PublishAlertGenerated publishes an alert generated event
func (p *InventoryEventPublisher) PublishAlertGenerated(ctx context.Context, alert *repository.AlertRecord) {
	if p == nil {
		return
	}

	data := messaging.AlertGeneratedEvent{
		AlertType: string(alert.Type),
		Severity:  string(alert.Severity),
		Title:     alert.Title,
		Message:   alert.Message,
		DedupeKey: alert.DedupeKey,
		Metadata:  alert.Metadata,
	}

	if err := p.publisher.Publish(ctx, messaging.EventAlertGenerated, data); err != nil {
		p.logger.Error().Err(err).Str("dedupe_key", alert.DedupeKey).Msg("failed to publish alert generated event")
	}
}
