package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/events"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/clock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
	"github.com/pantrypilot/pantrypilot-backend/pkg/lock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// DefaultExpiringDays is the look-ahead used when no window is given.
const DefaultExpiringDays = 3

// BatchAllocator tracks expiry-dated batches and consumes them FIFO.
type BatchAllocator struct {
	units     itemUnits
	store     repository.Store
	publisher *events.InventoryEventPublisher
	clock     clock.Clock
	logger    *logger.Logger
}

// NewBatchAllocator creates a new batch allocator
func NewBatchAllocator(
	store repository.Store,
	locker lock.Locker,
	publisher *events.InventoryEventPublisher,
	clk clock.Clock,
	log *logger.Logger,
) *BatchAllocator {
	return &BatchAllocator{
		units:     itemUnits{store: store, locker: locker},
		store:     store,
		publisher: publisher,
		clock:     clk,
		logger:    log.WithComponent("batch_allocator"),
	}
}

// ReceiveBatchInput is an expiry-dated receipt.
type ReceiveBatchInput struct {
	ItemID      string
	ReceivedQty decimal.Decimal
	UnitCost    decimal.Decimal
	ExpiryDate  time.Time
	BatchNumber *string
	SupplierID  *string
}

// ConsumeInput draws used and wasted quantity from an item's batches.
type ConsumeInput struct {
	ItemID      string
	Quantity    decimal.Decimal
	WasteQty    decimal.Decimal
	WasteReason *string
	UsedDate    *time.Time
}

// ItemExpiry is an item with the batches that expire inside a window.
type ItemExpiry struct {
	*repository.Item
	Batches []*repository.Batch `json:"batches"`
}

// WasteReport summarizes waste caused by expiry.
type WasteReport struct {
	Count              int                      `json:"count"`
	TotalWasteQty      decimal.Decimal          `json:"total_waste_qty"`
	EstimatedWasteCost decimal.Decimal          `json:"estimated_waste_cost"`
	Entries            []*repository.UsageEvent `json:"entries"`
}

// ReceiveBatch creates a batch and books it into the ledger as a stock-in.
// Past expiry dates are accepted.
func (a *BatchAllocator) ReceiveBatch(ctx context.Context, in ReceiveBatchInput) (*repository.Batch, error) {
	details := map[string]string{}
	if in.ItemID == "" {
		details["item_id"] = "is required"
	}
	if !in.ReceivedQty.IsPositive() {
		details["received_qty"] = "must be greater than zero"
	}
	if in.UnitCost.IsNegative() {
		details["unit_cost"] = "must not be negative"
	}
	if in.ExpiryDate.IsZero() {
		details["expiry_date"] = "is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	now := a.clock.Now()
	expiry := dateOnly(&in.ExpiryDate)
	batch := &repository.Batch{
		ID:           uuid.New().String(),
		ItemID:       in.ItemID,
		BatchNumber:  in.BatchNumber,
		ReceivedQty:  round(in.ReceivedQty),
		RemainingQty: round(in.ReceivedQty),
		UnitCost:     round(in.UnitCost),
		ExpiryDate:   *expiry,
		ReceivedAt:   now,
	}
	price := round(in.ReceivedQty.Mul(in.UnitCost))

	var txn *repository.Transaction
	var item *repository.Item
	err := a.units.run(ctx, in.ItemID, func(tx repository.ItemTx) error {
		var err error
		item, err = tx.Item(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			item = newItem(in.ItemID, "", "", now)
		}

		applyStockIn(item, in.ReceivedQty, price)
		item.UpdatedAt = now

		txn = &repository.Transaction{
			ID:          uuid.New().String(),
			Type:        repository.TxnStockIn,
			ItemID:      in.ItemID,
			Quantity:    batch.ReceivedQty,
			UnitCost:    batch.UnitCost,
			COGSAmount:  decimal.Zero,
			PricePaid:   &price,
			SupplierID:  in.SupplierID,
			ExpiryDate:  expiry,
			BatchNumber: in.BatchNumber,
			CreatedAt:   now,
		}

		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	a.logger.WithItemID(in.ItemID).Info().
		Str("batch_id", batch.ID).
		Str("expiry_date", clock.DateKey(batch.ExpiryDate)).
		Msg("batch received")
	a.publisher.PublishBatchReceived(ctx, batch)
	a.publisher.PublishStockMoved(ctx, txn, item)

	return batch, nil
}

// ConsumeFIFO draws quantity+waste from batches ordered by expiry then
// receipt. Either every batch decrement and the item decrement commit, or
// nothing changes.
func (a *BatchAllocator) ConsumeFIFO(ctx context.Context, in ConsumeInput) (*repository.UsageEvent, error) {
	details := map[string]string{}
	if in.ItemID == "" {
		details["item_id"] = "is required"
	}
	if !in.Quantity.IsPositive() {
		details["quantity"] = "must be greater than zero"
	}
	if in.WasteQty.IsNegative() {
		details["waste_qty"] = "must not be negative"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	now := a.clock.Now()
	usedDate := now
	if in.UsedDate != nil && !in.UsedDate.IsZero() {
		usedDate = *in.UsedDate
	}
	total := in.Quantity.Add(in.WasteQty)

	usage := &repository.UsageEvent{
		ID:             uuid.New().String(),
		ItemID:         in.ItemID,
		UsedQty:        round(in.Quantity),
		WasteQty:       round(in.WasteQty),
		WasteReason:    in.WasteReason,
		IsExpiredWaste: isExpiredWaste(in.WasteReason),
		UsedDate:       usedDate,
	}
	var item *repository.Item
	var txns []*repository.Transaction

	err := a.units.run(ctx, in.ItemID, func(tx repository.ItemTx) error {
		var err error
		item, err = tx.Item(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			return errors.UnknownItem(in.ItemID)
		}

		batches, err := tx.Batches(ctx)
		if err != nil {
			return err
		}

		available := decimal.Zero
		for _, b := range batches {
			available = available.Add(b.RemainingQty)
		}
		if available.LessThan(total) {
			return errors.InsufficientBatchStock(available.String(), total.String())
		}
		if item.QuantityOnHand.LessThan(total) {
			return errors.InsufficientStock(item.QuantityOnHand.String(), total.String())
		}

		usage.Allocations = allocateFIFO(batches, total)
		remaining := make(map[string]decimal.Decimal, len(batches))
		for _, b := range batches {
			remaining[b.ID] = b.RemainingQty
		}
		for _, alloc := range usage.Allocations {
			left := round(remaining[alloc.BatchID].Sub(alloc.Quantity))
			if err := tx.UpdateBatchRemaining(ctx, alloc.BatchID, left); err != nil {
				return err
			}
		}

		avgCost := item.AverageUnitCost
		txns = append(txns, stockOutTxn(in.ItemID, in.Quantity, avgCost, applyStockOut(item, in.Quantity), repository.ReasonCooking, now))
		if in.WasteQty.IsPositive() {
			txns = append(txns, stockOutTxn(in.ItemID, in.WasteQty, avgCost, applyStockOut(item, in.WasteQty), repository.ReasonWaste, now))
		}
		item.UpdatedAt = now

		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		for _, txn := range txns {
			if err := tx.AppendTransaction(ctx, txn); err != nil {
				return err
			}
		}
		return tx.AppendUsage(ctx, usage)
	})
	if err != nil {
		return nil, err
	}

	a.logger.WithItemID(in.ItemID).Info().
		Str("used_qty", usage.UsedQty.String()).
		Str("waste_qty", usage.WasteQty.String()).
		Int("batches", len(usage.Allocations)).
		Msg("fifo consumption applied")
	a.publisher.PublishBatchConsumed(ctx, usage)
	for _, txn := range txns {
		a.publisher.PublishStockMoved(ctx, txn, item)
	}

	return usage, nil
}

// NextBatch previews the batch FIFO would draw from next, skipping batches
// that expired before today. It returns nil when there is none.
func (a *BatchAllocator) NextBatch(ctx context.Context, itemID string) (*repository.Batch, error) {
	return a.store.NextBatch(ctx, itemID, clock.StartOfDay(a.clock.Now()))
}

// ExpiringSoon lists items with stock expiring between the start of today and
// the start of today plus days, inclusive. days=0 means today only. An empty
// itemID covers every item.
func (a *BatchAllocator) ExpiringSoon(ctx context.Context, itemID string, days int) ([]*ItemExpiry, error) {
	if days < 0 {
		return nil, errors.Validation(map[string]string{"days": "must not be negative"})
	}

	from := clock.StartOfDay(a.clock.Now())
	to := from.AddDate(0, 0, days)

	batches, err := a.store.ListExpiringBatches(ctx, itemID, from, to)
	if err != nil {
		return nil, err
	}

	var result []*ItemExpiry
	byItem := make(map[string]*ItemExpiry)
	for _, b := range batches {
		entry, ok := byItem[b.ItemID]
		if !ok {
			item, err := a.store.GetItem(ctx, b.ItemID)
			if err != nil {
				return nil, err
			}
			entry = &ItemExpiry{Item: item}
			byItem[b.ItemID] = entry
			result = append(result, entry)
		}
		entry.Batches = append(entry.Batches, b)
	}
	return result, nil
}

// WasteReport lists usage events flagged as expired waste with their
// estimated cost at each item's current average cost.
func (a *BatchAllocator) WasteReport(ctx context.Context) (*WasteReport, error) {
	entries, err := a.store.ListUsageEvents(ctx, repository.UsageFilter{ExpiredOnly: true})
	if err != nil {
		return nil, err
	}

	report := &WasteReport{
		Count:              len(entries),
		TotalWasteQty:      decimal.Zero,
		EstimatedWasteCost: decimal.Zero,
		Entries:            entries,
	}
	if report.Entries == nil {
		report.Entries = []*repository.UsageEvent{}
	}

	costs := make(map[string]decimal.Decimal)
	for _, e := range entries {
		cost, ok := costs[e.ItemID]
		if !ok {
			item, err := a.store.GetItem(ctx, e.ItemID)
			if err != nil && !errors.Is(err, errors.ErrNotFound) {
				return nil, err
			}
			if item != nil {
				cost = item.AverageUnitCost
			}
			costs[e.ItemID] = cost
		}
		report.TotalWasteQty = report.TotalWasteQty.Add(e.WasteQty)
		report.EstimatedWasteCost = report.EstimatedWasteCost.Add(e.WasteQty.Mul(cost))
	}
	report.TotalWasteQty = round(report.TotalWasteQty)
	report.EstimatedWasteCost = round(report.EstimatedWasteCost)
	return report, nil
}

// allocateFIFO walks batches in order, taking min(remaining, still needed)
// from each until total is covered. Callers check availability first.
func allocateFIFO(batches []*repository.Batch, total decimal.Decimal) []repository.Allocation {
	var allocations []repository.Allocation
	needed := total
	for _, b := range batches {
		if !needed.IsPositive() {
			break
		}
		take := decimal.Min(b.RemainingQty, needed)
		if !take.IsPositive() {
			continue
		}
		allocations = append(allocations, repository.Allocation{BatchID: b.ID, Quantity: round(take)})
		needed = needed.Sub(take)
	}
	return allocations
}

func isExpiredWaste(reason *string) bool {
	return reason != nil && strings.Contains(strings.ToLower(*reason), "expired")
}

func stockOutTxn(itemID string, qty, unitCost, cogs decimal.Decimal, reason string, at time.Time) *repository.Transaction {
	return &repository.Transaction{
		ID:         uuid.New().String(),
		Type:       repository.TxnStockOut,
		ItemID:     itemID,
		Quantity:   round(qty),
		UnitCost:   unitCost,
		COGSAmount: cogs,
		Reason:     &reason,
		CreatedAt:  at,
	}
}
