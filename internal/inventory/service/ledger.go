package service

import (
	"context"
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

// CostLedger maintains quantity on hand and weighted-average cost per item
// and records every movement in the transaction log.
type CostLedger struct {
	units     itemUnits
	store     repository.Store
	publisher *events.InventoryEventPublisher
	clock     clock.Clock
	logger    *logger.Logger
}

// NewCostLedger creates a new cost ledger
func NewCostLedger(
	store repository.Store,
	locker lock.Locker,
	publisher *events.InventoryEventPublisher,
	clk clock.Clock,
	log *logger.Logger,
) *CostLedger {
	return &CostLedger{
		units:     itemUnits{store: store, locker: locker},
		store:     store,
		publisher: publisher,
		clock:     clk,
		logger:    log.WithComponent("cost_ledger"),
	}
}

// CreateItemInput describes an item created ahead of its first stock-in.
type CreateItemInput struct {
	ID             string           `json:"id,omitempty"`
	Name           string           `json:"name"`
	Unit           string           `json:"unit"`
	ReorderPoint   decimal.Decimal  `json:"reorder_point"`
	ParLevel       decimal.Decimal  `json:"par_level"`
	WasteThreshold *decimal.Decimal `json:"waste_threshold,omitempty"`
}

// StockInInput is a received delivery of an item.
type StockInInput struct {
	ItemID      string          `json:"item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	PricePaid   decimal.Decimal `json:"price_paid"`
	SupplierID  string          `json:"supplier_id"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	BatchNumber *string         `json:"batch_number,omitempty"`

	// Name and Unit are used when the stock-in creates the item.
	Name string `json:"name,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// StockOutInput removes stock for cooking, waste or spoilage.
type StockOutInput struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason"`
}

// MovementResult is a ledger entry together with the item balance after it.
type MovementResult struct {
	Transaction *repository.Transaction `json:"transaction"`
	Balance     *repository.Item        `json:"balance"`
}

// COGSSummary aggregates the transaction log.
type COGSSummary struct {
	TotalCOGS        decimal.Decimal `json:"total_cogs"`
	StockOutCount    int             `json:"stock_out_count"`
	TransactionCount int             `json:"transaction_count"`
}

// CreateItem registers an item with zero stock
func (l *CostLedger) CreateItem(ctx context.Context, in CreateItemInput) (*repository.Item, error) {
	details := map[string]string{}
	if in.Name == "" {
		details["name"] = "is required"
	}
	if in.ReorderPoint.IsNegative() {
		details["reorder_point"] = "must not be negative"
	}
	if in.ParLevel.IsNegative() {
		details["par_level"] = "must not be negative"
	}
	if in.WasteThreshold != nil && in.WasteThreshold.IsNegative() {
		details["waste_threshold"] = "must not be negative"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Unit == "" {
		in.Unit = "unit"
	}

	now := l.clock.Now()
	item := &repository.Item{
		ID:              in.ID,
		Name:            in.Name,
		Unit:            in.Unit,
		QuantityOnHand:  decimal.Zero,
		AverageUnitCost: decimal.Zero,
		ReorderPoint:    round(in.ReorderPoint),
		ParLevel:        round(in.ParLevel),
		WasteThreshold:  in.WasteThreshold,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := l.units.run(ctx, in.ID, func(tx repository.ItemTx) error {
		existing, err := tx.Item(ctx)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.Conflict("item already exists")
		}
		return tx.SaveItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().Str("item_id", item.ID).Str("name", item.Name).Msg("item created")
	return item, nil
}

// StockIn records a receipt and recomputes the weighted-average unit cost.
// An unknown item ID creates the item.
func (l *CostLedger) StockIn(ctx context.Context, in StockInInput) (*MovementResult, error) {
	details := map[string]string{}
	if in.ItemID == "" {
		details["item_id"] = "is required"
	}
	if !in.Quantity.IsPositive() {
		details["quantity"] = "must be greater than zero"
	}
	if in.PricePaid.IsNegative() {
		details["price_paid"] = "must not be negative"
	}
	if in.SupplierID == "" {
		details["supplier_id"] = "is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	now := l.clock.Now()
	var txn *repository.Transaction
	var item *repository.Item

	err := l.units.run(ctx, in.ItemID, func(tx repository.ItemTx) error {
		var err error
		item, err = tx.Item(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			item = newItem(in.ItemID, in.Name, in.Unit, now)
		}

		applyStockIn(item, in.Quantity, in.PricePaid)
		item.UpdatedAt = now

		pricePaid := round(in.PricePaid)
		supplierID := in.SupplierID
		txn = &repository.Transaction{
			ID:          uuid.New().String(),
			Type:        repository.TxnStockIn,
			ItemID:      in.ItemID,
			Quantity:    round(in.Quantity),
			UnitCost:    round(in.PricePaid.Div(in.Quantity)),
			COGSAmount:  decimal.Zero,
			PricePaid:   &pricePaid,
			SupplierID:  &supplierID,
			ExpiryDate:  dateOnly(in.ExpiryDate),
			BatchNumber: in.BatchNumber,
			CreatedAt:   now,
		}

		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, txn); err != nil {
			return err
		}

		if txn.ExpiryDate == nil {
			return nil
		}
		return tx.CreateBatch(ctx, &repository.Batch{
			ID:           uuid.New().String(),
			ItemID:       in.ItemID,
			BatchNumber:  in.BatchNumber,
			ReceivedQty:  txn.Quantity,
			RemainingQty: txn.Quantity,
			UnitCost:     txn.UnitCost,
			ExpiryDate:   *txn.ExpiryDate,
			ReceivedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithItemID(in.ItemID).Info().
		Str("quantity", txn.Quantity.String()).
		Str("average_unit_cost", item.AverageUnitCost.String()).
		Msg("stock in recorded")
	l.publisher.PublishStockMoved(ctx, txn, item)

	return &MovementResult{Transaction: txn, Balance: item}, nil
}

// StockOut removes stock at the current average cost. The reason is checked
// first, then the item, then the quantity on hand.
func (l *CostLedger) StockOut(ctx context.Context, in StockOutInput) (*MovementResult, error) {
	details := map[string]string{}
	if in.ItemID == "" {
		details["item_id"] = "is required"
	}
	if !in.Quantity.IsPositive() {
		details["quantity"] = "must be greater than zero"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}
	if !validReason(in.Reason) {
		return nil, errors.InvalidReason(in.Reason, repository.StockOutReasons)
	}

	now := l.clock.Now()
	var txn *repository.Transaction
	var item *repository.Item

	err := l.units.run(ctx, in.ItemID, func(tx repository.ItemTx) error {
		var err error
		item, err = tx.Item(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			return errors.UnknownItem(in.ItemID)
		}
		if item.QuantityOnHand.LessThan(in.Quantity) {
			return errors.InsufficientStock(item.QuantityOnHand.String(), in.Quantity.String())
		}

		avgCost := item.AverageUnitCost
		cogs := applyStockOut(item, in.Quantity)
		item.UpdatedAt = now

		reason := in.Reason
		txn = &repository.Transaction{
			ID:         uuid.New().String(),
			Type:       repository.TxnStockOut,
			ItemID:     in.ItemID,
			Quantity:   round(in.Quantity),
			UnitCost:   avgCost,
			COGSAmount: cogs,
			Reason:     &reason,
			CreatedAt:  now,
		}

		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	l.logger.WithItemID(in.ItemID).Info().
		Str("quantity", txn.Quantity.String()).
		Str("reason", in.Reason).
		Str("cogs", txn.COGSAmount.String()).
		Msg("stock out recorded")
	l.publisher.PublishStockMoved(ctx, txn, item)

	return &MovementResult{Transaction: txn, Balance: item}, nil
}

// Balance returns the item with its current quantity, average cost and value
func (l *CostLedger) Balance(ctx context.Context, itemID string) (*repository.Item, error) {
	return l.store.GetItem(ctx, itemID)
}

// ListItems lists all items
func (l *CostLedger) ListItems(ctx context.Context) ([]*repository.Item, error) {
	return l.store.ListItems(ctx)
}

// TransactionHistory returns the transaction log, optionally for one item
func (l *CostLedger) TransactionHistory(ctx context.Context, itemID string) ([]*repository.Transaction, error) {
	return l.store.ListTransactions(ctx, itemID)
}

// COGSSummary totals cost of goods sold over the whole transaction log
func (l *CostLedger) COGSSummary(ctx context.Context) (*COGSSummary, error) {
	txns, err := l.store.ListTransactions(ctx, "")
	if err != nil {
		return nil, err
	}

	summary := &COGSSummary{TotalCOGS: decimal.Zero, TransactionCount: len(txns)}
	for _, txn := range txns {
		if txn.Type != repository.TxnStockOut {
			continue
		}
		summary.StockOutCount++
		summary.TotalCOGS = summary.TotalCOGS.Add(txn.COGSAmount)
	}
	summary.TotalCOGS = round(summary.TotalCOGS)
	return summary, nil
}

func validReason(reason string) bool {
	for _, r := range repository.StockOutReasons {
		if reason == r {
			return true
		}
	}
	return false
}

func newItem(id, name, unit string, now time.Time) *repository.Item {
	if name == "" {
		name = id
	}
	if unit == "" {
		unit = "unit"
	}
	return &repository.Item{
		ID:                  id,
		Name:                name,
		Unit:                unit,
		QuantityOnHand:      decimal.Zero,
		AverageUnitCost:     decimal.Zero,
		TotalInventoryValue: decimal.Zero,
		ReorderPoint:        decimal.Zero,
		ParLevel:            decimal.Zero,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// dateOnly strips the time of day, keeping the calendar date in UTC.
func dateOnly(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	d := clock.StartOfDay(t.UTC())
	return &d
}
