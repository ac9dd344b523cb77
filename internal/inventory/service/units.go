package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/lock"
)

// scale is the number of decimal places kept on every stored quantity and amount.
const scale = 4

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(scale)
}

// itemUnits runs item mutations inside the item's critical section and the
// store's atomic unit, in that order.
type itemUnits struct {
	store  repository.Store
	locker lock.Locker
}

func (u itemUnits) run(ctx context.Context, itemID string, fn func(repository.ItemTx) error) error {
	release, err := u.locker.Acquire(ctx, lock.ItemKey(itemID))
	if err != nil {
		return err
	}
	defer release()

	return u.store.WithinItemTx(ctx, itemID, fn)
}

// applyStockIn folds a receipt into the item's weighted-average cost basis.
func applyStockIn(item *repository.Item, qty, pricePaid decimal.Decimal) {
	oldValue := item.QuantityOnHand.Mul(item.AverageUnitCost)
	newQty := item.QuantityOnHand.Add(qty)

	item.AverageUnitCost = round(oldValue.Add(pricePaid).Div(newQty))
	item.QuantityOnHand = round(newQty)
	item.TotalInventoryValue = round(item.TotalInventoryValue.Add(pricePaid))
}

// applyStockOut removes qty at the current average cost and returns the COGS.
// The average cost is left unchanged and the value never drops below zero.
func applyStockOut(item *repository.Item, qty decimal.Decimal) decimal.Decimal {
	cogs := round(qty.Mul(item.AverageUnitCost))

	item.QuantityOnHand = round(item.QuantityOnHand.Sub(qty))
	value := item.TotalInventoryValue.Sub(cogs)
	if value.IsNegative() {
		value = decimal.Zero
	}
	item.TotalInventoryValue = round(value)
	return cogs
}
