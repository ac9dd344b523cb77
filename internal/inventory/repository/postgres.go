package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pantrypilot/pantrypilot-backend/pkg/database"
	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
)

const itemColumns = `
	i.id, i.name, i.unit, i.quantity_on_hand, i.average_unit_cost, i.total_inventory_value,
	i.reorder_point, i.par_level, i.waste_threshold, i.created_at, i.updated_at,
	(SELECT MIN(b.expiry_date) FROM inventory_batches b
	  WHERE b.item_id = i.id AND b.remaining_qty > 0) AS expires_at`

const transactionColumns = `
	id, type, item_id, quantity, unit_cost, cogs_amount, price_paid, supplier_id,
	reason, expiry_date, batch_number, created_at`

const batchColumns = `
	id, item_id, batch_number, received_qty, remaining_qty, unit_cost, expiry_date, received_at`

const fifoOrder = `ORDER BY expiry_date, received_at, id`

// PostgresStore implements Store, SignalStore, NotificationStore and
// UserStore on PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithinItemTx runs fn in one SQL transaction holding a transaction-scoped
// advisory lock on the item, so units for the same item serialize even when
// the row does not exist yet.
func (s *PostgresStore) WithinItemTx(ctx context.Context, itemID string, fn func(ItemTx) error) error {
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, itemID); err != nil {
			return err
		}
		return fn(&pgItemTx{tx: tx, itemID: itemID})
	})
	return database.MapError(err)
}

type pgItemTx struct {
	tx     *sqlx.Tx
	itemID string
}

func (t *pgItemTx) Item(ctx context.Context) (*Item, error) {
	var item Item
	query := `SELECT ` + itemColumns + ` FROM items i WHERE i.id = $1 FOR UPDATE OF i`
	if err := t.tx.GetContext(ctx, &item, query, t.itemID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (t *pgItemTx) SaveItem(ctx context.Context, item *Item) error {
	query := `
		INSERT INTO items (
			id, name, unit, quantity_on_hand, average_unit_cost, total_inventory_value,
			reorder_point, par_level, waste_threshold
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			unit = EXCLUDED.unit,
			quantity_on_hand = EXCLUDED.quantity_on_hand,
			average_unit_cost = EXCLUDED.average_unit_cost,
			total_inventory_value = EXCLUDED.total_inventory_value,
			reorder_point = EXCLUDED.reorder_point,
			par_level = EXCLUDED.par_level,
			waste_threshold = EXCLUDED.waste_threshold,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	return t.tx.QueryRowxContext(ctx, query,
		item.ID, item.Name, item.Unit, item.QuantityOnHand, item.AverageUnitCost,
		item.TotalInventoryValue, item.ReorderPoint, item.ParLevel, item.WasteThreshold,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (t *pgItemTx) AppendTransaction(ctx context.Context, txn *Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_transactions (
			id, type, item_id, quantity, unit_cost, cogs_amount, price_paid,
			supplier_id, reason, expiry_date, batch_number, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := t.tx.ExecContext(ctx, query,
		txn.ID, txn.Type, txn.ItemID, txn.Quantity, txn.UnitCost, txn.COGSAmount, txn.PricePaid,
		txn.SupplierID, txn.Reason, txn.ExpiryDate, txn.BatchNumber, txn.CreatedAt,
	)
	return err
}

func (t *pgItemTx) Batches(ctx context.Context) ([]*Batch, error) {
	var batches []*Batch
	query := `SELECT ` + batchColumns + ` FROM inventory_batches
		WHERE item_id = $1 AND remaining_qty > 0 ` + fifoOrder + ` FOR UPDATE`
	if err := t.tx.SelectContext(ctx, &batches, query, t.itemID); err != nil {
		return nil, err
	}
	return batches, nil
}

func (t *pgItemTx) CreateBatch(ctx context.Context, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_batches (
			id, item_id, batch_number, received_qty, remaining_qty, unit_cost, expiry_date, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := t.tx.ExecContext(ctx, query,
		batch.ID, batch.ItemID, batch.BatchNumber, batch.ReceivedQty, batch.RemainingQty,
		batch.UnitCost, batch.ExpiryDate, batch.ReceivedAt,
	)
	return err
}

func (t *pgItemTx) UpdateBatchRemaining(ctx context.Context, batchID string, remaining decimal.Decimal) error {
	query := `UPDATE inventory_batches SET remaining_qty = $2 WHERE id = $1 AND item_id = $3`
	result, err := t.tx.ExecContext(ctx, query, batchID, remaining, t.itemID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("batch")
	}
	return nil
}

func (t *pgItemTx) AppendUsage(ctx context.Context, usage *UsageEvent) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}

	query := `
		INSERT INTO usage_events (
			id, item_id, used_qty, waste_qty, waste_reason, is_expired_waste, used_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := t.tx.ExecContext(ctx, query,
		usage.ID, usage.ItemID, usage.UsedQty, usage.WasteQty, usage.WasteReason,
		usage.IsExpiredWaste, usage.UsedDate,
	); err != nil {
		return err
	}

	for _, a := range usage.Allocations {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO usage_allocations (usage_event_id, batch_id, quantity) VALUES ($1, $2, $3)`,
			usage.ID, a.BatchID, a.Quantity,
		); err != nil {
			return err
		}
	}
	return nil
}

// GetItem gets an item by ID
func (s *PostgresStore) GetItem(ctx context.Context, id string) (*Item, error) {
	var item Item
	query := `SELECT ` + itemColumns + ` FROM items i WHERE i.id = $1`
	if err := s.db.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("item")
		}
		return nil, err
	}
	return &item, nil
}

// ListItems lists all items by name
func (s *PostgresStore) ListItems(ctx context.Context) ([]*Item, error) {
	var items []*Item
	query := `SELECT ` + itemColumns + ` FROM items i ORDER BY i.name, i.id`
	if err := s.db.SelectContext(ctx, &items, query); err != nil {
		return nil, err
	}
	return items, nil
}

// ListTransactions returns the transaction log in append order, optionally for one item
func (s *PostgresStore) ListTransactions(ctx context.Context, itemID string) ([]*Transaction, error) {
	var txns []*Transaction
	query := `SELECT ` + transactionColumns + ` FROM inventory_transactions
		WHERE ($1 = '' OR item_id = $1) ORDER BY seq`
	if err := s.db.SelectContext(ctx, &txns, query, itemID); err != nil {
		return nil, err
	}
	return txns, nil
}

// ListBatches lists every batch of an item in FIFO order, including depleted ones
func (s *PostgresStore) ListBatches(ctx context.Context, itemID string) ([]*Batch, error) {
	var batches []*Batch
	query := `SELECT ` + batchColumns + ` FROM inventory_batches WHERE item_id = $1 ` + fifoOrder
	if err := s.db.SelectContext(ctx, &batches, query, itemID); err != nil {
		return nil, err
	}
	return batches, nil
}

// NextBatch returns the next batch FIFO would draw from, ignoring expired stock
func (s *PostgresStore) NextBatch(ctx context.Context, itemID string, notBefore time.Time) (*Batch, error) {
	var batch Batch
	query := `SELECT ` + batchColumns + ` FROM inventory_batches
		WHERE item_id = $1 AND remaining_qty > 0 AND expiry_date >= $2 ` + fifoOrder + ` LIMIT 1`
	if err := s.db.GetContext(ctx, &batch, query, itemID, notBefore); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

// ListExpiringBatches gets batches with stock left expiring within [from, to]
func (s *PostgresStore) ListExpiringBatches(ctx context.Context, itemID string, from, to time.Time) ([]*Batch, error) {
	var batches []*Batch
	query := `SELECT ` + batchColumns + ` FROM inventory_batches
		WHERE ($1 = '' OR item_id = $1) AND remaining_qty > 0
		AND expiry_date >= $2 AND expiry_date <= $3
		ORDER BY item_id, expiry_date, received_at, id`
	if err := s.db.SelectContext(ctx, &batches, query, itemID, from, to); err != nil {
		return nil, err
	}
	return batches, nil
}

// ListUsageEvents lists usage events newest first
func (s *PostgresStore) ListUsageEvents(ctx context.Context, filter UsageFilter) ([]*UsageEvent, error) {
	var events []*UsageEvent
	query := `
		SELECT u.id, u.item_id, u.used_qty, u.waste_qty, u.waste_reason, u.is_expired_waste,
			u.used_date, i.name AS item_name
		FROM usage_events u
		JOIN items i ON i.id = u.item_id
		WHERE ($1 = '' OR u.item_id = $1)
		AND (NOT $2 OR u.waste_qty > 0)
		AND (NOT $3 OR u.is_expired_waste)
		ORDER BY u.used_date DESC, u.id
	`
	if err := s.db.SelectContext(ctx, &events, query, filter.ItemID, filter.WasteOnly, filter.ExpiredOnly); err != nil {
		return nil, err
	}
	return events, nil
}
