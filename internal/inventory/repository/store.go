package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ItemTx is the view of one item inside an atomic unit of work. Every write
// made through it commits together with the others or not at all.
type ItemTx interface {
	// Item returns the item, or nil when it does not exist yet.
	Item(ctx context.Context) (*Item, error)
	// SaveItem inserts or updates the item.
	SaveItem(ctx context.Context, item *Item) error
	AppendTransaction(ctx context.Context, txn *Transaction) error
	// Batches returns the item's batches with stock left, in FIFO order.
	Batches(ctx context.Context) ([]*Batch, error)
	CreateBatch(ctx context.Context, batch *Batch) error
	UpdateBatchRemaining(ctx context.Context, batchID string, remaining decimal.Decimal) error
	AppendUsage(ctx context.Context, usage *UsageEvent) error
}

// UsageFilter narrows ListUsageEvents.
type UsageFilter struct {
	ItemID      string
	WasteOnly   bool
	ExpiredOnly bool
}

// Store persists items, the transaction log, batches and usage events.
type Store interface {
	// WithinItemTx runs fn as one atomic unit scoped to itemID. Units for the
	// same item never interleave.
	WithinItemTx(ctx context.Context, itemID string, fn func(ItemTx) error) error

	GetItem(ctx context.Context, id string) (*Item, error)
	ListItems(ctx context.Context) ([]*Item, error)
	ListTransactions(ctx context.Context, itemID string) ([]*Transaction, error)
	ListBatches(ctx context.Context, itemID string) ([]*Batch, error)
	// NextBatch returns the first FIFO batch with stock left expiring on or
	// after notBefore, or nil.
	NextBatch(ctx context.Context, itemID string, notBefore time.Time) (*Batch, error)
	// ListExpiringBatches returns batches with stock left and from <= expiry <= to,
	// for one item or all items when itemID is empty.
	ListExpiringBatches(ctx context.Context, itemID string, from, to time.Time) ([]*Batch, error)
	ListUsageEvents(ctx context.Context, filter UsageFilter) ([]*UsageEvent, error)
}

// SignalStore persists the non-ledger inputs of the alert sweep.
type SignalStore interface {
	CreateVarianceEvent(ctx context.Context, event *VarianceEvent) error
	ListVarianceEvents(ctx context.Context) ([]*VarianceEvent, error)
	CreateDelivery(ctx context.Context, delivery *SupplierDelivery) error
	MarkDeliveryReceived(ctx context.Context, id string, at time.Time) (*SupplierDelivery, error)
	ListDeliveries(ctx context.Context) ([]*SupplierDelivery, error)
}

// NotificationStore persists dispatched alerts, in-app notifications and the
// delivery log.
type NotificationStore interface {
	// ClaimAlert records the alert unless (Type, DedupeKey) already exists.
	// It reports whether this call created the record.
	ClaimAlert(ctx context.Context, alert *AlertRecord) (bool, error)
	CreateNotification(ctx context.Context, n *Notification) error
	// ListNotifications returns notifications newest first, for one user or
	// everyone when userID is empty.
	ListNotifications(ctx context.Context, userID string) ([]*Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id string, at time.Time) (*Notification, error)
	AppendDeliveryLog(ctx context.Context, entry *DeliveryLogEntry) error
	ListDeliveryLog(ctx context.Context, limit int) ([]*DeliveryLogEntry, error)
}

// UserStore persists notification recipients.
type UserStore interface {
	ListUsers(ctx context.Context) ([]*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	UpsertUser(ctx context.Context, user *User) error
	// MergePreferences atomically replaces the alert types present in patch
	// and returns the stored result.
	MergePreferences(ctx context.Context, id string, patch AlertPreferences) (AlertPreferences, error)
	DeleteUser(ctx context.Context, id string) error
}
