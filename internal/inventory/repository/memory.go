package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
	"github.com/pantrypilot/pantrypilot-backend/pkg/lock"
)

// MemoryStore is an in-process implementation of every store interface. Item
// units of work are serialized per item and their writes are staged and
// applied only when the unit succeeds.
type MemoryStore struct {
	locks *lock.LocalLocker

	mu            sync.RWMutex
	items         map[string]*Item
	transactions  []*Transaction
	batches       map[string]*Batch
	usage         []*UsageEvent
	variance      []*VarianceEvent
	deliveries    map[string]*SupplierDelivery
	alerts        map[string]*AlertRecord
	notifications []*Notification
	deliveryLog   []*DeliveryLogEntry
	users         map[string]*User
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:      lock.NewLocalLocker(),
		items:      make(map[string]*Item),
		batches:    make(map[string]*Batch),
		deliveries: make(map[string]*SupplierDelivery),
		alerts:     make(map[string]*AlertRecord),
		users:      make(map[string]*User),
	}
}

// WithinItemTx runs fn with exclusive access to the item and commits its
// staged writes when fn returns nil.
func (s *MemoryStore) WithinItemTx(ctx context.Context, itemID string, fn func(ItemTx) error) error {
	release, err := s.locks.Acquire(ctx, lock.ItemKey(itemID))
	if err != nil {
		return err
	}
	defer release()

	tx := &memItemTx{store: s, itemID: itemID, batches: make(map[string]*Batch)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx.apply()
	return nil
}

type memItemTx struct {
	store  *MemoryStore
	itemID string

	item         *Item
	transactions []*Transaction
	batches      map[string]*Batch
	usage        []*UsageEvent
}

func (t *memItemTx) Item(_ context.Context) (*Item, error) {
	if t.item != nil {
		item := *t.item
		return &item, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	stored, ok := t.store.items[t.itemID]
	if !ok {
		return nil, nil
	}
	item := *stored
	return &item, nil
}

func (t *memItemTx) SaveItem(_ context.Context, item *Item) error {
	if item.ID != t.itemID {
		return errors.BadRequest("item does not belong to this unit of work")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	staged := *item
	t.item = &staged
	return nil
}

func (t *memItemTx) AppendTransaction(_ context.Context, txn *Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	staged := *txn
	t.transactions = append(t.transactions, &staged)
	return nil
}

func (t *memItemTx) Batches(_ context.Context) ([]*Batch, error) {
	t.store.mu.RLock()
	merged := make(map[string]*Batch)
	for id, b := range t.store.batches {
		if b.ItemID == t.itemID {
			merged[id] = b
		}
	}
	t.store.mu.RUnlock()

	for id, b := range t.batches {
		merged[id] = b
	}

	var batches []*Batch
	for _, b := range merged {
		if b.RemainingQty.IsPositive() {
			cp := *b
			batches = append(batches, &cp)
		}
	}
	sortFIFO(batches)
	return batches, nil
}

func (t *memItemTx) CreateBatch(_ context.Context, batch *Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	staged := *batch
	t.batches[batch.ID] = &staged
	return nil
}

func (t *memItemTx) UpdateBatchRemaining(_ context.Context, batchID string, remaining decimal.Decimal) error {
	if remaining.IsNegative() {
		return errors.Validation(map[string]string{"remaining_quantity": "must not be negative"})
	}

	if staged, ok := t.batches[batchID]; ok {
		staged.RemainingQty = remaining
		return nil
	}

	t.store.mu.RLock()
	stored, ok := t.store.batches[batchID]
	t.store.mu.RUnlock()
	if !ok || stored.ItemID != t.itemID {
		return errors.NotFound("batch")
	}

	staged := *stored
	staged.RemainingQty = remaining
	t.batches[batchID] = &staged
	return nil
}

func (t *memItemTx) AppendUsage(_ context.Context, usage *UsageEvent) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	staged := *usage
	staged.Allocations = append([]Allocation(nil), usage.Allocations...)
	t.usage = append(t.usage, &staged)
	return nil
}

// apply must be called with the store write lock held.
func (t *memItemTx) apply() {
	s := t.store
	if t.item != nil {
		s.items[t.itemID] = t.item
	}
	s.transactions = append(s.transactions, t.transactions...)
	for id, b := range t.batches {
		s.batches[id] = b
	}
	s.usage = append(s.usage, t.usage...)
}

func sortFIFO(batches []*Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if a.ExpiryDate.Equal(b.ExpiryDate) && a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ID < b.ID
		}
		return a.FIFOBefore(b)
	})
}

// itemView copies an item and fills its earliest live expiry. Requires the read lock.
func (s *MemoryStore) itemView(item *Item) *Item {
	cp := *item
	cp.ExpiresAt = nil
	for _, b := range s.batches {
		if b.ItemID != item.ID || !b.RemainingQty.IsPositive() {
			continue
		}
		if cp.ExpiresAt == nil || b.ExpiryDate.Before(*cp.ExpiresAt) {
			expiry := b.ExpiryDate
			cp.ExpiresAt = &expiry
		}
	}
	return &cp
}

// GetItem gets an item by ID
func (s *MemoryStore) GetItem(_ context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, errors.NotFound("item")
	}
	return s.itemView(item), nil
}

// ListItems lists all items by name
func (s *MemoryStore) ListItems(_ context.Context) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, s.itemView(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name == items[j].Name {
			return items[i].ID < items[j].ID
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// ListTransactions returns the transaction log in append order
func (s *MemoryStore) ListTransactions(_ context.Context, itemID string) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txns []*Transaction
	for _, txn := range s.transactions {
		if itemID == "" || txn.ItemID == itemID {
			cp := *txn
			txns = append(txns, &cp)
		}
	}
	return txns, nil
}

// ListBatches lists every batch of an item in FIFO order
func (s *MemoryStore) ListBatches(_ context.Context, itemID string) ([]*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var batches []*Batch
	for _, b := range s.batches {
		if b.ItemID == itemID {
			cp := *b
			batches = append(batches, &cp)
		}
	}
	sortFIFO(batches)
	return batches, nil
}

// NextBatch returns the next batch FIFO would draw from, ignoring expired stock
func (s *MemoryStore) NextBatch(ctx context.Context, itemID string, notBefore time.Time) (*Batch, error) {
	batches, err := s.ListBatches(ctx, itemID)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		if b.RemainingQty.IsPositive() && !b.ExpiryDate.Before(notBefore) {
			return b, nil
		}
	}
	return nil, nil
}

// ListExpiringBatches gets batches with stock left expiring within [from, to]
func (s *MemoryStore) ListExpiringBatches(_ context.Context, itemID string, from, to time.Time) ([]*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var batches []*Batch
	for _, b := range s.batches {
		if itemID != "" && b.ItemID != itemID {
			continue
		}
		if !b.RemainingQty.IsPositive() || b.ExpiryDate.Before(from) || b.ExpiryDate.After(to) {
			continue
		}
		cp := *b
		batches = append(batches, &cp)
	}
	sortFIFO(batches)
	sort.SliceStable(batches, func(i, j int) bool { return batches[i].ItemID < batches[j].ItemID })
	return batches, nil
}

// ListUsageEvents lists usage events newest first
func (s *MemoryStore) ListUsageEvents(_ context.Context, filter UsageFilter) ([]*UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*UsageEvent
	for i := len(s.usage) - 1; i >= 0; i-- {
		u := s.usage[i]
		if filter.ItemID != "" && u.ItemID != filter.ItemID {
			continue
		}
		if filter.WasteOnly && !u.WasteQty.IsPositive() {
			continue
		}
		if filter.ExpiredOnly && !u.IsExpiredWaste {
			continue
		}
		cp := *u
		if item, ok := s.items[u.ItemID]; ok {
			cp.ItemName = item.Name
		}
		events = append(events, &cp)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].UsedDate.After(events[j].UsedDate) })
	return events, nil
}

// CreateVarianceEvent stores a physical count result
func (s *MemoryStore) CreateVarianceEvent(_ context.Context, event *VarianceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[event.ItemID]; !ok {
		return errors.BadRequest("referenced record does not exist")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	cp := *event
	s.variance = append(s.variance, &cp)
	return nil
}

// ListVarianceEvents lists variance events newest first
func (s *MemoryStore) ListVarianceEvents(_ context.Context) ([]*VarianceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]*VarianceEvent, 0, len(s.variance))
	for i := len(s.variance) - 1; i >= 0; i-- {
		cp := *s.variance[i]
		if item, ok := s.items[cp.ItemID]; ok {
			cp.ItemName = item.Name
		}
		events = append(events, &cp)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].RecordedAt.After(events[j].RecordedAt) })
	return events, nil
}

// CreateDelivery schedules a supplier delivery
func (s *MemoryStore) CreateDelivery(_ context.Context, delivery *SupplierDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if delivery.ID == "" {
		delivery.ID = uuid.New().String()
	}
	if delivery.Status == "" {
		delivery.Status = DeliveryScheduled
	}
	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Now()
	}
	if _, ok := s.deliveries[delivery.ID]; ok {
		return errors.Conflict("a record with these values already exists")
	}
	cp := *delivery
	s.deliveries[delivery.ID] = &cp
	return nil
}

// MarkDeliveryReceived closes out a scheduled delivery
func (s *MemoryStore) MarkDeliveryReceived(_ context.Context, id string, at time.Time) (*SupplierDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delivery, ok := s.deliveries[id]
	if !ok {
		return nil, errors.NotFound("delivery")
	}
	delivery.Status = DeliveryReceived
	delivery.ReceivedAt = &at
	cp := *delivery
	return &cp, nil
}

// ListDeliveries lists deliveries by due time
func (s *MemoryStore) ListDeliveries(_ context.Context) ([]*SupplierDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deliveries := make([]*SupplierDelivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		cp := *d
		deliveries = append(deliveries, &cp)
	}
	sort.Slice(deliveries, func(i, j int) bool {
		if deliveries[i].DueAt.Equal(deliveries[j].DueAt) {
			return deliveries[i].ID < deliveries[j].ID
		}
		return deliveries[i].DueAt.Before(deliveries[j].DueAt)
	})
	return deliveries, nil
}

func alertKey(t AlertType, dedupeKey string) string {
	return string(t) + "|" + dedupeKey
}

// ClaimAlert records the alert unless its (type, dedupe_key) was claimed before
func (s *MemoryStore) ClaimAlert(_ context.Context, alert *AlertRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := alertKey(alert.Type, alert.DedupeKey)
	if _, ok := s.alerts[key]; ok {
		return false, nil
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	cp := *alert
	s.alerts[key] = &cp
	return true, nil
}

// CreateNotification stores an in-app notification
func (s *MemoryStore) CreateNotification(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.notifications {
		if existing.Type == n.Type && existing.DedupeKey == n.DedupeKey && existing.UserID == n.UserID {
			return errors.DuplicateKey("dedupe_key")
		}
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

// ListNotifications lists notifications newest first
func (s *MemoryStore) ListNotifications(_ context.Context, userID string) ([]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var notifications []*Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if userID != "" && n.UserID != userID {
			continue
		}
		cp := *n
		notifications = append(notifications, &cp)
	}
	sort.SliceStable(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	return notifications, nil
}

// CountUnread counts notifications without a read time
func (s *MemoryStore) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.notifications {
		if n.ReadAt == nil && (userID == "" || n.UserID == userID) {
			count++
		}
	}
	return count, nil
}

// MarkRead sets the read time, keeping the first one if already read
func (s *MemoryStore) MarkRead(_ context.Context, id string, at time.Time) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.notifications {
		if n.ID != id {
			continue
		}
		if n.ReadAt == nil {
			readAt := at
			n.ReadAt = &readAt
		}
		cp := *n
		return &cp, nil
	}
	return nil, errors.NotFound("notification")
}

// AppendDeliveryLog writes a delivery log entry
func (s *MemoryStore) AppendDeliveryLog(_ context.Context, entry *DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	cp := *entry
	s.deliveryLog = append(s.deliveryLog, &cp)
	return nil
}

// ListDeliveryLog returns the most recent entries first
func (s *MemoryStore) ListDeliveryLog(_ context.Context, limit int) ([]*DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var entries []*DeliveryLogEntry
	for i := len(s.deliveryLog) - 1; i >= 0 && len(entries) < limit; i-- {
		cp := *s.deliveryLog[i]
		entries = append(entries, &cp)
	}
	return entries, nil
}

// ListUsers lists every known recipient
func (s *MemoryStore) ListUsers(_ context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// GetUser gets a recipient by ID
func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.NotFound("user")
	}
	cp := *u
	return &cp, nil
}

// UpsertUser creates or updates a recipient. Preferences are only written on insert.
func (s *MemoryStore) UpsertUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.users[user.ID]; ok {
		existing.Name = user.Name
		existing.Email = user.Email
		existing.Phone = user.Phone
		existing.Role = user.Role
		existing.UpdatedAt = now
		user.AlertPreferences = existing.AlertPreferences
		user.CreatedAt = existing.CreatedAt
		user.UpdatedAt = now
		return nil
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// MergePreferences merges patch into the stored matrix under the write lock
func (s *MemoryStore) MergePreferences(_ context.Context, id string, patch AlertPreferences) (AlertPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return AlertPreferences{}, errors.NotFound("user")
	}
	u.AlertPreferences = u.AlertPreferences.Merge(patch)
	u.UpdatedAt = time.Now()
	return u.AlertPreferences, nil
}

// DeleteUser removes a recipient
func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, id)
	return nil
}

var (
	_ Store             = (*MemoryStore)(nil)
	_ SignalStore       = (*MemoryStore)(nil)
	_ NotificationStore = (*MemoryStore)(nil)
	_ UserStore         = (*MemoryStore)(nil)
	_ Store             = (*PostgresStore)(nil)
	_ SignalStore       = (*PostgresStore)(nil)
	_ NotificationStore = (*PostgresStore)(nil)
	_ UserStore         = (*PostgresStore)(nil)
)
