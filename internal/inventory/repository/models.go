package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types
const (
	TxnStockIn  = "stock_in"
	TxnStockOut = "stock_out"
)

// Stock-out reasons
const (
	ReasonCooking  = "cooking"
	ReasonWaste    = "waste"
	ReasonSpoilage = "spoilage"
)

// StockOutReasons lists the accepted stock-out reasons in display order.
var StockOutReasons = []string{ReasonCooking, ReasonWaste, ReasonSpoilage}

// Supplier delivery statuses
const (
	DeliveryScheduled = "SCHEDULED"
	DeliveryReceived  = "RECEIVED"
)

// User roles that receive the daily digest
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleStaff   = "STAFF"
)

// Item is a stocked ingredient with its running cost basis.
type Item struct {
	ID                  string           `db:"id" json:"id"`
	Name                string           `db:"name" json:"name"`
	Unit                string           `db:"unit" json:"unit"`
	QuantityOnHand      decimal.Decimal  `db:"quantity_on_hand" json:"quantity_on_hand"`
	AverageUnitCost     decimal.Decimal  `db:"average_unit_cost" json:"average_unit_cost"`
	TotalInventoryValue decimal.Decimal  `db:"total_inventory_value" json:"total_inventory_value"`
	ReorderPoint        decimal.Decimal  `db:"reorder_point" json:"reorder_point"`
	ParLevel            decimal.Decimal  `db:"par_level" json:"par_level"`
	WasteThreshold      *decimal.Decimal `db:"waste_threshold" json:"waste_threshold,omitempty"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`

	// ExpiresAt is the earliest expiry among batches with stock left.
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID          string           `db:"id" json:"id"`
	Type        string           `db:"type" json:"type"`
	ItemID      string           `db:"item_id" json:"item_id"`
	Quantity    decimal.Decimal  `db:"quantity" json:"quantity"`
	UnitCost    decimal.Decimal  `db:"unit_cost" json:"unit_cost"`
	COGSAmount  decimal.Decimal  `db:"cogs_amount" json:"cogs_amount"`
	PricePaid   *decimal.Decimal `db:"price_paid" json:"price_paid,omitempty"`
	SupplierID  *string          `db:"supplier_id" json:"supplier_id,omitempty"`
	Reason      *string          `db:"reason" json:"reason,omitempty"`
	ExpiryDate  *time.Time       `db:"expiry_date" json:"expiry_date,omitempty"`
	BatchNumber *string          `db:"batch_number" json:"batch_number,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"timestamp"`
}

// SignedQuantity is +quantity for stock in and -quantity for stock out.
func (t *Transaction) SignedQuantity() decimal.Decimal {
	if t.Type == TxnStockOut {
		return t.Quantity.Neg()
	}
	return t.Quantity
}

// Batch is an expiry-dated lot of an item.
type Batch struct {
	ID           string          `db:"id" json:"id"`
	ItemID       string          `db:"item_id" json:"item_id"`
	BatchNumber  *string         `db:"batch_number" json:"batch_number,omitempty"`
	ReceivedQty  decimal.Decimal `db:"received_qty" json:"received_qty"`
	RemainingQty decimal.Decimal `db:"remaining_qty" json:"remaining_qty"`
	UnitCost     decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ExpiryDate   time.Time       `db:"expiry_date" json:"expiry_date"`
	ReceivedAt   time.Time       `db:"received_at" json:"received_at"`
}

// FIFOBefore reports whether b is drawn before o: earliest expiry first, then
// earliest receipt.
func (b *Batch) FIFOBefore(o *Batch) bool {
	if !b.ExpiryDate.Equal(o.ExpiryDate) {
		return b.ExpiryDate.Before(o.ExpiryDate)
	}
	return b.ReceivedAt.Before(o.ReceivedAt)
}

// Allocation is the quantity one consumption drew from one batch.
type Allocation struct {
	BatchID  string          `db:"batch_id" json:"batch_id"`
	Quantity decimal.Decimal `db:"quantity" json:"quantity"`
}

// UsageEvent records one FIFO consumption.
type UsageEvent struct {
	ID             string          `db:"id" json:"id"`
	ItemID         string          `db:"item_id" json:"item_id"`
	UsedQty        decimal.Decimal `db:"used_qty" json:"used_qty"`
	WasteQty       decimal.Decimal `db:"waste_qty" json:"waste_qty"`
	WasteReason    *string         `db:"waste_reason" json:"waste_reason,omitempty"`
	IsExpiredWaste bool            `db:"is_expired_waste" json:"is_expired_waste"`
	UsedDate       time.Time       `db:"used_date" json:"used_date"`
	Allocations    []Allocation    `db:"-" json:"allocations,omitempty"`

	// ItemName is populated on reads joined with items.
	ItemName string `db:"item_name" json:"item_name,omitempty"`
}

// VarianceEvent is a physical count compared against the ledger.
type VarianceEvent struct {
	ID              string           `db:"id" json:"id"`
	ItemID          string           `db:"item_id" json:"item_id"`
	ItemName        string           `db:"item_name" json:"item_name,omitempty"`
	CountedQty      decimal.Decimal  `db:"counted_qty" json:"counted_qty"`
	ExpectedQty     decimal.Decimal  `db:"expected_qty" json:"expected_qty"`
	VarianceQty     decimal.Decimal  `db:"variance_qty" json:"variance_qty"`
	VariancePercent *decimal.Decimal `db:"variance_percent" json:"variance_percent,omitempty"`
	RecordedAt      time.Time        `db:"recorded_at" json:"recorded_at"`
}

// SupplierDelivery is an expected inbound delivery.
type SupplierDelivery struct {
	ID           string     `db:"id" json:"id"`
	SupplierName string     `db:"supplier_name" json:"supplier_name"`
	DueAt        time.Time  `db:"due_at" json:"due_at"`
	Status       string     `db:"status" json:"status"`
	ReceivedAt   *time.Time `db:"received_at" json:"received_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// AlertType is one of the closed set of alert kinds.
type AlertType string

const (
	AlertLowStock            AlertType = "lowStock"
	AlertExpiringSoon        AlertType = "expiringSoon"
	AlertInventoryVariance   AlertType = "inventoryVariance"
	AlertHighWaste           AlertType = "highWaste"
	AlertSupplierDeliveryDue AlertType = "supplierDeliveryDue"
	AlertDailyDigest         AlertType = "dailyDigest"
)

// AlertTypes lists every alert type.
var AlertTypes = []AlertType{
	AlertLowStock,
	AlertExpiringSoon,
	AlertInventoryVariance,
	AlertHighWaste,
	AlertSupplierDeliveryDue,
	AlertDailyDigest,
}

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	for _, known := range AlertTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity of an alert.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "inApp"
	ChannelChat  Channel = "chat"
)

// Channels lists every channel in dispatch order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelInApp, ChannelChat}

// ChannelSet says which channels a user wants for one alert type.
type ChannelSet struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	InApp bool `json:"inApp"`
	Chat  bool `json:"chat"`
}

// Enabled reports whether ch is switched on.
func (c ChannelSet) Enabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.SMS
	case ChannelInApp:
		return c.InApp
	case ChannelChat:
		return c.Chat
	default:
		return false
	}
}

// AlertPreferences is the per-user alert type x channel matrix. A nil entry
// means the user receives nothing for that type.
type AlertPreferences struct {
	LowStock            *ChannelSet `json:"lowStock,omitempty"`
	ExpiringSoon        *ChannelSet `json:"expiringSoon,omitempty"`
	InventoryVariance   *ChannelSet `json:"inventoryVariance,omitempty"`
	HighWaste           *ChannelSet `json:"highWaste,omitempty"`
	SupplierDeliveryDue *ChannelSet `json:"supplierDeliveryDue,omitempty"`
	DailyDigest         *ChannelSet `json:"dailyDigest,omitempty"`
}

// For returns the channel set for an alert type, or nil.
func (p AlertPreferences) For(t AlertType) *ChannelSet {
	switch t {
	case AlertLowStock:
		return p.LowStock
	case AlertExpiringSoon:
		return p.ExpiringSoon
	case AlertInventoryVariance:
		return p.InventoryVariance
	case AlertHighWaste:
		return p.HighWaste
	case AlertSupplierDeliveryDue:
		return p.SupplierDeliveryDue
	case AlertDailyDigest:
		return p.DailyDigest
	default:
		return nil
	}
}

// Merge returns p with every non-nil entry of patch replacing the matching entry.
func (p AlertPreferences) Merge(patch AlertPreferences) AlertPreferences {
	if patch.LowStock != nil {
		p.LowStock = patch.LowStock
	}
	if patch.ExpiringSoon != nil {
		p.ExpiringSoon = patch.ExpiringSoon
	}
	if patch.InventoryVariance != nil {
		p.InventoryVariance = patch.InventoryVariance
	}
	if patch.HighWaste != nil {
		p.HighWaste = patch.HighWaste
	}
	if patch.SupplierDeliveryDue != nil {
		p.SupplierDeliveryDue = patch.SupplierDeliveryDue
	}
	if patch.DailyDigest != nil {
		p.DailyDigest = patch.DailyDigest
	}
	return p
}

// Value implements driver.Valuer for the JSONB column.
func (p AlertPreferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for the JSONB column.
func (p *AlertPreferences) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = AlertPreferences{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("alert preferences: unsupported type %T", src)
	}
}

// User is a notification recipient.
type User struct {
	ID               string           `db:"id" json:"id"`
	Name             string           `db:"name" json:"name"`
	Email            *string          `db:"email" json:"email,omitempty"`
	Phone            *string          `db:"phone" json:"phone,omitempty"`
	Role             string           `db:"role" json:"role"`
	AlertPreferences AlertPreferences `db:"alert_preferences" json:"alert_preferences"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// ReceivesDigest reports whether the user is in management.
func (u *User) ReceivesDigest() bool {
	return u.Role == RoleAdmin || u.Role == RoleManager
}

// Metadata is free-form alert context stored as JSONB.
type Metadata map[string]string

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// AlertRecord is a dispatched alert occurrence. (Type, DedupeKey) is unique
// across history and is claimed before fan-out.
type AlertRecord struct {
	ID        string    `db:"id" json:"id"`
	Type      AlertType `db:"type" json:"type"`
	Severity  Severity  `db:"severity" json:"severity"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	DedupeKey string    `db:"dedupe_key" json:"dedupe_key"`
	Metadata  Metadata  `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification is the per-user copy of an alert.
type Notification struct {
	ID        string     `db:"id" json:"id"`
	AlertID   string     `db:"alert_id" json:"alert_id"`
	Type      AlertType  `db:"type" json:"type"`
	Severity  Severity   `db:"severity" json:"severity"`
	Title     string     `db:"title" json:"title"`
	Message   string     `db:"message" json:"message"`
	DedupeKey string     `db:"dedupe_key" json:"dedupe_key"`
	Metadata  Metadata   `db:"metadata" json:"metadata,omitempty"`
	UserID    string     `db:"user_id" json:"user_id"`
	Channel   Channel    `db:"channel" json:"channel"`
	ReadAt    *time.Time `db:"read_at" json:"read_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Delivery log statuses
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// DeliveryLogEntry is a write-once record of one channel delivery attempt.
type DeliveryLogEntry struct {
	ID             string    `db:"id" json:"id"`
	Channel        Channel   `db:"channel" json:"channel"`
	Recipient      string    `db:"recipient" json:"recipient"`
	Payload        string    `db:"payload" json:"payload"`
	Status         string    `db:"status" json:"status"`
	Reason         *string   `db:"reason" json:"reason,omitempty"`
	NotificationID string    `db:"notification_id" json:"notification_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	SentAt         time.Time `db:"sent_at" json:"sent_at"`
}
