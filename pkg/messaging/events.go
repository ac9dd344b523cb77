package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// User events
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"

	// Inventory events
	EventStockIn        = "inventory.stock.in"
	EventStockOut       = "inventory.stock.out"
	EventBatchReceived  = "inventory.batch.received"
	EventBatchConsumed  = "inventory.batch.consumed"
	EventAlertGenerated = "inventory.alert.generated"

	// Notification events
	EventNotificationChat = "notification.chat"
)

// Exchange names
const (
	ExchangeUserEvents         = "user.events"
	ExchangeInventoryEvents    = "inventory.events"
	ExchangeNotificationEvents = "notification.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// User Events

// UserCreatedEvent is published by the user service when an account is created.
type UserCreatedEvent struct {
	UserID   string  `json:"user_id"`
	Email    string  `json:"email"`
	Name     string  `json:"name"`
	Phone    *string `json:"phone,omitempty"`
	RoleName string  `json:"role_name"`
}

// UserUpdatedEvent carries the changed fields as {"field": {"from": x, "to": y}}.
type UserUpdatedEvent struct {
	UserID string         `json:"user_id"`
	Fields map[string]any `json:"fields"`
}

// UserDeletedEvent is published when a user is deleted
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Inventory Events

// StockMovedEvent is published for every ledger transaction (stock in or out).
type StockMovedEvent struct {
	TransactionID  string          `json:"transaction_id"`
	ItemID         string          `json:"item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	COGSAmount     decimal.Decimal `json:"cogs_amount"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
	AverageCost    decimal.Decimal `json:"average_unit_cost"`
	Reason         string          `json:"reason,omitempty"`
	SupplierID     string          `json:"supplier_id,omitempty"`
}

// BatchReceivedEvent is published when an expiry-dated batch is received.
type BatchReceivedEvent struct {
	BatchID     string          `json:"batch_id"`
	ItemID      string          `json:"item_id"`
	ReceivedQty decimal.Decimal `json:"received_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ExpiryDate  time.Time       `json:"expiry_date"`
}

// BatchConsumedEvent is published after a FIFO consumption commits.
type BatchConsumedEvent struct {
	UsageEventID   string          `json:"usage_event_id"`
	ItemID         string          `json:"item_id"`
	UsedQty        decimal.Decimal `json:"used_qty"`
	WasteQty       decimal.Decimal `json:"waste_qty"`
	IsExpiredWaste bool            `json:"is_expired_waste"`
	BatchIDs       []string        `json:"batch_ids"`
}

// AlertGeneratedEvent is published once per non-duplicate alert.
type AlertGeneratedEvent struct {
	AlertType string            `json:"alert_type"`
	Severity  string            `json:"severity"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	DedupeKey string            `json:"dedupe_key"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Notification Events

// ChatMessageEvent asks the chat bridge to post a message for a user.
type ChatMessageEvent struct {
	NotificationID string `json:"notification_id,omitempty"`
	UserID         string `json:"user_id"`
	AlertType      string `json:"alert_type"`
	Severity       string `json:"severity"`
	Text           string `json:"text"`
}
