package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/clock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// VarianceService records physical counts against the ledger.
type VarianceService struct {
	store   repository.Store
	signals repository.SignalStore
	clock   clock.Clock
	logger  *logger.Logger
}

// NewVarianceService creates a new variance service
func NewVarianceService(store repository.Store, signals repository.SignalStore, clk clock.Clock, log *logger.Logger) *VarianceService {
	return &VarianceService{
		store:   store,
		signals: signals,
		clock:   clk,
		logger:  log.WithComponent("variance"),
	}
}

// RecordCount stores a physical count for an item. The ledger is not
// adjusted. The percentage is left empty when nothing is on hand.
func (s *VarianceService) RecordCount(ctx context.Context, itemID string, counted decimal.Decimal) (*repository.VarianceEvent, error) {
	if itemID == "" {
		return nil, errors.Validation(map[string]string{"item_id": "item_id is required"})
	}
	if counted.IsNegative() {
		return nil, errors.Validation(map[string]string{"counted_qty": "counted_qty must be >= 0"})
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.UnknownItem(itemID)
		}
		return nil, err
	}

	ev := &repository.VarianceEvent{
		ID:          uuid.New().String(),
		ItemID:      item.ID,
		ItemName:    item.Name,
		CountedQty:  round(counted),
		ExpectedQty: item.QuantityOnHand,
		VarianceQty: round(counted.Sub(item.QuantityOnHand)),
		RecordedAt:  s.clock.Now(),
	}
	if !item.QuantityOnHand.IsZero() {
		pct := ev.VarianceQty.Div(item.QuantityOnHand).Mul(decimal.NewFromInt(100)).Round(2)
		ev.VariancePercent = &pct
	}

	if err := s.signals.CreateVarianceEvent(ctx, ev); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("item_id", ev.ItemID).
		Str("counted", ev.CountedQty.String()).
		Str("expected", ev.ExpectedQty.String()).
		Msg("variance recorded")

	return ev, nil
}

// List returns every recorded count.
func (s *VarianceService) List(ctx context.Context) ([]*repository.VarianceEvent, error) {
	return s.signals.ListVarianceEvents(ctx)
}

// DeliveryService tracks expected supplier deliveries.
type DeliveryService struct {
	signals repository.SignalStore
	clock   clock.Clock
	logger  *logger.Logger
}

// NewDeliveryService creates a new delivery service
func NewDeliveryService(signals repository.SignalStore, clk clock.Clock, log *logger.Logger) *DeliveryService {
	return &DeliveryService{
		signals: signals,
		clock:   clk,
		logger:  log.WithComponent("deliveries"),
	}
}

// Schedule records an expected delivery.
func (s *DeliveryService) Schedule(ctx context.Context, supplierName string, dueAt time.Time) (*repository.SupplierDelivery, error) {
	supplierName = strings.TrimSpace(supplierName)
	if supplierName == "" {
		return nil, errors.Validation(map[string]string{"supplier_name": "supplier_name is required"})
	}
	if dueAt.IsZero() {
		return nil, errors.Validation(map[string]string{"due_at": "due_at is required"})
	}

	d := &repository.SupplierDelivery{
		ID:           uuid.New().String(),
		SupplierName: supplierName,
		DueAt:        dueAt.UTC(),
		Status:       repository.DeliveryScheduled,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.signals.CreateDelivery(ctx, d); err != nil {
		return nil, err
	}

	s.logger.Info().Str("delivery_id", d.ID).Str("supplier", d.SupplierName).Time("due_at", d.DueAt).Msg("delivery scheduled")
	return d, nil
}

// MarkReceived closes a delivery so it stops raising alerts.
func (s *DeliveryService) MarkReceived(ctx context.Context, id string) (*repository.SupplierDelivery, error) {
	return s.signals.MarkDeliveryReceived(ctx, id, s.clock.Now())
}

// List returns deliveries ordered by due time.
func (s *DeliveryService) List(ctx context.Context) ([]*repository.SupplierDelivery, error) {
	return s.signals.ListDeliveries(ctx)
}
