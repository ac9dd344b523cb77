package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/events"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/notify"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/clock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/config"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/metrics"
)

// AlertThresholds configures the sweep rules.
type AlertThresholds struct {
	ExpiringWindow        time.Duration
	DeliveryWindow        time.Duration
	VariancePercent       decimal.Decimal
	DefaultWasteThreshold decimal.Decimal
	Brand                 string
}

// ThresholdsFromConfig converts the alerts config section.
func ThresholdsFromConfig(cfg config.AlertsConfig) AlertThresholds {
	return AlertThresholds{
		ExpiringWindow:        cfg.ExpiringWindow,
		DeliveryWindow:        cfg.DeliveryWindow,
		VariancePercent:       decimal.NewFromFloat(cfg.VarianceThresholdPct),
		DefaultWasteThreshold: decimal.NewFromFloat(cfg.DefaultWasteThreshold),
		Brand:                 cfg.Brand,
	}
}

// DefaultThresholds are the stock rules: 3 days, 1 day, 10%, 2 units.
func DefaultThresholds() AlertThresholds {
	return AlertThresholds{
		ExpiringWindow:        72 * time.Hour,
		DeliveryWindow:        24 * time.Hour,
		VariancePercent:       decimal.NewFromInt(10),
		DefaultWasteThreshold: decimal.NewFromInt(2),
		Brand:                 "PantryPilot",
	}
}

// SweepResult reports one sweep run. JSON fields are snake_case like the
// rest of the API.
type SweepResult struct {
	Generated          int `json:"generated"`
	Dispatched         int `json:"dispatched"`
	SkippedAsDuplicate int `json:"skipped_as_duplicate"`
	DeliveryFailures   int `json:"delivery_failures"`
	ScanErrors         int `json:"scan_errors"`
}

// DigestResult reports one daily digest run.
type DigestResult struct {
	Recipients         int    `json:"recipients"`
	Dispatched         int    `json:"dispatched"`
	SkippedAsDuplicate int    `json:"skipped_as_duplicate"`
	UnreadCount        int    `json:"unread_count"`
	DeliveryFailures   int    `json:"delivery_failures"`
	Date               string `json:"date"`
}

// AlertSweepEngine evaluates the alert rules over current state, drops
// alerts whose (type, dedupe key) was dispatched before, and fans the rest
// out through the dispatcher.
type AlertSweepEngine struct {
	store         repository.Store
	signals       repository.SignalStore
	notifications repository.NotificationStore
	users         repository.UserStore
	dispatcher    *notify.Dispatcher
	publisher     *events.InventoryEventPublisher
	thresholds    AlertThresholds
	clock         clock.Clock
	metrics       *metrics.SweepMetrics
	logger        *logger.Logger
}

// NewAlertSweepEngine creates a new alert sweep engine
func NewAlertSweepEngine(
	store repository.Store,
	signals repository.SignalStore,
	notifications repository.NotificationStore,
	users repository.UserStore,
	dispatcher *notify.Dispatcher,
	publisher *events.InventoryEventPublisher,
	thresholds AlertThresholds,
	clk clock.Clock,
	m *metrics.SweepMetrics,
	log *logger.Logger,
) *AlertSweepEngine {
	return &AlertSweepEngine{
		store:         store,
		signals:       signals,
		notifications: notifications,
		users:         users,
		dispatcher:    dispatcher,
		publisher:     publisher,
		thresholds:    thresholds,
		clock:         clk,
		metrics:       m,
		logger:        log.WithComponent("alert_sweep"),
	}
}

type scanner struct {
	name string
	fn   func(context.Context, time.Time) ([]*repository.AlertRecord, error)
}

// Run evaluates every rule. A failing rule is logged and counted and the
// remaining rules still run.
func (e *AlertSweepEngine) Run(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveDuration("sweep", time.Since(start)) }()

	now := e.clock.Now()
	result := &SweepResult{}
	scanners := []scanner{
		{"low_stock", e.scanLowStock},
		{"expiring", e.scanExpiring},
		{"variance", e.scanVariance},
		{"waste", func(ctx context.Context, now time.Time) ([]*repository.AlertRecord, error) {
			return e.scanWaste(ctx, now, result)
		}},
		{"delivery", e.scanDeliveries},
	}

	var alerts []*repository.AlertRecord
	for _, s := range scanners {
		found, err := s.fn(ctx, now)
		if err != nil {
			e.logger.Error().Err(err).Str("scanner", s.name).Msg("alert scan failed")
			result.ScanErrors++
			continue
		}
		alerts = append(alerts, found...)
	}

	if err := e.dispatchAll(ctx, alerts, result); err != nil {
		return nil, err
	}

	e.logger.Info().
		Int("generated", result.Generated).
		Int("dispatched", result.Dispatched).
		Int("skipped_as_duplicate", result.SkippedAsDuplicate).
		Int("delivery_failures", result.DeliveryFailures).
		Dur("duration", time.Since(start)).
		Msg("alert sweep completed")

	return result, nil
}

// ExpireCheck raises expiring-soon alerts for items with stock expiring
// within days, sharing dedup keys with the sweep.
func (e *AlertSweepEngine) ExpireCheck(ctx context.Context, days int) (*SweepResult, error) {
	if days <= 0 {
		days = DefaultExpiringDays
	}

	start := time.Now()
	defer func() { e.metrics.ObserveDuration("expire_check", time.Since(start)) }()

	now := e.clock.Now()
	from := clock.StartOfDay(now)
	batches, err := e.store.ListExpiringBatches(ctx, "", from, from.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	var alerts []*repository.AlertRecord
	seen := make(map[string]bool)
	for _, b := range batches {
		if seen[b.ItemID] {
			continue
		}
		seen[b.ItemID] = true

		item, err := e.store.GetItem(ctx, b.ItemID)
		if err != nil {
			e.logger.Error().Err(err).Str("item_id", b.ItemID).Msg("expire check: failed to load item")
			result.ScanErrors++
			continue
		}
		alerts = append(alerts, expiringAlert(item, b.ExpiryDate, days, now))
	}

	if err := e.dispatchAll(ctx, alerts, result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendDailyDigest sends each admin and manager one digest per calendar day
// carrying the total unread notification count at send time.
func (e *AlertSweepEngine) SendDailyDigest(ctx context.Context) (*DigestResult, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveDuration("digest", time.Since(start)) }()

	now := e.clock.Now()
	date := clock.DateKey(now)

	users, err := e.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	totalUnread, err := e.notifications.CountUnread(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	result := &DigestResult{Date: date, UnreadCount: totalUnread}
	for _, user := range users {
		if !user.ReceivesDigest() {
			continue
		}
		result.Recipients++

		alert := &repository.AlertRecord{
			ID:       uuid.New().String(),
			Type:     repository.AlertDailyDigest,
			Severity: repository.SeverityLow,
			Title:    "Daily inventory digest",
			Message: fmt.Sprintf(
				"You have %d unread notifications. Open %s to review low stock, expiry, variance, waste, and deliveries.",
				totalUnread, e.thresholds.Brand,
			),
			DedupeKey: fmt.Sprintf("digest-%s-%s", user.ID, date),
			Metadata:  repository.Metadata{"date": date},
			CreatedAt: now,
		}

		claimed, err := e.notifications.ClaimAlert(ctx, alert)
		if err != nil {
			e.logger.Error().Err(err).Str("user_id", user.ID).Msg("digest: failed to claim")
			result.DeliveryFailures++
			continue
		}
		if !claimed {
			result.SkippedAsDuplicate++
			continue
		}

		result.Dispatched++
		res := e.dispatcher.DispatchTo(ctx, alert, user)
		result.DeliveryFailures += res.Failures
	}

	e.metrics.AddAlerts(metrics.OutcomeDispatched, result.Dispatched)
	e.metrics.AddAlerts(metrics.OutcomeDuplicate, result.SkippedAsDuplicate)

	e.logger.Info().
		Str("date", date).
		Int("recipients", result.Recipients).
		Int("dispatched", result.Dispatched).
		Int("skipped_as_duplicate", result.SkippedAsDuplicate).
		Msg("daily digest completed")

	return result, nil
}

// dispatchAll claims each alert and fans out the ones this call claimed.
func (e *AlertSweepEngine) dispatchAll(ctx context.Context, alerts []*repository.AlertRecord, result *SweepResult) error {
	result.Generated += len(alerts)
	if len(alerts) == 0 {
		return nil
	}

	users, err := e.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	failed := 0
	for _, alert := range alerts {
		claimed, err := e.notifications.ClaimAlert(ctx, alert)
		if err != nil {
			e.logger.Error().Err(err).
				Str("alert_type", string(alert.Type)).
				Str("dedupe_key", alert.DedupeKey).
				Msg("failed to claim alert")
			failed++
			continue
		}
		if !claimed {
			result.SkippedAsDuplicate++
			continue
		}

		result.Dispatched++
		e.publisher.PublishAlertGenerated(ctx, alert)
		res := e.dispatcher.Dispatch(ctx, alert, users)
		result.DeliveryFailures += res.Failures
	}

	e.metrics.AddAlerts(metrics.OutcomeDispatched, result.Dispatched)
	e.metrics.AddAlerts(metrics.OutcomeDuplicate, result.SkippedAsDuplicate)
	e.metrics.AddAlerts(metrics.OutcomeFailed, failed)
	result.ScanErrors += failed
	return nil
}

func (e *AlertSweepEngine) newAlert(t repository.AlertType, sev repository.Severity, key, title, msg string, meta repository.Metadata, now time.Time) *repository.AlertRecord {
	return &repository.AlertRecord{
		ID:        uuid.New().String(),
		Type:      t,
		Severity:  sev,
		Title:     title,
		Message:   msg,
		DedupeKey: key,
		Metadata:  meta,
		CreatedAt: now,
	}
}

func (e *AlertSweepEngine) scanLowStock(ctx context.Context, now time.Time) ([]*repository.AlertRecord, error) {
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanLowStock: list items: %w", err)
	}

	var alerts []*repository.AlertRecord
	for _, item := range items {
		if !item.QuantityOnHand.LessThan(item.ReorderPoint) {
			continue
		}
		alerts = append(alerts, e.newAlert(
			repository.AlertLowStock, repository.SeverityHigh,
			"low-stock-"+item.ID,
			"Low stock item",
			fmt.Sprintf("%s is at %s units, below reorder level %s.", item.Name, item.QuantityOnHand, item.ReorderPoint),
			repository.Metadata{"itemId": item.ID},
			now,
		))
	}
	return alerts, nil
}

func (e *AlertSweepEngine) scanExpiring(ctx context.Context, now time.Time) ([]*repository.AlertRecord, error) {
	items, err := e.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanExpiring: list items: %w", err)
	}

	cutoff := now.Add(e.thresholds.ExpiringWindow)
	days := int(e.thresholds.ExpiringWindow / (24 * time.Hour))

	var alerts []*repository.AlertRecord
	for _, item := range items {
		if item.ExpiresAt == nil || item.ExpiresAt.After(cutoff) {
			continue
		}
		alerts = append(alerts, expiringAlert(item, *item.ExpiresAt, days, now))
	}
	return alerts, nil
}

func expiringAlert(item *repository.Item, expiresAt time.Time, days int, now time.Time) *repository.AlertRecord {
	return &repository.AlertRecord{
		ID:        uuid.New().String(),
		Type:      repository.AlertExpiringSoon,
		Severity:  repository.SeverityMedium,
		Title:     "Item expiring soon",
		Message:   fmt.Sprintf("%s expires on %s (within %d days).", item.Name, clock.DateKey(expiresAt), days),
		DedupeKey: "expiring-" + item.ID,
		Metadata:  repository.Metadata{"itemId": item.ID},
		CreatedAt: now,
	}
}

func (e *AlertSweepEngine) scanVariance(ctx context.Context, now time.Time) ([]*repository.AlertRecord, error) {
	counts, err := e.signals.ListVarianceEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanVariance: list variance events: %w", err)
	}

	threshold := e.thresholds.VariancePercent
	var alerts []*repository.AlertRecord
	for _, ev := range counts {
		if ev.VariancePercent == nil || ev.VariancePercent.LessThan(threshold) {
			continue
		}
		alerts = append(alerts, e.newAlert(
			repository.AlertInventoryVariance, repository.SeverityHigh,
			"variance-"+ev.ID,
			"Inventory variance detected",
			fmt.Sprintf("%s variance is %s%% (threshold: %s%%).", ev.ItemName, ev.VariancePercent.Round(2), threshold),
			repository.Metadata{"varianceEventId": ev.ID},
			now,
		))
	}
	return alerts, nil
}

// scanWaste counts failed item lookups in result and falls back to the
// default threshold for those items.
func (e *AlertSweepEngine) scanWaste(ctx context.Context, now time.Time, result *SweepResult) ([]*repository.AlertRecord, error) {
	wasted, err := e.store.ListUsageEvents(ctx, repository.UsageFilter{WasteOnly: true})
	if err != nil {
		return nil, fmt.Errorf("scanWaste: list usage events: %w", err)
	}

	thresholds := make(map[string]decimal.Decimal)
	var alerts []*repository.AlertRecord
	for _, ev := range wasted {
		threshold, ok := thresholds[ev.ItemID]
		if !ok {
			threshold = e.thresholds.DefaultWasteThreshold
			item, err := e.store.GetItem(ctx, ev.ItemID)
			if err != nil {
				e.logger.Error().Err(err).Str("item_id", ev.ItemID).Msg("scanWaste: failed to load item, using default threshold")
				result.ScanErrors++
			} else if item.WasteThreshold != nil {
				threshold = *item.WasteThreshold
			}
			thresholds[ev.ItemID] = threshold
		}

		if !ev.WasteQty.GreaterThan(threshold) {
			continue
		}
		alerts = append(alerts, e.newAlert(
			repository.AlertHighWaste, repository.SeverityHigh,
			"waste-"+ev.ID,
			"High waste recorded",
			fmt.Sprintf("%s waste %s exceeds threshold %s.", ev.ItemName, ev.WasteQty, threshold),
			repository.Metadata{"wasteEventId": ev.ID},
			now,
		))
	}
	return alerts, nil
}

func (e *AlertSweepEngine) scanDeliveries(ctx context.Context, now time.Time) ([]*repository.AlertRecord, error) {
	deliveries, err := e.signals.ListDeliveries(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanDeliveries: list deliveries: %w", err)
	}

	cutoff := now.Add(e.thresholds.DeliveryWindow)
	var alerts []*repository.AlertRecord
	for _, d := range deliveries {
		if d.Status == repository.DeliveryReceived || d.DueAt.After(cutoff) {
			continue
		}
		alerts = append(alerts, e.newAlert(
			repository.AlertSupplierDeliveryDue, repository.SeverityMedium,
			"delivery-"+d.ID,
			"Supplier delivery due",
			fmt.Sprintf("%s delivery is due %s.", d.SupplierName, clock.DateKey(d.DueAt)),
			repository.Metadata{"deliveryId": d.ID},
			now,
		))
	}
	return alerts, nil
}
