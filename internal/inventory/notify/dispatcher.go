package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/pkg/clock"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
	"github.com/pantrypilot/pantrypilot-backend/pkg/metrics"
)

// DeliveryLogWriter appends delivery log entries.
type DeliveryLogWriter interface {
	AppendDeliveryLog(ctx context.Context, entry *repository.DeliveryLogEntry) error
}

// Result summarizes one fan-out.
type Result struct {
	Recipients int
	Deliveries int
	Failures   int
}

func (r *Result) add(o Result) {
	r.Recipients += o.Recipients
	r.Deliveries += o.Deliveries
	r.Failures += o.Failures
}

// Dispatcher delivers claimed alerts to users according to their channel
// preferences.
type Dispatcher struct {
	channels map[repository.Channel]Channel
	log      DeliveryLogWriter
	clock    clock.Clock
	metrics  *metrics.SweepMetrics
	logger   *logger.Logger
}

// NewDispatcher creates a dispatcher over the given channel implementations.
// Channels missing from the map fail every delivery attempt made to them.
func NewDispatcher(
	channels map[repository.Channel]Channel,
	log DeliveryLogWriter,
	clk clock.Clock,
	m *metrics.SweepMetrics,
	lg *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		log:      log,
		clock:    clk,
		metrics:  m,
		logger:   lg.WithComponent("dispatcher"),
	}
}

// Dispatch fans the alert out to every user who enabled at least one channel
// for its type. Users without a preference entry for the type get nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *repository.AlertRecord, users []*repository.User) Result {
	var total Result
	for _, user := range users {
		total.add(d.DispatchTo(ctx, alert, user))
	}
	return total
}

// DispatchTo delivers the alert to one user over each enabled channel. A
// failing channel is logged and counted and does not stop the others.
func (d *Dispatcher) DispatchTo(ctx context.Context, alert *repository.AlertRecord, user *repository.User) Result {
	prefs := user.AlertPreferences.For(alert.Type)
	if prefs == nil {
		return Result{}
	}

	n := &repository.Notification{
		ID:        uuid.New().String(),
		AlertID:   alert.ID,
		Type:      alert.Type,
		Severity:  alert.Severity,
		Title:     alert.Title,
		Message:   alert.Message,
		DedupeKey: alert.DedupeKey,
		Metadata:  alert.Metadata,
		UserID:    user.ID,
		Channel:   repository.ChannelInApp,
		CreatedAt: d.clock.Now(),
	}

	var res Result
	for _, ch := range repository.Channels {
		if !prefs.Enabled(ch) {
			continue
		}
		res.Deliveries++
		if !d.deliver(ctx, ch, user, n) {
			res.Failures++
		}
	}
	if res.Deliveries > 0 {
		res.Recipients = 1
	}
	return res
}

// deliver runs one channel and records the attempt. It reports whether the
// attempt and its log entry both succeeded.
func (d *Dispatcher) deliver(ctx context.Context, ch repository.Channel, user *repository.User, n *repository.Notification) bool {
	entry := &repository.DeliveryLogEntry{
		Channel:        ch,
		Recipient:      user.ID,
		NotificationID: n.ID,
		UserID:         user.ID,
	}

	impl, ok := d.channels[ch]
	var receipt *Receipt
	var err error
	if ok {
		receipt, err = impl.Deliver(ctx, user, n)
	}

	switch {
	case !ok:
		entry.Status = repository.DeliveryFailed
		entry.Reason = strPtr("channel not configured")
	case err != nil:
		entry.Status = repository.DeliveryFailed
		entry.Reason = strPtr(err.Error())
		entry.Payload = n.Title
	default:
		entry.Recipient = receipt.Recipient
		entry.Payload = receipt.Payload
		entry.Status = receipt.Status
		if receipt.Reason != "" {
			entry.Reason = strPtr(receipt.Reason)
		}
	}
	entry.SentAt = d.clock.Now()

	failed := entry.Status == repository.DeliveryFailed
	if failed {
		d.logger.WithUserID(user.ID).Warn().
			Str("channel", string(ch)).
			Str("alert_type", string(n.Type)).
			Str("dedupe_key", n.DedupeKey).
			Str("reason", *entry.Reason).
			Msg("notification delivery failed")
	}
	d.metrics.IncDelivery(string(ch), entry.Status)

	if logErr := d.log.AppendDeliveryLog(ctx, entry); logErr != nil {
		d.logger.Error().Err(logErr).
			Str("channel", string(ch)).
			Str("notification_id", n.ID).
			Msg("failed to write delivery log")
		return false
	}
	return !failed
}

func strPtr(s string) *string {
	return &s
}
