package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/service"
	"github.com/pantrypilot/pantrypilot-backend/pkg/httputil"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// SignalHandler handles physical counts and supplier deliveries
type SignalHandler struct {
	variance   *service.VarianceService
	deliveries *service.DeliveryService
	logger     *logger.Logger
}

// NewSignalHandler creates a new signal handler
func NewSignalHandler(variance *service.VarianceService, deliveries *service.DeliveryService, log *logger.Logger) *SignalHandler {
	return &SignalHandler{
		variance:   variance,
		deliveries: deliveries,
		logger:     log,
	}
}

// RecordCount stores a physical count for the item
func (h *SignalHandler) RecordCount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CountedQty decimal.Decimal `json:"counted_qty" validate:"gte=0"`
	}
	if err := httputil.Bind(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	ev, err := h.variance.RecordCount(r.Context(), chi.URLParam(r, "id"), req.CountedQty)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, ev)
}

// ListDeliveries lists supplier deliveries
func (h *SignalHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := h.deliveries.List(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, deliveries)
}

// ScheduleDelivery records an expected delivery
func (h *SignalHandler) ScheduleDelivery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SupplierName string `json:"supplier_name" validate:"required,max=200"`
		DueAt        string `json:"due_at" validate:"required"`
	}
	if err := httputil.Bind(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	dueAt, err := parseDate("due_at", req.DueAt)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	delivery, err := h.deliveries.Schedule(r.Context(), req.SupplierName, dueAt)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, delivery)
}

// MarkReceived closes a delivery
func (h *SignalHandler) MarkReceived(w http.ResponseWriter, r *http.Request) {
	delivery, err := h.deliveries.MarkReceived(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, delivery)
}
