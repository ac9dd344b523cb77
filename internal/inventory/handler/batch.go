package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/service"
	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
	"github.com/pantrypilot/pantrypilot-backend/pkg/httputil"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// BatchHandler handles batch endpoints
type BatchHandler struct {
	allocator *service.BatchAllocator
	logger    *logger.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(allocator *service.BatchAllocator, log *logger.Logger) *BatchHandler {
	return &BatchHandler{
		allocator: allocator,
		logger:    log,
	}
}

// Receive creates a new batch for the item
func (h *BatchHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceivedQty decimal.Decimal `json:"received_qty" validate:"gt=0"`
		UnitCost    decimal.Decimal `json:"unit_cost" validate:"gte=0"`
		ExpiryDate  string          `json:"expiry_date" validate:"required"`
		BatchNumber *string         `json:"batch_number"`
		SupplierID  *string         `json:"supplier_id"`
	}
	if err := httputil.Bind(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	expiry, err := parseDate("expiry_date", req.ExpiryDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	batch, err := h.allocator.ReceiveBatch(r.Context(), service.ReceiveBatchInput{
		ItemID:      chi.URLParam(r, "id"),
		ReceivedQty: req.ReceivedQty,
		UnitCost:    req.UnitCost,
		ExpiryDate:  expiry,
		BatchNumber: req.BatchNumber,
		SupplierID:  req.SupplierID,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// Use consumes stock FIFO
func (h *BatchHandler) Use(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
		WasteQty    decimal.Decimal `json:"waste_qty" validate:"gte=0"`
		WasteReason *string         `json:"waste_reason"`
		UsedDate    *string         `json:"used_date"`
	}
	if err := httputil.Bind(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	usedDate, err := parseOptionalDate("used_date", req.UsedDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	usage, err := h.allocator.ConsumeFIFO(r.Context(), service.ConsumeInput{
		ItemID:      chi.URLParam(r, "id"),
		Quantity:    req.Quantity,
		WasteQty:    req.WasteQty,
		WasteReason: req.WasteReason,
		UsedDate:    usedDate,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, usage)
}

// Next previews the batch FIFO would draw from next
func (h *BatchHandler) Next(w http.ResponseWriter, r *http.Request) {
	batch, err := h.allocator.NextBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{"batch": batch})
}

// ExpiringSoon lists items with batches expiring within ?days= (default 3)
func (h *BatchHandler) ExpiringSoon(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", service.DefaultExpiringDays)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	items, err := h.allocator.ExpiringSoon(r.Context(), r.URL.Query().Get("item_id"), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if items == nil {
		items = []*service.ItemExpiry{}
	}

	httputil.JSON(w, http.StatusOK, items)
}

// WasteReport summarizes expired waste
func (h *BatchHandler) WasteReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.allocator.WasteReport(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Validation(map[string]string{key: "must be an integer"})
	}
	return n, nil
}
