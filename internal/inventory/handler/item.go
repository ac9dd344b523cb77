package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/service"
	"github.com/pantrypilot/pantrypilot-backend/pkg/errors"
	"github.com/pantrypilot/pantrypilot-backend/pkg/httputil"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// ItemHandler handles item and ledger endpoints
type ItemHandler struct {
	ledger *service.CostLedger
	logger *logger.Logger
}

// NewItemHandler creates a new item handler
func NewItemHandler(ledger *service.CostLedger, log *logger.Logger) *ItemHandler {
	return &ItemHandler{
		ledger: ledger,
		logger: log,
	}
}

// List lists inventory items
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.ledger.ListItems(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, items)
}

// Get returns an item's balance
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.ledger.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, item)
}

// Create creates an item
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID             string           `json:"id"`
		Name           string           `json:"name" validate:"required,max=200"`
		Unit           string           `json:"unit" validate:"max=32"`
		ReorderPoint   decimal.Decimal  `json:"reorder_point" validate:"gte=0"`
		ParLevel       decimal.Decimal  `json:"par_level" validate:"gte=0"`
		WasteThreshold *decimal.Decimal `json:"waste_threshold"`
	}
	if err := httputil.Bind(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	item, err := h.ledger.CreateItem(r.Context(), service.CreateItemInput{
		ID:             req.ID,
		Name:           req.Name,
		Unit:           req.Unit,
		ReorderPoint:   req.ReorderPoint,
		ParLevel:       req.ParLevel,
		WasteThreshold: req.WasteThreshold,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, item)
}

// StockIn records a receipt
func (h *ItemHandler) StockIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID      string          `json:"item_id" validate:"required"`
		Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
		SupplierID  string          `json:"supplier_id" validate:"required"`
		PricePaid   decimal.Decimal `json:"price_paid" validate:"gte=0"`
		ExpiryDate  *string         `json:"expiry_date"`
		BatchNumber *string         `json:"batch_number"`
		Name        string          `json:"name"`
		Unit        string          `json:"unit"`
	}
	if err := httputil.Bind(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	expiry, err := parseOptionalDate("expiry_date", req.ExpiryDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.ledger.StockIn(r.Context(), service.StockInInput{
		ItemID:      req.ItemID,
		Quantity:    req.Quantity,
		PricePaid:   req.PricePaid,
		SupplierID:  req.SupplierID,
		ExpiryDate:  expiry,
		BatchNumber: req.BatchNumber,
		Name:        req.Name,
		Unit:        req.Unit,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, res)
}

// StockOut records a removal
func (h *ItemHandler) StockOut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID   string          `json:"item_id" validate:"required"`
		Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
		Reason   string          `json:"reason"`
	}
	if err := httputil.Bind(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.ledger.StockOut(r.Context(), service.StockOutInput{
		ItemID:   req.ItemID,
		Quantity: req.Quantity,
		Reason:   req.Reason,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, res)
}

// Transactions returns the transaction log
func (h *ItemHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.ledger.TransactionHistory(r.Context(), r.URL.Query().Get("item_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, txns)
}

// COGS returns the cost of goods sold summary
func (h *ItemHandler) COGS(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.COGSSummary(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}

// parseDate accepts YYYY-MM-DD or RFC 3339.
func parseDate(field, value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, errors.Validation(map[string]string{field: "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"})
}

func parseOptionalDate(field string, value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := parseDate(field, *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
