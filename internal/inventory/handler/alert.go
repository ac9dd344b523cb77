package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/repository"
	"github.com/pantrypilot/pantrypilot-backend/internal/inventory/service"
	"github.com/pantrypilot/pantrypilot-backend/pkg/httputil"
	"github.com/pantrypilot/pantrypilot-backend/pkg/logger"
)

// AlertHandler handles alert, notification and preference endpoints
type AlertHandler struct {
	engine        *service.AlertSweepEngine
	notifications *service.NotificationService
	logger        *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(engine *service.AlertSweepEngine, notifications *service.NotificationService, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		engine:        engine,
		notifications: notifications,
		logger:        log,
	}
}

// Types lists the alert types
func (h *AlertHandler) Types(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, h.notifications.AlertTypes())
}

// Run triggers an alert sweep
func (h *AlertHandler) Run(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Run(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, res)
}

// DailyDigest sends today's digest to management
func (h *AlertHandler) DailyDigest(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.SendDailyDigest(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, res)
}

// ExpireCheck raises expiring-soon alerts for ?days= (default 3)
func (h *AlertHandler) ExpireCheck(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", service.DefaultExpiringDays)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.engine.ExpireCheck(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, res)
}

// Notifications lists notifications for ?user_id=, falling back to the
// gateway user. Without either it lists everyone's.
func (h *AlertHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = httputil.GetUserID(r.Context())
	}

	list, err := h.notifications.List(r.Context(), userID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, list)
}

// MarkRead marks a notification as read
func (h *AlertHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notifications.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, n)
}

// GetPreferences returns a user's preference matrix
func (h *AlertHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.notifications.GetPreferences(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, prefs)
}

// UpdatePreferences merges the given alert types into a user's preferences
func (h *AlertHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch repository.AlertPreferences
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		httputil.Error(w, err)
		return
	}

	prefs, err := h.notifications.UpdatePreferences(r.Context(), chi.URLParam(r, "userId"), patch)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, prefs)
}

// DeliveryLog lists recent delivery attempts (?limit=, default 100)
func (h *AlertHandler) DeliveryLog(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	entries, err := h.notifications.DeliveryLog(r.Context(), limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if entries == nil {
		entries = []*repository.DeliveryLogEntry{}
	}

	httputil.JSON(w, http.StatusOK, entries)
}
