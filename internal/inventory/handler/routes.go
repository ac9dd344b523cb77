package handler

import (
	"github.com/go-chi/chi/v5"
)

// Handlers groups the service's HTTP handlers.
type Handlers struct {
	Items   *ItemHandler
	Batches *BatchHandler
	Signals *SignalHandler
	Alerts  *AlertHandler
}

// Mount registers the API routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.Items.List)
			r.Post("/", h.Items.Create)
			r.Get("/{id}", h.Items.Get)
			r.Post("/{id}/batches", h.Batches.Receive)
			r.Post("/{id}/use", h.Batches.Use)
			r.Get("/{id}/fifo/next", h.Batches.Next)
			r.Post("/{id}/counts", h.Signals.RecordCount)
		})

		r.Post("/stock-in", h.Items.StockIn)
		r.Post("/stock-out", h.Items.StockOut)
		r.Get("/transactions", h.Items.Transactions)
		r.Get("/cogs", h.Items.COGS)

		r.Get("/expiring-soon", h.Batches.ExpiringSoon)
		r.Get("/waste-report", h.Batches.WasteReport)

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", h.Signals.ListDeliveries)
			r.Post("/", h.Signals.ScheduleDelivery)
			r.Post("/{id}/received", h.Signals.MarkReceived)
		})
	})

	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Get("/types", h.Alerts.Types)
		r.Post("/run", h.Alerts.Run)
		r.Post("/digest/daily", h.Alerts.DailyDigest)
		r.Post("/expire-check", h.Alerts.ExpireCheck)

		r.Get("/notifications", h.Alerts.Notifications)
		r.Post("/notifications/{id}/read", h.Alerts.MarkRead)

		r.Get("/preferences/{userId}", h.Alerts.GetPreferences)
		r.Put("/preferences/{userId}", h.Alerts.UpdatePreferences)

		r.Get("/delivery-log", h.Alerts.DeliveryLog)
	})
}
