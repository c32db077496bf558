package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all compliance routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/compliance", func(r chi.Router) {
		r.Post("/portfolio", h.HandleRunAll)
		r.Post("/portfolio/{fundID}", h.HandleRunFund)
		r.Post("/test", h.HandleWhatIf)
		r.Get("/alerts", h.HandleListAlerts)
		r.Get("/batches/{batchRunID}", h.HandleBatchAlerts)
	})
}
