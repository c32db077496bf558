package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trade routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleSubmit)
		r.Get("/{id}", h.HandleGet)
		r.Get("/{id}/alerts", h.HandleAlerts)
		r.Post("/{id}/alerts/{alertID}/resolve", h.HandleResolveAlert)
		r.Post("/{id}/cancel", h.HandleCancel)
	})
}
