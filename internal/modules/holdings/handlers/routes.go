package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all position routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/funds/{id}/holdings", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Put("/{ticker}", h.HandleSet)
		r.Get("/staged/{tradeID}", h.HandleStaged)
	})
}
