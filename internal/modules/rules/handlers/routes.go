package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rule routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Post("/validate", h.HandleValidate)
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
		r.Post("/{id}/attachments", h.HandleAttach)
		r.Delete("/{id}/attachments/{fundID}", h.HandleDetach)
	})
}
