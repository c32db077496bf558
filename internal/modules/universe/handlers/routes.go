package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all reference data routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/issuers", func(r chi.Router) {
		r.Get("/", h.HandleListIssuers)
		r.Post("/", h.HandleCreateIssuer)
		r.Get("/{id}", h.HandleGetIssuer)
		r.Put("/{id}", h.HandleUpdateIssuer)
		r.Delete("/{id}", h.HandleDeleteIssuer)
		r.Put("/{id}/attributes", h.HandleSetIssuerAttribute)
	})

	r.Route("/securities", func(r chi.Router) {
		r.Get("/", h.HandleListSecurities)
		r.Post("/", h.HandleCreateSecurity)
		r.Get("/{ticker}", h.HandleGetSecurity)
		r.Put("/{ticker}", h.HandleUpdateSecurity)
		r.Delete("/{ticker}", h.HandleDeleteSecurity)
		r.Put("/{ticker}/attributes", h.HandleSetSecurityAttribute)
		r.Get("/{ticker}/price", h.HandleGetPrice)
		r.Put("/{ticker}/price", h.HandleSetPrice)
		r.Get("/{ticker}/prices", h.HandlePriceHistory)
	})
}
