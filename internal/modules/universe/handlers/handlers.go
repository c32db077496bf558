// Package handlers provides HTTP handlers for reference data management.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/modules/universe"
)

// Handler handles issuer and security HTTP requests
type Handler struct {
	issuers    *universe.IssuerRepository
	securities *universe.SecurityRepository
	validate   *validator.Validate
	log        zerolog.Logger
}

// NewHandler creates a new universe handler
func NewHandler(issuers *universe.IssuerRepository, securities *universe.SecurityRepository, log zerolog.Logger) *Handler {
	return &Handler{
		issuers:    issuers,
		securities: securities,
		validate:   validator.New(),
		log:        log.With().Str("handler", "universe").Logger(),
	}
}

// IssuerRequest is the create/update payload for an issuer.
type IssuerRequest struct {
	Name       string            `json:"name" validate:"required"`
	Country    string            `json:"country"`
	Industry   string            `json:"industry"`
	Attributes map[string]string `json:"attributes"`
}

// SecurityRequest is the create/update payload for a security.
type SecurityRequest struct {
	Ticker     string            `json:"ticker" validate:"required"`
	Name       string            `json:"name" validate:"required"`
	IssuerID   *int64            `json:"issuer_id"`
	AssetClass string            `json:"asset_class"`
	Attributes map[string]string `json:"attributes"`
}

// AttributeRequest sets one attribute value.
type AttributeRequest struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// PriceRequest records a security's price for one date. Date defaults to
// today when omitted.
type PriceRequest struct {
	Price string `json:"price" validate:"required"`
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// HandleListIssuers handles GET /api/issuers
func (h *Handler) HandleListIssuers(w http.ResponseWriter, r *http.Request) {
	list, err := h.issuers.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list issuers")
		h.writeError(w, http.StatusInternalServerError, "failed to list issuers")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"issuers": list})
}

// HandleGetIssuer handles GET /api/issuers/{id}
func (h *Handler) HandleGetIssuer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid issuer id")
		return
	}
	issuer, err := h.issuers.GetByID(id)
	if errors.Is(err, universe.ErrIssuerNotFound) {
		h.writeError(w, http.StatusNotFound, "issuer not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get issuer")
		return
	}
	h.writeJSON(w, http.StatusOK, issuer)
}

// HandleCreateIssuer handles POST /api/issuers
func (h *Handler) HandleCreateIssuer(w http.ResponseWriter, r *http.Request) {
	var req IssuerRequest
	if !h.decode(w, r, &req) {
		return
	}
	issuer, err := h.issuers.Create(&domain.Issuer{
		Name:       req.Name,
		Country:    req.Country,
		Industry:   req.Industry,
		Attributes: req.Attributes,
	})
	if err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("Failed to create issuer")
		h.writeError(w, http.StatusInternalServerError, "failed to create issuer")
		return
	}
	h.writeJSON(w, http.StatusCreated, issuer)
}

// HandleUpdateIssuer handles PUT /api/issuers/{id}
func (h *Handler) HandleUpdateIssuer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid issuer id")
		return
	}
	var req IssuerRequest
	if !h.decode(w, r, &req) {
		return
	}
	err = h.issuers.Update(&domain.Issuer{ID: id, Name: req.Name, Country: req.Country, Industry: req.Industry})
	if errors.Is(err, universe.ErrIssuerNotFound) {
		h.writeError(w, http.StatusNotFound, "issuer not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to update issuer")
		return
	}
	for name, value := range req.Attributes {
		if err := h.issuers.SetAttribute(id, name, value); err != nil {
			h.writeError(w, http.StatusInternalServerError, "failed to set issuer attribute")
			return
		}
	}
	issuer, err := h.issuers.GetByID(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get issuer")
		return
	}
	h.writeJSON(w, http.StatusOK, issuer)
}

// HandleDeleteIssuer handles DELETE /api/issuers/{id}
func (h *Handler) HandleDeleteIssuer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid issuer id")
		return
	}
	if err := h.issuers.Delete(id); err != nil {
		if errors.Is(err, universe.ErrIssuerNotFound) {
			h.writeError(w, http.StatusNotFound, "issuer not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to delete issuer")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleSetIssuerAttribute handles PUT /api/issuers/{id}/attributes
func (h *Handler) HandleSetIssuerAttribute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid issuer id")
		return
	}
	var req AttributeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.issuers.SetAttribute(id, req.Name, req.Value); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to set attribute")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleListSecurities handles GET /api/securities
func (h *Handler) HandleListSecurities(w http.ResponseWriter, r *http.Request) {
	list, err := h.securities.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list securities")
		h.writeError(w, http.StatusInternalServerError, "failed to list securities")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"securities": list})
}

// HandleGetSecurity handles GET /api/securities/{ticker}
func (h *Handler) HandleGetSecurity(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	sec, err := h.securities.GetByTicker(ticker)
	if errors.Is(err, universe.ErrSecurityNotFound) {
		h.writeError(w, http.StatusNotFound, "security not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get security")
		return
	}
	h.writeJSON(w, http.StatusOK, sec)
}

// HandleCreateSecurity handles POST /api/securities
func (h *Handler) HandleCreateSecurity(w http.ResponseWriter, r *http.Request) {
	var req SecurityRequest
	if !h.decode(w, r, &req) {
		return
	}
	sec, err := h.securities.Create(&domain.Security{
		Ticker:     req.Ticker,
		Name:       req.Name,
		IssuerID:   req.IssuerID,
		AssetClass: req.AssetClass,
		Attributes: req.Attributes,
	})
	if err != nil {
		h.log.Error().Err(err).Str("ticker", req.Ticker).Msg("Failed to create security")
		h.writeError(w, http.StatusInternalServerError, "failed to create security")
		return
	}
	h.writeJSON(w, http.StatusCreated, sec)
}

// HandleUpdateSecurity handles PUT /api/securities/{ticker}
func (h *Handler) HandleUpdateSecurity(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	var req SecurityRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.securities.Update(&domain.Security{
		Ticker:     ticker,
		Name:       req.Name,
		IssuerID:   req.IssuerID,
		AssetClass: req.AssetClass,
	})
	if errors.Is(err, universe.ErrSecurityNotFound) {
		h.writeError(w, http.StatusNotFound, "security not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to update security")
		return
	}
	for name, value := range req.Attributes {
		if err := h.securities.SetAttribute(ticker, name, value); err != nil {
			h.writeError(w, http.StatusInternalServerError, "failed to set security attribute")
			return
		}
	}
	sec, err := h.securities.GetByTicker(ticker)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get security")
		return
	}
	h.writeJSON(w, http.StatusOK, sec)
}

// HandleDeleteSecurity handles DELETE /api/securities/{ticker}
func (h *Handler) HandleDeleteSecurity(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	if err := h.securities.Delete(ticker); err != nil {
		if errors.Is(err, universe.ErrSecurityNotFound) {
			h.writeError(w, http.StatusNotFound, "security not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to delete security")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleSetSecurityAttribute handles PUT /api/securities/{ticker}/attributes
func (h *Handler) HandleSetSecurityAttribute(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	var req AttributeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.securities.SetAttribute(ticker, req.Name, req.Value); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to set attribute")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSetPrice handles PUT /api/securities/{ticker}/price
func (h *Handler) HandleSetPrice(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	var req PriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		h.writeError(w, http.StatusBadRequest, "price must be a non-negative decimal")
		return
	}
	if err := h.securities.SetPrice(ticker, req.Date, price); err != nil {
		h.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to set price")
		h.writeError(w, http.StatusInternalServerError, "failed to set price")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleGetPrice handles GET /api/securities/{ticker}/price
func (h *Handler) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	price, err := h.securities.GetPrice(ticker)
	if errors.Is(err, universe.ErrPriceNotFound) {
		h.writeError(w, http.StatusNotFound, "price not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get price")
		return
	}
	h.writeJSON(w, http.StatusOK, price)
}

// HandlePriceHistory handles GET /api/securities/{ticker}/prices
func (h *Handler) HandlePriceHistory(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	history, err := h.securities.PriceHistory(ticker)
	if err != nil {
		h.log.Error().Err(err).Str("ticker", ticker).Msg("Failed to get price history")
		h.writeError(w, http.StatusInternalServerError, "failed to get price history")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"prices": history})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
