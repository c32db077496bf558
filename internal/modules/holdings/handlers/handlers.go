// Package handlers provides HTTP handlers for fund positions.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/modules/holdings"
)

// Handler handles position HTTP requests
type Handler struct {
	repo    *holdings.Repository
	staging *holdings.StagingRepository
	log     zerolog.Logger
}

// NewHandler creates a new holdings handler
func NewHandler(repo *holdings.Repository, staging *holdings.StagingRepository, log zerolog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		staging: staging,
		log:     log.With().Str("handler", "holdings").Logger(),
	}
}

// SetRequest sets a position outright. Used for seeding and corrections;
// normal position changes flow through trades.
type SetRequest struct {
	Shares int64 `json:"shares"`
}

// HandleList handles GET /api/funds/{id}/holdings
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	fundID, ok := h.fundID(w, r)
	if !ok {
		return
	}
	list, err := h.repo.ListByFund(fundID)
	if err != nil {
		h.log.Error().Err(err).Int64("fund_id", fundID).Msg("Failed to list holdings")
		h.writeError(w, http.StatusInternalServerError, "failed to list holdings")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"holdings": list})
}

// HandleSet handles PUT /api/funds/{id}/holdings/{ticker}
func (h *Handler) HandleSet(w http.ResponseWriter, r *http.Request) {
	fundID, ok := h.fundID(w, r)
	if !ok {
		return
	}
	ticker := chi.URLParam(r, "ticker")

	var req SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.repo.Set(fundID, ticker, req.Shares); err != nil {
		if errors.Is(err, holdings.ErrOversell) {
			h.writeError(w, http.StatusBadRequest, "shares must not be negative")
			return
		}
		h.log.Error().Err(err).Int64("fund_id", fundID).Str("ticker", ticker).Msg("Failed to set holding")
		h.writeError(w, http.StatusInternalServerError, "failed to set holding")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStaged handles GET /api/funds/{id}/holdings/staged/{tradeID}
func (h *Handler) HandleStaged(w http.ResponseWriter, r *http.Request) {
	fundID, ok := h.fundID(w, r)
	if !ok {
		return
	}
	tradeID, err := strconv.ParseInt(chi.URLParam(r, "tradeID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trade id")
		return
	}
	staged, err := h.staging.ListByTrade(fundID, tradeID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list staged holdings")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"staged": staged})
}

func (h *Handler) fundID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid fund id")
		return 0, false
	}
	return id, true
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
