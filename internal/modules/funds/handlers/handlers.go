// Package handlers provides HTTP handlers for fund management.
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

	"github.com/aristath/guardrail/internal/modules/funds"
)

// Handler handles fund HTTP requests
type Handler struct {
	repo     *funds.Repository
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new fund handler
func NewHandler(repo *funds.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		validate: validator.New(),
		log:      log.With().Str("handler", "funds").Logger(),
	}
}

// FundRequest is the create/update payload for a fund.
type FundRequest struct {
	Name string `json:"name" validate:"required"`
	Cash string `json:"cash" validate:"omitempty"`
}

// HandleList handles GET /api/funds
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list funds")
		h.writeError(w, http.StatusInternalServerError, "failed to list funds")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"funds": list})
}

// HandleGet handles GET /api/funds/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fundID(w, r)
	if !ok {
		return
	}
	fund, err := h.repo.GetByID(id)
	if errors.Is(err, funds.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "fund not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("fund_id", id).Msg("Failed to get fund")
		h.writeError(w, http.StatusInternalServerError, "failed to get fund")
		return
	}
	h.writeJSON(w, http.StatusOK, fund)
}

// HandleCreate handles POST /api/funds
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	cash := decimal.Zero
	if req.Cash != "" {
		parsed, err := decimal.NewFromString(req.Cash)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "cash must be a decimal number")
			return
		}
		cash = parsed
	}

	fund, err := h.repo.Create(req.Name, cash)
	if err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("Failed to create fund")
		h.writeError(w, http.StatusInternalServerError, "failed to create fund")
		return
	}

	h.log.Info().Int64("fund_id", fund.ID).Str("name", fund.Name).Msg("Fund created")
	h.writeJSON(w, http.StatusCreated, fund)
}

// HandleUpdate handles PUT /api/funds/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fundID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	fund, err := h.repo.GetByID(id)
	if errors.Is(err, funds.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "fund not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get fund")
		return
	}

	fund.Name = req.Name
	if req.Cash != "" {
		cash, err := decimal.NewFromString(req.Cash)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "cash must be a decimal number")
			return
		}
		fund.Cash = cash
	}

	if err := h.repo.Update(fund); err != nil {
		h.log.Error().Err(err).Int64("fund_id", id).Msg("Failed to update fund")
		h.writeError(w, http.StatusInternalServerError, "failed to update fund")
		return
	}
	h.writeJSON(w, http.StatusOK, fund)
}

// HandleDelete handles DELETE /api/funds/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.fundID(w, r)
	if !ok {
		return
	}
	if err := h.repo.Delete(id); err != nil {
		if errors.Is(err, funds.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "fund not found")
			return
		}
		h.log.Error().Err(err).Int64("fund_id", id).Msg("Failed to delete fund")
		h.writeError(w, http.StatusInternalServerError, "failed to delete fund")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) fundID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid fund id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (*FundRequest, bool) {
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
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
