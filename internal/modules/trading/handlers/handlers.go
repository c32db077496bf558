// Package handlers provides HTTP handlers for trade submission and the
// alert resolution workflow.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/modules/alerts"
	"github.com/aristath/guardrail/internal/modules/funds"
	"github.com/aristath/guardrail/internal/modules/trading"
)

// Handler handles trade HTTP requests
type Handler struct {
	service  *trading.Service
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new trading handler
func NewHandler(service *trading.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		log:      log.With().Str("handler", "trading").Logger(),
	}
}

// SubmitRequest is the trade submission payload.
type SubmitRequest struct {
	FundID    int64  `json:"fund_id" validate:"required"`
	Ticker    string `json:"ticker" validate:"required"`
	Direction string `json:"direction" validate:"required,oneof=BUY SELL"`
	Shares    int64  `json:"shares" validate:"required,gt=0"`
}

// ResolveRequest carries the reviewer's decision for one alert. Cancel
// abandons the whole trade; the note is optional either way.
type ResolveRequest struct {
	Action string `json:"action" validate:"required,oneof=override cancel"`
	Note   string `json:"note"`
}

// CancelRequest carries an optional cancellation note.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// HandleSubmit handles POST /api/trades
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Submit(req.FundID, req.Ticker, domain.TradeDirection(req.Direction), req.Shares)
	if err != nil {
		if errors.Is(err, funds.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "fund not found")
			return
		}
		h.log.Error().Err(err).Int64("fund_id", req.FundID).Str("ticker", req.Ticker).Msg("Trade submission failed")
		h.writeError(w, http.StatusInternalServerError, "trade submission failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// HandleList handles GET /api/trades
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var fundID int64
	if raw := r.URL.Query().Get("fund_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid fund_id")
			return
		}
		fundID = parsed
	}
	status := domain.TradeStatus(r.URL.Query().Get("status"))

	trades, err := h.service.List(fundID, status)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list trades")
		h.writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// HandleGet handles GET /api/trades/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tradeID(w, r)
	if !ok {
		return
	}
	trade, err := h.service.Get(id)
	if errors.Is(err, trading.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

// HandleAlerts handles GET /api/trades/{id}/alerts
func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tradeID(w, r)
	if !ok {
		return
	}
	list, err := h.service.Alerts(id)
	if errors.Is(err, trading.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": list})
}

// HandleResolveAlert handles POST /api/trades/{id}/alerts/{alertID}/resolve
func (h *Handler) HandleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tradeID(w, r)
	if !ok {
		return
	}
	alertID, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "action must be override or cancel")
		return
	}

	trade, err := h.service.ResolveAlert(id, alertID, trading.ResolveAction(req.Action), req.Note)
	if err != nil {
		switch {
		case errors.Is(err, trading.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "trade not found")
		case errors.Is(err, alerts.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "alert not found")
		case errors.Is(err, trading.ErrTerminalState):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

// HandleCancel handles POST /api/trades/{id}/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tradeID(w, r)
	if !ok {
		return
	}
	var req CancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	trade, err := h.service.Cancel(id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, trading.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "trade not found")
		case errors.Is(err, trading.ErrTerminalState):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.log.Error().Err(err).Int64("trade_id", id).Msg("Trade cancellation failed")
			h.writeError(w, http.StatusInternalServerError, "trade cancellation failed")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

func (h *Handler) tradeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid trade id")
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
