// Package handlers provides HTTP handlers for portfolio compliance runs and
// what-if evaluations.
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
	"github.com/aristath/guardrail/internal/modules/compliance"
	"github.com/aristath/guardrail/internal/modules/funds"
	"github.com/aristath/guardrail/internal/modules/rules"
)

// Handler handles compliance HTTP requests
type Handler struct {
	service  *compliance.Service
	alerts   *alerts.Repository
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new compliance handler
func NewHandler(service *compliance.Service, alertRepo *alerts.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		alerts:   alertRepo,
		validate: validator.New(),
		log:      log.With().Str("handler", "compliance").Logger(),
	}
}

// WhatIfRequest is the payload for a dry evaluation run.
type WhatIfRequest struct {
	FundID    int64  `json:"fund_id" validate:"required"`
	Ticker    string `json:"ticker"`
	Direction string `json:"direction" validate:"omitempty,oneof=BUY SELL"`
	Shares    int64  `json:"shares" validate:"omitempty,gt=0"`
	RuleID    int64  `json:"rule_id"`
}

// HandleRunFund handles POST /api/compliance/portfolio/{fundID}
func (h *Handler) HandleRunFund(w http.ResponseWriter, r *http.Request) {
	fundID, err := strconv.ParseInt(chi.URLParam(r, "fundID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}
	run, err := h.service.RunFund(fundID, "")
	if errors.Is(err, funds.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "fund not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("fund_id", fundID).Msg("Portfolio compliance run failed")
		h.writeError(w, http.StatusInternalServerError, "portfolio compliance run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// HandleRunAll handles POST /api/compliance/portfolio
func (h *Handler) HandleRunAll(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.RunAllFunds()
	if err != nil {
		h.log.Error().Err(err).Msg("Portfolio compliance sweep failed")
		h.writeError(w, http.StatusInternalServerError, "portfolio compliance sweep failed")
		return
	}
	h.writeJSON(w, http.StatusOK, batch)
}

// HandleWhatIf handles POST /api/compliance/test
func (h *Handler) HandleWhatIf(w http.ResponseWriter, r *http.Request) {
	var req WhatIfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.EvaluateWhatIf(compliance.WhatIfRequest{
		FundID:    req.FundID,
		Ticker:    req.Ticker,
		Direction: domain.TradeDirection(req.Direction),
		Shares:    req.Shares,
		RuleID:    req.RuleID,
	})
	if err != nil {
		switch {
		case errors.Is(err, funds.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "fund not found")
		case errors.Is(err, rules.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "rule not found")
		default:
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	breaches := make([]map[string]interface{}, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		entry := map[string]interface{}{
			"rule_id":   c.Rule.ID,
			"rule_name": c.Rule.Name,
			"holdings":  c.Holdings,
		}
		if c.Percentage != nil {
			entry["percentage"] = c.Percentage
			entry["alert_level"] = c.Rule.AlertLevel
		}
		breaches = append(breaches, entry)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"breached":    result.Breached(),
		"breaches":    breaches,
		"rule_errors": result.RuleErrors,
		"unpriced":    result.Unpriced,
	})
}

// HandleListAlerts handles GET /api/compliance/alerts
func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("fund_id")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "fund_id is required")
		return
	}
	fundID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid fund_id")
		return
	}
	status := domain.AlertStatus(r.URL.Query().Get("status"))

	list, err := h.alerts.ListByFund(fundID, status)
	if err != nil {
		h.log.Error().Err(err).Int64("fund_id", fundID).Msg("Failed to list alerts")
		h.writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": list})
}

// HandleBatchAlerts handles GET /api/compliance/batches/{batchRunID}
func (h *Handler) HandleBatchAlerts(w http.ResponseWriter, r *http.Request) {
	batchRunID := chi.URLParam(r, "batchRunID")
	list, err := h.alerts.ListByBatchRun(batchRunID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list batch alerts")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch_run_id": batchRunID,
		"alerts":       list,
	})
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
