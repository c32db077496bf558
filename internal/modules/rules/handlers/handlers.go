// Package handlers provides HTTP handlers for compliance rule management.
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
	"github.com/aristath/guardrail/internal/modules/rules"
)

// Handler handles rule HTTP requests
type Handler struct {
	service  *rules.Service
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new rule handler
func NewHandler(service *rules.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		log:      log.With().Str("handler", "rules").Logger(),
	}
}

// RuleRequest is the create/update payload for a rule. Mode flags default
// to true; alert_if and alert_level stay empty for prohibit rules.
type RuleRequest struct {
	Name            string `json:"name" validate:"required"`
	AlertMessage    string `json:"alert_message"`
	NumeratorLogic  string `json:"numerator_logic"`
	DenominatorType string `json:"denominator_type" validate:"required"`
	AlertIf         string `json:"alert_if" validate:"omitempty,oneof=above below"`
	AlertLevel      string `json:"alert_level"`
	TradeMode       *bool  `json:"trade_mode"`
	PortfolioMode   *bool  `json:"portfolio_mode"`
	Active          *bool  `json:"active"`
}

// AttachRequest links a rule to a fund.
type AttachRequest struct {
	FundID int64 `json:"fund_id" validate:"required"`
}

func (req *RuleRequest) toRule() (*domain.Rule, error) {
	level := decimal.Zero
	if req.AlertLevel != "" {
		parsed, err := decimal.NewFromString(req.AlertLevel)
		if err != nil {
			return nil, errors.New("alert_level must be a decimal number")
		}
		level = parsed
	}
	boolOr := func(v *bool, def bool) bool {
		if v != nil {
			return *v
		}
		return def
	}
	return &domain.Rule{
		Name:            req.Name,
		AlertMessage:    req.AlertMessage,
		NumeratorLogic:  req.NumeratorLogic,
		DenominatorType: domain.DenominatorType(req.DenominatorType),
		AlertIf:         domain.AlertIf(req.AlertIf),
		AlertLevel:      level,
		TradeMode:       boolOr(req.TradeMode, true),
		PortfolioMode:   boolOr(req.PortfolioMode, true),
		Active:          boolOr(req.Active, true),
	}, nil
}

// HandleList handles GET /api/rules
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list rules")
		h.writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": list})
}

// HandleGet handles GET /api/rules/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	rule, err := h.service.Get(id)
	if errors.Is(err, rules.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	attachments, err := h.service.Attachments(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get attachments")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"rule": rule, "fund_ids": attachments})
}

// HandleCreate handles POST /api/rules
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	rule, err := req.toRule()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.service.Create(rule)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// ValidateRequest is the payload for a dry-run logic check.
type ValidateRequest struct {
	NumeratorLogic string `json:"numerator_logic"`
}

// HandleValidate handles POST /api/rules/validate
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.service.ValidateLogic(req.NumeratorLogic); err != nil {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}

// HandleUpdate handles PUT /api/rules/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	rule, err := req.toRule()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = id
	if err := h.service.Update(rule); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.service.Get(id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// HandleDelete handles DELETE /api/rules/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(id); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleAttach handles POST /api/rules/{id}/attachments
func (h *Handler) HandleAttach(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	var req AttachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.Attach(id, req.FundID); err != nil {
		if errors.Is(err, rules.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to attach rule")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
}

// HandleDetach handles DELETE /api/rules/{id}/attachments/{fundID}
func (h *Handler) HandleDetach(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ruleID(w, r)
	if !ok {
		return
	}
	fundID, err := strconv.ParseInt(chi.URLParam(r, "fundID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}
	if err := h.service.Detach(id, fundID); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to detach rule")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "detached"})
}

func (h *Handler) ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decodeRule(w http.ResponseWriter, r *http.Request) (*RuleRequest, bool) {
	var req RuleRequest
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
