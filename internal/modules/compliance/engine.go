package compliance

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/filterexpr"
)

// RuleSource supplies the rules an evaluation run considers.
type RuleSource interface {
	GetByID(id int64) (*domain.Rule, error)
	ListActiveForFund(fundID int64, mode domain.RuleMode) ([]*domain.Rule, error)
}

// Request describes one evaluation run.
type Request struct {
	FundID    int64
	Mode      domain.RuleMode
	Cash      decimal.Decimal
	Positions []Position
	// RuleID, when non-zero, evaluates that single rule regardless of its
	// active flag, mode flags or fund attachments. Used by what-if runs.
	RuleID int64
}

// RuleError records a rule whose stored text failed to compile at
// evaluation time. The run continues with the remaining rules.
type RuleError struct {
	RuleID int64  `json:"rule_id"`
	Name   string `json:"name"`
	Err    string `json:"error"`
}

// Result is the outcome of one evaluation run.
type Result struct {
	Candidates []Candidate
	RuleErrors []RuleError
	Unpriced   []string
}

// Breached reports whether any rule was breached.
func (r *Result) Breached() bool {
	return len(r.Candidates) > 0
}

// Engine evaluates compliance rules against valued position sets.
type Engine struct {
	rules     RuleSource
	valuation *Builder
	log       zerolog.Logger
}

// NewEngine creates a compliance engine.
func NewEngine(rules RuleSource, valuation *Builder, log zerolog.Logger) *Engine {
	return &Engine{
		rules:     rules,
		valuation: valuation,
		log:       log.With().Str("component", "engine").Logger(),
	}
}

// Evaluate values the request's positions once and runs each selected rule
// over them. Rules whose stored text no longer compiles are reported in
// RuleErrors rather than aborting the run.
func (e *Engine) Evaluate(req Request) (*Result, error) {
	var selected []*domain.Rule
	if req.RuleID != 0 {
		rule, err := e.rules.GetByID(req.RuleID)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule %d: %w", req.RuleID, err)
		}
		selected = []*domain.Rule{rule}
	} else {
		list, err := e.rules.ListActiveForFund(req.FundID, req.Mode)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules for fund %d: %w", req.FundID, err)
		}
		selected = list
	}

	val, err := e.valuation.Build(req.Positions)
	if err != nil {
		return nil, fmt.Errorf("failed to value positions for fund %d: %w", req.FundID, err)
	}

	result := &Result{Unpriced: val.Unpriced}
	for _, rule := range selected {
		expr, err := filterexpr.Compile(rule.NumeratorLogic)
		if err != nil {
			e.log.Error().Err(err).Int64("rule_id", rule.ID).Msg("Stored rule text failed to compile")
			result.RuleErrors = append(result.RuleErrors, RuleError{RuleID: rule.ID, Name: rule.Name, Err: err.Error()})
			continue
		}

		candidates, err := aggregate(rule, expr, val, req.Cash, e.log)
		if err != nil {
			result.RuleErrors = append(result.RuleErrors, RuleError{RuleID: rule.ID, Name: rule.Name, Err: err.Error()})
			continue
		}
		result.Candidates = append(result.Candidates, candidates...)
	}

	e.log.Debug().
		Int64("fund_id", req.FundID).
		Int("rules", len(selected)).
		Int("breaches", len(result.Candidates)).
		Int("rule_errors", len(result.RuleErrors)).
		Msg("Evaluation complete")
	return result, nil
}
