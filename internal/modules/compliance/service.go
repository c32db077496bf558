package compliance

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/modules/alerts"
	"github.com/aristath/guardrail/internal/modules/funds"
	"github.com/aristath/guardrail/internal/modules/holdings"
	"github.com/aristath/guardrail/internal/modules/universe"
)

// Service runs portfolio-level compliance: batch sweeps over live holdings
// and what-if evaluations that never persist anything.
type Service struct {
	engine     *Engine
	funds      *funds.Repository
	holdings   *holdings.Repository
	workspace  *holdings.Workspace
	securities *universe.SecurityRepository
	alerts     *alerts.Repository
	log        zerolog.Logger
}

// NewService creates a compliance service.
func NewService(
	engine *Engine,
	fundRepo *funds.Repository,
	holdingRepo *holdings.Repository,
	workspace *holdings.Workspace,
	securityRepo *universe.SecurityRepository,
	alertRepo *alerts.Repository,
	log zerolog.Logger,
) *Service {
	return &Service{
		engine:     engine,
		funds:      fundRepo,
		holdings:   holdingRepo,
		workspace:  workspace,
		securities: securityRepo,
		alerts:     alertRepo,
		log:        log.With().Str("service", "compliance").Logger(),
	}
}

// FundRunResult summarizes one fund's portfolio sweep.
type FundRunResult struct {
	FundID     int64           `json:"fund_id"`
	BatchRunID string          `json:"batch_run_id"`
	Alerts     []*domain.Alert `json:"alerts"`
	RuleErrors []RuleError     `json:"rule_errors,omitempty"`
	Unpriced   []string        `json:"unpriced,omitempty"`
}

// BatchRunResult summarizes a sweep over every fund.
type BatchRunResult struct {
	BatchRunID string           `json:"batch_run_id"`
	Funds      []*FundRunResult `json:"funds"`
}

// RunFund evaluates every active attached rule against a fund's live
// holdings and persists a pending alert per breach. Portfolio alerts carry
// no trade ID.
func (s *Service) RunFund(fundID int64, batchRunID string) (*FundRunResult, error) {
	if batchRunID == "" {
		batchRunID = uuid.NewString()
	}

	fund, err := s.funds.GetByID(fundID)
	if err != nil {
		return nil, err
	}
	live, err := s.holdings.ListByFund(fundID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Evaluate(Request{
		FundID:    fundID,
		Mode:      domain.ModePortfolio,
		Cash:      fund.Cash,
		Positions: PositionsFromHoldings(live),
	})
	if err != nil {
		return nil, err
	}

	run := &FundRunResult{FundID: fundID, BatchRunID: batchRunID, RuleErrors: result.RuleErrors, Unpriced: result.Unpriced}
	for _, c := range result.Candidates {
		alert, err := s.alerts.Create(&domain.Alert{
			RuleID:            c.Rule.ID,
			FundID:            fundID,
			BatchRunID:        batchRunID,
			Percentage:        c.Percentage,
			AlertLevel:        c.Level(),
			HoldingsTriggered: c.Holdings,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist alert for rule %d: %w", c.Rule.ID, err)
		}
		run.Alerts = append(run.Alerts, alert)
	}

	s.log.Info().
		Int64("fund_id", fundID).
		Str("batch_run_id", batchRunID).
		Int("alerts", len(run.Alerts)).
		Msg("Portfolio compliance run complete")
	return run, nil
}

// RunAllFunds sweeps every fund under one batch run ID. A failing fund does
// not stop the sweep.
func (s *Service) RunAllFunds() (*BatchRunResult, error) {
	allFunds, err := s.funds.List()
	if err != nil {
		return nil, err
	}

	batch := &BatchRunResult{BatchRunID: uuid.NewString()}
	for _, fund := range allFunds {
		run, err := s.RunFund(fund.ID, batch.BatchRunID)
		if err != nil {
			s.log.Error().Err(err).Int64("fund_id", fund.ID).Msg("Portfolio compliance run failed")
			continue
		}
		batch.Funds = append(batch.Funds, run)
	}
	return batch, nil
}

// WhatIfRequest describes a dry evaluation: optionally a hypothetical trade
// overlaid on live holdings, optionally a single rule to run in isolation.
type WhatIfRequest struct {
	FundID    int64
	Ticker    string
	Direction domain.TradeDirection
	Shares    int64
	RuleID    int64
}

// EvaluateWhatIf runs rules against a hypothetical position set. Nothing is
// staged and no alerts are persisted. When RuleID is set, that rule runs
// alone regardless of its active flag, mode flags or attachments. Runs with
// a hypothetical trade use trade-mode rules and the post-trade cash balance,
// so the dry run predicts what a real submission would see; plain holdings
// checks use portfolio-mode rules and live cash.
func (s *Service) EvaluateWhatIf(req WhatIfRequest) (*Result, error) {
	fund, err := s.funds.GetByID(req.FundID)
	if err != nil {
		return nil, err
	}
	cash := fund.Cash

	mode := domain.ModePortfolio
	var positions []Position
	if req.Ticker != "" {
		mode = domain.ModeTrade
		if !req.Direction.Valid() {
			return nil, fmt.Errorf("direction must be %s or %s", domain.DirectionBuy, domain.DirectionSell)
		}
		if req.Shares <= 0 {
			return nil, fmt.Errorf("shares must be positive")
		}
		price, err := s.securities.GetPrice(req.Ticker)
		if err != nil {
			return nil, fmt.Errorf("cannot price hypothetical trade for %s: %w", req.Ticker, err)
		}
		value := price.Price.Mul(decimal.NewFromInt(req.Shares))
		if req.Direction == domain.DirectionBuy {
			cash = cash.Sub(value)
		} else {
			cash = cash.Add(value)
		}

		preview, err := s.workspace.Preview(&domain.Trade{
			FundID:    req.FundID,
			Ticker:    req.Ticker,
			Direction: req.Direction,
			Shares:    req.Shares,
		})
		if err != nil {
			return nil, err
		}
		positions = PositionsFromStaged(preview)
	} else {
		live, err := s.holdings.ListByFund(req.FundID)
		if err != nil {
			return nil, err
		}
		positions = PositionsFromHoldings(live)
	}

	return s.engine.Evaluate(Request{
		FundID:    req.FundID,
		Mode:      mode,
		Cash:      cash,
		Positions: positions,
		RuleID:    req.RuleID,
	})
}
