package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/database"
	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/modules/alerts"
	"github.com/aristath/guardrail/internal/modules/compliance"
	"github.com/aristath/guardrail/internal/modules/funds"
	"github.com/aristath/guardrail/internal/modules/holdings"
)

// ErrTerminalState is returned when an operation targets a trade that has
// already settled, been cancelled, or failed validation.
var ErrTerminalState = errors.New("trade is in a terminal state")

// ErrAlertsPending is returned when a settlement is attempted while alerts
// are still open.
var ErrAlertsPending = errors.New("trade has pending alerts")

// Service drives a trade through its lifecycle: validation, staging,
// compliance evaluation, alert resolution, and settlement.
type Service struct {
	db        *sql.DB
	trades    *Repository
	validator *Validator
	workspace *holdings.Workspace
	holdings  *holdings.Repository
	staging   *holdings.StagingRepository
	funds     *funds.Repository
	alerts    *alerts.Repository
	engine    *compliance.Engine
	log       zerolog.Logger

	// One mutex per fund so concurrent settlements against the same fund
	// serialize while different funds proceed in parallel.
	fundLocks sync.Map
}

// NewService creates a trading service.
func NewService(
	db *sql.DB,
	trades *Repository,
	validator *Validator,
	workspace *holdings.Workspace,
	holdingRepo *holdings.Repository,
	stagingRepo *holdings.StagingRepository,
	fundRepo *funds.Repository,
	alertRepo *alerts.Repository,
	engine *compliance.Engine,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:        db,
		trades:    trades,
		validator: validator,
		workspace: workspace,
		holdings:  holdingRepo,
		staging:   stagingRepo,
		funds:     fundRepo,
		alerts:    alertRepo,
		engine:    engine,
		log:       log.With().Str("service", "trading").Logger(),
	}
}

// SubmitResult is the outcome of a trade submission.
type SubmitResult struct {
	Trade      *domain.Trade          `json:"trade"`
	Alerts     []*domain.Alert        `json:"alerts,omitempty"`
	RuleErrors []compliance.RuleError `json:"rule_errors,omitempty"`
}

// Submit runs a new trade through validation and compliance. Clean trades
// settle immediately; breaching trades park in the alert state with their
// staged positions retained until every alert is resolved.
func (s *Service) Submit(fundID int64, ticker string, direction domain.TradeDirection, shares int64) (*SubmitResult, error) {
	if _, err := s.funds.GetByID(fundID); err != nil {
		return nil, err
	}

	trade, err := s.trades.Create(&domain.Trade{
		FundID:    fundID,
		Ticker:    ticker,
		Direction: direction,
		Shares:    shares,
		Status:    domain.TradeSubmitted,
	})
	if err != nil {
		return nil, err
	}
	log := s.log.With().Int64("trade_id", trade.ID).Int64("fund_id", fundID).Logger()

	if err := s.trades.SetStatus(trade.ID, domain.TradeValidating, ""); err != nil {
		return nil, err
	}

	verdict, err := s.validator.Validate(trade)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid() {
		log.Info().Str("reason", verdict.Reason).Msg("Trade rejected by validation")
		if err := s.trades.SetStatus(trade.ID, domain.TradeInvalid, verdict.Reason); err != nil {
			return nil, err
		}
		trade, err := s.trades.GetByID(trade.ID)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Trade: trade}, nil
	}

	if err := s.trades.SetPricing(trade.ID, verdict.Price, verdict.TotalValue); err != nil {
		return nil, err
	}
	if err := s.trades.SetStatus(trade.ID, domain.TradeCompliance, ""); err != nil {
		return nil, err
	}
	trade, err = s.trades.GetByID(trade.ID)
	if err != nil {
		return nil, err
	}

	staged, err := s.workspace.Stage(trade)
	if err != nil {
		return nil, err
	}

	fund, err := s.funds.GetByID(fundID)
	if err != nil {
		return nil, err
	}
	// Cash moves with the trade, so rules see the post-trade balance.
	cash := fund.Cash
	if trade.Direction == domain.DirectionBuy {
		cash = cash.Sub(*trade.TotalValue)
	} else {
		cash = cash.Add(*trade.TotalValue)
	}

	result, err := s.engine.Evaluate(compliance.Request{
		FundID:    fundID,
		Mode:      domain.ModeTrade,
		Cash:      cash,
		Positions: compliance.PositionsFromStaged(staged),
	})
	if err != nil {
		return nil, err
	}

	if result.Breached() {
		created := make([]*domain.Alert, 0, len(result.Candidates))
		for _, c := range result.Candidates {
			tradeID := trade.ID
			alert, err := s.alerts.Create(&domain.Alert{
				RuleID:            c.Rule.ID,
				FundID:            fundID,
				TradeID:           &tradeID,
				Percentage:        c.Percentage,
				AlertLevel:        c.Level(),
				HoldingsTriggered: c.Holdings,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to persist alert for rule %d: %w", c.Rule.ID, err)
			}
			created = append(created, alert)
		}
		if err := s.trades.SetStatus(trade.ID, domain.TradeAlert, ""); err != nil {
			return nil, err
		}
		trade, err = s.trades.GetByID(trade.ID)
		if err != nil {
			return nil, err
		}
		log.Info().Int("alerts", len(created)).Msg("Trade held on compliance alerts")
		return &SubmitResult{Trade: trade, Alerts: created, RuleErrors: result.RuleErrors}, nil
	}

	if err := s.settle(trade); err != nil {
		return nil, err
	}
	trade, err = s.trades.GetByID(trade.ID)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Trade settled")
	return &SubmitResult{Trade: trade, RuleErrors: result.RuleErrors}, nil
}

// ResolveAction is what a reviewer decides about a pending alert.
type ResolveAction string

const (
	// ActionOverride clears one alert; the trade settles once all are cleared.
	ActionOverride ResolveAction = "override"
	// ActionCancel abandons the whole trade, not just the one alert.
	ActionCancel ResolveAction = "cancel"
)

// ResolveAlert applies a reviewer's decision to one pending alert. Override
// clears the alert, with an optional note, and settles the trade once no
// pending alerts remain. Cancel cancels the whole trade.
func (s *Service) ResolveAlert(tradeID, alertID int64, action ResolveAction, note string) (*domain.Trade, error) {
	trade, err := s.trades.GetByID(tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status != domain.TradeAlert {
		return nil, fmt.Errorf("%w: trade %d is %s", ErrTerminalState, tradeID, trade.Status)
	}

	alert, err := s.alerts.GetByID(alertID)
	if err != nil {
		return nil, err
	}
	if alert.TradeID == nil || *alert.TradeID != tradeID {
		return nil, fmt.Errorf("alert %d does not belong to trade %d", alertID, tradeID)
	}
	if alert.Status != domain.AlertPending {
		return nil, fmt.Errorf("alert %d is already %s", alertID, alert.Status)
	}

	switch action {
	case ActionCancel:
		return s.Cancel(tradeID, note)
	case ActionOverride:
	default:
		return nil, fmt.Errorf("action must be %q or %q, got %q", ActionOverride, ActionCancel, action)
	}

	if err := s.alerts.SetStatus(alertID, domain.AlertOverridden, note); err != nil {
		return nil, err
	}
	s.log.Info().Int64("trade_id", tradeID).Int64("alert_id", alertID).Msg("Alert overridden")

	pending, err := s.alerts.CountPendingByTrade(tradeID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return s.trades.GetByID(tradeID)
	}

	if err := s.settle(trade); err != nil {
		return nil, err
	}
	s.log.Info().Int64("trade_id", tradeID).Msg("All alerts overridden, trade settled")
	return s.trades.GetByID(tradeID)
}

// Cancel abandons a trade held on alerts: pending alerts are marked
// cancelled, staged positions are discarded, and the trade terminates.
func (s *Service) Cancel(tradeID int64, reason string) (*domain.Trade, error) {
	trade, err := s.trades.GetByID(tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Status.Terminal() {
		return nil, fmt.Errorf("%w: trade %d is %s", ErrTerminalState, tradeID, trade.Status)
	}

	if err := s.alerts.CancelPendingByTrade(tradeID, reason); err != nil {
		return nil, err
	}
	if err := s.workspace.Discard(trade.FundID, tradeID); err != nil {
		return nil, err
	}
	if err := s.trades.SetStatus(tradeID, domain.TradeCancelled, reason); err != nil {
		return nil, err
	}
	s.log.Info().Int64("trade_id", tradeID).Msg("Trade cancelled")
	return s.trades.GetByID(tradeID)
}

// settle applies the trade to live holdings and cash in one transaction,
// clears its staging slot, and marks it processed. Settlements for the same
// fund are serialized.
func (s *Service) settle(trade *domain.Trade) error {
	if trade.TotalValue == nil {
		return fmt.Errorf("trade %d has no captured value", trade.ID)
	}

	pending, err := s.alerts.CountPendingByTrade(trade.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("%w: trade %d has %d", ErrAlertsPending, trade.ID, pending)
	}

	mu := s.lockFund(trade.FundID)
	mu.Lock()
	defer mu.Unlock()

	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		// Re-check under the lock: a racing resolution may have settled or
		// cancelled the trade after the caller's checks ran.
		status, err := s.trades.GetStatusTx(tx, trade.ID)
		if err != nil {
			return err
		}
		if status.Terminal() {
			return fmt.Errorf("%w: trade %d is %s", ErrTerminalState, trade.ID, status)
		}

		if err := s.holdings.ApplyDeltaTx(tx, trade.FundID, trade.Ticker, trade.SignedShares()); err != nil {
			return err
		}

		cash, err := s.funds.GetCashTx(tx, trade.FundID)
		if err != nil {
			return err
		}
		if trade.Direction == domain.DirectionBuy {
			cash = cash.Sub(*trade.TotalValue)
		} else {
			cash = cash.Add(*trade.TotalValue)
		}
		if cash.IsNegative() {
			return fmt.Errorf("settling trade %d would overdraw fund %d", trade.ID, trade.FundID)
		}
		if err := s.funds.UpdateCashTx(tx, trade.FundID, cash); err != nil {
			return err
		}

		if err := s.staging.DeleteByTradeTx(tx, trade.FundID, trade.ID); err != nil {
			return err
		}
		return s.trades.SetStatusTx(tx, trade.ID, domain.TradeProcessed, "")
	})
}

func (s *Service) lockFund(fundID int64) *sync.Mutex {
	mu, _ := s.fundLocks.LoadOrStore(fundID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Get returns one trade.
func (s *Service) Get(tradeID int64) (*domain.Trade, error) {
	return s.trades.GetByID(tradeID)
}

// List returns trades filtered by fund and status.
func (s *Service) List(fundID int64, status domain.TradeStatus) ([]*domain.Trade, error) {
	return s.trades.List(fundID, status)
}

// Alerts returns the alerts raised against a trade.
func (s *Service) Alerts(tradeID int64) ([]*domain.Alert, error) {
	if _, err := s.trades.GetByID(tradeID); err != nil {
		return nil, err
	}
	return s.alerts.ListByTrade(tradeID)
}
