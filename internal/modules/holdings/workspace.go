package holdings

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/domain"
)

// Workspace builds the hypothetical position sets compliance runs against.
// Staged state lives in holdings_staging so it survives restarts while a
// trade waits on alert resolution; previews are computed in memory and never
// persisted.
type Workspace struct {
	live    *Repository
	staging *StagingRepository
	log     zerolog.Logger
}

// NewWorkspace creates a staging workspace.
func NewWorkspace(live *Repository, staging *StagingRepository, log zerolog.Logger) *Workspace {
	return &Workspace{
		live:    live,
		staging: staging,
		log:     log.With().Str("component", "workspace").Logger(),
	}
}

// Stage copies the fund's live positions into the trade's staging slot with
// the trade applied. Selling shares the fund does not hold is an error.
// Staging the same trade again rebuilds the copy from live state.
func (w *Workspace) Stage(trade *domain.Trade) ([]domain.StagedHolding, error) {
	live, err := w.live.ListByFund(trade.FundID)
	if err != nil {
		return nil, err
	}

	staged, err := overlay(live, trade)
	if err != nil {
		return nil, err
	}

	if err := w.staging.Replace(trade.FundID, trade.ID, staged); err != nil {
		return nil, err
	}

	w.log.Debug().
		Int64("trade_id", trade.ID).
		Int64("fund_id", trade.FundID).
		Int("positions", len(staged)).
		Msg("Trade staged")
	return staged, nil
}

// Staged returns the trade's staged positions.
func (w *Workspace) Staged(fundID, tradeID int64) ([]domain.StagedHolding, error) {
	return w.staging.ListByTrade(fundID, tradeID)
}

// Discard drops the trade's staged positions.
func (w *Workspace) Discard(fundID, tradeID int64) error {
	return w.staging.DeleteByTrade(fundID, tradeID)
}

// Preview applies a hypothetical trade to the fund's live positions without
// touching the staging table. Used by what-if evaluation.
func (w *Workspace) Preview(trade *domain.Trade) ([]domain.StagedHolding, error) {
	live, err := w.live.ListByFund(trade.FundID)
	if err != nil {
		return nil, err
	}
	return overlay(live, trade)
}

// overlay applies a trade to a position snapshot. Positions a sell empties
// are dropped from the result.
func overlay(live []*domain.Holding, trade *domain.Trade) ([]domain.StagedHolding, error) {
	out := make([]domain.StagedHolding, 0, len(live)+1)
	found := false
	for _, h := range live {
		shares := h.Shares
		if h.Ticker == trade.Ticker {
			found = true
			shares += trade.SignedShares()
			if shares < 0 {
				return nil, fmt.Errorf("%w: fund %d holds %d shares of %s, trade sells %d",
					ErrOversell, trade.FundID, h.Shares, trade.Ticker, trade.Shares)
			}
			if shares == 0 {
				continue
			}
		}
		out = append(out, domain.StagedHolding{
			FundID:  trade.FundID,
			Ticker:  h.Ticker,
			TradeID: trade.ID,
			Shares:  shares,
		})
	}

	if !found {
		if trade.Direction == domain.DirectionSell {
			return nil, fmt.Errorf("%w: fund %d holds no %s", ErrOversell, trade.FundID, trade.Ticker)
		}
		out = append(out, domain.StagedHolding{
			FundID:  trade.FundID,
			Ticker:  trade.Ticker,
			TradeID: trade.ID,
			Shares:  trade.Shares,
		})
	}
	return out, nil
}
