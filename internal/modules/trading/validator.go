package trading

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/modules/funds"
	"github.com/aristath/guardrail/internal/modules/holdings"
	"github.com/aristath/guardrail/internal/modules/universe"
)

// Validator checks a submitted trade against prices, cash, and positions
// before it enters compliance evaluation.
type Validator struct {
	funds      *funds.Repository
	securities *universe.SecurityRepository
	holdings   *holdings.Repository
}

// NewValidator creates a trade validator.
func NewValidator(fundRepo *funds.Repository, securities *universe.SecurityRepository, holdingRepo *holdings.Repository) *Validator {
	return &Validator{
		funds:      fundRepo,
		securities: securities,
		holdings:   holdingRepo,
	}
}

// Verdict is the outcome of trade validation. An empty Reason means the
// trade is executable; Price and TotalValue are set either way when a price
// was available.
type Verdict struct {
	Price      decimal.Decimal
	TotalValue decimal.Decimal
	Reason     string
}

// Valid reports whether the trade passed validation.
func (v *Verdict) Valid() bool {
	return v.Reason == ""
}

// Validate prices the trade and checks it is affordable (buys) or covered
// (sells). Rejections come back in the verdict; errors mean the check itself
// could not run.
func (v *Validator) Validate(trade *domain.Trade) (*Verdict, error) {
	if !trade.Direction.Valid() {
		return &Verdict{Reason: fmt.Sprintf("direction must be %s or %s", domain.DirectionBuy, domain.DirectionSell)}, nil
	}
	if trade.Shares <= 0 {
		return &Verdict{Reason: "shares must be positive"}, nil
	}

	if _, err := v.securities.GetByTicker(trade.Ticker); err != nil {
		if errors.Is(err, universe.ErrSecurityNotFound) {
			return &Verdict{Reason: fmt.Sprintf("unknown security %s", trade.Ticker)}, nil
		}
		return nil, err
	}

	price, err := v.securities.GetPrice(trade.Ticker)
	if err != nil {
		if errors.Is(err, universe.ErrPriceNotFound) {
			return &Verdict{Reason: fmt.Sprintf("no price available for %s", trade.Ticker)}, nil
		}
		return nil, err
	}

	verdict := &Verdict{
		Price:      price.Price,
		TotalValue: price.Price.Mul(decimal.NewFromInt(trade.Shares)),
	}

	switch trade.Direction {
	case domain.DirectionBuy:
		fund, err := v.funds.GetByID(trade.FundID)
		if err != nil {
			return nil, err
		}
		if verdict.TotalValue.GreaterThan(fund.Cash) {
			verdict.Reason = fmt.Sprintf(
				"insufficient cash: trade value %s exceeds available cash %s (maximum affordable shares: %s)",
				verdict.TotalValue, fund.Cash, maxAffordable(fund.Cash, price.Price),
			)
		}

	case domain.DirectionSell:
		held := int64(0)
		holding, err := v.holdings.Get(trade.FundID, trade.Ticker)
		if err != nil && !errors.Is(err, holdings.ErrNotFound) {
			return nil, err
		}
		if holding != nil {
			held = holding.Shares
		}
		if trade.Shares > held {
			verdict.Reason = fmt.Sprintf(
				"insufficient shares: selling %d but holding %d of %s (maximum sellable shares: %d)",
				trade.Shares, held, trade.Ticker, held,
			)
		}
	}

	return verdict, nil
}

func maxAffordable(cash, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return cash.Div(price).Floor()
}
