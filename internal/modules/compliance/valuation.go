// Package compliance evaluates rules against valued position sets and turns
// breaches into alerts.
package compliance

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/filterexpr"
	"github.com/aristath/guardrail/internal/modules/universe"
)

// Position is a (ticker, shares) pair from either live holdings or a
// trade's staging workspace.
type Position struct {
	Ticker string
	Shares int64
}

// PositionsFromHoldings converts live holdings.
func PositionsFromHoldings(list []*domain.Holding) []Position {
	out := make([]Position, 0, len(list))
	for _, h := range list {
		out = append(out, Position{Ticker: h.Ticker, Shares: h.Shares})
	}
	return out
}

// PositionsFromStaged converts staged holdings.
func PositionsFromStaged(list []domain.StagedHolding) []Position {
	out := make([]Position, 0, len(list))
	for _, s := range list {
		out = append(out, Position{Ticker: s.Ticker, Shares: s.Shares})
	}
	return out
}

// ValuationRow is one priced position joined with its security and issuer
// reference data. It is the row type rule predicates evaluate against.
type ValuationRow struct {
	Ticker      string
	Shares      int64
	Price       decimal.Decimal
	MarketValue decimal.Decimal

	security *domain.Security
	issuer   *domain.Issuer
}

// Field resolves a predicate identifier to this row's value. Core fields are
// addressed bare (ticker, shares, price, market_value, name, asset_class,
// issuer) or qualified (holding.shares, security.name, issuer.country);
// anything else under security. or issuer. is an open attribute lookup.
// Attribute values that parse as decimals are exposed as numbers.
func (v *ValuationRow) Field(name string) (filterexpr.Value, bool) {
	switch name {
	case "ticker", "holding.ticker", "security.ticker":
		return filterexpr.String(v.Ticker), true
	case "shares", "holding.shares":
		return filterexpr.Number(decimal.NewFromInt(v.Shares)), true
	case "price", "holding.price":
		return filterexpr.Number(v.Price), true
	case "market_value", "holding.market_value":
		return filterexpr.Number(v.MarketValue), true
	case "name", "security.name":
		return filterexpr.String(v.security.Name), true
	case "asset_class", "security.asset_class":
		return stringOrNull(v.security.AssetClass), true
	case "issuer", "issuer.name":
		if v.issuer == nil {
			return filterexpr.Null(), true
		}
		return filterexpr.String(v.issuer.Name), true
	case "issuer.country":
		if v.issuer == nil {
			return filterexpr.Null(), true
		}
		return stringOrNull(v.issuer.Country), true
	case "issuer.industry":
		if v.issuer == nil {
			return filterexpr.Null(), true
		}
		return stringOrNull(v.issuer.Industry), true
	}

	if attr, ok := cutPrefix(name, "security."); ok {
		if raw, ok := v.security.Attributes[attr]; ok {
			return attrValue(raw), true
		}
		return filterexpr.Null(), true
	}
	if attr, ok := cutPrefix(name, "issuer."); ok {
		if v.issuer != nil {
			if raw, ok := v.issuer.Attributes[attr]; ok {
				return attrValue(raw), true
			}
		}
		return filterexpr.Null(), true
	}
	return filterexpr.Value{}, false
}

// SharesOutstanding returns the security's shares_outstanding attribute, if
// present and numeric.
func (v *ValuationRow) SharesOutstanding() (decimal.Decimal, bool) {
	raw, ok := v.security.Attributes[attrSharesOutstanding]
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

const attrSharesOutstanding = "shares_outstanding"

// Valuation is a fully priced position set.
type Valuation struct {
	Rows []*ValuationRow
	// TotalMarketValue sums the market value of every priced row.
	TotalMarketValue decimal.Decimal
	// Unpriced lists tickers excluded because no price was known.
	Unpriced []string
}

// Builder joins positions with prices and reference data. The join happens
// in Go so rule text never becomes part of a SQL statement.
type Builder struct {
	securities *universe.SecurityRepository
	issuers    *universe.IssuerRepository
	log        zerolog.Logger
}

// NewBuilder creates a valuation builder.
func NewBuilder(securities *universe.SecurityRepository, issuers *universe.IssuerRepository, log zerolog.Logger) *Builder {
	return &Builder{
		securities: securities,
		issuers:    issuers,
		log:        log.With().Str("component", "valuation").Logger(),
	}
}

// Build values a position set. Positions with no known price are excluded
// from the rows and the total, and reported in Unpriced.
func (b *Builder) Build(positions []Position) (*Valuation, error) {
	prices, err := b.securities.AllPrices()
	if err != nil {
		return nil, err
	}

	tickers := make([]string, 0, len(positions))
	for _, p := range positions {
		tickers = append(tickers, p.Ticker)
	}
	securities, err := b.securities.ListByTickers(tickers)
	if err != nil {
		return nil, err
	}

	val := &Valuation{TotalMarketValue: decimal.Zero}
	issuerCache := make(map[int64]*domain.Issuer)
	for _, p := range positions {
		if p.Shares <= 0 {
			continue
		}
		price, priced := prices[p.Ticker]
		if !priced {
			b.log.Warn().Str("ticker", p.Ticker).Msg("Position has no price, excluding from valuation")
			val.Unpriced = append(val.Unpriced, p.Ticker)
			continue
		}
		sec, ok := securities[p.Ticker]
		if !ok {
			return nil, fmt.Errorf("position references unknown security %s", p.Ticker)
		}

		var issuer *domain.Issuer
		if sec.IssuerID != nil {
			if cached, ok := issuerCache[*sec.IssuerID]; ok {
				issuer = cached
			} else {
				iss, err := b.issuers.GetByID(*sec.IssuerID)
				if err != nil {
					return nil, fmt.Errorf("failed to load issuer for %s: %w", p.Ticker, err)
				}
				issuerCache[*sec.IssuerID] = iss
				issuer = iss
			}
		}

		mv := price.Mul(decimal.NewFromInt(p.Shares))
		val.Rows = append(val.Rows, &ValuationRow{
			Ticker:      p.Ticker,
			Shares:      p.Shares,
			Price:       price,
			MarketValue: mv,
			security:    sec,
			issuer:      issuer,
		})
		val.TotalMarketValue = val.TotalMarketValue.Add(mv)
	}
	return val, nil
}

func stringOrNull(s string) filterexpr.Value {
	if s == "" {
		return filterexpr.Null()
	}
	return filterexpr.String(s)
}

// attrValue exposes numeric-looking attribute values as numbers so rules can
// compare them with < and >.
func attrValue(raw string) filterexpr.Value {
	if d, err := decimal.NewFromString(raw); err == nil {
		return filterexpr.Number(d)
	}
	return filterexpr.String(raw)
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}
