package compliance

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/filterexpr"
)

var hundred = decimal.NewFromInt(100)

// Candidate is a rule breach found during evaluation, before it is persisted
// as an alert.
type Candidate struct {
	Rule       *domain.Rule
	Percentage *decimal.Decimal
	Holdings   []string
}

// Level returns the threshold to snapshot on the persisted alert. Prohibit
// rules have no threshold, so their alerts store none.
func (c Candidate) Level() *decimal.Decimal {
	if c.Rule.DenominatorType == domain.DenomProhibit {
		return nil
	}
	level := c.Rule.AlertLevel
	return &level
}

// aggregate runs one compiled rule over a valuation and returns any breach.
// Thresholds are inclusive: above alerts at pct >= level, below at
// pct <= level. A zero denominator never alerts.
func aggregate(rule *domain.Rule, expr *filterexpr.Expr, val *Valuation, cash decimal.Decimal, log zerolog.Logger) ([]Candidate, error) {
	var matched []*ValuationRow
	for _, row := range val.Rows {
		ok, err := expr.Match(row)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}

	switch rule.DenominatorType {
	case domain.DenomProhibit:
		// Any match at all is a breach.
		if len(matched) == 0 {
			return nil, nil
		}
		return []Candidate{{Rule: rule, Holdings: tickers(matched)}}, nil

	case domain.DenomSharesOutstandingFE:
		return aggregatePerPosition(rule, matched, log)

	default:
		denominator := val.TotalMarketValue
		if rule.DenominatorType == domain.DenomTotalAssets || rule.DenominatorType == domain.DenomNetAssets {
			denominator = denominator.Add(cash)
		}
		if denominator.IsZero() {
			log.Warn().Int64("rule_id", rule.ID).Msg("Zero denominator, rule cannot alert")
			return nil, nil
		}

		numerator := decimal.Zero
		for _, row := range matched {
			numerator = numerator.Add(row.MarketValue)
		}
		pct := numerator.Div(denominator).Mul(hundred)
		if !breaches(rule, pct) {
			return nil, nil
		}
		return []Candidate{{Rule: rule, Percentage: &pct, Holdings: tickers(matched)}}, nil
	}
}

// aggregatePerPosition checks each matched position's share count against the
// security's shares outstanding. Securities without the attribute are skipped.
func aggregatePerPosition(rule *domain.Rule, matched []*ValuationRow, log zerolog.Logger) ([]Candidate, error) {
	var out []Candidate
	for _, row := range matched {
		outstanding, ok := row.SharesOutstanding()
		if !ok {
			log.Warn().
				Int64("rule_id", rule.ID).
				Str("ticker", row.Ticker).
				Msg("Security has no shares_outstanding attribute, skipping")
			continue
		}
		pct := decimal.NewFromInt(row.Shares).Div(outstanding).Mul(hundred)
		if breaches(rule, pct) {
			p := pct
			out = append(out, Candidate{Rule: rule, Percentage: &p, Holdings: []string{row.Ticker}})
		}
	}
	return out, nil
}

func breaches(rule *domain.Rule, pct decimal.Decimal) bool {
	if rule.AlertIf == domain.AlertBelow {
		return pct.LessThanOrEqual(rule.AlertLevel)
	}
	return pct.GreaterThanOrEqual(rule.AlertLevel)
}

func tickers(rows []*ValuationRow) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Ticker)
	}
	return out
}
