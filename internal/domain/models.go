// Package domain holds the shared types used across modules.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeDirection is the side of a trade.
type TradeDirection string

const (
	DirectionBuy  TradeDirection = "BUY"
	DirectionSell TradeDirection = "SELL"
)

// Valid reports whether the direction is one of the known sides.
func (d TradeDirection) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradeSubmitted  TradeStatus = "submitted"
	TradeValidating TradeStatus = "validating"
	TradeInvalid    TradeStatus = "invalid"
	TradeCompliance TradeStatus = "compliance"
	TradeAlert      TradeStatus = "alert"
	TradeProcessed  TradeStatus = "processed"
	TradeCancelled  TradeStatus = "cancelled"
)

// Terminal reports whether the trade can no longer change state.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeInvalid, TradeProcessed, TradeCancelled:
		return true
	}
	return false
}

// AlertStatus is the resolution state of a compliance alert.
type AlertStatus string

const (
	AlertPending    AlertStatus = "pending"
	AlertOverridden AlertStatus = "overridden"
	AlertCancelled  AlertStatus = "cancelled"
)

// AlertIf is the direction a ratio must cross to trigger an alert.
type AlertIf string

const (
	AlertAbove AlertIf = "above"
	AlertBelow AlertIf = "below"
)

// Valid reports whether the comparison direction is known.
func (a AlertIf) Valid() bool {
	return a == AlertAbove || a == AlertBelow
}

// DenominatorType selects how a rule's ratio denominator is computed.
type DenominatorType string

const (
	// DenomTotalAssets divides by holdings market value plus cash.
	DenomTotalAssets DenominatorType = "total_assets"
	// DenomNetAssets is an alias for total_assets kept for rule portability.
	DenomNetAssets DenominatorType = "net_assets"
	// DenomTotalAssetsExCash divides by holdings market value only.
	DenomTotalAssetsExCash DenominatorType = "total_assets_ex_cash"
	// DenomProhibit alerts on any numerator match at all.
	DenomProhibit DenominatorType = "prohibit"
	// DenomSharesOutstandingFE checks each matched position's share count
	// against the security's shares outstanding (foreign exposure style limits).
	DenomSharesOutstandingFE DenominatorType = "shares_outstanding_fe"
)

// Valid reports whether the denominator type is known.
func (d DenominatorType) Valid() bool {
	switch d {
	case DenomTotalAssets, DenomNetAssets, DenomTotalAssetsExCash, DenomProhibit, DenomSharesOutstandingFE:
		return true
	}
	return false
}

// Fund is a portfolio with a cash balance and holdings.
type Fund struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Cash      decimal.Decimal `json:"cash"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Issuer is the entity behind one or more securities.
type Issuer struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	Country    string            `json:"country,omitempty"`
	Industry   string            `json:"industry,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Security is a tradable instrument keyed by ticker.
type Security struct {
	Ticker     string            `json:"ticker"`
	Name       string            `json:"name"`
	IssuerID   *int64            `json:"issuer_id,omitempty"`
	AssetClass string            `json:"asset_class,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// SecurityPrice is one day's closing price for a security. The current
// price of a ticker is the price at the latest date on record.
type SecurityPrice struct {
	Ticker    string          `json:"ticker"`
	PriceDate string          `json:"price_date"` // YYYY-MM-DD
	Price     decimal.Decimal `json:"price"`
}

// Holding is a fund's live position in a security.
type Holding struct {
	FundID    int64     `json:"fund_id"`
	Ticker    string    `json:"ticker"`
	Shares    int64     `json:"shares"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StagedHolding is a hypothetical position in a trade's staging workspace.
// Shares may be zero when a sell empties the position.
type StagedHolding struct {
	FundID  int64  `json:"fund_id"`
	Ticker  string `json:"ticker"`
	TradeID int64  `json:"trade_id"`
	Shares  int64  `json:"shares"`
}

// Trade is a buy or sell order moving through the compliance pipeline.
type Trade struct {
	ID         int64            `json:"id"`
	FundID     int64            `json:"fund_id"`
	Ticker     string           `json:"ticker"`
	Direction  TradeDirection   `json:"direction"`
	Shares     int64            `json:"shares"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	TotalValue *decimal.Decimal `json:"total_value,omitempty"`
	Status     TradeStatus      `json:"status"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// SignedShares returns the share delta the trade applies to a position.
func (t *Trade) SignedShares() int64 {
	if t.Direction == DirectionSell {
		return -t.Shares
	}
	return t.Shares
}

// RuleMode selects which evaluation pass a rule participates in.
type RuleMode string

const (
	ModeTrade     RuleMode = "trade"
	ModePortfolio RuleMode = "portfolio"
)

// Rule is a compliance rule: a filter expression selecting holdings (the
// numerator) and a ratio check against a denominator. Prohibit rules carry
// no threshold or direction.
type Rule struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	AlertMessage    string          `json:"alert_message,omitempty"`
	NumeratorLogic  string          `json:"numerator_logic"`
	DenominatorType DenominatorType `json:"denominator_type"`
	AlertIf         AlertIf         `json:"alert_if,omitempty"`
	AlertLevel      decimal.Decimal `json:"alert_level"`
	TradeMode       bool            `json:"trade_mode"`
	PortfolioMode   bool            `json:"portfolio_mode"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AppliesTo reports whether the rule participates in the given evaluation mode.
func (r *Rule) AppliesTo(mode RuleMode) bool {
	if mode == ModePortfolio {
		return r.PortfolioMode
	}
	return r.TradeMode
}

// Validate checks rule fields that the database schema cannot express.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !r.DenominatorType.Valid() {
		return fmt.Errorf("unknown denominator type %q", r.DenominatorType)
	}
	if r.DenominatorType == DenomProhibit {
		if r.AlertIf != "" {
			return fmt.Errorf("prohibit rules must not set alert_if")
		}
		return nil
	}
	if !r.AlertIf.Valid() {
		return fmt.Errorf("alert_if must be %q or %q, got %q", AlertAbove, AlertBelow, r.AlertIf)
	}
	return nil
}

// RuleAttachment links a rule to a fund it governs.
type RuleAttachment struct {
	RuleID int64 `json:"rule_id"`
	FundID int64 `json:"fund_id"`
}

// Alert records a rule breach found during a compliance run.
// TradeID is nil for alerts raised by portfolio batch runs.
type Alert struct {
	ID                int64            `json:"id"`
	RuleID            int64            `json:"rule_id"`
	FundID            int64            `json:"fund_id"`
	TradeID           *int64           `json:"trade_id,omitempty"`
	BatchRunID        string           `json:"batch_run_id,omitempty"`
	Status            AlertStatus      `json:"status"`
	Percentage        *decimal.Decimal `json:"percentage,omitempty"`
	AlertLevel        *decimal.Decimal `json:"alert_level,omitempty"`
	HoldingsTriggered []string         `json:"holdings_triggered,omitempty"`
	ResolutionNote    string           `json:"resolution_note,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}
