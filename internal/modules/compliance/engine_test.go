package compliance

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/guardrail/internal/database"
	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/modules/alerts"
	"github.com/aristath/guardrail/internal/modules/funds"
	"github.com/aristath/guardrail/internal/modules/holdings"
	"github.com/aristath/guardrail/internal/modules/rules"
	"github.com/aristath/guardrail/internal/modules/universe"
)

type fixture struct {
	db         *sql.DB
	funds      *funds.Repository
	issuers    *universe.IssuerRepository
	securities *universe.SecurityRepository
	rules      *rules.Repository
	holdings   *holdings.Repository
	staging    *holdings.StagingRepository
	workspace  *holdings.Workspace
	alerts     *alerts.Repository
	engine     *Engine
	service    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(database.Schema)
	require.NoError(t, err)

	log := zerolog.New(nil).Level(zerolog.Disabled)
	f := &fixture{
		db:         db,
		funds:      funds.NewRepository(db, log),
		issuers:    universe.NewIssuerRepository(db, log),
		securities: universe.NewSecurityRepository(db, log),
		rules:      rules.NewRepository(db, log),
		holdings:   holdings.NewRepository(db, log),
		staging:    holdings.NewStagingRepository(db, log),
		alerts:     alerts.NewRepository(db, log),
	}
	f.workspace = holdings.NewWorkspace(f.holdings, f.staging, log)
	builder := NewBuilder(f.securities, f.issuers, log)
	f.engine = NewEngine(f.rules, builder, log)
	f.service = NewService(f.engine, f.funds, f.holdings, f.workspace, f.securities, f.alerts, log)
	return f
}

func (f *fixture) seedFund(t *testing.T, cash string) *domain.Fund {
	t.Helper()
	fund, err := f.funds.Create("Test Fund", decimal.RequireFromString(cash))
	require.NoError(t, err)
	return fund
}

func (f *fixture) seedSecurity(t *testing.T, ticker, assetClass, price string, attrs map[string]string) {
	t.Helper()
	_, err := f.securities.Create(&domain.Security{
		Ticker:     ticker,
		Name:       ticker + " Inc",
		AssetClass: assetClass,
		Attributes: attrs,
	})
	require.NoError(t, err)
	if price != "" {
		require.NoError(t, f.securities.SetPrice(ticker, "", decimal.RequireFromString(price)))
	}
}

func (f *fixture) seedRule(t *testing.T, fundID int64, rule *domain.Rule) *domain.Rule {
	t.Helper()
	rule.TradeMode = true
	rule.PortfolioMode = true
	created, err := f.rules.Create(rule)
	require.NoError(t, err)
	require.NoError(t, f.rules.Attach(created.ID, fundID))
	return created
}

func (f *fixture) evaluate(t *testing.T, fund *domain.Fund) *Result {
	t.Helper()
	live, err := f.holdings.ListByFund(fund.ID)
	require.NoError(t, err)
	result, err := f.engine.Evaluate(Request{
		FundID:    fund.ID,
		Mode:      domain.ModePortfolio,
		Cash:      fund.Cash,
		Positions: PositionsFromHoldings(live),
	})
	require.NoError(t, err)
	return result
}

func TestEvaluateTotalAssetsRatio(t *testing.T) {
	f := newFixture(t)
	// 300 equity + 700 bond + 1000 cash: equity is 15% of total assets.
	fund := f.seedFund(t, "1000")
	f.seedSecurity(t, "EQ", "equity", "3", nil)
	f.seedSecurity(t, "BD", "bond", "7", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 100))
	require.NoError(t, f.holdings.Set(fund.ID, "BD", 100))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "equity cap",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.RequireFromString("15"),
		Active:          true,
	})

	// 15% >= 15% breaches: the threshold is inclusive.
	result := f.evaluate(t, fund)
	require.Len(t, result.Candidates, 1)
	assert.True(t, result.Candidates[0].Percentage.Equal(decimal.RequireFromString("15")))
	assert.Equal(t, []string{"EQ"}, result.Candidates[0].Holdings)
}

func TestEvaluateNetAssetsAliasesTotalAssets(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "1000")
	f.seedSecurity(t, "EQ", "equity", "10", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 100))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "net assets cap",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomNetAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.RequireFromString("50"),
		Active:          true,
	})

	// 1000 equity / 2000 total = 50%, inclusive breach.
	result := f.evaluate(t, fund)
	require.Len(t, result.Candidates, 1)
	assert.True(t, result.Candidates[0].Percentage.Equal(decimal.RequireFromString("50")))
}

func TestEvaluateExCashDenominator(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "9000")
	f.seedSecurity(t, "EQ", "equity", "5", nil)
	f.seedSecurity(t, "BD", "bond", "5", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 100))
	require.NoError(t, f.holdings.Set(fund.ID, "BD", 100))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "equity cap ex cash",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssetsExCash,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.RequireFromString("40"),
		Active:          true,
	})

	// Cash is ignored: 500 / 1000 = 50% breaches a 40% cap.
	result := f.evaluate(t, fund)
	require.Len(t, result.Candidates, 1)
	assert.True(t, result.Candidates[0].Percentage.Equal(decimal.RequireFromString("50")))
}

func TestEvaluateBelowDirection(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "BD", "bond", "10", nil)
	f.seedSecurity(t, "EQ", "equity", "10", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "BD", 20))
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 80))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "bond floor",
		NumeratorLogic:  "asset_class = 'bond'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertBelow,
		AlertLevel:      decimal.RequireFromString("30"),
		Active:          true,
	})

	// 20% <= 30% floor: breach.
	result := f.evaluate(t, fund)
	require.Len(t, result.Candidates, 1)
	assert.True(t, result.Candidates[0].Percentage.Equal(decimal.RequireFromString("20")))
}

func TestEvaluateProhibitAlertsOnAnyMatch(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "TOB", "equity", "1", map[string]string{"sector": "tobacco"})
	f.seedSecurity(t, "EQ", "equity", "1", map[string]string{"sector": "tech"})
	require.NoError(t, f.holdings.Set(fund.ID, "TOB", 1))
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 1000))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "no tobacco",
		NumeratorLogic:  "security.sector = 'tobacco'",
		DenominatorType: domain.DenomProhibit,
		Active:          true,
	})

	result := f.evaluate(t, fund)
	require.Len(t, result.Candidates, 1)
	assert.Nil(t, result.Candidates[0].Percentage)
	assert.Equal(t, []string{"TOB"}, result.Candidates[0].Holdings)
}

func TestEvaluateProhibitNoMatchNoAlert(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "EQ", "equity", "1", map[string]string{"sector": "tech"})
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 1000))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "no tobacco",
		NumeratorLogic:  "security.sector = 'tobacco'",
		DenominatorType: domain.DenomProhibit,
		Active:          true,
	})

	result := f.evaluate(t, fund)
	assert.Empty(t, result.Candidates)
}

func TestEvaluateQualifiedFieldNames(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")

	issuer, err := f.issuers.Create(&domain.Issuer{Name: "EQ Issuer"})
	require.NoError(t, err)
	_, err = f.securities.Create(&domain.Security{
		Ticker:     "EQ",
		Name:       "EQ Inc",
		IssuerID:   &issuer.ID,
		AssetClass: "equity",
	})
	require.NoError(t, err)
	require.NoError(t, f.securities.SetPrice("EQ", "", decimal.RequireFromString("10")))
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 100))

	for _, logic := range []string{
		"holding.shares > 0",
		"security.name = 'EQ Inc'",
		"security.asset_class = 'equity'",
		"issuer.name = 'EQ Issuer'",
	} {
		f.seedRule(t, fund.ID, &domain.Rule{
			Name:            logic,
			NumeratorLogic:  logic,
			DenominatorType: domain.DenomProhibit,
			Active:          true,
		})
	}

	result := f.evaluate(t, fund)
	assert.Empty(t, result.RuleErrors)
	require.Len(t, result.Candidates, 4)
	for _, c := range result.Candidates {
		assert.Equal(t, []string{"EQ"}, c.Holdings)
	}
}

func TestEvaluateSharesOutstandingBoundary(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "LOW", "equity", "1", map[string]string{"shares_outstanding": "1000"})
	f.seedSecurity(t, "AT", "equity", "1", map[string]string{"shares_outstanding": "1000"})
	f.seedSecurity(t, "HIGH", "equity", "1", map[string]string{"shares_outstanding": "1000"})
	require.NoError(t, f.holdings.Set(fund.ID, "LOW", 49))
	require.NoError(t, f.holdings.Set(fund.ID, "AT", 50))
	require.NoError(t, f.holdings.Set(fund.ID, "HIGH", 51))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "ownership cap",
		NumeratorLogic:  "",
		DenominatorType: domain.DenomSharesOutstandingFE,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.RequireFromString("5"),
		Active:          true,
	})

	// 4.9% passes, 5.0% and 5.1% breach.
	result := f.evaluate(t, fund)
	require.Len(t, result.Candidates, 2)
	breached := map[string]bool{}
	for _, c := range result.Candidates {
		require.Len(t, c.Holdings, 1)
		breached[c.Holdings[0]] = true
	}
	assert.True(t, breached["AT"])
	assert.True(t, breached["HIGH"])
	assert.False(t, breached["LOW"])
}

func TestEvaluateSharesOutstandingSkipsMissingAttribute(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "EQ", "equity", "1", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 1000))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "ownership cap",
		DenominatorType: domain.DenomSharesOutstandingFE,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.RequireFromString("5"),
		Active:          true,
	})

	result := f.evaluate(t, fund)
	assert.Empty(t, result.Candidates)
	assert.Empty(t, result.RuleErrors)
}

func TestEvaluateZeroDenominatorNeverAlerts(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "equity cap",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.Zero,
		Active:          true,
	})

	result := f.evaluate(t, fund)
	assert.Empty(t, result.Candidates)
	assert.Empty(t, result.RuleErrors)
}

func TestEvaluateExcludesUnpricedPositions(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "EQ", "equity", "10", nil)
	f.seedSecurity(t, "NOPX", "equity", "", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 100))
	require.NoError(t, f.holdings.Set(fund.ID, "NOPX", 100))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "equity cap",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.RequireFromString("100"),
		Active:          true,
	})

	result := f.evaluate(t, fund)
	assert.Equal(t, []string{"NOPX"}, result.Unpriced)
	// Unpriced position is absent from both numerator and denominator, so
	// the remaining equity is 100% of total assets and breaches.
	require.Len(t, result.Candidates, 1)
	assert.True(t, result.Candidates[0].Percentage.Equal(decimal.RequireFromString("100")))
}

func TestEvaluateCollectsBrokenRuleText(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "EQ", "equity", "10", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 100))

	good := f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "equity cap",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.Zero,
		Active:          true,
	})
	// Broken text can only arrive by bypassing save-time validation.
	bad := f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "broken",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.Zero,
		Active:          true,
	})
	_, err := f.db.Exec("UPDATE rules SET numerator_logic = 'asset_class =' WHERE id = ?", bad.ID)
	require.NoError(t, err)

	result := f.evaluate(t, fund)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, good.ID, result.Candidates[0].Rule.ID)
	require.Len(t, result.RuleErrors, 1)
	assert.Equal(t, bad.ID, result.RuleErrors[0].RuleID)
}

func TestEvaluateIgnoresInactiveAndUnattachedRules(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "EQ", "equity", "10", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 100))

	inactive := &domain.Rule{
		Name:            "inactive",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.Zero,
		Active:          false,
	}
	created, err := f.rules.Create(inactive)
	require.NoError(t, err)
	require.NoError(t, f.rules.Attach(created.ID, fund.ID))

	unattached := &domain.Rule{
		Name:            "unattached",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.Zero,
		Active:          true,
	}
	_, err = f.rules.Create(unattached)
	require.NoError(t, err)

	result := f.evaluate(t, fund)
	assert.Empty(t, result.Candidates)
}

func TestWhatIfSingleRuleBypassesAttachment(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "EQ", "equity", "10", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 100))

	// Inactive, never attached.
	rule, err := f.rules.Create(&domain.Rule{
		Name:            "draft rule",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.Zero,
		Active:          false,
	})
	require.NoError(t, err)

	result, err := f.service.EvaluateWhatIf(WhatIfRequest{FundID: fund.ID, RuleID: rule.ID})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, rule.ID, result.Candidates[0].Rule.ID)
}

func TestWhatIfWithHypotheticalTrade(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "EQ", "equity", "10", nil)
	f.seedSecurity(t, "BD", "bond", "10", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 50))
	require.NoError(t, f.holdings.Set(fund.ID, "BD", 50))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "equity cap",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.RequireFromString("60"),
		Active:          true,
	})

	// Live: 50/100 = 50%, no breach.
	result, err := f.service.EvaluateWhatIf(WhatIfRequest{FundID: fund.ID})
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)

	// Buying 50 more EQ with post-trade cash: equity 1000 over total assets
	// 1500 - 500 = 1000, so 100%, breach. Nothing is staged.
	result, err = f.service.EvaluateWhatIf(WhatIfRequest{
		FundID:    fund.ID,
		Ticker:    "EQ",
		Direction: domain.DirectionBuy,
		Shares:    50,
	})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)

	staged, err := f.staging.ListByTrade(fund.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestRunFundPersistsPortfolioAlerts(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "EQ", "equity", "10", nil)
	require.NoError(t, f.holdings.Set(fund.ID, "EQ", 100))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "equity cap",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.RequireFromString("50"),
		Active:          true,
	})

	run, err := f.service.RunFund(fund.ID, "")
	require.NoError(t, err)
	require.Len(t, run.Alerts, 1)
	assert.NotEmpty(t, run.BatchRunID)

	alert := run.Alerts[0]
	assert.Nil(t, alert.TradeID)
	assert.Equal(t, domain.AlertPending, alert.Status)
	assert.Equal(t, run.BatchRunID, alert.BatchRunID)

	stored, err := f.alerts.ListByBatchRun(run.BatchRunID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRunFundProhibitAlertStoresNoThreshold(t *testing.T) {
	f := newFixture(t)
	fund := f.seedFund(t, "0")
	f.seedSecurity(t, "TOB", "equity", "1", map[string]string{"sector": "tobacco"})
	require.NoError(t, f.holdings.Set(fund.ID, "TOB", 1))

	f.seedRule(t, fund.ID, &domain.Rule{
		Name:            "no tobacco",
		NumeratorLogic:  "security.sector = 'tobacco'",
		DenominatorType: domain.DenomProhibit,
		Active:          true,
	})

	run, err := f.service.RunFund(fund.ID, "")
	require.NoError(t, err)
	require.Len(t, run.Alerts, 1)
	assert.Nil(t, run.Alerts[0].Percentage)
	assert.Nil(t, run.Alerts[0].AlertLevel)
}

func TestRunAllFundsSharesBatchID(t *testing.T) {
	f := newFixture(t)
	fundA := f.seedFund(t, "0")
	fundB, err := f.funds.Create("Second Fund", decimal.Zero)
	require.NoError(t, err)

	f.seedSecurity(t, "EQ", "equity", "10", nil)
	require.NoError(t, f.holdings.Set(fundA.ID, "EQ", 100))
	require.NoError(t, f.holdings.Set(fundB.ID, "EQ", 100))

	rule := f.seedRule(t, fundA.ID, &domain.Rule{
		Name:            "equity cap",
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.Zero,
		Active:          true,
	})
	require.NoError(t, f.rules.Attach(rule.ID, fundB.ID))

	batch, err := f.service.RunAllFunds()
	require.NoError(t, err)
	require.Len(t, batch.Funds, 2)
	for _, run := range batch.Funds {
		assert.Equal(t, batch.BatchRunID, run.BatchRunID)
		assert.Len(t, run.Alerts, 1)
	}
}
