package rules

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
)

func newRuleRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(database.Schema)
	require.NoError(t, err)
	return NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
}

func capRule(name string, tradeMode, portfolioMode, active bool) *domain.Rule {
	return &domain.Rule{
		Name:            name,
		NumeratorLogic:  "asset_class = 'equity'",
		DenominatorType: domain.DenomTotalAssets,
		AlertIf:         domain.AlertAbove,
		AlertLevel:      decimal.RequireFromString("10"),
		TradeMode:       tradeMode,
		PortfolioMode:   portfolioMode,
		Active:          active,
	}
}

func TestListActiveForFundFiltersByMode(t *testing.T) {
	repo := newRuleRepo(t)
	const fundID = 1

	tradeOnly, err := repo.Create(capRule("trade only", true, false, true))
	require.NoError(t, err)
	portfolioOnly, err := repo.Create(capRule("portfolio only", false, true, true))
	require.NoError(t, err)
	both, err := repo.Create(capRule("both modes", true, true, true))
	require.NoError(t, err)
	for _, rule := range []*domain.Rule{tradeOnly, portfolioOnly, both} {
		require.NoError(t, repo.Attach(rule.ID, fundID))
	}

	tradeRules, err := repo.ListActiveForFund(fundID, domain.ModeTrade)
	require.NoError(t, err)
	require.Len(t, tradeRules, 2)
	assert.Equal(t, tradeOnly.ID, tradeRules[0].ID)
	assert.Equal(t, both.ID, tradeRules[1].ID)

	portfolioRules, err := repo.ListActiveForFund(fundID, domain.ModePortfolio)
	require.NoError(t, err)
	require.Len(t, portfolioRules, 2)
	assert.Equal(t, portfolioOnly.ID, portfolioRules[0].ID)
	assert.Equal(t, both.ID, portfolioRules[1].ID)
}

func TestListActiveForFundSkipsInactiveAndUnattached(t *testing.T) {
	repo := newRuleRepo(t)
	const fundID = 1

	inactive, err := repo.Create(capRule("inactive", true, true, false))
	require.NoError(t, err)
	require.NoError(t, repo.Attach(inactive.ID, fundID))

	_, err = repo.Create(capRule("unattached", true, true, true))
	require.NoError(t, err)

	otherFund, err := repo.Create(capRule("other fund", true, true, true))
	require.NoError(t, err)
	require.NoError(t, repo.Attach(otherFund.ID, fundID+1))

	list, err := repo.ListActiveForFund(fundID, domain.ModeTrade)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateRoundTripsModeFlags(t *testing.T) {
	repo := newRuleRepo(t)

	created, err := repo.Create(capRule("trade only", true, false, true))
	require.NoError(t, err)

	got, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.True(t, got.TradeMode)
	assert.False(t, got.PortfolioMode)
	assert.Equal(t, "asset_class = 'equity'", got.NumeratorLogic)
	assert.Equal(t, domain.AlertAbove, got.AlertIf)
}

func TestProhibitRuleStoresEmptyAlertIf(t *testing.T) {
	repo := newRuleRepo(t)

	rule := &domain.Rule{
		Name:            "no tobacco",
		NumeratorLogic:  "security.sector = 'tobacco'",
		DenominatorType: domain.DenomProhibit,
		TradeMode:       true,
		PortfolioMode:   true,
		Active:          true,
	}
	require.NoError(t, rule.Validate())

	created, err := repo.Create(rule)
	require.NoError(t, err)
	got, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Empty(t, string(got.AlertIf))
}

func TestUpdateAndDeleteMissingRule(t *testing.T) {
	repo := newRuleRepo(t)

	missing := capRule("ghost", true, true, true)
	missing.ID = 999
	assert.ErrorIs(t, repo.Update(missing), ErrNotFound)
	assert.ErrorIs(t, repo.Delete(999), ErrNotFound)
}
