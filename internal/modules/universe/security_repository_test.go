package universe

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/guardrail/internal/database"
	"github.com/aristath/guardrail/internal/domain"
)

func newSecurityRepo(t *testing.T) *SecurityRepository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(database.Schema)
	require.NoError(t, err)
	return NewSecurityRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
}

func seedTicker(t *testing.T, repo *SecurityRepository, ticker string) {
	t.Helper()
	_, err := repo.Create(&domain.Security{Ticker: ticker, Name: ticker + " Inc"})
	require.NoError(t, err)
}

func TestGetPriceReturnsLatestDatedRow(t *testing.T) {
	repo := newSecurityRepo(t)
	seedTicker(t, repo, "AAPL")

	require.NoError(t, repo.SetPrice("AAPL", "2026-01-02", decimal.RequireFromString("90")))
	require.NoError(t, repo.SetPrice("AAPL", "2026-02-01", decimal.RequireFromString("110")))

	price, err := repo.GetPrice("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", price.PriceDate)
	assert.True(t, price.Price.Equal(decimal.RequireFromString("110")))
}

func TestGetPriceIgnoresFutureDatedRows(t *testing.T) {
	repo := newSecurityRepo(t)
	seedTicker(t, repo, "AAPL")

	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	require.NoError(t, repo.SetPrice("AAPL", "2026-01-02", decimal.RequireFromString("90")))
	require.NoError(t, repo.SetPrice("AAPL", tomorrow, decimal.RequireFromString("200")))

	price, err := repo.GetPrice("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02", price.PriceDate)
	assert.True(t, price.Price.Equal(decimal.RequireFromString("90")))
}

func TestSetPriceSameDateReplaces(t *testing.T) {
	repo := newSecurityRepo(t)
	seedTicker(t, repo, "AAPL")

	require.NoError(t, repo.SetPrice("AAPL", "2026-01-02", decimal.RequireFromString("90")))
	require.NoError(t, repo.SetPrice("AAPL", "2026-01-02", decimal.RequireFromString("95")))

	history, err := repo.PriceHistory("AAPL")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Price.Equal(decimal.RequireFromString("95")))
}

func TestSetPriceEmptyDateMeansToday(t *testing.T) {
	repo := newSecurityRepo(t)
	seedTicker(t, repo, "AAPL")

	require.NoError(t, repo.SetPrice("AAPL", "", decimal.RequireFromString("100")))

	price, err := repo.GetPrice("AAPL")
	require.NoError(t, err)
	assert.Equal(t, time.Now().Format("2006-01-02"), price.PriceDate)
}

func TestGetPriceUnknownTicker(t *testing.T) {
	repo := newSecurityRepo(t)
	_, err := repo.GetPrice("ZZZZ")
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestPriceHistoryNewestFirst(t *testing.T) {
	repo := newSecurityRepo(t)
	seedTicker(t, repo, "AAPL")

	require.NoError(t, repo.SetPrice("AAPL", "2026-01-02", decimal.RequireFromString("90")))
	require.NoError(t, repo.SetPrice("AAPL", "2026-02-01", decimal.RequireFromString("110")))
	require.NoError(t, repo.SetPrice("AAPL", "2026-01-15", decimal.RequireFromString("100")))

	history, err := repo.PriceHistory("AAPL")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "2026-02-01", history[0].PriceDate)
	assert.Equal(t, "2026-01-15", history[1].PriceDate)
	assert.Equal(t, "2026-01-02", history[2].PriceDate)
}

func TestAllPricesPicksPerTickerLatest(t *testing.T) {
	repo := newSecurityRepo(t)
	seedTicker(t, repo, "AAPL")
	seedTicker(t, repo, "MSFT")
	seedTicker(t, repo, "NOPX")

	require.NoError(t, repo.SetPrice("AAPL", "2026-01-02", decimal.RequireFromString("90")))
	require.NoError(t, repo.SetPrice("AAPL", "2026-02-01", decimal.RequireFromString("110")))
	require.NoError(t, repo.SetPrice("MSFT", "2026-01-02", decimal.RequireFromString("400")))

	prices, err := repo.AllPrices()
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices["AAPL"].Equal(decimal.RequireFromString("110")))
	assert.True(t, prices["MSFT"].Equal(decimal.RequireFromString("400")))
	_, ok := prices["NOPX"]
	assert.False(t, ok)
}
