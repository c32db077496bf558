package holdings

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/guardrail/internal/database"
	"github.com/aristath/guardrail/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(database.Schema)
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO funds (id, name, cash, created_at, updated_at) VALUES (1, 'Test Fund', '100000', 0, 0)")
	require.NoError(t, err)
	for _, ticker := range []string{"AAPL", "MSFT", "GOOG"} {
		_, err = db.Exec("INSERT INTO securities (ticker, name, created_at, updated_at) VALUES (?, ?, 0, 0)", ticker, ticker)
		require.NoError(t, err)
	}
	return db
}

func newTestWorkspace(t *testing.T) (*Workspace, *Repository) {
	t.Helper()
	db := newTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	live := NewRepository(db, log)
	staging := NewStagingRepository(db, log)
	return NewWorkspace(live, staging, log), live
}

func TestStageBuyCreatesNewPosition(t *testing.T) {
	ws, live := newTestWorkspace(t)
	require.NoError(t, live.Set(1, "AAPL", 100))

	trade := &domain.Trade{ID: 10, FundID: 1, Ticker: "MSFT", Direction: domain.DirectionBuy, Shares: 50}
	staged, err := ws.Stage(trade)
	require.NoError(t, err)

	byTicker := stagedMap(staged)
	assert.Equal(t, int64(100), byTicker["AAPL"])
	assert.Equal(t, int64(50), byTicker["MSFT"])

	// Live positions are untouched until commit.
	h, err := live.Get(1, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(100), h.Shares)
	_, err = live.Get(1, "MSFT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStageBuyAddsToExistingPosition(t *testing.T) {
	ws, live := newTestWorkspace(t)
	require.NoError(t, live.Set(1, "AAPL", 100))

	trade := &domain.Trade{ID: 10, FundID: 1, Ticker: "AAPL", Direction: domain.DirectionBuy, Shares: 25}
	staged, err := ws.Stage(trade)
	require.NoError(t, err)
	assert.Equal(t, int64(125), stagedMap(staged)["AAPL"])
}

func TestStageSellReducesPosition(t *testing.T) {
	ws, live := newTestWorkspace(t)
	require.NoError(t, live.Set(1, "AAPL", 100))

	trade := &domain.Trade{ID: 10, FundID: 1, Ticker: "AAPL", Direction: domain.DirectionSell, Shares: 40}
	staged, err := ws.Stage(trade)
	require.NoError(t, err)
	assert.Equal(t, int64(60), stagedMap(staged)["AAPL"])
}

func TestStageSellToZeroDropsPosition(t *testing.T) {
	ws, live := newTestWorkspace(t)
	require.NoError(t, live.Set(1, "AAPL", 100))
	require.NoError(t, live.Set(1, "MSFT", 10))

	trade := &domain.Trade{ID: 10, FundID: 1, Ticker: "AAPL", Direction: domain.DirectionSell, Shares: 100}
	staged, err := ws.Stage(trade)
	require.NoError(t, err)

	byTicker := stagedMap(staged)
	_, ok := byTicker["AAPL"]
	assert.False(t, ok)
	assert.Equal(t, int64(10), byTicker["MSFT"])
}

func TestStageOversellFails(t *testing.T) {
	ws, live := newTestWorkspace(t)
	require.NoError(t, live.Set(1, "AAPL", 100))

	trade := &domain.Trade{ID: 10, FundID: 1, Ticker: "AAPL", Direction: domain.DirectionSell, Shares: 101}
	_, err := ws.Stage(trade)
	assert.ErrorIs(t, err, ErrOversell)
}

func TestStageSellUnheldFails(t *testing.T) {
	ws, _ := newTestWorkspace(t)

	trade := &domain.Trade{ID: 10, FundID: 1, Ticker: "GOOG", Direction: domain.DirectionSell, Shares: 1}
	_, err := ws.Stage(trade)
	assert.ErrorIs(t, err, ErrOversell)
}

func TestStageIsIdempotent(t *testing.T) {
	ws, live := newTestWorkspace(t)
	require.NoError(t, live.Set(1, "AAPL", 100))

	trade := &domain.Trade{ID: 10, FundID: 1, Ticker: "AAPL", Direction: domain.DirectionBuy, Shares: 10}
	_, err := ws.Stage(trade)
	require.NoError(t, err)
	_, err = ws.Stage(trade)
	require.NoError(t, err)

	staged, err := ws.Staged(1, 10)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, int64(110), staged[0].Shares)
}

func TestStagedTradesAreIsolated(t *testing.T) {
	ws, live := newTestWorkspace(t)
	require.NoError(t, live.Set(1, "AAPL", 100))

	buy := &domain.Trade{ID: 10, FundID: 1, Ticker: "AAPL", Direction: domain.DirectionBuy, Shares: 10}
	sell := &domain.Trade{ID: 11, FundID: 1, Ticker: "AAPL", Direction: domain.DirectionSell, Shares: 30}
	_, err := ws.Stage(buy)
	require.NoError(t, err)
	_, err = ws.Stage(sell)
	require.NoError(t, err)

	stagedBuy, err := ws.Staged(1, 10)
	require.NoError(t, err)
	stagedSell, err := ws.Staged(1, 11)
	require.NoError(t, err)

	assert.Equal(t, int64(110), stagedBuy[0].Shares)
	assert.Equal(t, int64(70), stagedSell[0].Shares)
}

func TestDiscardRemovesStagedRows(t *testing.T) {
	ws, live := newTestWorkspace(t)
	require.NoError(t, live.Set(1, "AAPL", 100))

	trade := &domain.Trade{ID: 10, FundID: 1, Ticker: "AAPL", Direction: domain.DirectionBuy, Shares: 10}
	_, err := ws.Stage(trade)
	require.NoError(t, err)

	require.NoError(t, ws.Discard(1, 10))
	staged, err := ws.Staged(1, 10)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestPreviewDoesNotPersist(t *testing.T) {
	ws, live := newTestWorkspace(t)
	require.NoError(t, live.Set(1, "AAPL", 100))

	trade := &domain.Trade{ID: 0, FundID: 1, Ticker: "AAPL", Direction: domain.DirectionBuy, Shares: 10}
	preview, err := ws.Preview(trade)
	require.NoError(t, err)
	assert.Equal(t, int64(110), stagedMap(preview)["AAPL"])

	staged, err := ws.Staged(1, 0)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestApplyDeltaRoundTrip(t *testing.T) {
	db := newTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db, log)
	require.NoError(t, repo.Set(1, "AAPL", 100))

	// A buy followed by an equal sell restores the original position.
	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.ApplyDeltaTx(tx, 1, "AAPL", 40))
	require.NoError(t, repo.ApplyDeltaTx(tx, 1, "AAPL", -40))
	require.NoError(t, tx.Commit())

	h, err := repo.Get(1, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(100), h.Shares)
}

func TestApplyDeltaToZeroDeletesRow(t *testing.T) {
	db := newTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db, log)
	require.NoError(t, repo.Set(1, "AAPL", 50))

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.ApplyDeltaTx(tx, 1, "AAPL", -50))
	require.NoError(t, tx.Commit())

	_, err = repo.Get(1, "AAPL")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyDeltaOversellRollsBack(t *testing.T) {
	db := newTestDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(db, log)
	require.NoError(t, repo.Set(1, "AAPL", 50))

	tx, err := db.Begin()
	require.NoError(t, err)
	err = repo.ApplyDeltaTx(tx, 1, "AAPL", -51)
	assert.ErrorIs(t, err, ErrOversell)
	require.NoError(t, tx.Rollback())

	h, err := repo.Get(1, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(50), h.Shares)
}

func stagedMap(staged []domain.StagedHolding) map[string]int64 {
	out := make(map[string]int64, len(staged))
	for _, s := range staged {
		out[s.Ticker] = s.Shares
	}
	return out
}
