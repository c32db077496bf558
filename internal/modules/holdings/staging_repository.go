package holdings

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/domain"
)

// StagingRepository handles the holdings_staging table. Each trade under
// evaluation owns a full copy of its fund's positions, keyed by trade ID, so
// concurrent trades never see each other's hypothetical state.
type StagingRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStagingRepository creates a staging repository.
func NewStagingRepository(db *sql.DB, log zerolog.Logger) *StagingRepository {
	return &StagingRepository{
		db:  db,
		log: log.With().Str("repo", "holdings_staging").Logger(),
	}
}

// Replace deletes any staged rows for a trade and inserts the given set.
// Re-staging the same trade is therefore idempotent.
func (r *StagingRepository) Replace(fundID, tradeID int64, staged []domain.StagedHolding) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin staging transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		"DELETE FROM holdings_staging WHERE fund_id = ? AND trade_id = ?",
		fundID, tradeID,
	); err != nil {
		return fmt.Errorf("failed to clear staging for trade %d: %w", tradeID, err)
	}

	for _, row := range staged {
		if _, err := tx.Exec(
			"INSERT INTO holdings_staging (fund_id, ticker, trade_id, shares) VALUES (?, ?, ?, ?)",
			fundID, row.Ticker, tradeID, row.Shares,
		); err != nil {
			return fmt.Errorf("failed to stage %s for trade %d: %w", row.Ticker, tradeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit staging for trade %d: %w", tradeID, err)
	}
	return nil
}

// ListByTrade returns a trade's staged positions ordered by ticker.
func (r *StagingRepository) ListByTrade(fundID, tradeID int64) ([]domain.StagedHolding, error) {
	rows, err := r.db.Query(
		"SELECT fund_id, ticker, trade_id, shares FROM holdings_staging WHERE fund_id = ? AND trade_id = ? ORDER BY ticker",
		fundID, tradeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging for trade %d: %w", tradeID, err)
	}
	defer rows.Close()

	var out []domain.StagedHolding
	for rows.Next() {
		var s domain.StagedHolding
		if err := rows.Scan(&s.FundID, &s.Ticker, &s.TradeID, &s.Shares); err != nil {
			return nil, fmt.Errorf("failed to scan staged holding: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteByTrade removes all staged rows for a trade.
func (r *StagingRepository) DeleteByTrade(fundID, tradeID int64) error {
	_, err := r.db.Exec(
		"DELETE FROM holdings_staging WHERE fund_id = ? AND trade_id = ?",
		fundID, tradeID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete staging for trade %d: %w", tradeID, err)
	}
	return nil
}

// DeleteByTradeTx removes all staged rows for a trade inside a transaction.
func (r *StagingRepository) DeleteByTradeTx(tx *sql.Tx, fundID, tradeID int64) error {
	_, err := tx.Exec(
		"DELETE FROM holdings_staging WHERE fund_id = ? AND trade_id = ?",
		fundID, tradeID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete staging for trade %d: %w", tradeID, err)
	}
	return nil
}
