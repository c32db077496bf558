// Package holdings manages live fund positions and the staging workspace
// trades are evaluated in before they settle.
package holdings

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/domain"
)

// ErrNotFound is returned when a position does not exist.
var ErrNotFound = errors.New("holding not found")

// ErrOversell is returned when a delta would take a position negative.
var ErrOversell = errors.New("cannot sell more shares than held")

// Repository handles live position persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a holdings repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "holdings").Logger(),
	}
}

// ListByFund returns a fund's live positions ordered by ticker.
func (r *Repository) ListByFund(fundID int64) ([]*domain.Holding, error) {
	rows, err := r.db.Query(
		"SELECT fund_id, ticker, shares, updated_at FROM holdings WHERE fund_id = ? ORDER BY ticker",
		fundID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings for fund %d: %w", fundID, err)
	}
	defer rows.Close()

	var out []*domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Get returns one position.
func (r *Repository) Get(fundID int64, ticker string) (*domain.Holding, error) {
	row := r.db.QueryRow(
		"SELECT fund_id, ticker, shares, updated_at FROM holdings WHERE fund_id = ? AND ticker = ?",
		fundID, ticker,
	)
	h, err := scanHolding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding %d/%s: %w", fundID, ticker, err)
	}
	return h, nil
}

// Set creates or replaces a position outright. Zero shares deletes it.
func (r *Repository) Set(fundID int64, ticker string, shares int64) error {
	if shares < 0 {
		return ErrOversell
	}
	if shares == 0 {
		_, err := r.db.Exec("DELETE FROM holdings WHERE fund_id = ? AND ticker = ?", fundID, ticker)
		if err != nil {
			return fmt.Errorf("failed to delete holding %d/%s: %w", fundID, ticker, err)
		}
		return nil
	}
	_, err := r.db.Exec(
		`INSERT INTO holdings (fund_id, ticker, shares, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fund_id, ticker) DO UPDATE SET shares = excluded.shares, updated_at = excluded.updated_at`,
		fundID, ticker, shares, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set holding %d/%s: %w", fundID, ticker, err)
	}
	return nil
}

// ApplyDeltaTx moves a position by a signed share count inside a transaction.
// Positions emptied by a sell are removed. Used by the trade commit path.
func (r *Repository) ApplyDeltaTx(tx *sql.Tx, fundID int64, ticker string, delta int64) error {
	var current int64
	err := tx.QueryRow(
		"SELECT shares FROM holdings WHERE fund_id = ? AND ticker = ?",
		fundID, ticker,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read holding %d/%s: %w", fundID, ticker, err)
	}

	next := current + delta
	switch {
	case next < 0:
		return fmt.Errorf("%w: fund %d holds %d shares of %s, delta %d", ErrOversell, fundID, current, ticker, delta)
	case next == 0:
		if _, err := tx.Exec("DELETE FROM holdings WHERE fund_id = ? AND ticker = ?", fundID, ticker); err != nil {
			return fmt.Errorf("failed to delete holding %d/%s: %w", fundID, ticker, err)
		}
	default:
		_, err := tx.Exec(
			`INSERT INTO holdings (fund_id, ticker, shares, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(fund_id, ticker) DO UPDATE SET shares = excluded.shares, updated_at = excluded.updated_at`,
			fundID, ticker, next, time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to update holding %d/%s: %w", fundID, ticker, err)
		}
	}
	return nil
}

func scanHolding(row scanner) (*domain.Holding, error) {
	var h domain.Holding
	var updatedAt int64
	if err := row.Scan(&h.FundID, &h.Ticker, &h.Shares, &updatedAt); err != nil {
		return nil, err
	}
	h.UpdatedAt = time.Unix(updatedAt, 0)
	return &h, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}
