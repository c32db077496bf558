// Package trading owns the trade lifecycle: submission, validation,
// compliance evaluation, alert resolution, and settlement.
package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
)

// ErrNotFound is returned when a trade does not exist.
var ErrNotFound = errors.New("trade not found")

const tradeColumns = "id, fund_id, ticker, direction, shares, price, total_value, status, reason, created_at, updated_at"

// Repository handles trade persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a trade repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "trades").Logger(),
	}
}

// Create inserts a newly submitted trade.
func (r *Repository) Create(trade *domain.Trade) (*domain.Trade, error) {
	now := time.Now().Unix()
	res, err := r.db.Exec(
		`INSERT INTO trades (fund_id, ticker, direction, shares, price, total_value, status, reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.FundID, trade.Ticker, string(trade.Direction), trade.Shares,
		nullDecimal(trade.Price), nullDecimal(trade.TotalValue),
		string(trade.Status), nullString(trade.Reason), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get trade id: %w", err)
	}
	return r.GetByID(id)
}

// GetByID retrieves a trade by ID.
func (r *Repository) GetByID(id int64) (*domain.Trade, error) {
	row := r.db.QueryRow("SELECT "+tradeColumns+" FROM trades WHERE id = ?", id)
	trade, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return trade, nil
}

// List returns trades, newest first, optionally filtered by fund and status.
func (r *Repository) List(fundID int64, status domain.TradeStatus) ([]*domain.Trade, error) {
	query := "SELECT " + tradeColumns + " FROM trades"
	var conds []string
	var args []interface{}
	if fundID > 0 {
		conds = append(conds, "fund_id = ?")
		args = append(args, fundID)
	}
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var out []*domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		out = append(out, trade)
	}
	return out, rows.Err()
}

// GetStatusTx reads a trade's current status inside a transaction.
func (r *Repository) GetStatusTx(tx *sql.Tx, id int64) (domain.TradeStatus, error) {
	var status string
	err := tx.QueryRow("SELECT status FROM trades WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get status for trade %d: %w", id, err)
	}
	return domain.TradeStatus(status), nil
}

// SetStatus moves a trade to a new lifecycle state.
func (r *Repository) SetStatus(id int64, status domain.TradeStatus, reason string) error {
	res, err := r.db.Exec(
		"UPDATE trades SET status = ?, reason = ?, updated_at = ? WHERE id = ?",
		string(status), nullString(reason), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update trade %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatusTx moves a trade to a new lifecycle state inside a transaction.
func (r *Repository) SetStatusTx(tx *sql.Tx, id int64, status domain.TradeStatus, reason string) error {
	res, err := tx.Exec(
		"UPDATE trades SET status = ?, reason = ?, updated_at = ? WHERE id = ?",
		string(status), nullString(reason), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update trade %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPricing records the price and total value captured at validation time.
func (r *Repository) SetPricing(id int64, price, totalValue decimal.Decimal) error {
	res, err := r.db.Exec(
		"UPDATE trades SET price = ?, total_value = ?, updated_at = ? WHERE id = ?",
		price.String(), totalValue.String(), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set pricing for trade %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (*domain.Trade, error) {
	var t domain.Trade
	var direction, status string
	var price, totalValue, reason sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(&t.ID, &t.FundID, &t.Ticker, &direction, &t.Shares,
		&price, &totalValue, &status, &reason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Direction = domain.TradeDirection(direction)
	t.Status = domain.TradeStatus(status)
	t.Reason = reason.String
	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q for trade %d: %w", price.String, t.ID, err)
		}
		t.Price = &d
	}
	if totalValue.Valid {
		d, err := decimal.NewFromString(totalValue.String)
		if err != nil {
			return nil, fmt.Errorf("invalid total value %q for trade %d: %w", totalValue.String, t.ID, err)
		}
		t.TotalValue = &d
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
