// Package funds manages portfolios and their cash balances.
package funds

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
)

// ErrNotFound is returned when a fund does not exist.
var ErrNotFound = errors.New("fund not found")

const fundColumns = "id, name, cash, created_at, updated_at"

// Repository handles fund persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a fund repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "funds").Logger(),
	}
}

// Create inserts a new fund with an opening cash balance.
func (r *Repository) Create(name string, cash decimal.Decimal) (*domain.Fund, error) {
	now := time.Now().Unix()
	res, err := r.db.Exec(
		"INSERT INTO funds (name, cash, created_at, updated_at) VALUES (?, ?, ?, ?)",
		name, cash.String(), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fund: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get fund id: %w", err)
	}
	return r.GetByID(id)
}

// GetByID retrieves a fund by ID.
func (r *Repository) GetByID(id int64) (*domain.Fund, error) {
	row := r.db.QueryRow("SELECT "+fundColumns+" FROM funds WHERE id = ?", id)
	fund, err := scanFund(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund %d: %w", id, err)
	}
	return fund, nil
}

// List returns all funds ordered by name.
func (r *Repository) List() ([]*domain.Fund, error) {
	rows, err := r.db.Query("SELECT " + fundColumns + " FROM funds ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	defer rows.Close()

	var out []*domain.Fund
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		out = append(out, fund)
	}
	return out, rows.Err()
}

// Update renames a fund and sets its cash balance.
func (r *Repository) Update(fund *domain.Fund) error {
	res, err := r.db.Exec(
		"UPDATE funds SET name = ?, cash = ?, updated_at = ? WHERE id = ?",
		fund.Name, fund.Cash.String(), time.Now().Unix(), fund.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update fund %d: %w", fund.ID, err)
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

// Delete removes a fund.
func (r *Repository) Delete(id int64) error {
	res, err := r.db.Exec("DELETE FROM funds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete fund %d: %w", id, err)
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

// GetCashTx reads a fund's cash balance inside a transaction.
func (r *Repository) GetCashTx(tx *sql.Tx, fundID int64) (decimal.Decimal, error) {
	var cash string
	err := tx.QueryRow("SELECT cash FROM funds WHERE id = ?", fundID).Scan(&cash)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, ErrNotFound
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to read cash for fund %d: %w", fundID, err)
	}
	parsed, err := decimal.NewFromString(cash)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid cash value %q for fund %d: %w", cash, fundID, err)
	}
	return parsed, nil
}

// UpdateCashTx sets a fund's cash balance inside a transaction. Used by the
// trade commit path so cash and holdings move together.
func (r *Repository) UpdateCashTx(tx *sql.Tx, fundID int64, cash decimal.Decimal) error {
	res, err := tx.Exec(
		"UPDATE funds SET cash = ?, updated_at = ? WHERE id = ?",
		cash.String(), time.Now().Unix(), fundID,
	)
	if err != nil {
		return fmt.Errorf("failed to update cash for fund %d: %w", fundID, err)
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

func scanFund(row scanner) (*domain.Fund, error) {
	var f domain.Fund
	var cash string
	var createdAt, updatedAt int64
	if err := row.Scan(&f.ID, &f.Name, &cash, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(cash)
	if err != nil {
		return nil, fmt.Errorf("invalid cash value %q for fund %d: %w", cash, f.ID, err)
	}
	f.Cash = parsed
	f.CreatedAt = time.Unix(createdAt, 0)
	f.UpdatedAt = time.Unix(updatedAt, 0)
	return &f, nil
}
