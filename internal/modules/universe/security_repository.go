package universe

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
)

// ErrSecurityNotFound is returned when a security does not exist.
var ErrSecurityNotFound = errors.New("security not found")

// ErrPriceNotFound is returned when a security has no price.
var ErrPriceNotFound = errors.New("price not found")

const securityColumns = "ticker, name, issuer_id, asset_class, created_at, updated_at"

// SecurityRepository handles security and price persistence.
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a security repository.
func NewSecurityRepository(db *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "securities").Logger(),
	}
}

// Create inserts a new security with optional attributes.
func (r *SecurityRepository) Create(sec *domain.Security) (*domain.Security, error) {
	now := time.Now().Unix()
	_, err := r.db.Exec(
		"INSERT INTO securities (ticker, name, issuer_id, asset_class, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		sec.Ticker, sec.Name, nullInt64(sec.IssuerID), nullString(sec.AssetClass), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security %s: %w", sec.Ticker, err)
	}
	for name, value := range sec.Attributes {
		if err := r.SetAttribute(sec.Ticker, name, value); err != nil {
			return nil, err
		}
	}
	return r.GetByTicker(sec.Ticker)
}

// GetByTicker retrieves a security, attributes included.
func (r *SecurityRepository) GetByTicker(ticker string) (*domain.Security, error) {
	row := r.db.QueryRow("SELECT "+securityColumns+" FROM securities WHERE ticker = ?", ticker)
	sec, err := scanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecurityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security %s: %w", ticker, err)
	}
	attrs, err := r.Attributes(ticker)
	if err != nil {
		return nil, err
	}
	sec.Attributes = attrs
	return sec, nil
}

// List returns all securities ordered by ticker, without attributes.
func (r *SecurityRepository) List() ([]*domain.Security, error) {
	rows, err := r.db.Query("SELECT " + securityColumns + " FROM securities ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to list securities: %w", err)
	}
	defer rows.Close()

	var out []*domain.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// ListByTickers returns the named securities, attributes included, keyed by
// ticker. Missing tickers are simply absent from the result.
func (r *SecurityRepository) ListByTickers(tickers []string) (map[string]*domain.Security, error) {
	out := make(map[string]*domain.Security, len(tickers))
	for _, ticker := range tickers {
		sec, err := r.GetByTicker(ticker)
		if errors.Is(err, ErrSecurityNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[ticker] = sec
	}
	return out, nil
}

// Update modifies a security's core fields.
func (r *SecurityRepository) Update(sec *domain.Security) error {
	res, err := r.db.Exec(
		"UPDATE securities SET name = ?, issuer_id = ?, asset_class = ?, updated_at = ? WHERE ticker = ?",
		sec.Name, nullInt64(sec.IssuerID), nullString(sec.AssetClass), time.Now().Unix(), sec.Ticker,
	)
	if err != nil {
		return fmt.Errorf("failed to update security %s: %w", sec.Ticker, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSecurityNotFound
	}
	return nil
}

// Delete removes a security, its attributes and price.
func (r *SecurityRepository) Delete(ticker string) error {
	res, err := r.db.Exec("DELETE FROM securities WHERE ticker = ?", ticker)
	if err != nil {
		return fmt.Errorf("failed to delete security %s: %w", ticker, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSecurityNotFound
	}
	return nil
}

// SetAttribute upserts one attribute on a security.
func (r *SecurityRepository) SetAttribute(ticker, name, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO security_attributes (ticker, name, value) VALUES (?, ?, ?)
		 ON CONFLICT(ticker, name) DO UPDATE SET value = excluded.value`,
		ticker, name, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set attribute %q on security %s: %w", name, ticker, err)
	}
	return nil
}

// DeleteAttribute removes one attribute from a security.
func (r *SecurityRepository) DeleteAttribute(ticker, name string) error {
	_, err := r.db.Exec("DELETE FROM security_attributes WHERE ticker = ? AND name = ?", ticker, name)
	if err != nil {
		return fmt.Errorf("failed to delete attribute %q on security %s: %w", name, ticker, err)
	}
	return nil
}

// Attributes returns all attributes for one security.
func (r *SecurityRepository) Attributes(ticker string) (map[string]string, error) {
	rows, err := r.db.Query("SELECT name, value FROM security_attributes WHERE ticker = ?", ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for security %s: %w", ticker, err)
	}
	defer rows.Close()
	return scanAttributeMap(rows)
}

// SetPrice upserts a security's price for one date. An empty date means
// today. At most one price exists per ticker per date.
func (r *SecurityRepository) SetPrice(ticker, date string, price decimal.Decimal) error {
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	_, err := r.db.Exec(
		`INSERT INTO security_prices (ticker, price_date, price) VALUES (?, ?, ?)
		 ON CONFLICT(ticker, price_date) DO UPDATE SET price = excluded.price`,
		ticker, date, price.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to set price for %s: %w", ticker, err)
	}
	return nil
}

// GetPrice returns the current price for a security: the price at the
// latest date on record not after today.
func (r *SecurityRepository) GetPrice(ticker string) (*domain.SecurityPrice, error) {
	row := r.db.QueryRow(
		`SELECT ticker, price_date, price FROM security_prices
		 WHERE ticker = ? AND price_date <= ?
		 ORDER BY price_date DESC LIMIT 1`,
		ticker, time.Now().Format("2006-01-02"),
	)
	price, err := scanPrice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPriceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price for %s: %w", ticker, err)
	}
	return price, nil
}

// PriceHistory returns every recorded price for a security, newest first.
func (r *SecurityRepository) PriceHistory(ticker string) ([]*domain.SecurityPrice, error) {
	rows, err := r.db.Query(
		"SELECT ticker, price_date, price FROM security_prices WHERE ticker = ? ORDER BY price_date DESC",
		ticker,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []*domain.SecurityPrice
	for rows.Next() {
		price, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		out = append(out, price)
	}
	return out, rows.Err()
}

// AllPrices returns the current price of every ticker that has one.
func (r *SecurityRepository) AllPrices() (map[string]decimal.Decimal, error) {
	rows, err := r.db.Query(
		`SELECT p.ticker, p.price_date, p.price FROM security_prices p
		 WHERE p.price_date = (
		     SELECT MAX(p2.price_date) FROM security_prices p2
		     WHERE p2.ticker = p.ticker AND p2.price_date <= ?
		 )`,
		time.Now().Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		price, err := scanPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		out[price.Ticker] = price.Price
	}
	return out, rows.Err()
}

func scanSecurity(row scanner) (*domain.Security, error) {
	var s domain.Security
	var issuerID sql.NullInt64
	var assetClass sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&s.Ticker, &s.Name, &issuerID, &assetClass, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if issuerID.Valid {
		s.IssuerID = &issuerID.Int64
	}
	s.AssetClass = assetClass.String
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

func scanPrice(row scanner) (*domain.SecurityPrice, error) {
	var p domain.SecurityPrice
	var price string
	if err := row.Scan(&p.Ticker, &p.PriceDate, &price); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q for %s: %w", price, p.Ticker, err)
	}
	p.Price = parsed
	return &p, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
