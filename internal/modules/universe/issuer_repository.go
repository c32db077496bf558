// Package universe manages the reference data trades and rules draw on:
// issuers, securities, their open attribute sets, and prices.
package universe

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/domain"
)

// ErrIssuerNotFound is returned when an issuer does not exist.
var ErrIssuerNotFound = errors.New("issuer not found")

const issuerColumns = "id, name, country, industry, created_at, updated_at"

// IssuerRepository handles issuer persistence.
type IssuerRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewIssuerRepository creates an issuer repository.
func NewIssuerRepository(db *sql.DB, log zerolog.Logger) *IssuerRepository {
	return &IssuerRepository{
		db:  db,
		log: log.With().Str("repo", "issuers").Logger(),
	}
}

// Create inserts a new issuer with optional attributes.
func (r *IssuerRepository) Create(issuer *domain.Issuer) (*domain.Issuer, error) {
	now := time.Now().Unix()
	res, err := r.db.Exec(
		"INSERT INTO issuers (name, country, industry, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		issuer.Name, nullString(issuer.Country), nullString(issuer.Industry), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create issuer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get issuer id: %w", err)
	}
	for name, value := range issuer.Attributes {
		if err := r.SetAttribute(id, name, value); err != nil {
			return nil, err
		}
	}
	return r.GetByID(id)
}

// GetByID retrieves an issuer, attributes included.
func (r *IssuerRepository) GetByID(id int64) (*domain.Issuer, error) {
	row := r.db.QueryRow("SELECT "+issuerColumns+" FROM issuers WHERE id = ?", id)
	issuer, err := scanIssuer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIssuerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issuer %d: %w", id, err)
	}
	attrs, err := r.Attributes(id)
	if err != nil {
		return nil, err
	}
	issuer.Attributes = attrs
	return issuer, nil
}

// List returns all issuers ordered by name, without attributes.
func (r *IssuerRepository) List() ([]*domain.Issuer, error) {
	rows, err := r.db.Query("SELECT " + issuerColumns + " FROM issuers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list issuers: %w", err)
	}
	defer rows.Close()

	var out []*domain.Issuer
	for rows.Next() {
		issuer, err := scanIssuer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issuer: %w", err)
		}
		out = append(out, issuer)
	}
	return out, rows.Err()
}

// Update modifies an issuer's core fields.
func (r *IssuerRepository) Update(issuer *domain.Issuer) error {
	res, err := r.db.Exec(
		"UPDATE issuers SET name = ?, country = ?, industry = ?, updated_at = ? WHERE id = ?",
		issuer.Name, nullString(issuer.Country), nullString(issuer.Industry), time.Now().Unix(), issuer.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update issuer %d: %w", issuer.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIssuerNotFound
	}
	return nil
}

// Delete removes an issuer and its attributes.
func (r *IssuerRepository) Delete(id int64) error {
	res, err := r.db.Exec("DELETE FROM issuers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete issuer %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIssuerNotFound
	}
	return nil
}

// SetAttribute upserts one attribute on an issuer.
func (r *IssuerRepository) SetAttribute(issuerID int64, name, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO issuer_attributes (issuer_id, name, value) VALUES (?, ?, ?)
		 ON CONFLICT(issuer_id, name) DO UPDATE SET value = excluded.value`,
		issuerID, name, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set attribute %q on issuer %d: %w", name, issuerID, err)
	}
	return nil
}

// DeleteAttribute removes one attribute from an issuer.
func (r *IssuerRepository) DeleteAttribute(issuerID int64, name string) error {
	_, err := r.db.Exec("DELETE FROM issuer_attributes WHERE issuer_id = ? AND name = ?", issuerID, name)
	if err != nil {
		return fmt.Errorf("failed to delete attribute %q on issuer %d: %w", name, issuerID, err)
	}
	return nil
}

// Attributes returns all attributes for one issuer.
func (r *IssuerRepository) Attributes(issuerID int64) (map[string]string, error) {
	rows, err := r.db.Query("SELECT name, value FROM issuer_attributes WHERE issuer_id = ?", issuerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes for issuer %d: %w", issuerID, err)
	}
	defer rows.Close()
	return scanAttributeMap(rows)
}

// AllAttributes returns attributes for every issuer, keyed by issuer ID.
// Used by the valuation join to avoid per-row queries.
func (r *IssuerRepository) AllAttributes() (map[int64]map[string]string, error) {
	rows, err := r.db.Query("SELECT issuer_id, name, value FROM issuer_attributes")
	if err != nil {
		return nil, fmt.Errorf("failed to get issuer attributes: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]map[string]string)
	for rows.Next() {
		var id int64
		var name, value string
		if err := rows.Scan(&id, &name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan issuer attribute: %w", err)
		}
		if out[id] == nil {
			out[id] = make(map[string]string)
		}
		out[id][name] = value
	}
	return out, rows.Err()
}

func scanIssuer(row scanner) (*domain.Issuer, error) {
	var i domain.Issuer
	var country, industry sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&i.ID, &i.Name, &country, &industry, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	i.Country = country.String
	i.Industry = industry.String
	i.CreatedAt = time.Unix(createdAt, 0)
	i.UpdatedAt = time.Unix(updatedAt, 0)
	return &i, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanAttributeMap(rows *sql.Rows) (map[string]string, error) {
	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}
