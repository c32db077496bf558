// Package alerts persists the breaches compliance runs raise and their
// resolution history.
package alerts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
)

// ErrNotFound is returned when an alert does not exist.
var ErrNotFound = errors.New("alert not found")

const alertColumns = "id, rule_id, fund_id, trade_id, batch_run_id, status, percentage, alert_level, holdings_triggered, resolution_note, created_at, updated_at"

// Repository handles alert persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an alert repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

// Create inserts a new pending alert.
func (r *Repository) Create(alert *domain.Alert) (*domain.Alert, error) {
	now := time.Now().Unix()
	triggered, err := marshalTickers(alert.HoldingsTriggered)
	if err != nil {
		return nil, err
	}
	res, err := r.db.Exec(
		`INSERT INTO alerts (rule_id, fund_id, trade_id, batch_run_id, status, percentage, alert_level, holdings_triggered, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.RuleID, alert.FundID, nullInt64(alert.TradeID), nullString(alert.BatchRunID),
		string(domain.AlertPending), nullDecimal(alert.Percentage), nullDecimal(alert.AlertLevel),
		triggered, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get alert id: %w", err)
	}
	return r.GetByID(id)
}

// GetByID retrieves an alert by ID.
func (r *Repository) GetByID(id int64) (*domain.Alert, error) {
	row := r.db.QueryRow("SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %d: %w", id, err)
	}
	return alert, nil
}

// ListByTrade returns all alerts raised against a trade.
func (r *Repository) ListByTrade(tradeID int64) ([]*domain.Alert, error) {
	rows, err := r.db.Query("SELECT "+alertColumns+" FROM alerts WHERE trade_id = ? ORDER BY id", tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for trade %d: %w", tradeID, err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ListByFund returns a fund's alerts, optionally filtered by status.
func (r *Repository) ListByFund(fundID int64, status domain.AlertStatus) ([]*domain.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts WHERE fund_id = ?"
	args := []interface{}{fundID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for fund %d: %w", fundID, err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ListByBatchRun returns all alerts raised by one portfolio batch run.
func (r *Repository) ListByBatchRun(batchRunID string) ([]*domain.Alert, error) {
	rows, err := r.db.Query("SELECT "+alertColumns+" FROM alerts WHERE batch_run_id = ? ORDER BY id", batchRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts for batch run %s: %w", batchRunID, err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// SetStatus moves an alert to a new status, recording the resolution note.
func (r *Repository) SetStatus(id int64, status domain.AlertStatus, note string) error {
	res, err := r.db.Exec(
		"UPDATE alerts SET status = ?, resolution_note = ?, updated_at = ? WHERE id = ?",
		string(status), nullString(note), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert %d: %w", id, err)
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

// CancelPendingByTrade marks all of a trade's pending alerts cancelled.
func (r *Repository) CancelPendingByTrade(tradeID int64, note string) error {
	_, err := r.db.Exec(
		"UPDATE alerts SET status = ?, resolution_note = ?, updated_at = ? WHERE trade_id = ? AND status = ?",
		string(domain.AlertCancelled), nullString(note), time.Now().Unix(), tradeID, string(domain.AlertPending),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel alerts for trade %d: %w", tradeID, err)
	}
	return nil
}

// CountPendingByTrade returns how many of a trade's alerts are still pending.
func (r *Repository) CountPendingByTrade(tradeID int64) (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM alerts WHERE trade_id = ? AND status = ?",
		tradeID, string(domain.AlertPending),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending alerts for trade %d: %w", tradeID, err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row scanner) (*domain.Alert, error) {
	var a domain.Alert
	var tradeID sql.NullInt64
	var batchRunID, percentage, alertLevel, triggered, note sql.NullString
	var status string
	var createdAt, updatedAt int64
	err := row.Scan(&a.ID, &a.RuleID, &a.FundID, &tradeID, &batchRunID, &status,
		&percentage, &alertLevel, &triggered, &note, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if tradeID.Valid {
		a.TradeID = &tradeID.Int64
	}
	a.BatchRunID = batchRunID.String
	a.Status = domain.AlertStatus(status)
	a.ResolutionNote = note.String
	if percentage.Valid {
		d, err := decimal.NewFromString(percentage.String)
		if err != nil {
			return nil, fmt.Errorf("invalid percentage %q for alert %d: %w", percentage.String, a.ID, err)
		}
		a.Percentage = &d
	}
	if alertLevel.Valid {
		d, err := decimal.NewFromString(alertLevel.String)
		if err != nil {
			return nil, fmt.Errorf("invalid alert level %q for alert %d: %w", alertLevel.String, a.ID, err)
		}
		a.AlertLevel = &d
	}
	if triggered.Valid && triggered.String != "" {
		if err := json.Unmarshal([]byte(triggered.String), &a.HoldingsTriggered); err != nil {
			return nil, fmt.Errorf("invalid holdings list for alert %d: %w", a.ID, err)
		}
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	a.UpdatedAt = time.Unix(updatedAt, 0)
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]*domain.Alert, error) {
	var out []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

func marshalTickers(tickers []string) (sql.NullString, error) {
	if len(tickers) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(tickers)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal triggered holdings: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
