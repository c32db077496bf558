// Package rules manages compliance rules and their fund attachments.
package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/guardrail/internal/domain"
)

// ErrNotFound is returned when a rule does not exist.
var ErrNotFound = errors.New("rule not found")

const ruleColumns = "id, name, alert_message, numerator_logic, denominator_type, alert_if, alert_level, trade_mode, portfolio_mode, active, created_at, updated_at"

// Repository handles rule persistence.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a rule repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "rules").Logger(),
	}
}

// Create inserts a new rule.
func (r *Repository) Create(rule *domain.Rule) (*domain.Rule, error) {
	now := time.Now().Unix()
	res, err := r.db.Exec(
		`INSERT INTO rules (name, alert_message, numerator_logic, denominator_type, alert_if, alert_level,
		 trade_mode, portfolio_mode, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.Name, nullString(rule.AlertMessage), rule.NumeratorLogic,
		string(rule.DenominatorType), nullString(string(rule.AlertIf)), rule.AlertLevel.String(),
		boolToInt(rule.TradeMode), boolToInt(rule.PortfolioMode), boolToInt(rule.Active), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get rule id: %w", err)
	}
	return r.GetByID(id)
}

// GetByID retrieves a rule by ID.
func (r *Repository) GetByID(id int64) (*domain.Rule, error) {
	row := r.db.QueryRow("SELECT "+ruleColumns+" FROM rules WHERE id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %d: %w", id, err)
	}
	return rule, nil
}

// List returns all rules ordered by name.
func (r *Repository) List() ([]*domain.Rule, error) {
	rows, err := r.db.Query("SELECT " + ruleColumns + " FROM rules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListActiveForFund returns the active rules attached to a fund whose flag
// for the given mode is set, ordered by rule ID so evaluation order is stable.
func (r *Repository) ListActiveForFund(fundID int64, mode domain.RuleMode) ([]*domain.Rule, error) {
	modeColumn := "trade_mode"
	if mode == domain.ModePortfolio {
		modeColumn = "portfolio_mode"
	}
	rows, err := r.db.Query(
		`SELECT `+ruleColumns+` FROM rules
		 WHERE active = 1 AND `+modeColumn+` = 1
		   AND id IN (SELECT rule_id FROM rule_attachments WHERE fund_id = ?)
		 ORDER BY id`,
		fundID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for fund %d: %w", fundID, err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// Update modifies a rule.
func (r *Repository) Update(rule *domain.Rule) error {
	res, err := r.db.Exec(
		`UPDATE rules SET name = ?, alert_message = ?, numerator_logic = ?, denominator_type = ?,
		 alert_if = ?, alert_level = ?, trade_mode = ?, portfolio_mode = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		rule.Name, nullString(rule.AlertMessage), rule.NumeratorLogic,
		string(rule.DenominatorType), nullString(string(rule.AlertIf)), rule.AlertLevel.String(),
		boolToInt(rule.TradeMode), boolToInt(rule.PortfolioMode), boolToInt(rule.Active),
		time.Now().Unix(), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule %d: %w", rule.ID, err)
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

// Delete removes a rule and its attachments.
func (r *Repository) Delete(id int64) error {
	res, err := r.db.Exec("DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
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

// Attach links a rule to a fund. Attaching twice is a no-op.
func (r *Repository) Attach(ruleID, fundID int64) error {
	_, err := r.db.Exec(
		"INSERT OR IGNORE INTO rule_attachments (rule_id, fund_id) VALUES (?, ?)",
		ruleID, fundID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach rule %d to fund %d: %w", ruleID, fundID, err)
	}
	return nil
}

// Detach unlinks a rule from a fund.
func (r *Repository) Detach(ruleID, fundID int64) error {
	_, err := r.db.Exec(
		"DELETE FROM rule_attachments WHERE rule_id = ? AND fund_id = ?",
		ruleID, fundID,
	)
	if err != nil {
		return fmt.Errorf("failed to detach rule %d from fund %d: %w", ruleID, fundID, err)
	}
	return nil
}

// Attachments returns the fund IDs a rule is attached to.
func (r *Repository) Attachments(ruleID int64) ([]int64, error) {
	rows, err := r.db.Query("SELECT fund_id FROM rule_attachments WHERE rule_id = ? ORDER BY fund_id", ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments for rule %d: %w", ruleID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var fundID int64
		if err := rows.Scan(&fundID); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		out = append(out, fundID)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (*domain.Rule, error) {
	var rule domain.Rule
	var alertMessage, alertIf sql.NullString
	var denomType, alertLevel string
	var tradeMode, portfolioMode, active int
	var createdAt, updatedAt int64
	err := row.Scan(&rule.ID, &rule.Name, &alertMessage, &rule.NumeratorLogic,
		&denomType, &alertIf, &alertLevel, &tradeMode, &portfolioMode, &active,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rule.AlertMessage = alertMessage.String
	rule.DenominatorType = domain.DenominatorType(denomType)
	rule.AlertIf = domain.AlertIf(alertIf.String)
	level, err := decimal.NewFromString(alertLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid alert level %q for rule %d: %w", alertLevel, rule.ID, err)
	}
	rule.AlertLevel = level
	rule.TradeMode = tradeMode != 0
	rule.PortfolioMode = portfolioMode != 0
	rule.Active = active != 0
	rule.CreatedAt = time.Unix(createdAt, 0)
	rule.UpdatedAt = time.Unix(updatedAt, 0)
	return &rule, nil
}

func scanRules(rows *sql.Rows) ([]*domain.Rule, error) {
	var out []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
