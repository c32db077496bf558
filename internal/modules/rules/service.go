package rules

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/domain"
	"github.com/aristath/guardrail/internal/filterexpr"
)

// Service wraps the repository with save-time validation. Rule text is
// compiled before it is stored so broken predicates are rejected at the door
// rather than during an evaluation run.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a rule service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "rules").Logger(),
	}
}

// Create validates and stores a new rule.
func (s *Service) Create(rule *domain.Rule) (*domain.Rule, error) {
	if err := s.validateRule(rule); err != nil {
		return nil, err
	}
	created, err := s.repo.Create(rule)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("rule_id", created.ID).Str("name", created.Name).Msg("Rule created")
	return created, nil
}

// Update validates and stores changes to a rule.
func (s *Service) Update(rule *domain.Rule) error {
	if err := s.validateRule(rule); err != nil {
		return err
	}
	return s.repo.Update(rule)
}

func (s *Service) validateRule(rule *domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := filterexpr.Validate(rule.NumeratorLogic); err != nil {
		return fmt.Errorf("invalid numerator logic: %w", err)
	}
	return nil
}

// ValidateLogic checks rule filter text without storing anything.
func (s *Service) ValidateLogic(logic string) error {
	return filterexpr.Validate(logic)
}

// Get retrieves a rule by ID.
func (s *Service) Get(id int64) (*domain.Rule, error) {
	return s.repo.GetByID(id)
}

// List returns all rules.
func (s *Service) List() ([]*domain.Rule, error) {
	return s.repo.List()
}

// Delete removes a rule.
func (s *Service) Delete(id int64) error {
	return s.repo.Delete(id)
}

// Attach links a rule to a fund.
func (s *Service) Attach(ruleID, fundID int64) error {
	if _, err := s.repo.GetByID(ruleID); err != nil {
		return err
	}
	return s.repo.Attach(ruleID, fundID)
}

// Detach unlinks a rule from a fund.
func (s *Service) Detach(ruleID, fundID int64) error {
	return s.repo.Detach(ruleID, fundID)
}

// Attachments returns the fund IDs a rule is attached to.
func (s *Service) Attachments(ruleID int64) ([]int64, error) {
	return s.repo.Attachments(ruleID)
}
