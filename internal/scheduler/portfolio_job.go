package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/modules/compliance"
)

// PortfolioComplianceJob sweeps every fund's live holdings against its
// attached rules. Runs nightly so drift breaches (price moves, rule edits)
// surface without a trade.
type PortfolioComplianceJob struct {
	service *compliance.Service
	log     zerolog.Logger
}

// NewPortfolioComplianceJob creates the nightly sweep job.
func NewPortfolioComplianceJob(service *compliance.Service, log zerolog.Logger) *PortfolioComplianceJob {
	return &PortfolioComplianceJob{
		service: service,
		log:     log.With().Str("job", "portfolio_compliance").Logger(),
	}
}

// Name returns the job name
func (j *PortfolioComplianceJob) Name() string {
	return "portfolio_compliance"
}

// Run sweeps all funds under one batch run ID.
func (j *PortfolioComplianceJob) Run() error {
	batch, err := j.service.RunAllFunds()
	if err != nil {
		return err
	}

	total := 0
	for _, run := range batch.Funds {
		total += len(run.Alerts)
	}
	j.log.Info().
		Str("batch_run_id", batch.BatchRunID).
		Int("funds", len(batch.Funds)).
		Int("alerts", total).
		Msg("Nightly portfolio compliance sweep complete")
	return nil
}
