package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-books/internal/jobs"
)

// ChartSyncer ensures chart of accounts rows for every ledger of an
// organization.
type ChartSyncer interface {
	SyncCharts(ctx context.Context, orgID int64) (int, error)
}

// COASyncJob backfills chart of accounts rows for ledgers created before
// their chart row existed.
type COASyncJob struct {
	Source  IntegritySource
	Charts  ChartSyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCOASyncJob initialises the chart backfill handler.
func NewCOASyncJob(source IntegritySource, charts ChartSyncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *COASyncJob {
	return &COASyncJob{Source: source, Charts: charts, Logger: logger, Metrics: metrics}
}

// Handle executes TaskCOASync.
func (j *COASyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Charts == nil {
		return errors.New("coa sync: handler not configured")
	}
	payload, err := decodeOrgPayload(t)
	if err != nil {
		return asynq.SkipRetry
	}
	_, err = j.Run(ctx, payload.OrgIDs...)
	return err
}

// Run syncs the given organizations, or all of them, and returns the number
// of ledgers processed.
func (j *COASyncJob) Run(ctx context.Context, orgIDs ...int64) (total int, resultErr error) {
	tracker := j.Metrics.Track(TaskCOASync)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := slog.Default()
	if j.Logger != nil {
		logger = j.Logger
	}
	logger = logger.With(slog.String("job", "coa_sync"))

	if len(orgIDs) == 0 {
		if j.Source == nil {
			return 0, errors.New("coa sync: organization source not configured")
		}
		all, err := j.Source.Organizations(ctx)
		if err != nil {
			return 0, fmt.Errorf("coa sync: list organizations: %w", err)
		}
		orgIDs = all
	}
	for _, orgID := range orgIDs {
		n, err := j.Charts.SyncCharts(ctx, orgID)
		if err != nil {
			logger.Error("coa sync failed", slog.Int64("org_id", orgID), slog.Any("error", err))
			return total, fmt.Errorf("coa sync: org %d: %w", orgID, err)
		}
		total += n
	}
	logger.Info("coa sync completed", slog.Int("organizations", len(orgIDs)), slog.Int("ledgers", total))
	return total, nil
}
