package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/config"
	"github.com/dmitrijs2005/postboard/internal/server/monitoring"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/repomanager"
)

const staleReportLimit = 100

// StaleReporter surfaces attachments left PENDING by a crash between
// transfer and finalize. It only reports; records are never changed.
type StaleReporter struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	after       time.Duration
	interval    time.Duration
	log         logging.Logger
	metrics     *monitoring.Metrics
	now         func() time.Time
}

func NewStaleReporter(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config,
	log logging.Logger, metrics *monitoring.Metrics) *StaleReporter {
	return &StaleReporter{
		db:          db,
		repomanager: m,
		after:       cfg.StalePendingAfter,
		interval:    cfg.StaleCheckInterval,
		log:         log,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Run checks once immediately and then every interval until ctx is done.
func (r *StaleReporter) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Check(ctx); err != nil && ctx.Err() == nil {
			r.log.Error(ctx, "stale pending check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Check logs every PENDING record older than the cutoff and returns how
// many were found.
func (r *StaleReporter) Check(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.after)
	stale, err := r.repomanager.Attachments(r.db).ListStalePending(ctx, cutoff, staleReportLimit)
	if err != nil {
		return 0, err
	}
	for _, a := range stale {
		r.log.Warn(ctx, "attachment stuck in PENDING",
			"attachment_id", a.ID, "post_id", a.PostID, "key", a.StorageKey, "created_at", a.CreatedAt)
	}
	r.metrics.SetStalePending(len(stale))
	return len(stale), nil
}
