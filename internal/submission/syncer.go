package submission

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"field-service-reports/internal/domain"
)

const defaultSyncInterval = 30 * time.Second

type PendingStore interface {
	LocalStore
	ListPending(ctx context.Context) ([]domain.LocalReport, error)
}

// Syncer drains reports queued while offline. Each step is safe to repeat: media keys are
// derived from the media id, auto-actions carry idempotency keys, and the backend keys reports
// by job id. A record is removed only after the job status update succeeds.
type Syncer struct {
	Store        PendingStore
	Backend      Backend
	Actions      ActionExecutor
	Connectivity Connectivity
	Interval     time.Duration
}

type SyncSummary struct {
	Synced int
	Failed int
}

// SyncPending pushes every pending record, oldest first. A record that fails stays queued and
// the rest are still attempted.
func (s *Syncer) SyncPending(ctx context.Context) (SyncSummary, error) {
	var summary SyncSummary
	pending, err := s.Store.ListPending(ctx)
	if err != nil {
		return summary, err
	}
	for _, rec := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if err := s.syncOne(ctx, rec); err != nil {
			summary.Failed++
			log.WithError(err).WithField("job_id", rec.JobID).Warn("pending report sync failed, will retry")
			continue
		}
		summary.Synced++
	}
	return summary, nil
}

func (s *Syncer) syncOne(ctx context.Context, rec domain.LocalReport) error {
	audit := domain.AutomationAudit{}
	if rec.Audit != nil {
		audit = *rec.Audit
	}

	if executeActions(ctx, s.Actions, rec.JobID, &audit) {
		rec.Audit = &audit
		if err := s.Store.Put(ctx, rec); err != nil {
			log.WithError(err).WithField("job_id", rec.JobID).Warn("could not record replayed auto-actions locally")
		}
	}

	refs, skipped := uploadMedia(ctx, s.Backend, rec)
	reportID, err := persist(ctx, s.Backend, rec, audit, rec.AppliedFees, refs)
	if err != nil {
		return err
	}
	if err := s.Store.Remove(ctx, rec.JobID); err != nil {
		log.WithError(err).WithField("job_id", rec.JobID).Warn("synced report could not be cleared locally")
	}
	log.WithFields(log.Fields{
		"job_id":        rec.JobID,
		"report_id":     reportID,
		"media":         len(refs),
		"skipped_media": len(skipped),
	}).Info("pending report synced")
	return nil
}

// Run syncs on every tick while the backend is reachable, until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if s.Connectivity == nil || s.Connectivity.IsOnline(ctx) {
			summary, err := s.SyncPending(ctx)
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("listing pending reports failed")
			} else if summary.Synced+summary.Failed > 0 {
				log.WithFields(log.Fields{"synced": summary.Synced, "failed": summary.Failed}).Info("sync pass complete")
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
