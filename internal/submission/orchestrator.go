// Package submission runs a report submission attempt from validation to either remote
// persistence or the local offline queue, and drains that queue once the network is back.
package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"field-service-reports/internal/domain"
	"field-service-reports/internal/rules"
)

type Connectivity interface {
	IsOnline(ctx context.Context) bool
}

type Backend interface {
	UploadMedia(ctx context.Context, m domain.MediaUpload) (string, error)
	CreateReport(ctx context.Context, payload domain.ReportPayload) (string, error)
	SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error
}

type ActionExecutor interface {
	CreateTask(ctx context.Context, spec domain.TaskSpec) (string, error)
	SendNotification(ctx context.Context, spec domain.NotificationSpec) error
}

type LocalStore interface {
	Put(ctx context.Context, rec domain.LocalReport) error
	Remove(ctx context.Context, jobID string) error
}

// FeeReviewer asks the user to apply or dismiss the suggested fees. It blocks until they
// decide. Fees left out of the returned decisions keep their preselection.
type FeeReviewer interface {
	ReviewFees(ctx context.Context, fees []domain.SuggestedFee) ([]domain.FeeDecision, error)
}

// Request is one submission attempt for a report.
type Request struct {
	Template domain.Template
	Report   domain.LocalReport
}

type Result struct {
	State            State
	ValidationErrors []domain.ValidationError
	ReportID         string
	Audit            domain.AutomationAudit
	AppliedFees      []domain.SuggestedFee
	Media            []domain.MediaRef
	SkippedMedia     []string
}

// Succeeded reports whether the attempt reached a successful terminal state. A queued
// submission counts as success.
func (r Result) Succeeded() bool {
	return r.State == StateDone || r.State == StateEnqueued
}

type Orchestrator struct {
	Connectivity Connectivity
	Backend      Backend
	Actions      ActionExecutor
	Store        LocalStore
	Reviewer     FeeReviewer
	OnTransition func(jobID string, state State)
	Now          func() time.Time
}

// Submit runs one attempt. Blocked validation is reported through Result, not as an error. A
// failure to persist remotely or to queue locally is returned as *FatalError.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (Result, error) {
	rec := req.Report
	tpl := req.Template
	if rec.JobID == "" {
		return Result{State: StateIdle}, errors.New("submission: job id is required")
	}
	logger := log.WithFields(log.Fields{"job_id": rec.JobID, "template_id": tpl.ID})

	o.transition(rec.JobID, StateValidating)
	verrs := rules.ValidateSubmit(rules.ValidateInput{
		FormData:   rec.FormData,
		Rules:      tpl.Rules,
		Units:      rec.Units,
		UnitLoop:   tpl.UnitLoop,
		Fields:     tpl.Fields,
		Photos:     rec.Photos,
		Signatures: rec.Signatures,
	})
	if len(verrs) > 0 {
		o.transition(rec.JobID, StateValidationBlocked)
		logger.WithField("errors", len(verrs)).Info("submission blocked by validation")
		return Result{State: StateValidationBlocked, ValidationErrors: verrs}, nil
	}

	var decisions []domain.FeeDecision
	fees := rules.EvaluateFeeSuggestions(rec.FormData, tpl.FeeRules, rec.Units)
	if len(fees) > 0 && o.Reviewer != nil {
		o.transition(rec.JobID, StateFeeReview)
		var err error
		decisions, err = o.Reviewer.ReviewFees(ctx, fees)
		if err != nil {
			return Result{State: StateFeeReview}, fmt.Errorf("fee review: %w", err)
		}
	}

	o.transition(rec.JobID, StateSubmitting)
	audit := rules.CreateAutomationAudit(rec.FormData, tpl.Rules, tpl.FeeRules, rec.Units)
	audit.CreatedAt = o.now()
	audit, applied, err := rules.ApplyFeeDecisions(audit, decisions)
	if err != nil {
		return Result{State: StateFeeReview}, err
	}

	online := o.Connectivity != nil && o.Connectivity.IsOnline(ctx)
	// Offline, auto-actions run later: Syncer.syncOne replays every one missing from the audit.
	if !online {
		return o.enqueue(ctx, rec, audit, applied)
	}

	executeActions(ctx, o.Actions, rec.JobID, &audit)

	o.transition(rec.JobID, StateUploading)
	refs, skipped := uploadMedia(ctx, o.Backend, rec)

	o.transition(rec.JobID, StatePersisting)
	reportID, err := persist(ctx, o.Backend, rec, audit, applied, refs)
	if err != nil {
		logger.WithError(err).Error("report persistence failed, local record kept")
		return Result{State: StatePersisting, Audit: audit, AppliedFees: applied, Media: refs, SkippedMedia: skipped}, err
	}

	if o.Store != nil {
		if err := o.Store.Remove(ctx, rec.JobID); err != nil {
			logger.WithError(err).Warn("report persisted but local record could not be cleared")
		}
	}
	o.transition(rec.JobID, StateDone)
	logger.WithFields(log.Fields{"report_id": reportID, "media": len(refs), "skipped_media": len(skipped)}).Info("report submitted")

	return Result{
		State:        StateDone,
		ReportID:     reportID,
		Audit:        audit,
		AppliedFees:  applied,
		Media:        refs,
		SkippedMedia: skipped,
	}, nil
}

// enqueue upgrades the local record to pending. Auto-actions are left for the syncer, which
// replays every action missing from the audit once the backend is reachable.
func (o *Orchestrator) enqueue(ctx context.Context, rec domain.LocalReport, audit domain.AutomationAudit, applied []domain.SuggestedFee) (Result, error) {
	if o.Store == nil {
		return Result{State: StateSubmitting}, &FatalError{Stage: StateEnqueued, Err: errors.New("no local store configured")}
	}
	rec.ID = rec.JobID
	rec.Status = domain.ReportStatusPending
	rec.Timestamp = o.now()
	rec.Audit = &audit
	rec.AppliedFees = applied
	if err := o.Store.Put(ctx, rec); err != nil {
		return Result{State: StateSubmitting, Audit: audit, AppliedFees: applied}, &FatalError{Stage: StateEnqueued, Err: err}
	}
	o.transition(rec.JobID, StateEnqueued)
	log.WithField("job_id", rec.JobID).Info("offline, report queued for sync")
	return Result{State: StateEnqueued, Audit: audit, AppliedFees: applied}, nil
}

func persist(ctx context.Context, backend Backend, rec domain.LocalReport, audit domain.AutomationAudit, applied []domain.SuggestedFee, refs []domain.MediaRef) (string, error) {
	if applied == nil {
		applied = []domain.SuggestedFee{}
	}
	reportID, err := backend.CreateReport(ctx, domain.ReportPayload{
		JobID:       rec.JobID,
		TemplateID:  rec.TemplateID,
		FormData:    rec.FormData,
		Units:       rec.Units,
		Audit:       audit,
		AppliedFees: applied,
		Media:       refs,
	})
	if err != nil {
		return "", &FatalError{Stage: StatePersisting, Err: err}
	}
	if err := backend.SetJobStatus(ctx, rec.JobID, domain.JobStatusCompleted); err != nil {
		return reportID, &FatalError{Stage: StatePersisting, Err: err}
	}
	return reportID, nil
}

func (o *Orchestrator) transition(jobID string, s State) {
	if o.OnTransition != nil {
		o.OnTransition(jobID, s)
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}
