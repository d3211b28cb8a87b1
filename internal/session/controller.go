// Package session owns the in-memory state of one report being filled out and is the only
// caller of the rule engine, the autosaver and the submission orchestrator.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"field-service-reports/internal/domain"
	"field-service-reports/internal/localstore"
	"field-service-reports/internal/rules"
	"field-service-reports/internal/submission"
)

const defaultQuietPeriod = 2 * time.Second

var (
	ErrSubmitInProgress = errors.New("session: a submission is already in progress")
	ErrReportQueued     = errors.New("session: report is queued for sync and cannot be edited")
	ErrSessionClosed    = errors.New("session: closed")
	ErrUnknownUnit      = errors.New("session: unknown unit")
)

type TemplateSource interface {
	FetchTemplate(ctx context.Context, templateID string) (domain.Template, error)
}

type Store interface {
	Get(ctx context.Context, jobID string) (*domain.LocalReport, error)
	Put(ctx context.Context, rec domain.LocalReport) error
	Remove(ctx context.Context, jobID string) error
}

type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, error)
}

type Deps struct {
	Templates   TemplateSource
	Store       Store
	Submitter   Submitter
	QuietPeriod time.Duration
	Now         func() time.Time
}

type Controller struct {
	deps     Deps
	job      domain.JobContext
	template domain.Template
	autosave *localstore.Autosaver

	mu          sync.Mutex
	formData    domain.FormData
	units       []domain.UnitData
	currentUnit int
	photos      []domain.Photo
	signatures  []domain.Signature
	queued      bool
	closed      bool
	submitting  bool
	autosaveErr error
}

// Open loads the template and any local record for the job, then seeds the form. A resumed
// draft wins over computed defaults field by field. A pending record opens read-only.
func Open(ctx context.Context, deps Deps, job domain.JobContext, templateID string) (*Controller, error) {
	if deps.Templates == nil || deps.Store == nil || deps.Submitter == nil {
		return nil, errors.New("session: templates, store and submitter are required")
	}

	var (
		tpl      domain.Template
		existing *domain.LocalReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tpl, err = deps.Templates.FetchTemplate(gctx, templateID)
		return err
	})
	g.Go(func() error {
		var err error
		existing, err = deps.Store.Get(gctx, job.JobID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("session: open job %s: %w", job.JobID, err)
	}

	quiet := deps.QuietPeriod
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}
	c := &Controller{deps: deps, job: job, template: tpl}
	c.autosave = localstore.NewAutosaver(deps.Store, quiet, c.recordAutosaveErr)

	var draftData domain.FormData
	if existing != nil {
		draftData = existing.FormData
		c.units = existing.Units
		c.photos = existing.Photos
		c.signatures = existing.Signatures
		c.queued = existing.Status == domain.ReportStatusPending
	}
	if c.queued {
		c.formData = draftData.Clone()
	} else {
		c.formData = rules.EvaluateDefaultValues(job, tpl.DefaultRules, draftData)
	}
	if len(c.units) == 0 && tpl.PerUnit() {
		for _, u := range tpl.UnitLoop.Units {
			c.units = append(c.units, domain.UnitData{Unit: u, Data: domain.FormData{}})
		}
	}

	log.WithFields(log.Fields{
		"job_id":  job.JobID,
		"resumed": existing != nil,
		"queued":  c.queued,
	}).Debug("report session opened")
	return c, nil
}

func (c *Controller) Template() domain.Template { return c.template }

func (c *Controller) Queued() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued
}

func (c *Controller) SetField(field string, value any) error {
	return c.mutate(func() error {
		c.formData[field] = value
		return nil
	})
}

func (c *Controller) SetUnitField(unitID, field string, value any) error {
	return c.mutate(func() error {
		i, err := c.unitIndexLocked(unitID)
		if err != nil {
			return err
		}
		if c.units[i].Data == nil {
			c.units[i].Data = domain.FormData{}
		}
		c.units[i].Data[field] = value
		return nil
	})
}

// SetCurrentUnit selects the unit whose sub-form feeds the live requirement picture.
func (c *Controller) SetCurrentUnit(index int) error {
	return c.mutate(func() error {
		if index < 0 || index >= len(c.units) {
			return fmt.Errorf("%w: index %d", ErrUnknownUnit, index)
		}
		c.currentUnit = index
		return nil
	})
}

func (c *Controller) MarkNotServiced(unitID string, notServiced bool) error {
	return c.mutate(func() error {
		i, err := c.unitIndexLocked(unitID)
		if err != nil {
			return err
		}
		c.units[i].Unit.NotServiced = notServiced
		return nil
	})
}

// AddPhoto attaches a captured photo and returns its id.
func (c *Controller) AddPhoto(p domain.Photo) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CapturedAt.IsZero() {
		p.CapturedAt = c.now()
	}
	err := c.mutate(func() error {
		c.photos = append(c.photos, p)
		return nil
	})
	return p.ID, err
}

func (c *Controller) AddSignature(s domain.Signature) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = c.now()
	}
	err := c.mutate(func() error {
		c.signatures = append(c.signatures, s)
		return nil
	})
	return s.ID, err
}

// Requirements is the live requirement picture for the form and the current unit.
func (c *Controller) Requirements() rules.Requirements {
	c.mu.Lock()
	defer c.mu.Unlock()
	var unitData domain.FormData
	if c.currentUnit < len(c.units) {
		unitData = c.units[c.currentUnit].Data
		if unitData == nil {
			unitData = domain.FormData{}
		}
	}
	return rules.EvaluateAutoRequirements(c.formData, c.template.Rules, unitData).WithTemplate(c.template.Fields, "")
}

func (c *Controller) SuggestedFees() []domain.SuggestedFee {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rules.EvaluateFeeSuggestions(c.formData, c.template.FeeRules, c.units)
}

func (c *Controller) UnitStatuses() map[string]domain.UnitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rules.UnitStatuses(c.formData, c.units, c.template.Rules, c.template.Fields, c.photos)
}

// ValidationErrors previews what a submit would be blocked on.
func (c *Controller) ValidationErrors() []domain.ValidationError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rules.ValidateSubmit(rules.ValidateInput{
		FormData:   c.formData,
		Rules:      c.template.Rules,
		Units:      c.units,
		UnitLoop:   c.template.UnitLoop,
		Fields:     c.template.Fields,
		Photos:     c.photos,
		Signatures: c.signatures,
	})
}

// AutosaveErr returns the last local write failure, if any. The in-memory form stays usable.
func (c *Controller) AutosaveErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autosaveErr
}

func (c *Controller) Snapshot() domain.LocalReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Submit flushes the latest draft and runs one submission attempt. Only one attempt may run at
// a time; edits are rejected while it does. On success the session closes.
func (c *Controller) Submit(ctx context.Context) (submission.Result, error) {
	c.mu.Lock()
	if err := c.checkEditableLocked(); err != nil {
		c.mu.Unlock()
		return submission.Result{}, err
	}
	c.submitting = true
	snap := c.snapshotLocked()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
	}()

	if err := c.autosave.Flush(ctx); err != nil {
		log.WithError(err).WithField("job_id", c.job.JobID).Warn("draft flush before submit failed")
	}

	res, err := c.deps.Submitter.Submit(ctx, submission.Request{Template: c.template, Report: snap})
	if err != nil || !res.Succeeded() {
		return res, err
	}

	c.mu.Lock()
	c.closed = true
	c.queued = res.State == submission.StateEnqueued
	c.mu.Unlock()
	c.autosave.Stop()
	return res, nil
}

// Discard drops the draft. Queued reports cannot be discarded.
func (c *Controller) Discard(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkEditableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.closed = true
	c.mu.Unlock()

	c.autosave.Stop()
	return c.deps.Store.Remove(ctx, c.job.JobID)
}

// Close writes any unsaved edits and stops autosave.
func (c *Controller) Close(ctx context.Context) error {
	err := c.autosave.Flush(ctx)
	c.autosave.Stop()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

func (c *Controller) mutate(fn func() error) error {
	c.mu.Lock()
	if err := c.checkEditableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := fn(); err != nil {
		c.mu.Unlock()
		return err
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.autosave.Schedule(snap)
	return nil
}

func (c *Controller) checkEditableLocked() error {
	switch {
	case c.queued:
		return ErrReportQueued
	case c.closed:
		return ErrSessionClosed
	case c.submitting:
		return ErrSubmitInProgress
	}
	return nil
}

func (c *Controller) unitIndexLocked(unitID string) (int, error) {
	for i := range c.units {
		if c.units[i].Unit.ID == unitID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownUnit, unitID)
}

func (c *Controller) snapshotLocked() domain.LocalReport {
	units := make([]domain.UnitData, len(c.units))
	for i, u := range c.units {
		units[i] = domain.UnitData{Unit: u.Unit, Data: u.Data.Clone()}
	}
	return domain.LocalReport{
		ID:         c.job.JobID,
		JobID:      c.job.JobID,
		TemplateID: c.template.ID,
		FormData:   c.formData.Clone(),
		Units:      units,
		Photos:     append([]domain.Photo(nil), c.photos...),
		Signatures: append([]domain.Signature(nil), c.signatures...),
		Status:     domain.ReportStatusDraft,
		Timestamp:  c.now(),
	}
}

func (c *Controller) recordAutosaveErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autosaveErr = err
}

func (c *Controller) now() time.Time {
	if c.deps.Now != nil {
		return c.deps.Now()
	}
	return time.Now().UTC()
}
