package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"field-service-reports/internal/domain"
	"field-service-reports/internal/submission"
)

type fakeTemplates struct {
	tpl domain.Template
	err error
}

func (f fakeTemplates) FetchTemplate(_ context.Context, templateID string) (domain.Template, error) {
	if f.err != nil {
		return domain.Template{}, f.err
	}
	tpl := f.tpl
	tpl.ID = templateID
	return tpl, nil
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]domain.LocalReport
	puts    int
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]domain.LocalReport)}
}

func (f *fakeStore) Get(_ context.Context, jobID string) (*domain.LocalReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[jobID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) Put(_ context.Context, rec domain.LocalReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	f.records[rec.JobID] = rec
	return nil
}

func (f *fakeStore) Remove(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, jobID)
	return nil
}

func (f *fakeStore) state() (int, map[string]domain.LocalReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.LocalReport, len(f.records))
	for k, v := range f.records {
		out[k] = v
	}
	return f.puts, out
}

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []submission.Request
	result  submission.Result
	err     error
	release chan struct{}
	entered chan struct{}
	onCall  func(submission.Request)
}

func (f *fakeSubmitter) Submit(ctx context.Context, req submission.Request) (submission.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	onCall := f.onCall
	f.mu.Unlock()
	if onCall != nil {
		onCall(req)
	}
	if f.entered != nil {
		close(f.entered)
	}
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

func pumpTemplate() domain.Template {
	return domain.Template{
		Name: "Septic pump-out",
		Fields: []domain.FieldDef{
			{ID: "customer_name", Required: true},
			{ID: "gallons", Required: true, Scope: domain.ScopeUnit},
		},
		Rules: []domain.AutomationRule{{
			ID:             "fiberglass-crack",
			Trigger:        domain.When(domain.Equals{Field: "unit.material", Value: "fiberglass"}),
			RequiredFields: []string{"crack_photo"},
		}},
		FeeRules: []domain.FeeRule{{
			ID:        "overflow",
			Name:      "Overflow Fee",
			Trigger:   domain.When(domain.Equals{Field: "tank_level", Value: "overflow"}),
			Amount:    75,
			AutoAdded: true,
		}},
		DefaultRules: []domain.DefaultValueRule{
			{FieldID: "customer_name", Source: "customer.name"},
			{FieldID: "site", Source: "job.site_address"},
		},
		UnitLoop: &domain.UnitLoopConfig{Enabled: true, Units: []domain.Unit{
			{ID: "tank-a", UnitNumber: 1},
			{ID: "tank-b", UnitNumber: 2},
		}},
	}
}

var testJob = domain.JobContext{JobID: "job-1", CustomerName: "Acme Septic", SiteAddress: "12 Main St"}

func openSession(t *testing.T, store *fakeStore, sub *fakeSubmitter, quiet time.Duration) *Controller {
	t.Helper()
	c, err := Open(context.Background(), Deps{
		Templates:   fakeTemplates{tpl: pumpTemplate()},
		Store:       store,
		Submitter:   sub,
		QuietPeriod: quiet,
	}, testJob, "septic-pump")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestOpenFreshAppliesDefaults(t *testing.T) {
	c := openSession(t, newFakeStore(), &fakeSubmitter{}, time.Hour)

	snap := c.Snapshot()
	require.Equal(t, "septic-pump", snap.TemplateID)
	require.Equal(t, "Acme Septic", snap.FormData["customer_name"])
	require.Equal(t, "12 Main St", snap.FormData["site"])
	require.Len(t, snap.Units, 2)
	require.False(t, c.Queued())
}

func TestOpenResumesDraftOverDefaults(t *testing.T) {
	store := newFakeStore()
	store.records["job-1"] = domain.LocalReport{
		JobID:    "job-1",
		FormData: domain.FormData{"site": "rear lot"},
		Units:    []domain.UnitData{{Unit: domain.Unit{ID: "tank-a", UnitNumber: 1}, Data: domain.FormData{"gallons": 500.0}}},
		Status:   domain.ReportStatusDraft,
	}

	c := openSession(t, store, &fakeSubmitter{}, time.Hour)
	snap := c.Snapshot()
	require.Equal(t, "rear lot", snap.FormData["site"])
	require.Equal(t, "Acme Septic", snap.FormData["customer_name"])
	require.Len(t, snap.Units, 1)
	require.Equal(t, 500.0, snap.Units[0].Data["gallons"])
}

func TestOpenPendingIsReadOnly(t *testing.T) {
	store := newFakeStore()
	store.records["job-1"] = domain.LocalReport{JobID: "job-1", FormData: domain.FormData{"site": "x"}, Status: domain.ReportStatusPending}
	sub := &fakeSubmitter{}

	c := openSession(t, store, sub, time.Hour)
	require.True(t, c.Queued())
	require.ErrorIs(t, c.SetField("site", "y"), ErrReportQueued)
	_, err := c.Submit(context.Background())
	require.ErrorIs(t, err, ErrReportQueued)
	require.ErrorIs(t, c.Discard(context.Background()), ErrReportQueued)
	require.Empty(t, sub.calls)

	_, records := store.state()
	require.Equal(t, domain.ReportStatusPending, records["job-1"].Status)
}

func TestOpenFailsWhenTemplateUnavailable(t *testing.T) {
	_, err := Open(context.Background(), Deps{
		Templates: fakeTemplates{err: errors.New("404")},
		Store:     newFakeStore(),
		Submitter: &fakeSubmitter{},
	}, testJob, "missing")
	require.Error(t, err)
}

func TestEditsAreDebouncedIntoOneWrite(t *testing.T) {
	store := newFakeStore()
	c := openSession(t, store, &fakeSubmitter{}, 20*time.Millisecond)

	require.NoError(t, c.SetField("notes", "a"))
	require.NoError(t, c.SetField("notes", "ab"))
	require.NoError(t, c.SetUnitField("tank-b", "gallons", 700))

	require.Eventually(t, func() bool {
		puts, _ := store.state()
		return puts == 1
	}, time.Second, 5*time.Millisecond)

	_, records := store.state()
	saved := records["job-1"]
	require.Equal(t, "ab", saved.FormData["notes"])
	require.Equal(t, 700, saved.Units[1].Data["gallons"])
	require.Equal(t, domain.ReportStatusDraft, saved.Status)
}

func TestLiveViewsFollowCurrentUnit(t *testing.T) {
	c := openSession(t, newFakeStore(), &fakeSubmitter{}, time.Hour)

	require.NoError(t, c.SetUnitField("tank-b", "material", "fiberglass"))
	require.False(t, c.Requirements().IsRequired("crack_photo"))

	require.NoError(t, c.SetCurrentUnit(1))
	require.True(t, c.Requirements().IsRequired("crack_photo"))
	require.ErrorIs(t, c.SetCurrentUnit(5), ErrUnknownUnit)

	require.NoError(t, c.SetUnitField("tank-a", "tank_level", "overflow"))
	fees := c.SuggestedFees()
	require.Len(t, fees, 1)
	require.Equal(t, "tank-a", fees[0].UnitID)

	require.NoError(t, c.MarkNotServiced("tank-a", true))
	require.Empty(t, c.SuggestedFees())
	statuses := c.UnitStatuses()
	require.Equal(t, domain.UnitNotServiced, statuses["tank-a"])
	require.Equal(t, domain.UnitInProgress, statuses["tank-b"])

	errs := c.ValidationErrors()
	require.NotEmpty(t, errs)
	for _, e := range errs {
		require.Equal(t, "tank-b", e.UnitID)
	}
}

func TestSubmitFlushesDraftFirstAndCloses(t *testing.T) {
	store := newFakeStore()
	sub := &fakeSubmitter{result: submission.Result{State: submission.StateDone}}
	sub.onCall = func(req submission.Request) {
		_, records := store.state()
		require.Equal(t, "final", records["job-1"].FormData["notes"])
		require.Equal(t, "final", req.Report.FormData["notes"])
	}
	c := openSession(t, store, sub, time.Hour)

	require.NoError(t, c.SetField("notes", "final"))
	photoID, err := c.AddPhoto(domain.Photo{FieldID: "crack_photo", UnitID: "tank-b"})
	require.NoError(t, err)
	require.NotEmpty(t, photoID)

	res, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, submission.StateDone, res.State)
	require.Len(t, sub.calls, 1)
	require.Equal(t, photoID, sub.calls[0].Report.Photos[0].ID)
	require.Equal(t, "septic-pump", sub.calls[0].Template.ID)

	require.ErrorIs(t, c.SetField("notes", "late"), ErrSessionClosed)
}

func TestSubmitBlockedKeepsSessionOpen(t *testing.T) {
	sub := &fakeSubmitter{result: submission.Result{State: submission.StateValidationBlocked}}
	c := openSession(t, newFakeStore(), sub, time.Hour)

	res, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, submission.StateValidationBlocked, res.State)
	require.NoError(t, c.SetField("notes", "fixing"))
}

func TestSubmitEnqueuedMarksSessionQueued(t *testing.T) {
	sub := &fakeSubmitter{result: submission.Result{State: submission.StateEnqueued}}
	c := openSession(t, newFakeStore(), sub, time.Hour)

	_, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.True(t, c.Queued())
	require.ErrorIs(t, c.SetField("notes", "x"), ErrReportQueued)
}

func TestSecondSubmitIsRejectedWhileInFlight(t *testing.T) {
	sub := &fakeSubmitter{
		result:  submission.Result{State: submission.StateDone},
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
	c := openSession(t, newFakeStore(), sub, time.Hour)

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		done <- err
	}()
	<-sub.entered

	_, err := c.Submit(context.Background())
	require.ErrorIs(t, err, ErrSubmitInProgress)
	require.ErrorIs(t, c.SetField("notes", "x"), ErrSubmitInProgress)

	close(sub.release)
	require.NoError(t, <-done)
	require.Len(t, sub.calls, 1)
}

func TestAutosaveFailureIsNonBlocking(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("disk full")
	sub := &fakeSubmitter{result: submission.Result{State: submission.StateDone}}
	c := openSession(t, store, sub, time.Hour)

	require.NoError(t, c.SetField("notes", "x"))
	res, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, submission.StateDone, res.State)
	require.Error(t, c.AutosaveErr())
}

func TestDiscardRemovesDraft(t *testing.T) {
	store := newFakeStore()
	c := openSession(t, store, &fakeSubmitter{}, time.Hour)
	require.NoError(t, c.SetField("notes", "x"))
	require.NoError(t, c.Close(context.Background()))

	_, records := store.state()
	require.Contains(t, records, "job-1")

	c2 := openSession(t, store, &fakeSubmitter{}, time.Hour)
	require.NoError(t, c2.Discard(context.Background()))
	_, records = store.state()
	require.NotContains(t, records, "job-1")
}
