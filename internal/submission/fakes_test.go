package submission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"field-service-reports/internal/domain"
)

type fakeConnectivity struct {
	mu     sync.Mutex
	online bool
}

func (f *fakeConnectivity) IsOnline(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeConnectivity) set(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = online
}

type fakeBackend struct {
	mu          sync.Mutex
	failMedia   map[string]bool
	createErr   error
	statusErr   error
	uploads     []string
	reports     map[string]domain.ReportPayload
	createCalls int
	jobStatus   map[string]domain.JobStatus
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		failMedia: make(map[string]bool),
		reports:   make(map[string]domain.ReportPayload),
		jobStatus: make(map[string]domain.JobStatus),
	}
}

func (f *fakeBackend) UploadMedia(_ context.Context, m domain.MediaUpload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMedia[m.MediaID] {
		return "", errors.New("connection reset")
	}
	f.uploads = append(f.uploads, m.MediaID)
	return fmt.Sprintf("http://media.local/%s/%s/%s", m.JobID, m.MediaID, m.FileName), nil
}

func (f *fakeBackend) CreateReport(_ context.Context, payload domain.ReportPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.reports[payload.JobID] = payload
	return "report-" + payload.JobID, nil
}

func (f *fakeBackend) SetJobStatus(_ context.Context, jobID string, status domain.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.jobStatus[jobID] = status
	return nil
}

func (f *fakeBackend) report(jobID string) (domain.ReportPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.reports[jobID]
	return p, ok
}

type fakeActions struct {
	mu            sync.Mutex
	failKeys      map[string]bool
	tasks         map[string]int
	notifications map[string]int
}

func newFakeActions() *fakeActions {
	return &fakeActions{
		failKeys:      make(map[string]bool),
		tasks:         make(map[string]int),
		notifications: make(map[string]int),
	}
}

func (f *fakeActions) CreateTask(_ context.Context, spec domain.TaskSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[spec.IdempotencyKey] {
		return "", errors.New("task service unavailable")
	}
	f.tasks[spec.IdempotencyKey]++
	return "task-" + spec.IdempotencyKey, nil
}

func (f *fakeActions) SendNotification(_ context.Context, spec domain.NotificationSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[spec.IdempotencyKey] {
		return errors.New("notification gateway down")
	}
	f.notifications[spec.IdempotencyKey]++
	return nil
}

type memStore struct {
	mu      sync.Mutex
	records map[string]domain.LocalReport
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]domain.LocalReport)}
}

func (m *memStore) Put(_ context.Context, rec domain.LocalReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.records[rec.JobID] = rec
	return nil
}

func (m *memStore) Remove(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, jobID)
	return nil
}

func (m *memStore) ListPending(context.Context) ([]domain.LocalReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LocalReport
	for _, rec := range m.records {
		if rec.Status == domain.ReportStatusPending {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out, nil
}

func (m *memStore) get(jobID string) (domain.LocalReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[jobID]
	return rec, ok
}

type scriptedReviewer struct {
	decisions []domain.FeeDecision
	seen      []domain.SuggestedFee
}

func (r *scriptedReviewer) ReviewFees(_ context.Context, fees []domain.SuggestedFee) ([]domain.FeeDecision, error) {
	r.seen = fees
	return r.decisions, nil
}
