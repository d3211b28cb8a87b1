package localstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"field-service-reports/internal/domain"
)

type recordingWriter struct {
	mu   sync.Mutex
	puts []domain.LocalReport
	err  error
}

func (w *recordingWriter) Put(_ context.Context, rec domain.LocalReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.puts = append(w.puts, rec)
	return nil
}

func (w *recordingWriter) snapshot() []domain.LocalReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.LocalReport(nil), w.puts...)
}

func draftWith(value string) domain.LocalReport {
	return domain.LocalReport{
		ID:       "job-1",
		JobID:    "job-1",
		FormData: domain.FormData{"notes": value},
		Status:   domain.ReportStatusDraft,
	}
}

func TestAutosaverDebouncesToLatestEdit(t *testing.T) {
	w := &recordingWriter{}
	a := NewAutosaver(w, 30*time.Millisecond, nil)
	defer a.Stop()

	a.Schedule(draftWith("a"))
	a.Schedule(draftWith("ab"))
	a.Schedule(draftWith("abc"))

	require.Eventually(t, func() bool { return len(w.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	puts := w.snapshot()
	require.Len(t, puts, 1)
	require.Equal(t, "abc", puts[0].FormData["notes"])
	require.False(t, a.Pending())
}

func TestAutosaverFlushWritesImmediately(t *testing.T) {
	w := &recordingWriter{}
	a := NewAutosaver(w, time.Hour, nil)
	defer a.Stop()

	require.NoError(t, a.Flush(context.Background()), "flush with nothing scheduled is a no-op")
	require.Empty(t, w.snapshot())

	a.Schedule(draftWith("x"))
	require.True(t, a.Pending())
	require.NoError(t, a.Flush(context.Background()))

	puts := w.snapshot()
	require.Len(t, puts, 1)
	require.Equal(t, "x", puts[0].FormData["notes"])
	require.False(t, a.Pending())
}

func TestAutosaverStopDropsSnapshot(t *testing.T) {
	w := &recordingWriter{}
	a := NewAutosaver(w, 10*time.Millisecond, nil)

	a.Schedule(draftWith("x"))
	a.Stop()
	a.Schedule(draftWith("y"))

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, w.snapshot())
}

func TestAutosaverReportsWriteErrors(t *testing.T) {
	storageErr := errors.New("disk full")
	w := &recordingWriter{err: storageErr}

	var mu sync.Mutex
	var reported []error
	a := NewAutosaver(w, time.Hour, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})
	defer a.Stop()

	a.Schedule(draftWith("x"))
	err := a.Flush(context.Background())
	require.ErrorIs(t, err, storageErr)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
}
