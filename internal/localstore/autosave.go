package localstore

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"field-service-reports/internal/domain"
)

// Writer is the subset of Store the autosaver needs.
type Writer interface {
	Put(ctx context.Context, rec domain.LocalReport) error
}

// Autosaver debounces draft snapshots. Each Schedule replaces the pending snapshot and restarts
// the quiet-period timer; only the timer (or an explicit Flush) writes.
type Autosaver struct {
	store   Writer
	quiet   time.Duration
	onError func(error)

	mu      sync.Mutex
	timer   *time.Timer
	latest  *domain.LocalReport
	gen     uint64
	stopped bool

	// writeMu keeps at most one Put in flight.
	writeMu sync.Mutex
}

func NewAutosaver(store Writer, quiet time.Duration, onError func(error)) *Autosaver {
	return &Autosaver{store: store, quiet: quiet, onError: onError}
}

// Schedule records rec as the latest snapshot and (re)starts the quiet-period timer.
func (a *Autosaver) Schedule(rec domain.LocalReport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.latest = &rec
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
	}
	gen := a.gen
	a.timer = time.AfterFunc(a.quiet, func() { a.fire(gen) })
}

// Flush cancels the timer and writes the latest snapshot now, if there is one. It waits for any
// write already in flight.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	rec, ok := a.take(0)
	if !ok {
		return nil
	}
	return a.write(ctx, rec)
}

// Stop cancels the timer and drops any unsaved snapshot. Later Schedule calls are ignored.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.latest = nil
	if a.timer != nil {
		a.timer.Stop()
	}
}

// Pending reports whether a snapshot is waiting for the timer.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest != nil
}

func (a *Autosaver) fire(gen uint64) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	rec, ok := a.take(gen)
	if !ok {
		return
	}
	_ = a.write(context.Background(), rec)
}

// take claims the latest snapshot. A non-zero gen must match the most recent Schedule, so a
// superseded timer that raced its Stop does nothing.
func (a *Autosaver) take(gen uint64) (domain.LocalReport, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil || (gen != 0 && gen != a.gen) {
		return domain.LocalReport{}, false
	}
	rec := *a.latest
	a.latest = nil
	return rec, true
}

func (a *Autosaver) write(ctx context.Context, rec domain.LocalReport) error {
	err := a.store.Put(ctx, rec)
	if err == nil {
		return nil
	}
	log.WithError(err).WithField("job_id", rec.JobID).Warn("autosave failed")
	if a.onError != nil {
		a.onError(err)
	}
	return err
}
