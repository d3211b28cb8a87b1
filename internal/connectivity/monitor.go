// Package connectivity answers whether the backend is reachable right now and how many reports
// are queued locally.
package connectivity

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"field-service-reports/internal/domain"
)

const defaultProbeTimeout = 3 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type Counter interface {
	Count(ctx context.Context, status domain.ReportStatus) (int, error)
}

type Monitor struct {
	pinger       Pinger
	counter      Counter
	probeTimeout time.Duration
}

func NewMonitor(pinger Pinger, counter Counter, probeTimeout time.Duration) *Monitor {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Monitor{pinger: pinger, counter: counter, probeTimeout: probeTimeout}
}

// IsOnline probes the backend. Any probe failure counts as offline.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	if err := m.pinger.Ping(probeCtx); err != nil {
		log.WithError(err).Debug("backend unreachable")
		return false
	}
	return true
}

// PendingCount is derived from the local store on every call.
func (m *Monitor) PendingCount(ctx context.Context) (int, error) {
	return m.counter.Count(ctx, domain.ReportStatusPending)
}
