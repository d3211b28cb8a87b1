package events

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.temporal.io/api/serviceerror"

	"field-service-reports/internal/domain"
	appTemporal "field-service-reports/internal/temporal"
)

type MediaLedger interface {
	RecordMediaObject(ctx context.Context, obj domain.MediaObject) error
}

// Signaler is satisfied by client.Client.
type Signaler interface {
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
}

// NewMediaHandler records every arrival in the ledger and nudges the job's finalize workflow.
// The ledger write is authoritative; a missed signal only delays finalization until the
// workflow re-checks the ledger.
func NewMediaHandler(ledger MediaLedger, signaler Signaler, workflowIDPrefix string) func(context.Context, MediaEvent) error {
	return func(ctx context.Context, ev MediaEvent) error {
		if err := ledger.RecordMediaObject(ctx, domain.MediaObject{
			ObjectKey: ev.ObjectKey,
			JobID:     ev.JobID,
			MediaID:   ev.MediaID,
			FileName:  ev.FileName,
			EventName: ev.EventName,
		}); err != nil {
			return fmt.Errorf("record media object %s: %w", ev.ObjectKey, err)
		}

		fields := log.Fields{"job_id": ev.JobID, "media_id": ev.MediaID, "object_key": ev.ObjectKey}
		workflowID := fmt.Sprintf("%s-%s", workflowIDPrefix, ev.JobID)
		err := signaler.SignalWorkflow(ctx, workflowID, "", appTemporal.MediaReceivedSignalName, appTemporal.MediaReceivedSignal{
			MediaID:   ev.MediaID,
			ObjectKey: ev.ObjectKey,
		})
		var notFound *serviceerror.NotFound
		switch {
		case err == nil:
			log.WithFields(fields).Info("media received")
		case errors.As(err, &notFound):
			// Media usually lands before the report does; the workflow will find it in the ledger.
			log.WithFields(fields).Debug("media received before report workflow")
		default:
			log.WithError(err).WithFields(fields).Warn("failed to signal finalize workflow")
		}
		return nil
	}
}
