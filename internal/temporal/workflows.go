package temporal

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"field-service-reports/internal/domain"
)

const ReportFinalizeWorkflowName = "ReportFinalizeWorkflow"

type WorkflowInput struct {
	ReportID string
	JobID    string
	// MediaWait bounds how long finalization waits for referenced media to land in the
	// bucket. Zero finalizes without waiting.
	MediaWait time.Duration
}

type WorkflowResult struct {
	ReportID     string
	Status       domain.StoredReportStatus
	AuditEntries int
	MissingMedia []string
	FinalizedAt  time.Time
}

// ReportFinalizeWorkflow records a persisted report's automation audit, waits for its media to
// arrive and then marks it finalized. Missing media never blocks finalization past MediaWait;
// it is recorded on the FINALIZED audit entry instead.
func ReportFinalizeWorkflow(ctx workflow.Context, input WorkflowInput) (WorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	var recorded RecordAuditOutput
	if err := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyRecordAudit), (*Activities).RecordAutomationAuditActivity, RecordAuditInput{
		ReportID: input.ReportID,
	}).Get(ctx, &recorded); err != nil {
		return WorkflowResult{}, err
	}
	jobID := recorded.JobID
	if jobID == "" {
		jobID = input.JobID
	}

	checkCtx := mustActivityContext(ctx, ActivityPolicyCheckMedia)
	var checked CheckMediaOutput
	if err := workflow.ExecuteActivity(checkCtx, (*Activities).CheckMediaActivity, CheckMediaInput{
		JobID:    jobID,
		MediaIDs: recorded.MediaIDs,
	}).Get(ctx, &checked); err != nil {
		return WorkflowResult{}, err
	}

	missing := checked.Missing
	if len(missing) > 0 && input.MediaWait > 0 {
		missing = awaitMedia(ctx, missing, input.MediaWait)
		if len(missing) > 0 {
			// Signals can be lost if the handler raced the workflow start; ask the ledger again.
			if err := workflow.ExecuteActivity(checkCtx, (*Activities).CheckMediaActivity, CheckMediaInput{
				JobID:    jobID,
				MediaIDs: missing,
			}).Get(ctx, &checked); err != nil {
				return WorkflowResult{}, err
			}
			missing = checked.Missing
		}
	}
	if len(missing) > 0 {
		logger.Warn("finalizing report with missing media", "report_id", input.ReportID, "missing", missing)
	}

	var finalized FinalizeReportOutput
	if err := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyFinalizeReport), (*Activities).FinalizeReportActivity, FinalizeReportInput{
		ReportID:     input.ReportID,
		MissingMedia: missing,
		NextSeq:      recorded.Entries + 1,
	}).Get(ctx, &finalized); err != nil {
		return WorkflowResult{}, err
	}

	return WorkflowResult{
		ReportID:     input.ReportID,
		Status:       domain.StoredReportFinalized,
		AuditEntries: recorded.Entries + 1,
		MissingMedia: missing,
		FinalizedAt:  finalized.FinalizedAt,
	}, nil
}

// awaitMedia drains media signals until every id has arrived or the wait elapses. It returns
// the ids still missing.
func awaitMedia(ctx workflow.Context, missing []string, wait time.Duration) []string {
	pending := make(map[string]struct{}, len(missing))
	for _, id := range missing {
		pending[id] = struct{}{}
	}

	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()
	timer := workflow.NewTimer(timerCtx, wait)
	signals := workflow.GetSignalChannel(ctx, MediaReceivedSignalName)

	expired := false
	for len(pending) > 0 && !expired {
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(signals, func(c workflow.ReceiveChannel, _ bool) {
			var sig MediaReceivedSignal
			c.Receive(ctx, &sig)
			delete(pending, sig.MediaID)
		})
		selector.AddFuture(timer, func(workflow.Future) {
			expired = true
		})
		selector.Select(ctx)
	}

	out := make([]string, 0, len(pending))
	for _, id := range missing {
		if _, ok := pending[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
