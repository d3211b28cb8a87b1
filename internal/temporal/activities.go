package temporal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"field-service-reports/internal/domain"
	"field-service-reports/internal/rules"
)

const errTypeReportNotFound = "ReportNotFound"

type ActivityStore interface {
	GetReport(ctx context.Context, reportID string) (domain.StoredReport, error)
	InsertAuditEntries(ctx context.Context, reportID string, entries []domain.AuditEntry) error
	ListMediaIDs(ctx context.Context, jobID string) ([]string, error)
	MarkReportFinalized(ctx context.Context, reportID string, at time.Time) error
}

type Activities struct {
	Store ActivityStore
	Now   func() time.Time
}

type RecordAuditInput struct {
	ReportID string
}

type RecordAuditOutput struct {
	JobID    string
	Entries  int
	MediaIDs []string
}

type CheckMediaInput struct {
	JobID    string
	MediaIDs []string
}

type CheckMediaOutput struct {
	Missing []string
}

type FinalizeReportInput struct {
	ReportID     string
	MissingMedia []string
	NextSeq      int
}

type FinalizeReportOutput struct {
	FinalizedAt time.Time
}

// RecordAutomationAuditActivity writes the report's automation audit to the audit log. Entries
// carry stable sequence numbers so a retry rewrites nothing.
func (a *Activities) RecordAutomationAuditActivity(ctx context.Context, input RecordAuditInput) (RecordAuditOutput, error) {
	rec, err := a.getReport(ctx, input.ReportID)
	if err != nil {
		return RecordAuditOutput{}, err
	}
	entries := rules.AuditEntries(rec.Audit)
	if err := a.Store.InsertAuditEntries(ctx, input.ReportID, entries); err != nil {
		return RecordAuditOutput{}, err
	}

	mediaIDs := make([]string, 0, len(rec.Media))
	for _, m := range rec.Media {
		mediaIDs = append(mediaIDs, m.MediaID)
	}
	activity.GetLogger(ctx).Info("recorded automation audit", "report_id", input.ReportID, "entries", len(entries))
	return RecordAuditOutput{JobID: rec.JobID, Entries: len(entries), MediaIDs: mediaIDs}, nil
}

// CheckMediaActivity returns the referenced media ids the bucket has not confirmed yet.
func (a *Activities) CheckMediaActivity(ctx context.Context, input CheckMediaInput) (CheckMediaOutput, error) {
	if len(input.MediaIDs) == 0 {
		return CheckMediaOutput{Missing: []string{}}, nil
	}
	landed, err := a.Store.ListMediaIDs(ctx, input.JobID)
	if err != nil {
		return CheckMediaOutput{}, err
	}
	return CheckMediaOutput{Missing: missingMedia(input.MediaIDs, landed)}, nil
}

func (a *Activities) FinalizeReportActivity(ctx context.Context, input FinalizeReportInput) (FinalizeReportOutput, error) {
	if _, err := a.getReport(ctx, input.ReportID); err != nil {
		return FinalizeReportOutput{}, err
	}
	at := a.now()
	detail := map[string]any{}
	if len(input.MissingMedia) > 0 {
		detail["missing_media"] = input.MissingMedia
	}
	entry := domain.AuditEntry{Seq: input.NextSeq, State: domain.AuditFinalized, Detail: detail}
	if err := a.Store.InsertAuditEntries(ctx, input.ReportID, []domain.AuditEntry{entry}); err != nil {
		return FinalizeReportOutput{}, err
	}
	if err := a.Store.MarkReportFinalized(ctx, input.ReportID, at); err != nil {
		return FinalizeReportOutput{}, err
	}
	return FinalizeReportOutput{FinalizedAt: at}, nil
}

func (a *Activities) getReport(ctx context.Context, reportID string) (domain.StoredReport, error) {
	rec, err := a.Store.GetReport(ctx, reportID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoredReport{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("report %s not found", reportID), errTypeReportNotFound, err)
	}
	return rec, err
}

func (a *Activities) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

func missingMedia(want, landed []string) []string {
	have := make(map[string]struct{}, len(landed))
	for _, id := range landed {
		have[id] = struct{}{}
	}
	out := make([]string, 0)
	seen := make(map[string]struct{}, len(want))
	for _, id := range want {
		if _, ok := have[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
