package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"field-service-reports/internal/domain"
	"field-service-reports/internal/session"
	"field-service-reports/internal/submission"
)

// reportFill is the on-disk description of what a technician entered.
type reportFill struct {
	Job          domain.JobContext         `json:"job"`
	TemplateID   string                    `json:"template_id"`
	Fields       map[string]any            `json:"fields"`
	Units        map[string]map[string]any `json:"units"`
	NotServiced  []string                  `json:"not_serviced"`
	Photos       []mediaFile               `json:"photos"`
	Signatures   []mediaFile               `json:"signatures"`
	FeeDecisions []domain.FeeDecision      `json:"fee_decisions"`
}

type mediaFile struct {
	FieldID   string   `json:"field_id"`
	UnitID    string   `json:"unit_id,omitempty"`
	Path      string   `json:"path"`
	Signer    string   `json:"signer,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func loadFill(path string) (reportFill, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return reportFill{}, fmt.Errorf("read fill file: %w", err)
	}
	var fill reportFill
	if err := json.Unmarshal(raw, &fill); err != nil {
		return reportFill{}, fmt.Errorf("decode fill file: %w", err)
	}
	if fill.Job.JobID == "" || fill.TemplateID == "" {
		return reportFill{}, fmt.Errorf("fill file needs job.job_id and template_id")
	}
	base := filepath.Dir(path)
	for i := range fill.Photos {
		fill.Photos[i].Path = resolvePath(base, fill.Photos[i].Path)
	}
	for i := range fill.Signatures {
		fill.Signatures[i].Path = resolvePath(base, fill.Signatures[i].Path)
	}
	return fill, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// apply replays the fill onto an open session in the order the form would see it.
func (f reportFill) apply(sess *session.Controller) error {
	for field, v := range f.Fields {
		if err := sess.SetField(field, v); err != nil {
			return fmt.Errorf("set %s: %w", field, err)
		}
	}
	for unitID, data := range f.Units {
		for field, v := range data {
			if err := sess.SetUnitField(unitID, field, v); err != nil {
				return fmt.Errorf("set unit %s %s: %w", unitID, field, err)
			}
		}
	}
	for _, unitID := range f.NotServiced {
		if err := sess.MarkNotServiced(unitID, true); err != nil {
			return fmt.Errorf("mark unit %s not serviced: %w", unitID, err)
		}
	}
	for _, m := range f.Photos {
		data, err := os.ReadFile(m.Path)
		if err != nil {
			return fmt.Errorf("read photo: %w", err)
		}
		if _, err := sess.AddPhoto(domain.Photo{
			FieldID:     m.FieldID,
			UnitID:      m.UnitID,
			FileName:    filepath.Base(m.Path),
			ContentType: contentType(m.Path),
			Data:        data,
			Latitude:    m.Latitude,
			Longitude:   m.Longitude,
		}); err != nil {
			return err
		}
	}
	for _, m := range f.Signatures {
		data, err := os.ReadFile(m.Path)
		if err != nil {
			return fmt.Errorf("read signature: %w", err)
		}
		if _, err := sess.AddSignature(domain.Signature{
			FieldID:     m.FieldID,
			Signer:      m.Signer,
			FileName:    filepath.Base(m.Path),
			ContentType: contentType(m.Path),
			Data:        data,
		}); err != nil {
			return err
		}
	}
	return nil
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// staticReviewer answers the fee review with decisions fixed up front. Fees it does not
// mention keep their preselection.
type staticReviewer struct {
	decisions []domain.FeeDecision
}

func (r staticReviewer) ReviewFees(_ context.Context, fees []domain.SuggestedFee) ([]domain.FeeDecision, error) {
	known := make(map[string]struct{}, len(fees))
	for _, f := range fees {
		known[f.ID] = struct{}{}
	}
	out := make([]domain.FeeDecision, 0, len(r.decisions))
	for _, d := range r.decisions {
		if _, ok := known[d.FeeID]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func printResult(w io.Writer, jobID string, res submission.Result) error {
	switch res.State {
	case submission.StateValidationBlocked:
		fmt.Fprintf(w, "job %s: submission blocked\n", jobID)
		for _, ve := range res.ValidationErrors {
			fmt.Fprintf(w, "  - %s\n", ve.Message)
		}
		return fmt.Errorf("%d validation error(s)", len(res.ValidationErrors))
	case submission.StateEnqueued:
		fmt.Fprintf(w, "job %s: offline, report queued for sync\n", jobID)
	default:
		fmt.Fprintf(w, "job %s: report %s submitted (%d media, %d fees applied)\n", jobID, res.ReportID, len(res.Media), len(res.AppliedFees))
		for _, id := range res.SkippedMedia {
			fmt.Fprintf(w, "  ! media %s failed to upload\n", id)
		}
	}
	return nil
}
