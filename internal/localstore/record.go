package localstore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"field-service-reports/internal/domain"
)

// reportRecord is the single live row for a job. job_id is the primary key so a second
// record for the same job cannot exist.
type reportRecord struct {
	JobID       string         `gorm:"primaryKey;type:text"`
	TemplateID  string         `gorm:"type:text;not null"`
	Status      string         `gorm:"type:text;not null;index"`
	FormData    datatypes.JSON `gorm:"type:json;not null"`
	Units       datatypes.JSON `gorm:"type:json"`
	Photos      datatypes.JSON `gorm:"type:json"`
	Signatures  datatypes.JSON `gorm:"type:json"`
	Audit       datatypes.JSON `gorm:"type:json"`
	AppliedFees datatypes.JSON `gorm:"type:json"`
	Timestamp   time.Time      `gorm:"not null;index"`
	UpdatedAt   time.Time
}

func (reportRecord) TableName() string { return "local_reports" }

func toRecord(rec domain.LocalReport) (reportRecord, error) {
	row := reportRecord{
		JobID:      rec.JobID,
		TemplateID: rec.TemplateID,
		Status:     string(rec.Status),
		Timestamp:  rec.Timestamp.UTC(),
	}
	fields := []struct {
		name string
		src  any
		dst  *datatypes.JSON
	}{
		{"form_data", rec.FormData, &row.FormData},
		{"units", rec.Units, &row.Units},
		{"photos", rec.Photos, &row.Photos},
		{"signatures", rec.Signatures, &row.Signatures},
		{"audit", rec.Audit, &row.Audit},
		{"applied_fees", rec.AppliedFees, &row.AppliedFees},
	}
	for _, f := range fields {
		raw, err := json.Marshal(f.src)
		if err != nil {
			return reportRecord{}, fmt.Errorf("encode %s: %w", f.name, err)
		}
		*f.dst = datatypes.JSON(raw)
	}
	return row, nil
}

func (r reportRecord) toDomain() (domain.LocalReport, error) {
	rec := domain.LocalReport{
		ID:         r.JobID,
		JobID:      r.JobID,
		TemplateID: r.TemplateID,
		Status:     domain.ReportStatus(r.Status),
		Timestamp:  r.Timestamp.UTC(),
	}
	fields := []struct {
		name string
		raw  datatypes.JSON
		dst  any
	}{
		{"form_data", r.FormData, &rec.FormData},
		{"units", r.Units, &rec.Units},
		{"photos", r.Photos, &rec.Photos},
		{"signatures", r.Signatures, &rec.Signatures},
		{"audit", r.Audit, &rec.Audit},
		{"applied_fees", r.AppliedFees, &rec.AppliedFees},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return domain.LocalReport{}, fmt.Errorf("decode %s for job %s: %w", f.name, r.JobID, err)
		}
	}
	return rec, nil
}
