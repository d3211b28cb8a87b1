package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"field-service-reports/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertTemplate(ctx context.Context, tpl domain.Template) error {
	definition, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, definition)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			definition = EXCLUDED.definition,
			updated_at = NOW()
	`, tpl.ID, tpl.Name, string(definition))
	return err
}

// GetTemplate returns sql.ErrNoRows when the template does not exist.
func (s *PostgresStore) GetTemplate(ctx context.Context, templateID string) (domain.Template, error) {
	var definition []byte
	row := s.db.QueryRowContext(ctx, `SELECT definition FROM templates WHERE id = $1`, templateID)
	if err := row.Scan(&definition); err != nil {
		return domain.Template{}, err
	}
	var tpl domain.Template
	if err := json.Unmarshal(definition, &tpl); err != nil {
		return domain.Template{}, fmt.Errorf("decode template %s: %w", templateID, err)
	}
	tpl.ID = templateID
	return tpl, nil
}

func (s *PostgresStore) UpsertJob(ctx context.Context, jobID, templateID string, status domain.JobStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, template_id, status)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (id) DO UPDATE SET
			template_id = COALESCE(EXCLUDED.template_id, jobs.template_id),
			status = EXCLUDED.status,
			updated_at = NOW()
	`, jobID, templateID, status)
	return err
}

func (s *PostgresStore) SetJobStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, jobID, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// CreateReport stores the report for payload.JobID. A repeat for the same job replaces the
// content of a report that is not yet finalized and returns the same id either way.
func (s *PostgresStore) CreateReport(ctx context.Context, payload domain.ReportPayload) (string, error) {
	encoded := make([]string, 0, 5)
	for _, v := range []any{payload.FormData, payload.Units, payload.Audit, payload.AppliedFees, payload.Media} {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode report: %w", err)
		}
		encoded = append(encoded, string(b))
	}

	var reportID string
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO reports (id, job_id, template_id, status, form_data, units, audit, applied_fees, media)
		VALUES ($1, $2, $3, $4, $5::jsonb, COALESCE($6::jsonb, '[]'::jsonb), $7::jsonb, COALESCE($8::jsonb, '[]'::jsonb), COALESCE($9::jsonb, '[]'::jsonb))
		ON CONFLICT (job_id) DO UPDATE SET
			template_id = EXCLUDED.template_id,
			form_data = EXCLUDED.form_data,
			units = EXCLUDED.units,
			audit = EXCLUDED.audit,
			applied_fees = EXCLUDED.applied_fees,
			media = EXCLUDED.media,
			updated_at = NOW()
		WHERE reports.status <> $10
		RETURNING id
	`, uuid.NewString(), payload.JobID, payload.TemplateID, domain.StoredReportReceived,
		encoded[0], nullJSON(encoded[1]), encoded[2], nullJSON(encoded[3]), nullJSON(encoded[4]),
		domain.StoredReportFinalized)
	err := row.Scan(&reportID)
	if errors.Is(err, sql.ErrNoRows) {
		// Finalized reports are immutable; hand back the existing id.
		err = s.db.QueryRowContext(ctx, `SELECT id FROM reports WHERE job_id = $1`, payload.JobID).Scan(&reportID)
	}
	if err != nil {
		return "", err
	}
	return reportID, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (domain.StoredReport, error) {
	var rec domain.StoredReport
	var auditJSON, feesJSON, mediaJSON []byte
	var finalizedAt sql.NullTime
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, template_id, status, audit, applied_fees, media, finalized_at
		FROM reports
		WHERE id = $1
	`, reportID)
	if err := row.Scan(&rec.ID, &rec.JobID, &rec.TemplateID, &rec.Status, &auditJSON, &feesJSON, &mediaJSON, &finalizedAt); err != nil {
		return domain.StoredReport{}, err
	}
	if err := json.Unmarshal(auditJSON, &rec.Audit); err != nil {
		return domain.StoredReport{}, fmt.Errorf("decode audit: %w", err)
	}
	if err := json.Unmarshal(feesJSON, &rec.AppliedFees); err != nil {
		return domain.StoredReport{}, fmt.Errorf("decode applied fees: %w", err)
	}
	if err := json.Unmarshal(mediaJSON, &rec.Media); err != nil {
		return domain.StoredReport{}, fmt.Errorf("decode media: %w", err)
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		rec.FinalizedAt = &t
		rec.Audit.FinalizedAt = &t
	}
	return rec, nil
}

// InsertAuditEntries writes the flattened audit. Rows are keyed by (report_id, seq) so a
// retried write leaves the log unchanged.
func (s *PostgresStore) InsertAuditEntries(ctx context.Context, reportID string, entries []domain.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		detail := []byte("{}")
		if e.Detail != nil {
			if detail, err = json.Marshal(e.Detail); err != nil {
				return fmt.Errorf("encode audit detail %d: %w", e.Seq, err)
			}
		}
		required := e.RequiredFields
		if required == nil {
			required = []string{}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_log (report_id, seq, state, rule_id, unit_id, required_fields, detail)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7::jsonb)
			ON CONFLICT (report_id, seq) DO NOTHING
		`, reportID, e.Seq, e.State, e.RuleID, e.UnitID, pq.Array(required), string(detail))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, reportID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, state, COALESCE(rule_id, ''), COALESCE(unit_id, ''), required_fields, detail
		FROM audit_log
		WHERE report_id = $1
		ORDER BY seq ASC
	`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var e domain.AuditEntry
		var required []string
		var detail []byte
		if err := rows.Scan(&e.Seq, &e.State, &e.RuleID, &e.UnitID, pq.Array(&required), &detail); err != nil {
			return nil, err
		}
		e.RequiredFields = required
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail %d: %w", e.Seq, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkReportFinalized stamps the report once. Later calls keep the first timestamp.
func (s *PostgresStore) MarkReportFinalized(ctx context.Context, reportID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET status = $2,
		    finalized_at = COALESCE(finalized_at, $3),
		    updated_at = NOW()
		WHERE id = $1
	`, reportID, domain.StoredReportFinalized, at)
	return err
}

// CreateTask returns the id of the task for spec.IdempotencyKey, creating it on first use.
func (s *PostgresStore) CreateTask(ctx context.Context, spec domain.TaskSpec) (string, error) {
	var taskID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, idempotency_key, job_id, rule_id, title, description, assignee)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, uuid.NewString(), spec.IdempotencyKey, spec.JobID, spec.RuleID, spec.Title, spec.Description, spec.Assignee).Scan(&taskID)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `SELECT id FROM tasks WHERE idempotency_key = $1`, spec.IdempotencyKey).Scan(&taskID)
	}
	if err != nil {
		return "", err
	}
	return taskID, nil
}

// CreateNotification queues a notification in the outbox. Delivery happens elsewhere.
func (s *PostgresStore) CreateNotification(ctx context.Context, spec domain.NotificationSpec) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notification_outbox (id, idempotency_key, job_id, rule_id, channel, recipient, message)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, uuid.NewString(), spec.IdempotencyKey, spec.JobID, spec.RuleID, spec.Channel, spec.Recipient, spec.Message).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, `SELECT id FROM notification_outbox WHERE idempotency_key = $1`, spec.IdempotencyKey).Scan(&id)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) RecordMediaObject(ctx context.Context, obj domain.MediaObject) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_objects (object_key, job_id, media_id, file_name, event_name)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (object_key) DO NOTHING
	`, obj.ObjectKey, obj.JobID, obj.MediaID, obj.FileName, obj.EventName)
	return err
}

// ListMediaIDs returns the ids of media objects that have landed in the bucket for a job.
func (s *PostgresStore) ListMediaIDs(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT media_id
		FROM media_objects
		WHERE job_id = $1
		ORDER BY media_id
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresStore) CountReports(ctx context.Context) (int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return count, nil
}

func nullJSON(s string) any {
	if s == "null" {
		return nil
	}
	return s
}
