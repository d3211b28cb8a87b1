// Package localstore keeps the one live draft or pending report per job on the device.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"field-service-reports/internal/domain"
)

var (
	// ErrPendingRecord is returned when a draft write would replace a report that is queued
	// for sync.
	ErrPendingRecord = errors.New("localstore: job has a pending report awaiting sync")
	ErrInvalidRecord = errors.New("localstore: invalid record")
)

type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite file at path and migrates the schema.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("localstore: empty path")
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("localstore: create dir: %w", err)
		}
	}

	conn, err := gorm.Open(sqlite.Open(trimmed+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("localstore: open sqlite: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("localstore: open sqlite sql: %w", err)
	}
	// A single connection serialises writers on the device.
	sqlDB.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("localstore: sqlite pragma %s: %w", pragma, err)
		}
	}
	return New(conn)
}

// New wraps an existing gorm connection and migrates the schema.
func New(conn *gorm.DB) (*Store, error) {
	if err := conn.AutoMigrate(&reportRecord{}); err != nil {
		return nil, fmt.Errorf("localstore: migrate: %w", err)
	}
	return &Store{db: conn}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get returns the live record for jobID, or nil when there is none.
func (s *Store) Get(ctx context.Context, jobID string) (*domain.LocalReport, error) {
	var row reportRecord
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: get %s: %w", jobID, err)
	}
	rec, err := row.toDomain()
	if err != nil {
		return nil, fmt.Errorf("localstore: %w", err)
	}
	return &rec, nil
}

// Put upserts the record for rec.JobID, replacing whatever was there. A draft may not replace
// a pending record.
func (s *Store) Put(ctx context.Context, rec domain.LocalReport) error {
	if strings.TrimSpace(rec.JobID) == "" {
		return fmt.Errorf("%w: job id is required", ErrInvalidRecord)
	}
	if rec.Status != domain.ReportStatusDraft && rec.Status != domain.ReportStatusPending {
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, rec.Status)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	row, err := toRecord(rec)
	if err != nil {
		return fmt.Errorf("localstore: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.Status == domain.ReportStatusDraft {
			var existing reportRecord
			err := tx.Select("status").Where("job_id = ?", rec.JobID).Take(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
			case err != nil:
				return fmt.Errorf("localstore: check %s: %w", rec.JobID, err)
			case existing.Status == string(domain.ReportStatusPending):
				return ErrPendingRecord
			}
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			UpdateAll: true,
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("localstore: put %s: %w", rec.JobID, err)
		}
		return nil
	})
}

// Remove deletes the record for jobID. Removing a missing record is not an error.
func (s *Store) Remove(ctx context.Context, jobID string) error {
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&reportRecord{}).Error; err != nil {
		return fmt.Errorf("localstore: remove %s: %w", jobID, err)
	}
	return nil
}

// Count returns the number of records with the given status. It queries on every call.
func (s *Store) Count(ctx context.Context, status domain.ReportStatus) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&reportRecord{}).Where("status = ?", string(status)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("localstore: count %s: %w", status, err)
	}
	return int(n), nil
}

// ListPending returns the queued reports, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]domain.LocalReport, error) {
	var rows []reportRecord
	err := s.db.WithContext(ctx).
		Where("status = ?", string(domain.ReportStatusPending)).
		Order("timestamp asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("localstore: list pending: %w", err)
	}
	out := make([]domain.LocalReport, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("localstore: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
