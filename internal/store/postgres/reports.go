package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crosstalk/chat-server/internal/domain"
)

// ReportStore implements domain.ReportRepo over PostgreSQL.
type ReportStore struct {
	db *sql.DB
}

// NewReportStore creates the report repository.
func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

func (s *ReportStore) CreateReport(ctx context.Context, r *domain.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, reporter_id, reported_id, thread_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ReporterID, r.ReportedID, r.ThreadID, r.Reason, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create report: %w", err)
	}
	return nil
}

func (s *ReportStore) Recent(ctx context.Context, limit int) ([]*domain.Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reporter_id, reported_id, thread_id, reason, created_at
		FROM reports ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent reports: %w", err)
	}
	defer rows.Close()

	var out []*domain.Report
	for rows.Next() {
		var r domain.Report
		if err := rows.Scan(&r.ID, &r.ReporterID, &r.ReportedID, &r.ThreadID, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan report: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *ReportStore) CountAgainst(ctx context.Context, reportedID string, window time.Duration) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reports
		WHERE reported_id = $1 AND created_at >= $2`,
		reportedID, time.Now().Add(-window)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count reports: %w", err)
	}
	return n, nil
}
