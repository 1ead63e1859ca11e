// Package report handles abuse reports filed by users. Reports feed the
// administrative review boundary; acting on them (strikes, bans) stays a
// human decision.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crosstalk/chat-server/internal/domain"
)

// validReasons is the allowed reason set.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// Service stores and serves abuse reports.
type Service struct {
	repo domain.ReportRepo
	log  zerolog.Logger
}

// NewService wires the report service.
func NewService(repo domain.ReportRepo, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log.With().Str("component", "reports").Logger()}
}

// File records a report against reportedID. The reason must be one of the
// allowed values.
func (s *Service) File(ctx context.Context, reporterID, reportedID, threadID, reason string) (*domain.Report, error) {
	if !validReasons[reason] {
		return nil, fmt.Errorf("%w: invalid reason %q", domain.ErrConflict, reason)
	}
	if reporterID == reportedID {
		return nil, domain.ErrConflict
	}
	r := &domain.Report{
		ID:         uuid.NewString(),
		ReporterID: reporterID,
		ReportedID: reportedID,
		ThreadID:   threadID,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.CreateReport(ctx, r); err != nil {
		return nil, fmt.Errorf("report: store: %w", err)
	}
	s.log.Info().Str("reported", reportedID).Str("reason", reason).Msg("report filed")
	return r, nil
}

// Recent returns the newest reports, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*domain.Report, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.Recent(ctx, limit)
}

// CountAgainst counts reports filed against an identity inside the window.
func (s *Service) CountAgainst(ctx context.Context, reportedID string, window time.Duration) (int, error) {
	return s.repo.CountAgainst(ctx, reportedID, window)
}
