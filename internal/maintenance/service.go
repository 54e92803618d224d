package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StatePurger deletes conversation state that has not been touched since
// olderThan.
type StatePurger interface {
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

type AuditPurger interface {
	PurgeAudit(ctx context.Context, olderThan time.Time) (int64, error)
}

type Config struct {
	RetentionInterval time.Duration
	StateMaxAge       time.Duration
	AuditRetention    time.Duration
}

type Service struct {
	States StatePurger
	Audit  AuditPurger
	Config Config
	Logger *slog.Logger
	Clock  func() time.Time
}

type RetentionSummary struct {
	StatesDeleted    int64 `json:"states_deleted"`
	AuditRowsDeleted int64 `json:"audit_rows_deleted"`
	Failures         int   `json:"failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	retentionTicker := time.NewTicker(s.Config.RetentionInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retentionTicker.C:
			summary, err := s.RunRetentionOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "retention cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "retention cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunRetentionOnce purges expired state and aged audit rows. A failure in one
// purge does not skip the other; both errors are returned joined.
func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.States == nil && s.Audit == nil {
		return RetentionSummary{}, fmt.Errorf("at least one purger is required")
	}

	now := s.Clock().UTC()
	summary := RetentionSummary{}
	var errs []error

	if s.States != nil {
		deleted, err := s.States.PurgeExpired(ctx, now.Add(-s.Config.StateMaxAge))
		if err != nil {
			summary.Failures++
			errs = append(errs, fmt.Errorf("purge conversation state: %w", err))
		}
		summary.StatesDeleted = deleted
	}
	if s.Audit != nil {
		deleted, err := s.Audit.PurgeAudit(ctx, now.Add(-s.Config.AuditRetention))
		if err != nil {
			summary.Failures++
			errs = append(errs, fmt.Errorf("purge query audit: %w", err))
		}
		summary.AuditRowsDeleted = deleted
	}

	statesPurgedTotal.Add(float64(summary.StatesDeleted))
	auditRowsPurgedTotal.Add(float64(summary.AuditRowsDeleted))
	if len(errs) > 0 {
		retentionRunsTotal.WithLabelValues("error").Inc()
		return summary, errors.Join(errs...)
	}
	retentionRunsTotal.WithLabelValues("success").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = 5 * time.Minute
	}
	if s.Config.StateMaxAge <= 0 {
		s.Config.StateMaxAge = time.Hour
	}
	if s.Config.AuditRetention <= 0 {
		s.Config.AuditRetention = 30 * 24 * time.Hour
	}
}
