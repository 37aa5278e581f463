package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// HistoryPruner deletes finished job history rows past retention.
type HistoryPruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupService prunes operational tables that only grow: currently the
// job_history audit trail.
type CleanupService struct {
	history HistoryPruner
	logger  *slog.Logger
}

// NewCleanupService creates a CleanupService.
func NewCleanupService(history HistoryPruner, logger *slog.Logger) *CleanupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{history: history, logger: logger}
}

// PruneJobHistory deletes finished job history older than retention,
// returning the number of rows removed.
func (s *CleanupService) PruneJobHistory(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	cutoff := now.Add(-retention)
	deleted, err := s.history.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "job history pruned",
		"cutoff", cutoff.Format(time.RFC3339),
		"deleted", deleted,
	)
	return int(deleted), nil
}
