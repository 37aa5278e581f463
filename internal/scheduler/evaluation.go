package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"curbsight/internal/types"
)

// JobSender publishes compliance jobs onto the evaluation queue.
type JobSender interface {
	SendJob(ctx context.Context, job types.ComplianceJob, reason string) error
}

// EvaluationScheduler turns periodic EventBridge ticks into compliance jobs.
// The Lambda that runs the engine picks them up from SQS; this service only
// enqueues.
type EvaluationScheduler struct {
	sender JobSender
	logger *slog.Logger
}

// NewEvaluationScheduler creates an EvaluationScheduler.
func NewEvaluationScheduler(sender JobSender, logger *slog.Logger) *EvaluationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluationScheduler{sender: sender, logger: logger}
}

// TriggerScheduled enqueues one full evaluation pinned to the tick's
// reference time, so a delayed Lambda start still evaluates the fleet state
// the schedule intended. Empty filters mean every active provider and every
// published policy.
func (s *EvaluationScheduler) TriggerScheduled(ctx context.Context, now time.Time) (int, error) {
	job := types.ComplianceJob{
		JobID:   fmt.Sprintf("job_%s", uuid.NewString()),
		TraceID: uuid.NewString(),
		AsOf:    types.TimestampFromTime(now),
	}
	if err := s.sender.SendJob(ctx, job, "scheduled"); err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "scheduled evaluation enqueued",
		"job_id", job.JobID,
		"as_of", job.AsOf,
	)
	return 1, nil
}
