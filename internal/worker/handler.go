package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"curbsight/internal/types"
)

// maxJobRetries is how many delivery attempts a ComplianceJob gets before it
// is parked on the dead-letter queue.
const maxJobRetries = 3

// JobRunner executes one compliance job.
type JobRunner interface {
	Run(ctx context.Context, job types.ComplianceJob) (EvalSummary, error)
}

// DeadLetterer parks a job that exhausted its retries.
type DeadLetterer interface {
	SendToDLQ(ctx context.Context, job types.ComplianceJob, reason string) error
}

// Handler is the SQS Lambda entrypoint for the engine worker. Each SQS
// record carries one ComplianceJob.
type Handler struct {
	runner JobRunner
	dlq    DeadLetterer
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(runner JobRunner, dlq DeadLetterer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{runner: runner, dlq: dlq, logger: logger}
}

// HandleSQS processes a batch of SQS records. Failed jobs under the retry
// budget are reported as batch item failures so SQS redelivers only them;
// jobs over budget go to the DLQ and are acknowledged.
func (h *Handler) HandleSQS(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse

	for _, record := range event.Records {
		var job types.ComplianceJob
		if err := json.Unmarshal([]byte(record.Body), &job); err != nil {
			// An unparseable body never becomes parseable; park it instead
			// of cycling through redelivery.
			h.logger.ErrorContext(ctx, "discarding malformed compliance job",
				"message_id", record.MessageId,
				"error", err,
			)
			if h.dlq != nil {
				if dlqErr := h.dlq.SendToDLQ(ctx, types.ComplianceJob{JobID: record.MessageId}, "malformed_body"); dlqErr != nil {
					h.logger.ErrorContext(ctx, "dlq send failed", "message_id", record.MessageId, "error", dlqErr)
				}
			}
			continue
		}

		// SQS redelivery does not rewrite the body, so the receive count
		// attribute is the authoritative attempt counter.
		if n := receiveCount(record); n > job.RetryCount {
			job.RetryCount = n
		}

		if err := h.runJob(ctx, job, record.MessageId); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	return resp, nil
}

// runJob executes one job, routing exhausted retries to the DLQ. A non-nil
// return means SQS should redeliver the record.
func (h *Handler) runJob(ctx context.Context, job types.ComplianceJob, messageID string) error {
	summary, err := h.runner.Run(ctx, job)
	if err == nil {
		h.logger.InfoContext(ctx, "compliance job complete",
			"job_id", job.JobID,
			"snapshots", summary.SnapshotsWritten,
			"violations", summary.TotalViolations,
		)
		return nil
	}

	h.logger.ErrorContext(ctx, "compliance job failed",
		"job_id", job.JobID,
		"message_id", messageID,
		"retry_count", job.RetryCount,
		"error", err,
	)

	if job.RetryCount+1 >= maxJobRetries {
		if h.dlq == nil {
			return fmt.Errorf("worker: job %s exhausted retries with no dead-letter queue: %w", job.JobID, err)
		}
		job.RetryCount++
		if dlqErr := h.dlq.SendToDLQ(ctx, job, "retries_exhausted"); dlqErr != nil {
			h.logger.ErrorContext(ctx, "dlq send failed", "job_id", job.JobID, "error", dlqErr)
			return fmt.Errorf("worker: parking job %s: %w", job.JobID, dlqErr)
		}
		h.logger.WarnContext(ctx, "compliance job parked on dlq", "job_id", job.JobID)
		return nil
	}

	return fmt.Errorf("worker: job %s attempt %d failed: %w", job.JobID, job.RetryCount+1, err)
}

// receiveCount converts the SQS receive-count attribute into the number of
// attempts that already failed (first delivery yields zero).
func receiveCount(record events.SQSMessage) int {
	v, ok := record.Attributes["ApproximateReceiveCount"]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}
