// Package main is the entrypoint for the maintenance Lambda.
//
// The Lambda is a maintenance multiplexer: EventBridge rules send a JSON
// MaintenancePayload naming the TaskType, and the handler routes execution to
// the matching service. Consolidating the low-frequency tasks into one Lambda
// keeps cold starts and infrastructure sprawl down.
//
// Handler flow:
//  1. Parse the MaintenancePayload and determine the reference time.
//  2. Acquire a distributed job lock so concurrent firings don't double-run.
//  3. Switch on TaskType and call the matching service method.
//  4. Record the run in job_history for operational visibility.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"curbsight/internal/billing"
	"curbsight/internal/config"
	"curbsight/internal/db"
	"curbsight/internal/directory"
	"curbsight/internal/queue"
	"curbsight/internal/scheduler"
	"curbsight/internal/worker"
)

const (
	// lockTTL covers the typical Lambda execution duration with margin.
	lockTTL = 15 * time.Minute

	// jobHistoryRetention bounds the job_history audit trail.
	jobHistoryRetention = 90 * 24 * time.Hour
)

// Service interfaces define the subset of methods the handler calls, keeping
// the dispatch testable without real AWS or database connections.

// EvaluationTrigger enqueues a scheduled full-coverage compliance run.
type EvaluationTrigger interface {
	TriggerScheduled(ctx context.Context, now time.Time) (int, error)
}

// RegistrySyncer refreshes the provider directory from the public registry.
type RegistrySyncer interface {
	Sync(ctx context.Context) (directory.SyncResult, error)
}

// SnapshotArchiver moves expired compliance snapshots to cold storage.
type SnapshotArchiver interface {
	ArchiveExpired(ctx context.Context) (int, error)
}

// FeeAssessor converts a day's violation periods into fee transactions.
type FeeAssessor interface {
	AssessDay(ctx context.Context, day time.Time) (billing.AssessmentResult, error)
}

// HistoryCleaner prunes finished job history rows past retention.
type HistoryCleaner interface {
	PruneJobHistory(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// ServiceRegistry holds the service implementations the multiplexer routes
// to. Services are built once during cold start and reused across
// invocations.
type ServiceRegistry struct {
	Evaluation EvaluationTrigger
	Registry   RegistrySyncer
	Archiver   SnapshotArchiver
	Fees       FeeAssessor
	Cleanup    HistoryCleaner
}

// JobLocker abstracts distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies for the maintenance Lambda handler.
type Handler struct {
	Services   ServiceRegistry
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
}

// Handle processes a MaintenancePayload from EventBridge, routing to the
// matching service based on the TaskType.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "maintenance handler invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	// One lock per task per hour: retried or duplicated EventBridge firings
	// within the window collapse into a single run.
	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	jobID, err := h.JobHistory.Start(ctx, taskStr)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history",
			"task", taskStr,
			"error", err,
		)
		// Non-fatal: proceed even if history tracking fails. jobID=0 signals
		// that Finish should be skipped.
		jobID = 0
	}

	items, execErr := h.dispatch(ctx, payload.Task, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", execErr,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result, "task", taskStr, "items", items)
	return result, nil
}

// dispatch routes a TaskType to the matching service method, returning the
// number of items processed.
func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (int, error) {
	switch task {
	case scheduler.TaskEvaluateCompliance:
		return h.Services.Evaluation.TriggerScheduled(ctx, now)

	case scheduler.TaskSyncRegistry:
		result, err := h.Services.Registry.Sync(ctx)
		return result.Synced, err

	case scheduler.TaskArchiveSnapshots:
		return h.Services.Archiver.ArchiveExpired(ctx)

	case scheduler.TaskAssessFees:
		// Fees cover the previous full UTC day; today's snapshots are still
		// accumulating.
		result, err := h.Services.Fees.AssessDay(ctx, now.AddDate(0, 0, -1))
		return result.TransactionsCreated, err

	case scheduler.TaskCleanupJobHistory:
		return h.Services.Cleanup.PruneJobHistory(ctx, now, jobHistoryRetention)

	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	handler, err := buildHandler()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(handler.Handle)
}

// buildHandler wires the multiplexer during cold start; the handler is
// reused across invocations.
func buildHandler() (*Handler, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "maintenance")
	slog.SetDefault(logger)

	ctx := context.Background()

	repos, err := db.NewRegistry(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			o.UsePathStyle = true
		}
	})

	trigger := queue.NewComplianceTrigger(sqsClient, cfg.AWS, logger)

	handler := &Handler{
		Services: ServiceRegistry{
			Evaluation: scheduler.NewEvaluationScheduler(trigger, logger),
			Registry:   directory.NewSyncer(cfg.Registry, repos.Providers, logger),
			Archiver: worker.NewArchiver(
				repos.Snapshots,
				s3Client,
				cfg.AWS.ArchiveBucket,
				cfg.Compliance.SnapshotRetention,
				logger,
			),
			Fees:    billing.NewAssessor(repos.Snapshots, repos.Transactions, nil, logger),
			Cleanup: scheduler.NewCleanupService(repos.JobHistory, logger),
		},
		JobLock:    repos.JobLocks,
		JobHistory: repos.JobHistory,
		WorkerID:   uuid.New().String(),
		Logger:     logger,
	}

	logger.Info("maintenance Lambda initialized", "worker_id", handler.WorkerID)
	return handler, nil
}
