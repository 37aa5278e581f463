// Package queue provides the SQS producer for compliance evaluation jobs.
// The API (on-demand evaluation) and the scheduler both publish through it;
// the engine worker consumes on the other side.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"curbsight/internal/config"
	"curbsight/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code passes the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ComplianceTrigger publishes ComplianceJob messages to the evaluation
// queue. Jobs that exhaust their retries are parked on the DLQ for manual
// inspection.
type ComplianceTrigger struct {
	client   SQSSender
	queueURL string
	dlqURL   string
	logger   *slog.Logger
}

// NewComplianceTrigger creates a trigger over the configured queue URLs.
func NewComplianceTrigger(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *ComplianceTrigger {
	return &ComplianceTrigger{
		client:   client,
		queueURL: awsCfg.ComplianceQueueURL,
		dlqURL:   awsCfg.DlqURL,
		logger:   logger,
	}
}

// TriggerEvaluation enqueues an on-demand evaluation job. Empty filter
// slices mean "everything active": all providers, all published policies.
// Returns the job id so API callers can hand it back to the client.
func (t *ComplianceTrigger) TriggerEvaluation(ctx context.Context, filters types.AggregateFilters, asOf types.Timestamp, reason string) (string, error) {
	job := types.ComplianceJob{
		JobID:       fmt.Sprintf("job_%s", uuid.NewString()),
		TraceID:     uuid.NewString(),
		AsOf:        asOf,
		ProviderIDs: filters.ProviderIDs,
		PolicyIDs:   filters.PolicyIDs,
	}

	if err := t.send(ctx, t.queueURL, job, reason); err != nil {
		return "", err
	}
	return job.JobID, nil
}

// SendJob publishes a fully-formed job, preserving its ids and retry count.
// Used by the scheduler for periodic ticks and by the worker when re-queueing
// a failed job.
func (t *ComplianceTrigger) SendJob(ctx context.Context, job types.ComplianceJob, reason string) error {
	return t.send(ctx, t.queueURL, job, reason)
}

// SendToDLQ parks a job on the dead-letter queue after the worker gives up
// on it.
func (t *ComplianceTrigger) SendToDLQ(ctx context.Context, job types.ComplianceJob, reason string) error {
	return t.send(ctx, t.dlqURL, job, reason)
}

func (t *ComplianceTrigger) send(ctx context.Context, queueURL string, job types.ComplianceJob, reason string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal ComplianceJob: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}

	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send ComplianceJob to %s: %w", queueURL, err)
	}

	t.logger.InfoContext(ctx, "compliance job sent",
		"queue_url", queueURL,
		"job_id", job.JobID,
		"trace_id", job.TraceID,
		"as_of", int64(job.AsOf),
		"provider_ids", job.ProviderIDs,
		"policy_ids", job.PolicyIDs,
		"retry_count", job.RetryCount,
		"reason", reason,
	)

	return nil
}
