package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curbsight/internal/types"
)

type mockJobRunner struct {
	runFn func(ctx context.Context, job types.ComplianceJob) (EvalSummary, error)
	jobs  []types.ComplianceJob
}

func (m *mockJobRunner) Run(ctx context.Context, job types.ComplianceJob) (EvalSummary, error) {
	m.jobs = append(m.jobs, job)
	if m.runFn != nil {
		return m.runFn(ctx, job)
	}
	return EvalSummary{JobID: job.JobID}, nil
}

type mockDeadLetterer struct {
	sendFn  func(ctx context.Context, job types.ComplianceJob, reason string) error
	parked  []types.ComplianceJob
	reasons []string
}

func (m *mockDeadLetterer) SendToDLQ(ctx context.Context, job types.ComplianceJob, reason string) error {
	m.parked = append(m.parked, job)
	m.reasons = append(m.reasons, reason)
	if m.sendFn != nil {
		return m.sendFn(ctx, job, reason)
	}
	return nil
}

func sqsRecord(t *testing.T, job types.ComplianceJob, receives string) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return events.SQSMessage{
		MessageId:  "msg_" + job.JobID,
		Body:       string(body),
		Attributes: map[string]string{"ApproximateReceiveCount": receives},
	}
}

func TestHandleSQSSuccess(t *testing.T) {
	runner := &mockJobRunner{}
	dlq := &mockDeadLetterer{}
	h := NewHandler(runner, dlq, testWorkerLogger())

	resp, err := h.HandleSQS(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, types.ComplianceJob{JobID: "job_1"}, "1"),
		sqsRecord(t, types.ComplianceJob{JobID: "job_2"}, "1"),
	}})
	require.NoError(t, err)

	assert.Empty(t, resp.BatchItemFailures)
	require.Len(t, runner.jobs, 2)
	assert.Equal(t, "job_1", runner.jobs[0].JobID)
	assert.Empty(t, dlq.parked)
}

func TestHandleSQSReportsFailedRecordsForRedelivery(t *testing.T) {
	runner := &mockJobRunner{
		runFn: func(_ context.Context, job types.ComplianceJob) (EvalSummary, error) {
			if job.JobID == "job_bad" {
				return EvalSummary{}, errors.New("db unavailable")
			}
			return EvalSummary{}, nil
		},
	}
	dlq := &mockDeadLetterer{}
	h := NewHandler(runner, dlq, testWorkerLogger())

	resp, err := h.HandleSQS(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, types.ComplianceJob{JobID: "job_ok"}, "1"),
		sqsRecord(t, types.ComplianceJob{JobID: "job_bad"}, "1"),
	}})
	require.NoError(t, err)

	// Only the failed record is redelivered; the first attempt stays off the
	// dead-letter queue.
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "msg_job_bad", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Empty(t, dlq.parked)
}

func TestHandleSQSParksExhaustedJobs(t *testing.T) {
	runner := &mockJobRunner{
		runFn: func(_ context.Context, _ types.ComplianceJob) (EvalSummary, error) {
			return EvalSummary{}, errors.New("still broken")
		},
	}
	dlq := &mockDeadLetterer{}
	h := NewHandler(runner, dlq, testWorkerLogger())

	// Third delivery: two attempts already failed.
	resp, err := h.HandleSQS(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, types.ComplianceJob{JobID: "job_1"}, "3"),
	}})
	require.NoError(t, err)

	// Parked jobs are acknowledged, not redelivered.
	assert.Empty(t, resp.BatchItemFailures)
	require.Len(t, dlq.parked, 1)
	assert.Equal(t, "job_1", dlq.parked[0].JobID)
	assert.Equal(t, maxJobRetries, dlq.parked[0].RetryCount)
	assert.Equal(t, []string{"retries_exhausted"}, dlq.reasons)
}

func TestHandleSQSTrustsReceiveCountOverBody(t *testing.T) {
	runner := &mockJobRunner{
		runFn: func(_ context.Context, _ types.ComplianceJob) (EvalSummary, error) {
			return EvalSummary{}, errors.New("boom")
		},
	}
	dlq := &mockDeadLetterer{}
	h := NewHandler(runner, dlq, testWorkerLogger())

	// The body says zero retries, but SQS has already delivered this record
	// three times. The receive count wins.
	_, err := h.HandleSQS(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, types.ComplianceJob{JobID: "job_1", RetryCount: 0}, "3"),
	}})
	require.NoError(t, err)
	require.Len(t, dlq.parked, 1)
}

func TestHandleSQSParksMalformedBodies(t *testing.T) {
	runner := &mockJobRunner{}
	dlq := &mockDeadLetterer{}
	h := NewHandler(runner, dlq, testWorkerLogger())

	resp, err := h.HandleSQS(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "msg_garbage", Body: "{not json"},
	}})
	require.NoError(t, err)

	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, runner.jobs)
	require.Len(t, dlq.parked, 1)
	assert.Equal(t, "msg_garbage", dlq.parked[0].JobID)
	assert.Equal(t, []string{"malformed_body"}, dlq.reasons)
}

func TestHandleSQSDLQFailureRedelivers(t *testing.T) {
	runner := &mockJobRunner{
		runFn: func(_ context.Context, _ types.ComplianceJob) (EvalSummary, error) {
			return EvalSummary{}, errors.New("boom")
		},
	}
	dlq := &mockDeadLetterer{
		sendFn: func(_ context.Context, _ types.ComplianceJob, _ string) error {
			return errors.New("dlq unavailable")
		},
	}
	h := NewHandler(runner, dlq, testWorkerLogger())

	resp, err := h.HandleSQS(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		sqsRecord(t, types.ComplianceJob{JobID: "job_1"}, "3"),
	}})
	require.NoError(t, err)

	// Parking failed, so the record must come around again rather than be
	// silently dropped.
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "msg_job_1", resp.BatchItemFailures[0].ItemIdentifier)
}

func TestReceiveCount(t *testing.T) {
	tests := []struct {
		name string
		attr map[string]string
		want int
	}{
		{"first delivery", map[string]string{"ApproximateReceiveCount": "1"}, 0},
		{"third delivery", map[string]string{"ApproximateReceiveCount": "3"}, 2},
		{"missing attribute", nil, 0},
		{"garbage attribute", map[string]string{"ApproximateReceiveCount": "many"}, 0},
		{"zero attribute", map[string]string{"ApproximateReceiveCount": "0"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := receiveCount(events.SQSMessage{Attributes: tt.attr})
			assert.Equal(t, tt.want, got)
		})
	}
}
