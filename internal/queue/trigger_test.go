package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"curbsight/internal/config"
	"curbsight/internal/types"
)

// mockSQSSender captures SendMessage calls for assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const (
	testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/compliance-jobs"
	testDlqURL   = "https://sqs.us-east-1.amazonaws.com/123456789/compliance-dlq"
)

func newTestTrigger(mock *mockSQSSender) *ComplianceTrigger {
	awsCfg := config.AWSConfig{
		ComplianceQueueURL: testQueueURL,
		DlqURL:             testDlqURL,
	}
	return NewComplianceTrigger(mock, awsCfg, slog.Default())
}

func decodeJob(t *testing.T, call *sqs.SendMessageInput) types.ComplianceJob {
	t.Helper()
	var job types.ComplianceJob
	if err := json.Unmarshal([]byte(*call.MessageBody), &job); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}
	return job
}

func TestTriggerEvaluation_SendsToComplianceQueue(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	jobID, err := trigger.TriggerEvaluation(context.Background(), types.AggregateFilters{}, 1700000000000, "on_demand")
	if err != nil {
		t.Fatalf("TriggerEvaluation returned unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}
	if *mock.calls[0].QueueUrl != testQueueURL {
		t.Errorf("expected queue URL %q, got %q", testQueueURL, *mock.calls[0].QueueUrl)
	}
	if !strings.HasPrefix(jobID, "job_") {
		t.Errorf("expected job id with 'job_' prefix, got %q", jobID)
	}
}

func TestTriggerEvaluation_PopulatesJob(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	filters := types.AggregateFilters{
		ProviderIDs: []string{"provider_1"},
		PolicyIDs:   []string{"policy_a", "policy_b"},
	}

	jobID, err := trigger.TriggerEvaluation(context.Background(), filters, 1700000000000, "on_demand")
	if err != nil {
		t.Fatalf("TriggerEvaluation returned unexpected error: %v", err)
	}

	job := decodeJob(t, mock.calls[0])
	if job.JobID != jobID {
		t.Errorf("returned job id %q does not match payload %q", jobID, job.JobID)
	}
	if job.TraceID == "" {
		t.Error("expected non-empty trace id")
	}
	if job.AsOf != 1700000000000 {
		t.Errorf("expected as_of 1700000000000, got %d", job.AsOf)
	}
	if len(job.ProviderIDs) != 1 || job.ProviderIDs[0] != "provider_1" {
		t.Errorf("provider filter not preserved: %v", job.ProviderIDs)
	}
	if len(job.PolicyIDs) != 2 {
		t.Errorf("policy filter not preserved: %v", job.PolicyIDs)
	}
	if job.RetryCount != 0 {
		t.Errorf("fresh job should carry retry_count 0, got %d", job.RetryCount)
	}
}

func TestTriggerEvaluation_SetsReasonMessageAttribute(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	if _, err := trigger.TriggerEvaluation(context.Background(), types.AggregateFilters{}, 1700000000000, "on_demand"); err != nil {
		t.Fatalf("TriggerEvaluation returned unexpected error: %v", err)
	}

	attr, ok := mock.calls[0].MessageAttributes["reason"]
	if !ok {
		t.Fatal("expected 'reason' message attribute to be set")
	}
	if *attr.StringValue != "on_demand" {
		t.Errorf("expected reason attribute %q, got %q", "on_demand", *attr.StringValue)
	}
	if *attr.DataType != "String" {
		t.Errorf("expected DataType 'String', got %q", *attr.DataType)
	}
}

func TestSendJob_PreservesFullPayload(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	original := types.ComplianceJob{
		JobID:       "job_retry",
		TraceID:     "trace_retry",
		AsOf:        1700000060000,
		ProviderIDs: []string{"provider_1", "provider_2"},
		PolicyIDs:   []string{"policy_a"},
		RetryCount:  2,
	}

	if err := trigger.SendJob(context.Background(), original, "retry"); err != nil {
		t.Fatalf("SendJob returned unexpected error: %v", err)
	}

	decoded := decodeJob(t, mock.calls[0])
	if decoded.JobID != original.JobID {
		t.Errorf("JobID mismatch: got %q, want %q", decoded.JobID, original.JobID)
	}
	if decoded.TraceID != original.TraceID {
		t.Errorf("TraceID mismatch: got %q, want %q", decoded.TraceID, original.TraceID)
	}
	if decoded.AsOf != original.AsOf {
		t.Errorf("AsOf mismatch: got %d, want %d", decoded.AsOf, original.AsOf)
	}
	if decoded.RetryCount != original.RetryCount {
		t.Errorf("RetryCount mismatch: got %d, want %d", decoded.RetryCount, original.RetryCount)
	}
	if len(decoded.ProviderIDs) != 2 || len(decoded.PolicyIDs) != 1 {
		t.Errorf("filters not preserved: %v / %v", decoded.ProviderIDs, decoded.PolicyIDs)
	}
}

func TestSendToDLQ_RoutesToDeadLetterQueue(t *testing.T) {
	mock := &mockSQSSender{}
	trigger := newTestTrigger(mock)

	job := types.ComplianceJob{JobID: "job_dead", RetryCount: 3}
	if err := trigger.SendToDLQ(context.Background(), job, "retries_exhausted"); err != nil {
		t.Fatalf("SendToDLQ returned unexpected error: %v", err)
	}

	if *mock.calls[0].QueueUrl != testDlqURL {
		t.Errorf("expected DLQ URL %q, got %q", testDlqURL, *mock.calls[0].QueueUrl)
	}
}

func TestSendJob_SQSError(t *testing.T) {
	mock := &mockSQSSender{err: fmt.Errorf("service unavailable")}
	trigger := newTestTrigger(mock)

	err := trigger.SendJob(context.Background(), types.ComplianceJob{JobID: "job_fail"}, "tick")
	if err == nil {
		t.Fatal("expected error from SendJob, got nil")
	}
	if !strings.Contains(err.Error(), "failed to send ComplianceJob") {
		t.Errorf("expected error message to mention send failure, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), testQueueURL) {
		t.Errorf("expected error message to contain queue URL %q, got %q", testQueueURL, err.Error())
	}
}
