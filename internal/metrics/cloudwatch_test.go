package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCloudWatch struct {
	putErr error
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// newSyncCollector publishes inline so tests can assert without racing the
// background goroutine.
func newSyncCollector(client CloudWatchClient) *Collector {
	c := NewCollector(client, "CurbSightTest", slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.publish = func(input *cloudwatch.PutMetricDataInput) {
		client.PutMetricData(context.Background(), input)
	}
	return c
}

func metricNames(input *cloudwatch.PutMetricDataInput) []string {
	names := make([]string, len(input.MetricData))
	for i, d := range input.MetricData {
		names[i] = *d.MetricName
	}
	return names
}

func dimension(datum cwtypes.MetricDatum, name string) string {
	for _, d := range datum.Dimensions {
		if *d.Name == name {
			return *d.Value
		}
	}
	return ""
}

func TestRecordRequestEmitsCountAndLatency(t *testing.T) {
	cw := &mockCloudWatch{}
	c := newSyncCollector(cw)

	c.RecordRequest("GET", "/snapshots", "200", 42*time.Millisecond)

	require.Len(t, cw.inputs, 1)
	input := cw.inputs[0]
	assert.Equal(t, "CurbSightTest", *input.Namespace)
	assert.Equal(t, []string{"RequestCount", "RequestLatency"}, metricNames(input))

	count := input.MetricData[0]
	assert.Equal(t, float64(1), *count.Value)
	assert.Equal(t, "GET", dimension(count, "Method"))
	assert.Equal(t, "/snapshots", dimension(count, "Endpoint"))
	assert.Equal(t, "200", dimension(count, "Status"))

	latency := input.MetricData[1]
	assert.Equal(t, float64(42), *latency.Value)
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, latency.Unit)
}

func TestRecordEvaluationRun(t *testing.T) {
	cw := &mockCloudWatch{}
	c := newSyncCollector(cw)

	c.RecordEvaluationRun(context.Background(), 5, 12, 3, 1500*time.Millisecond)

	require.Len(t, cw.inputs, 1)
	input := cw.inputs[0]
	assert.Equal(t, []string{
		"EvaluationProviders",
		"EvaluationSnapshots",
		"EvaluationViolations",
		"EvaluationDuration",
	}, metricNames(input))
	assert.Equal(t, float64(5), *input.MetricData[0].Value)
	assert.Equal(t, float64(12), *input.MetricData[1].Value)
	assert.Equal(t, float64(3), *input.MetricData[2].Value)
	assert.Equal(t, float64(1500), *input.MetricData[3].Value)
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	cw := &mockCloudWatch{putErr: errors.New("throttled")}
	c := newSyncCollector(cw)

	// Must not panic or surface the error.
	c.RecordRequest("POST", "/events", "500", time.Millisecond)
	assert.Len(t, cw.inputs, 1)
}
