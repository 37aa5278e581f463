// Package metrics publishes platform telemetry to CloudWatch: API request
// latency from the HTTP middleware and evaluation run outcomes from the
// engine worker.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// publishTimeout bounds each PutMetricData call so a slow CloudWatch
// endpoint never stalls request handling or a worker run.
const publishTimeout = 5 * time.Second

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Collector ships metrics to one CloudWatch namespace. Publishing is best
// effort: failures are logged and dropped, never surfaced to callers.
type Collector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	// publish is swapped out in tests to run synchronously.
	publish func(input *cloudwatch.PutMetricDataInput)
}

// NewCollector creates a Collector publishing to the given namespace.
func NewCollector(client CloudWatchClient, namespace string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
	c.publish = c.publishAsync
	return c
}

// RecordRequest emits per-request count and latency with method, endpoint,
// and status dimensions. Called from the HTTP middleware on every response.
func (c *Collector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String("Method"), Value: aws.String(method)},
		{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
		{Name: aws.String("Status"), Value: aws.String(status)},
	}
	c.publish(&cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("RequestCount"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String("RequestLatency"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	})
}

// RecordEvaluationRun emits the outcome of one compliance evaluation run.
func (c *Collector) RecordEvaluationRun(_ context.Context, providers, snapshots, violations int, duration time.Duration) {
	c.publish(&cloudwatch.PutMetricDataInput{
		Namespace: aws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("EvaluationProviders"),
				Value:      aws.Float64(float64(providers)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("EvaluationSnapshots"),
				Value:      aws.Float64(float64(snapshots)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("EvaluationViolations"),
				Value:      aws.Float64(float64(violations)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("EvaluationDuration"),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	})
}

// publishAsync ships one datum batch off the hot path. The middleware calls
// RecordRequest synchronously per response, so the network hop happens on a
// goroutine with its own deadline.
func (c *Collector) publishAsync(input *cloudwatch.PutMetricDataInput) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if _, err := c.client.PutMetricData(ctx, input); err != nil {
			c.logger.Warn("failed to publish cloudwatch metrics",
				"namespace", c.namespace,
				"error", err,
			)
		}
	}()
}
