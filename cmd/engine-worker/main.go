// Package main is the entrypoint for the compliance engine worker Lambda.
//
// The worker consumes ComplianceJob messages from SQS, evaluates every
// applicable policy against each provider's recent fleet state, and persists
// the resulting snapshots. Jobs that keep failing are parked on the
// dead-letter queue; partial batch failures are reported back to SQS so only
// the failed records redeliver.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"curbsight/internal/config"
	"curbsight/internal/db"
	"curbsight/internal/metrics"
	"curbsight/internal/queue"
	"curbsight/internal/worker"
)

func main() {
	handler, err := buildHandler()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(handler.HandleSQS)
}

// buildHandler wires the worker during cold start; the handler is reused
// across invocations.
func buildHandler() (*worker.Handler, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "engine-worker")
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

	deps := worker.EvaluatorDeps{
		Policies:    repos.Policies,
		Geographies: repos.Geographies,
		Providers:   repos.Providers,
		Fleet:       repos.Telemetry,
		Snapshots:   repos.Snapshots,
		Stats:       repos.Stats,
	}
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		deps.Metrics = metrics.NewCollector(cwClient, cfg.Observability.MetricNamespace, logger)
	}

	evaluator, err := worker.NewEvaluator(deps, cfg.Compliance.Timezone, logger)
	if err != nil {
		return nil, fmt.Errorf("building evaluator: %w", err)
	}

	dlq := queue.NewComplianceTrigger(sqsClient, cfg.AWS, logger)
	return worker.NewHandler(evaluator, dlq, logger), nil
}
