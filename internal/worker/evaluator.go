// Package worker implements the compliance engine worker: it consumes
// evaluation jobs from SQS, runs every applicable policy against every active
// provider's recent fleet state, and persists the resulting compliance
// snapshots. The snapshot archiver also lives here.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"curbsight/internal/engine"
	"curbsight/internal/geo"
	"curbsight/internal/types"
)

// maxConcurrentProviders bounds per-provider evaluation parallelism so a
// large registry does not exhaust the database pool.
const maxConcurrentProviders = 4

// recentEventWindow is how far back fleet events are loaded for an
// evaluation, matching the engine's recency filter.
const recentEventWindow = 48 * time.Hour

// PolicySource loads the policies an evaluation run considers.
type PolicySource interface {
	ListPublishedActive(ctx context.Context, asOf types.Timestamp) ([]*types.Policy, error)
}

// GeographySource loads the published geofences for the spatial index.
type GeographySource interface {
	ListPublished(ctx context.Context) ([]*types.Geography, error)
}

// ProviderSource lists the providers subject to evaluation.
type ProviderSource interface {
	ListActive(ctx context.Context) ([]*types.Provider, error)
}

// FleetSource loads a provider's recent events and registered devices.
type FleetSource interface {
	RecentEventsByProvider(ctx context.Context, providerID string, since types.Timestamp) ([]types.VehicleEvent, error)
	DeviceMapByProvider(ctx context.Context, providerID string) (map[string]*types.Device, error)
	CountSince(ctx context.Context, providerID string, since types.Timestamp) (events int, telemetry int, err error)
}

// SnapshotSink persists the snapshots an evaluation run produces.
type SnapshotSink interface {
	InsertBatch(ctx context.Context, snaps []*types.ComplianceSnapshot) error
}

// StatsSink records the per-provider daily rollup.
type StatsSink interface {
	Upsert(ctx context.Context, s *types.DailyStat) error
}

// RunMetrics receives evaluation run telemetry. Implementations must not
// fail the run; publish errors are logged and swallowed by the caller.
type RunMetrics interface {
	RecordEvaluationRun(ctx context.Context, providers, snapshots, violations int, duration time.Duration)
}

// EvalSummary is the outcome of one evaluation run.
type EvalSummary struct {
	JobID              string
	AsOf               types.Timestamp
	ProvidersEvaluated int
	SnapshotsWritten   int
	TotalViolations    int
}

// Evaluator runs compliance jobs end to end: load, evaluate, persist.
type Evaluator struct {
	policies    PolicySource
	geographies GeographySource
	providers   ProviderSource
	fleet       FleetSource
	snapshots   SnapshotSink
	stats       StatsSink
	metrics     RunMetrics
	engine      *engine.Engine
	logger      *slog.Logger
	now         func() time.Time
}

// EvaluatorDeps bundles the Evaluator's data dependencies.
type EvaluatorDeps struct {
	Policies    PolicySource
	Geographies GeographySource
	Providers   ProviderSource
	Fleet       FleetSource
	Snapshots   SnapshotSink
	Stats       StatsSink
	Metrics     RunMetrics
}

// NewEvaluator creates an Evaluator. The timezone is the agency's local zone
// for rule day/time windows; a missing or invalid one is a fatal
// configuration error, never silently defaulted.
func NewEvaluator(deps EvaluatorDeps, timezone string, logger *slog.Logger) (*Evaluator, error) {
	eng, err := engine.New(timezone, nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		policies:    deps.Policies,
		geographies: deps.Geographies,
		providers:   deps.Providers,
		fleet:       deps.Fleet,
		snapshots:   deps.Snapshots,
		stats:       deps.Stats,
		metrics:     deps.Metrics,
		engine:      eng,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run executes one compliance job. Policies and geographies are loaded once
// and shared read-only across the per-provider goroutines; each provider's
// fleet is loaded and evaluated independently.
func (e *Evaluator) Run(ctx context.Context, job types.ComplianceJob) (EvalSummary, error) {
	started := e.now()

	asOf := job.AsOf
	if asOf == 0 {
		asOf = types.TimestampFromTime(started)
	}
	summary := EvalSummary{JobID: job.JobID, AsOf: asOf}

	policies, err := e.policies.ListPublishedActive(ctx, asOf)
	if err != nil {
		return summary, err
	}
	policies = restrictPolicies(policies, job.PolicyIDs)
	if len(policies) == 0 {
		e.logger.InfoContext(ctx, "no policies to evaluate", "job_id", job.JobID, "as_of", asOf)
		return summary, nil
	}

	geographies, err := e.geographies.ListPublished(ctx)
	if err != nil {
		return summary, err
	}
	index, err := geo.NewIndex(geographies)
	if err != nil {
		return summary, err
	}

	providers, err := e.providers.ListActive(ctx)
	if err != nil {
		return summary, err
	}
	providers = restrictProviders(providers, job.ProviderIDs)

	var mu sync.Mutex
	var all []*types.ComplianceSnapshot

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProviders)
	for _, p := range providers {
		provider := p
		g.Go(func() error {
			snaps, err := e.evaluateProvider(gctx, provider, policies, index, asOf)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				return nil
			}
			mu.Lock()
			all = append(all, snaps...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	if len(all) > 0 {
		if err := e.snapshots.InsertBatch(ctx, all); err != nil {
			return summary, err
		}
	}

	summary.ProvidersEvaluated = len(providers)
	summary.SnapshotsWritten = len(all)
	for _, s := range all {
		summary.TotalViolations += s.TotalViolations
	}

	e.recordStats(ctx, all, asOf)

	duration := e.now().Sub(started)
	if e.metrics != nil {
		e.metrics.RecordEvaluationRun(ctx, summary.ProvidersEvaluated, summary.SnapshotsWritten, summary.TotalViolations, duration)
	}

	e.logger.InfoContext(ctx, "evaluation run complete",
		"job_id", job.JobID,
		"trace_id", job.TraceID,
		"as_of", asOf,
		"providers", summary.ProvidersEvaluated,
		"snapshots", summary.SnapshotsWritten,
		"violations", summary.TotalViolations,
		"duration_ms", duration.Milliseconds(),
	)
	return summary, nil
}

// evaluateProvider runs every applicable policy against one provider's
// recent fleet state.
func (e *Evaluator) evaluateProvider(
	ctx context.Context,
	provider *types.Provider,
	policies []*types.Policy,
	index *geo.Index,
	asOf types.Timestamp,
) ([]*types.ComplianceSnapshot, error) {
	applicable := engine.SelectPoliciesFor(policies, provider.ProviderID, asOf)
	if len(applicable) == 0 {
		return nil, nil
	}

	since := asOf - types.Timestamp(recentEventWindow.Milliseconds())
	events, err := e.fleet.RecentEventsByProvider(ctx, provider.ProviderID, since)
	if err != nil {
		return nil, err
	}
	events = engine.FilterRecentEvents(events, asOf)

	devices, err := e.fleet.DeviceMapByProvider(ctx, provider.ProviderID)
	if err != nil {
		return nil, err
	}

	var snaps []*types.ComplianceSnapshot
	for _, policy := range applicable {
		resp := e.engine.EvaluatePolicy(policy, events, index, devices)
		if resp == nil {
			continue
		}
		snap := engine.BuildSnapshot(resp, "snap_"+uuid.NewString(), provider.ProviderID, asOf)
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// recordStats folds the run's snapshots into each provider's daily rollup.
// Stats are best effort: a failed upsert is logged, never fatal to the run.
func (e *Evaluator) recordStats(ctx context.Context, snaps []*types.ComplianceSnapshot, asOf types.Timestamp) {
	if e.stats == nil || len(snaps) == 0 {
		return
	}

	type rollup struct {
		snapshots  int
		violations int
	}
	perProvider := make(map[string]*rollup)
	for _, s := range snaps {
		r, ok := perProvider[s.ProviderID]
		if !ok {
			r = &rollup{}
			perProvider[s.ProviderID] = r
		}
		r.snapshots++
		r.violations += s.TotalViolations
	}

	day := asOf.Time().Truncate(24 * time.Hour)
	dayStart := types.TimestampFromTime(day)

	for providerID, r := range perProvider {
		eventCount, telemetryCount, err := e.fleet.CountSince(ctx, providerID, dayStart)
		if err != nil {
			e.logger.WarnContext(ctx, "ingest counts unavailable for daily stats",
				"provider_id", providerID, "error", err)
		}
		stat := &types.DailyStat{
			ProviderID:        providerID,
			Date:              day,
			EventsReceived:    eventCount,
			TelemetryReceived: telemetryCount,
			SnapshotsWritten:  r.snapshots,
			TotalViolations:   r.violations,
		}
		if err := e.stats.Upsert(ctx, stat); err != nil {
			e.logger.WarnContext(ctx, "daily stats upsert failed",
				"provider_id", providerID, "error", err)
		}
	}
}

// restrictPolicies keeps only the policies named in ids; empty means all.
func restrictPolicies(policies []*types.Policy, ids []string) []*types.Policy {
	if len(ids) == 0 {
		return policies
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]*types.Policy, 0, len(ids))
	for _, p := range policies {
		if _, ok := wanted[p.PolicyID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// restrictProviders keeps only the providers named in ids; empty means all.
func restrictProviders(providers []*types.Provider, ids []string) []*types.Provider {
	if len(ids) == 0 {
		return providers
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]*types.Provider, 0, len(ids))
	for _, p := range providers {
		if _, ok := wanted[p.ProviderID]; ok {
			out = append(out, p)
		}
	}
	return out
}
