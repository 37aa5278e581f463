// Package engine implements the policy compliance evaluation core: rule
// evaluators for count, time, and speed rules, the per-policy orchestration
// with cross-rule vehicle exclusivity, policy selection helpers, and the
// violation-period aggregator.
//
// Evaluation is single-threaded and synchronous per invocation. The engine
// never mutates its inputs: vehicle claims are tracked in a per-call
// exclusion set, so callers may share device maps across concurrent
// evaluations.
package engine

import (
	"fmt"
	"sort"
	"time"

	"curbsight/internal/types"
)

// GeographyResolver is the external geospatial predicate the engine depends
// on: polygon lookup by geography id plus point-in-polygon testing.
type GeographyResolver interface {
	// HasGeography reports whether the geography id resolves to a polygon.
	HasGeography(geographyID string) bool

	// PointInGeography reports whether the point lies inside the named
	// geography. Unknown geography ids return false.
	PointInGeography(geographyID string, lat, lng float64) bool
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Engine evaluates policies against provider fleets. The timezone is the
// agency's local zone used for rule day/time windows; construction fails if
// it is missing or invalid, and evaluation never silently defaults.
type Engine struct {
	loc   *time.Location
	clock Clock
}

// New creates an Engine for the given IANA timezone. A missing or
// unloadable timezone is a fatal configuration error.
func New(timezone string, clock Clock) (*Engine, error) {
	if timezone == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			"compliance engine requires a timezone", nil)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			fmt.Sprintf("invalid compliance timezone %q", timezone), err)
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Engine{loc: loc, clock: clock}, nil
}

// EvaluatePolicy evaluates one policy against the given events and devices.
// Returns nil (no response, not an error) when the policy is not active at
// evaluation time.
//
// Rules are processed in declared order with a running claimed-vehicle set:
// a vehicle violating multiple rules is attributed only to the first rule it
// matched. The caller's device map is never mutated.
func (e *Engine) EvaluatePolicy(
	policy *types.Policy,
	events []types.VehicleEvent,
	geographies GeographyResolver,
	devices map[string]*types.Device,
) *types.ComplianceResponse {
	now := e.clock.Now()
	if !policy.ActiveAt(types.TimestampFromTime(now)) {
		return nil
	}

	// Stable ascending sort by timestamp; ties keep submission order.
	sorted := make([]types.VehicleEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	claimed := make(map[string]struct{})
	resp := &types.ComplianceResponse{Policy: *policy}

	for i := range policy.Rules {
		rule := &policy.Rules[i]

		var result ruleResult
		switch rule.Type {
		case types.RuleTypeCount:
			result = e.evaluateCountRule(rule, sorted, geographies, devices, claimed)
		case types.RuleTypeTime:
			result = e.evaluateTimeRule(rule, sorted, geographies, devices, claimed, now)
		case types.RuleTypeSpeed:
			result = e.evaluateSpeedRule(rule, sorted, geographies, devices, claimed)
		default:
			// Forward compatibility: unknown rule types are no-ops.
			result = ruleResult{}
		}

		for id := range result.claimedDevices {
			claimed[id] = struct{}{}
		}

		resp.Compliance = append(resp.Compliance, types.Compliance{
			Rule:    *rule,
			Matches: result.matches,
		})
		resp.TotalViolations += result.violations
		resp.VehiclesInViolation = append(resp.VehiclesInViolation, result.violating...)
	}

	return resp
}

// ruleResult is the internal outcome of a single rule evaluation.
type ruleResult struct {
	matches        []types.RuleMatch
	violating      []types.ViolatingVehicle
	violations     int
	claimedDevices map[string]struct{}
	excessVehicles int
}

// BuildSnapshot converts a ComplianceResponse into its persisted snapshot
// form for one provider. vehicles_found lists every matched vehicle with
// the rules it matched; rule_applied is set only for vehicles in violation.
func BuildSnapshot(resp *types.ComplianceResponse, snapshotID, providerID string, asOf types.Timestamp) *types.ComplianceSnapshot {
	snap := &types.ComplianceSnapshot{
		ID:              snapshotID,
		ComplianceAsOf:  asOf,
		ProviderID:      providerID,
		PolicyID:        resp.Policy.PolicyID,
		PolicyName:      resp.Policy.Name,
		VehiclesFound:   types.VehicleRecords{},
		TotalViolations: resp.TotalViolations,
	}

	applied := make(map[string]string)
	for _, v := range resp.VehiclesInViolation {
		if v.Device != nil {
			applied[v.Device.DeviceID] = v.RuleID
		}
	}

	records := make(map[string]*types.VehicleRecord)
	var order []string

	addMatch := func(ruleID string, mv types.MatchedVehicle) {
		if mv.Device == nil || mv.Event == nil || mv.Event.Telemetry == nil || mv.Event.Telemetry.GPS == nil {
			return
		}
		rec, ok := records[mv.Device.DeviceID]
		if !ok {
			rec = &types.VehicleRecord{
				DeviceID:   mv.Device.DeviceID,
				State:      mv.Event.VehicleState,
				EventTypes: []types.VehicleEventType{mv.Event.EventType},
				Timestamp:  mv.Event.Timestamp,
				GPS:        *mv.Event.Telemetry.GPS,
				Speed:      mv.Event.Telemetry.GPS.Speed,
			}
			records[mv.Device.DeviceID] = rec
			order = append(order, mv.Device.DeviceID)
		}
		for _, seen := range rec.RulesMatched {
			if seen == ruleID {
				return
			}
		}
		rec.RulesMatched = append(rec.RulesMatched, ruleID)
	}

	for _, c := range resp.Compliance {
		for _, m := range c.Matches {
			if m.MatchedVehicle != nil {
				addMatch(c.Rule.RuleID, *m.MatchedVehicle)
			}
			for _, mv := range m.MatchedVehicles {
				addMatch(c.Rule.RuleID, mv)
			}
		}
	}

	excess := 0
	for _, id := range order {
		rec := records[id]
		if ruleID, ok := applied[id]; ok {
			rec.RuleApplied = ruleID
			excess++
		}
		snap.VehiclesFound = append(snap.VehiclesFound, *rec)
	}
	snap.ExcessVehiclesCount = excess

	return snap
}
