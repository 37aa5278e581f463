package engine

import (
	"sort"

	"curbsight/internal/types"
)

// AggregateViolationPeriods folds a (provider, policy) group's snapshots
// into maximal runs of consecutive violating snapshots. A period opens at
// the first snapshot with violations, collects every consecutive violating
// snapshot, and closes at the compliance_as_of of the first non-violating
// snapshot after the run; a run still open at the end of the input has a
// nil end time. Groups with no violating snapshots produce nothing.
//
// The fold is a single pass over snapshots ordered by compliance_as_of. It
// is pure and deterministic: re-running it over the same snapshots yields
// identical periods.
func AggregateViolationPeriods(snapshots []*types.ComplianceSnapshot) []types.ViolationPeriod {
	if len(snapshots) == 0 {
		return nil
	}

	ordered := make([]*types.ComplianceSnapshot, len(snapshots))
	copy(ordered, snapshots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ComplianceAsOf < ordered[j].ComplianceAsOf
	})

	var periods []types.ViolationPeriod
	var open *types.ViolationPeriod

	for _, snap := range ordered {
		if snap.TotalViolations > 0 {
			if open == nil {
				open = &types.ViolationPeriod{
					ProviderID: snap.ProviderID,
					PolicyID:   snap.PolicyID,
					StartTime:  snap.ComplianceAsOf,
				}
			}
			open.SnapshotIDs = append(open.SnapshotIDs, snap.ID)
			continue
		}
		if open != nil {
			end := snap.ComplianceAsOf
			open.EndTime = &end
			periods = append(periods, *open)
			open = nil
		}
	}
	if open != nil {
		periods = append(periods, *open)
	}

	return periods
}

// GroupSnapshots partitions snapshots by (provider, policy) for aggregation,
// preserving each group's input order.
func GroupSnapshots(snapshots []*types.ComplianceSnapshot) map[string][]*types.ComplianceSnapshot {
	groups := make(map[string][]*types.ComplianceSnapshot)
	for _, snap := range snapshots {
		key := snap.ProviderID + "\x00" + snap.PolicyID
		groups[key] = append(groups[key], snap)
	}
	return groups
}
