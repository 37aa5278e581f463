package engine

import (
	"curbsight/internal/types"
)

// recentEventWindowMs bounds how far back vehicle events participate in an
// evaluation: 48 hours, matching the provider reporting SLA.
const recentEventWindowMs = 48 * 60 * 60 * 1000

// FilterSupersededPolicies removes every policy named in another candidate's
// prev_policies list. The difference is a single-level set subtraction: ids
// referenced by policies outside the candidate set have no effect, and
// supersession chains are not followed. Input order is preserved.
func FilterSupersededPolicies(policies []*types.Policy) []*types.Policy {
	superseded := make(map[string]struct{})
	for _, p := range policies {
		for _, prev := range p.PrevPolicies {
			superseded[prev] = struct{}{}
		}
	}

	out := make([]*types.Policy, 0, len(policies))
	for _, p := range policies {
		if _, gone := superseded[p.PolicyID]; gone {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FilterRecentEvents keeps only events whose timestamp falls within the
// 48-hour window ending at asOf. Stale fleet state from providers that
// stopped reporting does not linger in compliance results.
func FilterRecentEvents(events []types.VehicleEvent, asOf types.Timestamp) []types.VehicleEvent {
	cutoff := asOf - recentEventWindowMs
	out := make([]types.VehicleEvent, 0, len(events))
	for _, ev := range events {
		if ev.Timestamp >= cutoff && ev.Timestamp <= asOf {
			out = append(out, ev)
		}
	}
	return out
}

// SelectPoliciesFor returns the policies applicable to one provider at the
// given instant: published, active, not superseded, and either unscoped or
// scoped to that provider.
func SelectPoliciesFor(policies []*types.Policy, providerID string, asOf types.Timestamp) []*types.Policy {
	live := FilterSupersededPolicies(policies)
	out := make([]*types.Policy, 0, len(live))
	for _, p := range live {
		if p.Status != types.PolicyStatusPublished {
			continue
		}
		if !p.ActiveAt(asOf) {
			continue
		}
		if len(p.ProviderIDs) > 0 {
			scoped := false
			for _, id := range p.ProviderIDs {
				if id == providerID {
					scoped = true
					break
				}
			}
			if !scoped {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
