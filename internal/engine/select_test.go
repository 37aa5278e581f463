package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curbsight/internal/types"
)

func publishedPolicy(id string, prev ...string) *types.Policy {
	return &types.Policy{
		PolicyID:     id,
		StartDate:    1000,
		PrevPolicies: prev,
		Status:       types.PolicyStatusPublished,
	}
}

func TestFilterSupersededPolicies(t *testing.T) {
	old := publishedPolicy("p-old")
	replacement := publishedPolicy("p-new", "p-old")
	unrelated := publishedPolicy("p-other")

	live := FilterSupersededPolicies([]*types.Policy{old, replacement, unrelated})
	require.Len(t, live, 2)
	assert.Equal(t, "p-new", live[0].PolicyID)
	assert.Equal(t, "p-other", live[1].PolicyID)
}

func TestFilterSupersededPoliciesSingleLevel(t *testing.T) {
	// c supersedes b, b supersedes a: one-level difference removes both a
	// and b, it does not resurrect a by following the chain.
	a := publishedPolicy("p-a")
	b := publishedPolicy("p-b", "p-a")
	c := publishedPolicy("p-c", "p-b")

	live := FilterSupersededPolicies([]*types.Policy{a, b, c})
	require.Len(t, live, 1)
	assert.Equal(t, "p-c", live[0].PolicyID)
}

func TestFilterSupersededPoliciesIgnoresOutsideIDs(t *testing.T) {
	p := publishedPolicy("p-1", "p-retired-long-ago")
	live := FilterSupersededPolicies([]*types.Policy{p})
	require.Len(t, live, 1)
}

func TestFilterRecentEvents(t *testing.T) {
	asOf := types.TimestampFromTime(time.Date(2024, 6, 12, 12, 0, 0, 0, time.UTC))
	fresh := types.VehicleEvent{DeviceID: "d1", Timestamp: asOf - 1000}
	boundary := types.VehicleEvent{DeviceID: "d2", Timestamp: asOf - recentEventWindowMs}
	stale := types.VehicleEvent{DeviceID: "d3", Timestamp: asOf - recentEventWindowMs - 1}
	future := types.VehicleEvent{DeviceID: "d4", Timestamp: asOf + 1000}

	kept := FilterRecentEvents([]types.VehicleEvent{fresh, boundary, stale, future}, asOf)
	require.Len(t, kept, 2)
	assert.Equal(t, "d1", kept[0].DeviceID)
	assert.Equal(t, "d2", kept[1].DeviceID)
}

func TestSelectPoliciesFor(t *testing.T) {
	asOf := types.Timestamp(5000)

	draft := publishedPolicy("p-draft")
	draft.Status = types.PolicyStatusDraft

	expired := publishedPolicy("p-expired")
	end := types.Timestamp(2000)
	expired.EndDate = &end

	scoped := publishedPolicy("p-scoped")
	scoped.ProviderIDs = types.StringList{"provider-2"}

	mine := publishedPolicy("p-mine")
	mine.ProviderIDs = types.StringList{"provider-1"}

	global := publishedPolicy("p-global")

	out := SelectPoliciesFor(
		[]*types.Policy{draft, expired, scoped, mine, global},
		"provider-1", asOf,
	)
	require.Len(t, out, 2)
	assert.Equal(t, "p-mine", out[0].PolicyID)
	assert.Equal(t, "p-global", out[1].PolicyID)
}
