package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curbsight/internal/types"
)

type mockStatsStore struct {
	listRangeFn func(ctx context.Context, providerID string, from, to time.Time) ([]*types.DailyStat, error)

	capturedFrom time.Time
	capturedTo   time.Time
}

func (m *mockStatsStore) ListRange(ctx context.Context, providerID string, from, to time.Time) ([]*types.DailyStat, error) {
	m.capturedFrom = from
	m.capturedTo = to
	if m.listRangeFn != nil {
		return m.listRangeFn(ctx, providerID, from, to)
	}
	return nil, nil
}

func newTestProviderHandler(t *testing.T, providers *mockProviderStore, stats *mockStatsStore) *ProviderHandler {
	t.Helper()
	if stats == nil {
		stats = &mockStatsStore{}
	}
	return NewProviderHandler(providers, stats, testValidator(t), testLogger())
}

func TestProviderList(t *testing.T) {
	providers := &mockProviderStore{
		listActiveFn: func(_ context.Context) ([]*types.Provider, error) {
			return []*types.Provider{
				{ProviderID: "prov_1", Name: "Scoot Co", Status: types.ProviderStatusActive},
			}, nil
		},
	}
	h := newTestProviderHandler(t, providers, nil)

	req := httptest.NewRequest(http.MethodGet, "/providers", nil).WithContext(agencyCtx())
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var list []types.Provider
	decodeData(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Scoot Co", list[0].Name)
}

func TestProviderStatsDefaultsTrailing30Days(t *testing.T) {
	stats := &mockStatsStore{}
	h := newTestProviderHandler(t, &mockProviderStore{}, stats)

	req := httptest.NewRequest(http.MethodGet, "/providers/prov_1/stats", nil).WithContext(agencyCtx())
	rec := doRequest(http.MethodGet, "/providers/{providerID}/stats", h.Stats, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.WithinDuration(t, time.Now().UTC(), stats.capturedTo, time.Minute)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), stats.capturedFrom, time.Minute)
}

func TestProviderStatsExplicitRange(t *testing.T) {
	stats := &mockStatsStore{}
	h := newTestProviderHandler(t, &mockProviderStore{}, stats)

	req := httptest.NewRequest(http.MethodGet, "/providers/prov_1/stats?from=2026-01-01&to=2026-01-31", nil).
		WithContext(agencyCtx())
	rec := doRequest(http.MethodGet, "/providers/{providerID}/stats", h.Stats, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), stats.capturedFrom)
	assert.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), stats.capturedTo)
}

func TestProviderStatsRejectsBadDate(t *testing.T) {
	h := newTestProviderHandler(t, &mockProviderStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/providers/prov_1/stats?from=last-month", nil).
		WithContext(agencyCtx())
	rec := doRequest(http.MethodGet, "/providers/{providerID}/stats", h.Stats, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviderSetStatus(t *testing.T) {
	var capturedStatus types.ProviderStatus
	providers := &mockProviderStore{
		setStatusFn: func(_ context.Context, id string, status types.ProviderStatus) error {
			capturedStatus = status
			return nil
		},
	}
	h := newTestProviderHandler(t, providers, nil)

	req := httptest.NewRequest(http.MethodPut, "/providers/prov_1/status", jsonBody(t, map[string]any{"status": "suspended"})).
		WithContext(agencyCtx())
	rec := doRequest(http.MethodPut, "/providers/{providerID}/status", h.SetStatus, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.ProviderStatusSuspended, capturedStatus)
}

func TestProviderSetStatusRejectsUnknownValue(t *testing.T) {
	providers := &mockProviderStore{
		setStatusFn: func(_ context.Context, _ string, _ types.ProviderStatus) error {
			t.Fatal("set status must not run for an unknown value")
			return nil
		},
	}
	h := newTestProviderHandler(t, providers, nil)

	req := httptest.NewRequest(http.MethodPut, "/providers/prov_1/status", jsonBody(t, map[string]any{"status": "banned"})).
		WithContext(agencyCtx())
	rec := doRequest(http.MethodPut, "/providers/{providerID}/status", h.SetStatus, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
