package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curbsight/internal/config"
	"curbsight/internal/types"
	"curbsight/internal/upstream"
)

type mockUpserter struct {
	upsertFn func(ctx context.Context, p *types.Provider) error
	upserted []*types.Provider
}

func (m *mockUpserter) Upsert(ctx context.Context, p *types.Provider) error {
	m.upserted = append(m.upserted, p)
	if m.upsertFn != nil {
		return m.upsertFn(ctx, p)
	}
	return nil
}

func testSyncLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSyncer(t *testing.T, serverURL string, store ProviderUpserter) *Syncer {
	t.Helper()
	cfg := config.RegistryConfig{BaseURL: serverURL, Timeout: 5 * time.Second}
	return NewSyncer(cfg, store, testSyncLogger(), upstream.WithSleepFunc(func(time.Duration) {}))
}

const registryCSV = `provider_name,provider_id,url,mds_api_url,gbfs_api_url,color_hex
Scoot Co,2411d395-04f2-47c9-ab66-d09e9e3c3251,https://scoot.example,https://mds.scoot.example/api,,FF5733
Wheelio,c20e08cf-8488-46a6-a66c-5d8fb827f7e0,https://wheelio.example,https://mds.wheelio.example,,
`

func TestSyncUpsertsRegistryEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/providers.csv", r.URL.Path)
		io.WriteString(w, registryCSV)
	}))
	defer srv.Close()

	store := &mockUpserter{}
	result, err := newTestSyncer(t, srv.URL, store).Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SyncResult{Fetched: 2, Synced: 2}, result)
	require.Len(t, store.upserted, 2)

	first := store.upserted[0]
	assert.Equal(t, "2411d395-04f2-47c9-ab66-d09e9e3c3251", first.ProviderID)
	assert.Equal(t, "Scoot Co", first.Name)
	assert.Equal(t, "https://mds.scoot.example/api", first.MDSAPIURL)
	assert.Equal(t, "FF5733", first.ColorHex)
	assert.Equal(t, types.ProviderStatusRegistered, first.Status)
}

func TestSyncResolvesColumnsFromHeader(t *testing.T) {
	// Same columns, different order.
	reordered := `provider_id,color_hex,provider_name,mds_api_url
2411d395-04f2-47c9-ab66-d09e9e3c3251,00FF00,Scoot Co,https://mds.scoot.example
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, reordered)
	}))
	defer srv.Close()

	store := &mockUpserter{}
	_, err := newTestSyncer(t, srv.URL, store).Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, store.upserted, 1)
	assert.Equal(t, "Scoot Co", store.upserted[0].Name)
	assert.Equal(t, "00FF00", store.upserted[0].ColorHex)
}

func TestSyncSkipsMalformedRows(t *testing.T) {
	bad := `provider_name,provider_id
Scoot Co,2411d395-04f2-47c9-ab66-d09e9e3c3251
No ID Co,
Not A UUID Co,definitely-not-a-uuid
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, bad)
	}))
	defer srv.Close()

	store := &mockUpserter{}
	result, err := newTestSyncer(t, srv.URL, store).Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SyncResult{Fetched: 3, Synced: 1, Skipped: 2}, result)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "Scoot Co", store.upserted[0].Name)
}

func TestSyncRejectsMissingColumns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "name,id\nScoot Co,x\n")
	}))
	defer srv.Close()

	_, err := newTestSyncer(t, srv.URL, &mockUpserter{}).Sync(context.Background())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRegistry, appErr.Code)
}

func TestSyncRetriesTransientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, registryCSV)
	}))
	defer srv.Close()

	store := &mockUpserter{}
	result, err := newTestSyncer(t, srv.URL, store).Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, result.Synced)
}

func TestSyncMapsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestSyncer(t, srv.URL, &mockUpserter{}).Sync(context.Background())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamRegistry, appErr.Code)
}

func TestSyncSurfacesStoreFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, registryCSV)
	}))
	defer srv.Close()

	store := &mockUpserter{
		upsertFn: func(_ context.Context, _ *types.Provider) error {
			return errors.New("connection refused")
		},
	}
	_, err := newTestSyncer(t, srv.URL, store).Sync(context.Background())
	require.Error(t, err)
}
