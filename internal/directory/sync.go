// Package directory syncs the public Open Mobility Foundation provider
// registry into the local providers table. The registry is the source of
// truth for provider identity: ids, display names, and MDS API endpoints.
package directory

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"curbsight/internal/config"
	"curbsight/internal/types"
	"curbsight/internal/upstream"
)

// registryPath is the provider registry CSV within the OMF repository.
const registryPath = "/providers.csv"

// ProviderUpserter persists synced registry entries. The upsert must not
// clobber locally managed fields (status, billing) on existing rows.
type ProviderUpserter interface {
	Upsert(ctx context.Context, p *types.Provider) error
}

// SyncResult summarizes one registry sync run.
type SyncResult struct {
	Fetched int
	Synced  int
	Skipped int
}

// Syncer fetches the OMF provider registry CSV and upserts each entry.
type Syncer struct {
	client  *upstream.Client
	baseURL string
	store   ProviderUpserter
	logger  *slog.Logger
}

// NewSyncer creates a Syncer from the registry config.
func NewSyncer(cfg config.RegistryConfig, store ProviderUpserter, logger *slog.Logger, opts ...upstream.ClientOption) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	client := upstream.NewClient(httpClient, "provider-registry", types.ErrCodeUpstreamRegistry,
		"curbsight-registry-sync/1.0", upstream.DefaultRetryPolicy(), opts...)
	return &Syncer{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		store:   store,
		logger:  logger,
	}
}

// Sync downloads the registry and upserts every well-formed row. Rows with a
// missing name or a non-UUID provider id are counted and skipped; a single
// bad row must not abort the run.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	var result SyncResult

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+registryPath, nil)
	if err != nil {
		return result, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build registry request", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, types.NewAppError(types.ErrCodeUpstreamRegistry,
			fmt.Sprintf("registry returned %d", resp.StatusCode), nil)
	}

	entries, err := parseRegistry(resp.Body)
	if err != nil {
		return result, err
	}
	result.Fetched = len(entries)

	for _, entry := range entries {
		if entry.ProviderID == "" || entry.Name == "" {
			result.Skipped++
			continue
		}
		if uuid.Validate(entry.ProviderID) != nil {
			s.logger.WarnContext(ctx, "registry row has non-uuid provider id",
				"provider_id", entry.ProviderID, "provider_name", entry.Name)
			result.Skipped++
			continue
		}

		p := &types.Provider{
			ProviderID: entry.ProviderID,
			Name:       entry.Name,
			MDSAPIURL:  entry.MDSAPIURL,
			ColorHex:   entry.ColorHex,
			Status:     types.ProviderStatusRegistered,
		}
		if err := s.store.Upsert(ctx, p); err != nil {
			return result, err
		}
		result.Synced++
	}

	s.logger.InfoContext(ctx, "provider registry synced",
		"fetched", result.Fetched,
		"synced", result.Synced,
		"skipped", result.Skipped,
	)
	return result, nil
}

// registryEntry is one row of the OMF providers CSV.
type registryEntry struct {
	Name       string
	ProviderID string
	MDSAPIURL  string
	ColorHex   string
}

// parseRegistry reads the registry CSV. The header row names the columns;
// column order in the upstream file has changed before, so positions are
// resolved from the header rather than assumed.
func parseRegistry(r io.Reader) ([]registryEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamRegistry,
			"registry CSV has no header row", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	nameIdx, ok := col["provider_name"]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeUpstreamRegistry,
			"registry CSV is missing the provider_name column", nil)
	}
	idIdx, ok := col["provider_id"]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeUpstreamRegistry,
			"registry CSV is missing the provider_id column", nil)
	}
	mdsIdx, hasMDS := col["mds_api_url"]
	colorIdx, hasColor := col["color_hex"]

	field := func(record []string, idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var entries []registryEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamRegistry,
				"registry CSV is malformed", err)
		}

		entry := registryEntry{
			Name:       field(record, nameIdx),
			ProviderID: field(record, idIdx),
		}
		if hasMDS {
			entry.MDSAPIURL = field(record, mdsIdx)
		}
		if hasColor {
			entry.ColorHex = field(record, colorIdx)
		}
		entries = append(entries, entry)
	}
}
