package db

import (
	"context"
	"time"

	"curbsight/internal/types"
)

// StatsRepository provides data access for the daily_stats rollup table.
type StatsRepository struct {
	db DBTX
}

// NewStatsRepository creates a new StatsRepository.
func NewStatsRepository(db DBTX) *StatsRepository {
	return &StatsRepository{db: db}
}

// Upsert writes or refreshes one provider-day rollup. The engine worker
// recomputes the current day on every run, so conflicts replace.
func (r *StatsRepository) Upsert(ctx context.Context, s *types.DailyStat) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO daily_stats (
			provider_id, stat_date, events_received, telemetry_received,
			snapshots_written, total_violations
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_id, stat_date) DO UPDATE SET
			events_received = EXCLUDED.events_received,
			telemetry_received = EXCLUDED.telemetry_received,
			snapshots_written = EXCLUDED.snapshots_written,
			total_violations = EXCLUDED.total_violations`,
		s.ProviderID,
		s.Date,
		s.EventsReceived,
		s.TelemetryReceived,
		s.SnapshotsWritten,
		s.TotalViolations,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert daily stat", err)
	}
	return nil
}

// ListRange returns a provider's rollups between from and to inclusive,
// oldest first.
func (r *StatsRepository) ListRange(ctx context.Context, providerID string, from, to time.Time) ([]*types.DailyStat, error) {
	rows, err := r.db.Query(ctx,
		`SELECT s.provider_id, s.stat_date, s.events_received,
		        s.telemetry_received, s.snapshots_written, s.total_violations
		 FROM daily_stats s
		 WHERE s.provider_id = $1 AND s.stat_date BETWEEN $2 AND $3
		 ORDER BY s.stat_date`,
		providerID, from, to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list daily stats", err)
	}
	defer rows.Close()

	var results []*types.DailyStat
	for rows.Next() {
		var s types.DailyStat
		if err := rows.Scan(
			&s.ProviderID,
			&s.Date,
			&s.EventsReceived,
			&s.TelemetryReceived,
			&s.SnapshotsWritten,
			&s.TotalViolations,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan daily stat row", err)
		}
		results = append(results, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating daily stat rows", err)
	}

	return results, nil
}
