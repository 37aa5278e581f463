package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"curbsight/internal/types"
)

// TelemetryRepository provides data access for the devices, vehicle_events,
// and telemetry tables fed by the provider ingest service.
type TelemetryRepository struct {
	db DBTX
}

// NewTelemetryRepository creates a new TelemetryRepository.
func NewTelemetryRepository(db DBTX) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

const deviceColumns = `d.device_id, d.provider_id, d.vehicle_id,
	d.vehicle_type, d.propulsion_types, d.created_at, d.updated_at`

func scanDevice(row pgx.Row) (*types.Device, error) {
	var d types.Device
	err := row.Scan(
		&d.DeviceID,
		&d.ProviderID,
		&d.VehicleID,
		&d.Type,
		&d.Propulsion,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RegisterDevice inserts a new device. A duplicate device_id is a conflict,
// not an upsert: MDS device registration is one-shot.
func (r *TelemetryRepository) RegisterDevice(ctx context.Context, d *types.Device) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO devices (
			device_id, provider_id, vehicle_id, vehicle_type, propulsion_types,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (device_id) DO NOTHING`,
		d.DeviceID,
		d.ProviderID,
		d.VehicleID,
		d.Type,
		d.Propulsion,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to register device", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictDeviceExists, "device already registered", nil)
	}
	return nil
}

// GetDevice retrieves a device by id.
func (r *TelemetryRepository) GetDevice(ctx context.Context, deviceID string) (*types.Device, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM devices d WHERE d.device_id = $1`, deviceID)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundDevice, "device not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve device", err)
	}
	return d, nil
}

// DeviceMapByProvider returns the provider's registered devices keyed by
// device id, the shape the evaluation engine consumes.
func (r *TelemetryRepository) DeviceMapByProvider(ctx context.Context, providerID string) (map[string]*types.Device, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+deviceColumns+` FROM devices d WHERE d.provider_id = $1`, providerID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list devices", err)
	}
	defer rows.Close()

	devices := make(map[string]*types.Device)
	for rows.Next() {
		d, scanErr := scanDevice(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan device row", scanErr)
		}
		devices[d.DeviceID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating device rows", err)
	}

	return devices, nil
}

// InsertEvents writes a batch of vehicle events in a single multi-row
// INSERT. Telemetry is embedded as JSONB; recorded is stamped server-side
// at ingest.
func (r *TelemetryRepository) InsertEvents(ctx context.Context, events []types.VehicleEvent) error {
	if len(events) == 0 {
		return nil
	}

	const colCount = 8
	var sb strings.Builder
	sb.WriteString(`INSERT INTO vehicle_events (
		device_id, provider_id, event_type, vehicle_state,
		timestamp, telemetry, trip_id, recorded
	) VALUES `)

	args := make([]any, 0, len(events)*colCount)
	for i, ev := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * colCount
		sb.WriteString("(")
		for j := 0; j < colCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j+1)
		}
		sb.WriteString(")")

		args = append(args,
			ev.DeviceID,
			ev.ProviderID,
			ev.EventType,
			ev.VehicleState,
			ev.Timestamp,
			ev.Telemetry,
			nilIfEmpty(ev.TripID),
			ev.RecordedAt,
		)
	}

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert vehicle events", err)
	}
	return nil
}

// InsertTelemetry writes a batch of raw telemetry observations.
func (r *TelemetryRepository) InsertTelemetry(ctx context.Context, providerID string, samples []types.Telemetry) error {
	if len(samples) == 0 {
		return nil
	}

	const colCount = 5
	var sb strings.Builder
	sb.WriteString(`INSERT INTO telemetry (
		device_id, provider_id, timestamp, gps, charge
	) VALUES `)

	args := make([]any, 0, len(samples)*colCount)
	for i, s := range samples {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * colCount
		sb.WriteString("(")
		for j := 0; j < colCount; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j+1)
		}
		sb.WriteString(")")

		args = append(args, s.DeviceID, providerID, s.Timestamp, s.GPS, s.Charge)
	}

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert telemetry", err)
	}
	return nil
}

// RecentEventsByProvider returns the provider's events since the cutoff,
// ordered by timestamp ascending. This is the engine's working set; the
// 48-hour window is applied again in memory against the evaluation instant,
// so passing a slightly wider cutoff here is safe.
func (r *TelemetryRepository) RecentEventsByProvider(ctx context.Context, providerID string, since types.Timestamp) ([]types.VehicleEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT e.device_id, e.provider_id, e.event_type, e.vehicle_state,
		        e.timestamp, e.telemetry, e.trip_id, e.recorded
		 FROM vehicle_events e
		 WHERE e.provider_id = $1 AND e.timestamp >= $2
		 ORDER BY e.timestamp`,
		providerID, since,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list vehicle events", err)
	}
	defer rows.Close()

	var results []types.VehicleEvent
	for rows.Next() {
		var ev types.VehicleEvent
		var tripID *string
		if err := rows.Scan(
			&ev.DeviceID,
			&ev.ProviderID,
			&ev.EventType,
			&ev.VehicleState,
			&ev.Timestamp,
			&ev.Telemetry,
			&tripID,
			&ev.RecordedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan vehicle event row", err)
		}
		if tripID != nil {
			ev.TripID = *tripID
		}
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating vehicle event rows", err)
	}

	return results, nil
}

// CountSince returns the number of events and telemetry rows a provider has
// submitted since the cutoff. Feeds the daily stats rollup.
func (r *TelemetryRepository) CountSince(ctx context.Context, providerID string, since types.Timestamp) (events int, telemetry int, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM vehicle_events WHERE provider_id = $1 AND timestamp >= $2),
			(SELECT COUNT(*) FROM telemetry WHERE provider_id = $1 AND timestamp >= $2)`,
		providerID, since,
	).Scan(&events, &telemetry)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count ingest volume", err)
	}
	return events, telemetry, nil
}
