package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"curbsight/internal/types"
)

// SnapshotRepository provides data access for the compliance_snapshots
// table. Snapshots are append-only: the engine worker inserts them, readers
// query them, the archiver eventually moves old ones to cold storage.
type SnapshotRepository struct {
	db DBTX
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(db DBTX) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

const snapshotColumns = `s.compliance_snapshot_id, s.compliance_as_of,
	s.provider_id, s.policy_id, s.policy_name,
	s.vehicles_found, s.excess_vehicles_count, s.total_violations`

func scanSnapshot(row pgx.Row) (*types.ComplianceSnapshot, error) {
	var s types.ComplianceSnapshot
	err := row.Scan(
		&s.ID,
		&s.ComplianceAsOf,
		&s.ProviderID,
		&s.PolicyID,
		&s.PolicyName,
		&s.VehiclesFound,
		&s.ExcessVehiclesCount,
		&s.TotalViolations,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Insert writes one snapshot.
func (r *SnapshotRepository) Insert(ctx context.Context, s *types.ComplianceSnapshot) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO compliance_snapshots (
			compliance_snapshot_id, compliance_as_of,
			provider_id, policy_id, policy_name,
			vehicles_found, excess_vehicles_count, total_violations
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID,
		s.ComplianceAsOf,
		s.ProviderID,
		s.PolicyID,
		s.PolicyName,
		s.VehiclesFound,
		s.ExcessVehiclesCount,
		s.TotalViolations,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert compliance snapshot", err)
	}
	return nil
}

// InsertBatch writes snapshots from one evaluation run in a single
// multi-row statement.
func (r *SnapshotRepository) InsertBatch(ctx context.Context, snaps []*types.ComplianceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	const colCount = 8
	var sb strings.Builder
	sb.WriteString(`INSERT INTO compliance_snapshots (
		compliance_snapshot_id, compliance_as_of,
		provider_id, policy_id, policy_name,
		vehicles_found, excess_vehicles_count, total_violations
	) VALUES `)

	args := make([]any, 0, len(snaps)*colCount)
	for i, s := range snaps {
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
			s.ID, s.ComplianceAsOf,
			s.ProviderID, s.PolicyID, s.PolicyName,
			s.VehiclesFound, s.ExcessVehiclesCount, s.TotalViolations,
		)
	}

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to batch insert compliance snapshots", err)
	}
	return nil
}

// GetByID retrieves a snapshot by id.
func (r *SnapshotRepository) GetByID(ctx context.Context, id string) (*types.ComplianceSnapshot, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+snapshotColumns+`
		 FROM compliance_snapshots s
		 WHERE s.compliance_snapshot_id = $1`, id)

	s, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSnapshot, "compliance snapshot not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve compliance snapshot", err)
	}
	return s, nil
}

// ListWindow returns snapshots inside the time window, optionally filtered
// by provider and policy, ordered by compliance_as_of ascending. The
// ascending order is what the violation-period fold expects.
func (r *SnapshotRepository) ListWindow(ctx context.Context, window types.SnapshotWindow, filters types.AggregateFilters) ([]*types.ComplianceSnapshot, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if window.Start != 0 {
		conditions = append(conditions, fmt.Sprintf("s.compliance_as_of >= $%d", argIdx))
		args = append(args, window.Start)
		argIdx++
	}
	if window.End != 0 {
		conditions = append(conditions, fmt.Sprintf("s.compliance_as_of <= $%d", argIdx))
		args = append(args, window.End)
		argIdx++
	}
	if len(filters.ProviderIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("s.provider_id = ANY($%d)", argIdx))
		args = append(args, filters.ProviderIDs)
		argIdx++
	}
	if len(filters.PolicyIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("s.policy_id = ANY($%d)", argIdx))
		args = append(args, filters.PolicyIDs)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT %s FROM compliance_snapshots s %s
		 ORDER BY s.provider_id, s.policy_id, s.compliance_as_of`,
		snapshotColumns, whereClause,
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list compliance snapshots", err)
	}
	defer rows.Close()

	var results []*types.ComplianceSnapshot
	for rows.Next() {
		s, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan snapshot row", scanErr)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating snapshot rows", err)
	}

	return results, nil
}

// ListOlderThan returns snapshots with compliance_as_of before the cutoff,
// up to limit rows, ordered oldest first. The archiver drains them in
// batches.
func (r *SnapshotRepository) ListOlderThan(ctx context.Context, cutoff types.Timestamp, limit int) ([]*types.ComplianceSnapshot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+snapshotColumns+`
		 FROM compliance_snapshots s
		 WHERE s.compliance_as_of < $1
		 ORDER BY s.compliance_as_of
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list expired snapshots", err)
	}
	defer rows.Close()

	var results []*types.ComplianceSnapshot
	for rows.Next() {
		s, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan snapshot row", scanErr)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating snapshot rows", err)
	}

	return results, nil
}

// DeleteByIDs removes archived snapshots. Only the archiver calls this,
// after the batch is safely written to cold storage.
func (r *SnapshotRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM compliance_snapshots WHERE compliance_snapshot_id = ANY($1)`, ids)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete archived snapshots", err)
	}
	return tag.RowsAffected(), nil
}
