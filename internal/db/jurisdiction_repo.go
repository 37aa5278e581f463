package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"curbsight/internal/types"
)

// JurisdictionRepository provides data access for the jurisdictions table.
// Jurisdictions are soft-deleted; readers always exclude deleted rows.
type JurisdictionRepository struct {
	db DBTX
}

// NewJurisdictionRepository creates a new JurisdictionRepository.
func NewJurisdictionRepository(db DBTX) *JurisdictionRepository {
	return &JurisdictionRepository{db: db}
}

const jurisdictionColumns = `j.jurisdiction_id, j.agency_key, j.agency_name,
	j.geography_id, j.timestamp, j.created_at, j.deleted_at`

func scanJurisdiction(row pgx.Row) (*types.Jurisdiction, error) {
	var j types.Jurisdiction
	err := row.Scan(
		&j.JurisdictionID,
		&j.AgencyKey,
		&j.AgencyName,
		&j.GeographyID,
		&j.Timestamp,
		&j.CreatedAt,
		&j.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Create inserts a new jurisdiction.
func (r *JurisdictionRepository) Create(ctx context.Context, j *types.Jurisdiction) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO jurisdictions (
			jurisdiction_id, agency_key, agency_name, geography_id,
			timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, NOW())`,
		j.JurisdictionID,
		j.AgencyKey,
		j.AgencyName,
		j.GeographyID,
		j.Timestamp,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create jurisdiction", err)
	}
	return nil
}

// GetByID retrieves a jurisdiction by id, excluding soft-deleted rows.
func (r *JurisdictionRepository) GetByID(ctx context.Context, id string) (*types.Jurisdiction, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jurisdictionColumns+`
		 FROM jurisdictions j
		 WHERE j.jurisdiction_id = $1 AND j.deleted_at IS NULL`, id)

	j, err := scanJurisdiction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJurisdiction, "jurisdiction not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve jurisdiction", err)
	}
	return j, nil
}

// List returns every live jurisdiction ordered by agency name.
func (r *JurisdictionRepository) List(ctx context.Context) ([]*types.Jurisdiction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jurisdictionColumns+`
		 FROM jurisdictions j
		 WHERE j.deleted_at IS NULL
		 ORDER BY j.agency_name`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list jurisdictions", err)
	}
	defer rows.Close()

	var results []*types.Jurisdiction
	for rows.Next() {
		j, scanErr := scanJurisdiction(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan jurisdiction row", scanErr)
		}
		results = append(results, j)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating jurisdiction rows", err)
	}

	return results, nil
}

// Delete soft-deletes a jurisdiction.
func (r *JurisdictionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE jurisdictions SET deleted_at = NOW()
		 WHERE jurisdiction_id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete jurisdiction", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJurisdiction, "jurisdiction not found", nil)
	}
	return nil
}
