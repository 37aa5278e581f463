package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"curbsight/internal/types"
)

// GeographyRepository provides data access for the geographies table.
// Geometry is stored as the raw published GeoJSON; parsing and spatial
// indexing happen in the geo package.
type GeographyRepository struct {
	db DBTX
}

// NewGeographyRepository creates a new GeographyRepository.
func NewGeographyRepository(db DBTX) *GeographyRepository {
	return &GeographyRepository{db: db}
}

const geographyColumns = `g.geography_id, g.name, g.description,
	g.geography_json, g.publish_date, g.created_at`

func scanGeography(row pgx.Row) (*types.Geography, error) {
	var g types.Geography
	var description *string
	err := row.Scan(
		&g.GeographyID,
		&g.Name,
		&description,
		&g.Geometry,
		&g.PublishDate,
		&g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description != nil {
		g.Description = *description
	}
	return &g, nil
}

// Create inserts a new geography. Geometry must already be validated as
// parseable GeoJSON by the caller; this layer stores it verbatim.
func (r *GeographyRepository) Create(ctx context.Context, g *types.Geography) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO geographies (
			geography_id, name, description, geography_json, publish_date, created_at
		) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		g.GeographyID,
		g.Name,
		nilIfEmpty(g.Description),
		g.Geometry,
		g.PublishDate,
		nilIfZeroTime(g.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create geography", err)
	}
	return nil
}

// GetByID retrieves a geography by id.
func (r *GeographyRepository) GetByID(ctx context.Context, id string) (*types.Geography, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+geographyColumns+` FROM geographies g WHERE g.geography_id = $1`, id)

	g, err := scanGeography(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundGeography, "geography not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve geography", err)
	}
	return g, nil
}

// Publish stamps a geography's publish_date, after which its geometry is
// immutable and policies may reference it.
func (r *GeographyRepository) Publish(ctx context.Context, id string, at types.Timestamp) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE geographies SET publish_date = $1
		 WHERE geography_id = $2 AND publish_date IS NULL`,
		at, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to publish geography", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundGeography,
			"geography not found or already published", nil)
	}
	return nil
}

// ListPublished returns every published geography. The engine worker loads
// these once per run to build its spatial index.
func (r *GeographyRepository) ListPublished(ctx context.Context) ([]*types.Geography, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+geographyColumns+`
		 FROM geographies g
		 WHERE g.publish_date IS NOT NULL
		 ORDER BY g.geography_id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list geographies", err)
	}
	defer rows.Close()

	var results []*types.Geography
	for rows.Next() {
		g, scanErr := scanGeography(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan geography row", scanErr)
		}
		results = append(results, g)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating geography rows", err)
	}

	return results, nil
}

// ExistAll reports whether every id resolves to a geography. Used at policy
// publish time to reject rules referencing unknown geofences.
func (r *GeographyRepository) ExistAll(ctx context.Context, ids []string) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(DISTINCT geography_id) FROM geographies WHERE geography_id = ANY($1)`,
		ids,
	).Scan(&count)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check geographies", err)
	}

	distinct := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		distinct[id] = struct{}{}
	}
	return count == len(distinct), nil
}
