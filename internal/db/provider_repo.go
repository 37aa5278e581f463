package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"curbsight/internal/types"
)

// ProviderRepository provides data access for the providers table.
type ProviderRepository struct {
	db DBTX
}

// NewProviderRepository creates a new ProviderRepository.
func NewProviderRepository(db DBTX) *ProviderRepository {
	return &ProviderRepository{db: db}
}

const providerColumns = `p.provider_id, p.provider_name, p.mds_api_url,
	p.color_hex, p.status, p.billing_email, p.stripe_customer_id,
	p.created_at, p.updated_at`

func scanProvider(row pgx.Row) (*types.Provider, error) {
	var p types.Provider
	var (
		mdsURL       *string
		colorHex     *string
		billingEmail *string
		stripeID     *string
	)
	err := row.Scan(
		&p.ProviderID,
		&p.Name,
		&mdsURL,
		&colorHex,
		&p.Status,
		&billingEmail,
		&stripeID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if mdsURL != nil {
		p.MDSAPIURL = *mdsURL
	}
	if colorHex != nil {
		p.ColorHex = *colorHex
	}
	if billingEmail != nil {
		p.BillingEmail = *billingEmail
	}
	if stripeID != nil {
		p.StripeID = *stripeID
	}
	return &p, nil
}

// Upsert inserts or refreshes a provider record. The registry sync job
// feeds this; manual registration uses it too, so conflicts update the
// mutable fields rather than fail.
func (r *ProviderRepository) Upsert(ctx context.Context, p *types.Provider) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO providers (
			provider_id, provider_name, mds_api_url, color_hex,
			status, billing_email, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (provider_id) DO UPDATE SET
			provider_name = EXCLUDED.provider_name,
			mds_api_url = EXCLUDED.mds_api_url,
			color_hex = EXCLUDED.color_hex,
			updated_at = NOW()`,
		p.ProviderID,
		p.Name,
		nilIfEmpty(p.MDSAPIURL),
		nilIfEmpty(p.ColorHex),
		p.Status,
		nilIfEmpty(p.BillingEmail),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert provider", err)
	}
	return nil
}

// GetByID retrieves a provider by id.
func (r *ProviderRepository) GetByID(ctx context.Context, id string) (*types.Provider, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM providers p WHERE p.provider_id = $1`, id)

	p, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundProvider, "provider not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve provider", err)
	}
	return p, nil
}

// ListActive returns every provider whose fleet is evaluated.
func (r *ProviderRepository) ListActive(ctx context.Context) ([]*types.Provider, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+providerColumns+`
		 FROM providers p
		 WHERE p.status = 'active'
		 ORDER BY p.provider_name`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list providers", err)
	}
	defer rows.Close()

	var results []*types.Provider
	for rows.Next() {
		p, scanErr := scanProvider(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan provider row", scanErr)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating provider rows", err)
	}

	return results, nil
}

// SetStatus transitions a provider between registered/active/suspended.
func (r *ProviderRepository) SetStatus(ctx context.Context, id string, status types.ProviderStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE providers SET status = $1, updated_at = NOW() WHERE provider_id = $2`,
		status, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update provider status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProvider, "provider not found", nil)
	}
	return nil
}

// SetStripeCustomer records the Stripe customer id created for the
// provider's fee invoicing.
func (r *ProviderRepository) SetStripeCustomer(ctx context.Context, id, stripeCustomerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE providers SET stripe_customer_id = $1, updated_at = NOW() WHERE provider_id = $2`,
		stripeCustomerID, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set stripe customer", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProvider, "provider not found", nil)
	}
	return nil
}
