package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"curbsight/internal/types"
)

// TokenRepository provides data access for the api_tokens table. Only the
// bcrypt hash is stored; lookups go through the short prefix so the hash
// comparison runs against a handful of candidates at most.
type TokenRepository struct {
	db DBTX
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

const tokenColumns = `t.id, t.provider_id, t.token_prefix, t.token_hash,
	t.name, t.scopes, t.expires_at, t.revoked_at, t.created_at`

func scanToken(row pgx.Row) (*types.APIToken, error) {
	var t types.APIToken
	err := row.Scan(
		&t.ID,
		&t.ProviderID,
		&t.TokenPrefix,
		&t.TokenHash,
		&t.Name,
		&t.Scopes,
		&t.ExpiresAt,
		&t.RevokedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new API token record.
func (r *TokenRepository) Create(ctx context.Context, t *types.APIToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_tokens (
			id, provider_id, token_prefix, token_hash, name, scopes,
			expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		t.ID,
		t.ProviderID,
		t.TokenPrefix,
		t.TokenHash,
		t.Name,
		t.Scopes,
		t.ExpiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create api token", err)
	}
	return nil
}

// GetByPrefix returns the unrevoked tokens sharing a prefix. The caller
// bcrypt-compares the presented token against each candidate.
func (r *TokenRepository) GetByPrefix(ctx context.Context, prefix string) ([]*types.APIToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tokenColumns+`
		 FROM api_tokens t
		 WHERE t.token_prefix = $1 AND t.revoked_at IS NULL`,
		prefix,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up api tokens", err)
	}
	defer rows.Close()

	var results []*types.APIToken
	for rows.Next() {
		t, scanErr := scanToken(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan api token row", scanErr)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating api token rows", err)
	}

	return results, nil
}

// ListByProvider returns a provider's tokens, revoked ones included, newest
// first.
func (r *TokenRepository) ListByProvider(ctx context.Context, providerID string) ([]*types.APIToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tokenColumns+`
		 FROM api_tokens t
		 WHERE t.provider_id = $1
		 ORDER BY t.created_at DESC`,
		providerID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list api tokens", err)
	}
	defer rows.Close()

	var results []*types.APIToken
	for rows.Next() {
		t, scanErr := scanToken(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan api token row", scanErr)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating api token rows", err)
	}

	return results, nil
}

// Revoke soft-deletes a token. Revocation is immediate and permanent.
func (r *TokenRepository) Revoke(ctx context.Context, id string, providerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_tokens SET revoked_at = NOW()
		 WHERE id = $1 AND provider_id = $2 AND revoked_at IS NULL`,
		id, providerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to revoke api token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeAuthTokenRevoked, "token not found or already revoked", nil)
	}
	return nil
}
