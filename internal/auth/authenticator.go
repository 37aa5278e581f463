package auth

import (
	"context"
	"time"

	"curbsight/internal/types"
)

// TokenStore is the subset of the token repository the authenticator needs.
type TokenStore interface {
	GetByPrefix(ctx context.Context, prefix string) ([]*types.APIToken, error)
}

// Authenticator resolves presented bearer tokens to Actors. The admin key
// short-circuits to an agency actor; everything else is a provider token
// verified against its bcrypt hash.
type Authenticator struct {
	tokens   TokenStore
	adminKey types.SecretString
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator over the given token store.
func NewAuthenticator(tokens TokenStore, adminKey types.SecretString) *Authenticator {
	return &Authenticator{
		tokens:   tokens,
		adminKey: adminKey,
		now:      time.Now,
	}
}

// Authenticate resolves a bearer token to an Actor. Errors are AppErrors
// with auth_* codes so the API layer maps them to 401 responses.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (types.Actor, error) {
	if token == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing bearer token", nil)
	}

	if a.adminKey.IsSet() && token == a.adminKey.Reveal() {
		return types.Actor{ID: "agency-admin", Type: types.ActorTypeAgency}, nil
	}

	prefix := Prefix(token)
	if prefix == "" {
		return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed bearer token", nil)
	}

	candidates, err := a.tokens.GetByPrefix(ctx, prefix)
	if err != nil {
		return types.Actor{}, err
	}

	for _, t := range candidates {
		if !VerifyToken(t.TokenHash, token) {
			continue
		}
		if t.ExpiresAt != nil && a.now().After(*t.ExpiresAt) {
			return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenExpired, "token expired", nil)
		}
		return types.Actor{
			ID:         t.ID,
			Type:       types.ActorTypeProvider,
			ProviderID: t.ProviderID,
			Scopes:     t.Scopes,
		}, nil
	}

	return types.Actor{}, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown bearer token", nil)
}
