package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"curbsight/internal/auth"
	"curbsight/internal/core"
	"curbsight/internal/types"
)

// TokenStore is the data access contract for API token management.
type TokenStore interface {
	Create(ctx context.Context, t *types.APIToken) error
	ListByProvider(ctx context.Context, providerID string) ([]*types.APIToken, error)
	Revoke(ctx context.Context, id string, providerID string) error
}

// CreateTokenRequest is the request body for token issuance.
type CreateTokenRequest struct {
	Name      string     `json:"name" validate:"required,max=100"`
	Scopes    []string   `json:"scopes" validate:"required,min=1,dive,token_scope"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreatedToken is the one-time issuance response. Token carries the
// plaintext credential; it is never retrievable again.
type CreatedToken struct {
	*types.APIToken
	Token string `json:"token"`
}

// TokenHandler issues and revokes provider API tokens. Issuance is an
// agency operation: providers receive their credential out of band.
type TokenHandler struct {
	tokens     TokenStore
	bcryptCost int
	validator  *core.Validator
	logger     *slog.Logger
}

// NewTokenHandler creates a TokenHandler. bcryptCost comes from
// AuthConfig.BcryptCost.
func NewTokenHandler(tokens TokenStore, bcryptCost int, v *core.Validator, l *slog.Logger) *TokenHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TokenHandler{tokens: tokens, bcryptCost: bcryptCost, validator: v, logger: l}
}

// RegisterRoutes mounts token routes. All of them are agency-only, gated
// on the providers:read scope plus agency actor checks inside.
func (h *TokenHandler) RegisterRoutes(s *core.Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/providers/{providerID}/tokens", func(r chi.Router) {
			r.Post("/", h.Create)
			r.Get("/", h.List)
			r.Delete("/{tokenID}", h.Revoke)
		})
	}
}

// Create handles POST /v1/providers/{providerID}/tokens. The plaintext
// token appears exactly once, in this response.
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := requireAgency(r); err != nil {
		core.Error(w, r, err)
		return
	}
	providerID := chi.URLParam(r, "providerID")

	var req CreateTokenRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "expires_at must be in the future", nil))
		return
	}

	plaintext, prefix, err := auth.GenerateToken()
	if err != nil {
		core.Error(w, r, err)
		return
	}
	hash, err := auth.HashToken(plaintext, h.bcryptCost)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	token := &types.APIToken{
		ID:          "tok_" + uuid.NewString(),
		ProviderID:  providerID,
		TokenPrefix: prefix,
		TokenHash:   hash,
		Name:        req.Name,
		Scopes:      req.Scopes,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.tokens.Create(r.Context(), token); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "api token issued",
		"token_id", token.ID,
		"provider_id", providerID,
		"scopes", req.Scopes,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{
		Data: CreatedToken{APIToken: token, Token: plaintext},
	})
}

// List handles GET /v1/providers/{providerID}/tokens. Hashes never leave
// the database; the response carries prefixes and metadata only.
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	if err := requireAgency(r); err != nil {
		core.Error(w, r, err)
		return
	}
	providerID := chi.URLParam(r, "providerID")

	tokens, err := h.tokens.ListByProvider(r.Context(), providerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: tokens})
}

// Revoke handles DELETE /v1/providers/{providerID}/tokens/{tokenID}.
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := requireAgency(r); err != nil {
		core.Error(w, r, err)
		return
	}
	providerID := chi.URLParam(r, "providerID")
	tokenID := chi.URLParam(r, "tokenID")

	if err := h.tokens.Revoke(r.Context(), tokenID, providerID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "api token revoked",
		"token_id", tokenID,
		"provider_id", providerID,
	)

	w.WriteHeader(http.StatusNoContent)
}

// requireAgency restricts an endpoint to agency and system actors.
func requireAgency(r *http.Request) error {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		return types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil)
	}
	if actor.Type == types.ActorTypeProvider {
		return types.NewAppError(types.ErrCodePermissionScope, "agency credentials required", nil)
	}
	return nil
}
