package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"curbsight/internal/core"
	"curbsight/internal/types"
)

// ProviderStore is the data access contract for provider operations.
type ProviderStore interface {
	GetByID(ctx context.Context, id string) (*types.Provider, error)
	ListActive(ctx context.Context) ([]*types.Provider, error)
	SetStatus(ctx context.Context, id string, status types.ProviderStatus) error
}

// StatsStore serves the per-provider daily rollups.
type StatsStore interface {
	ListRange(ctx context.Context, providerID string, from, to time.Time) ([]*types.DailyStat, error)
}

// SetProviderStatusRequest is the request body for provider status changes.
type SetProviderStatusRequest struct {
	Status types.ProviderStatus `json:"status" validate:"required,oneof=registered active suspended"`
}

// ProviderHandler serves the provider directory and per-provider stats.
// Provider records themselves are synced from the upstream MDS registry,
// so there is no create endpoint; the agency only flips status.
type ProviderHandler struct {
	providers ProviderStore
	stats     StatsStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewProviderHandler creates a ProviderHandler.
func NewProviderHandler(providers ProviderStore, stats StatsStore, v *core.Validator, l *slog.Logger) *ProviderHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ProviderHandler{providers: providers, stats: stats, validator: v, logger: l}
}

// RegisterRoutes mounts provider routes.
func (h *ProviderHandler) RegisterRoutes(s *core.Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/providers", func(r chi.Router) {
			r.With(s.RequireScope("providers:read")).Get("/", h.List)

			r.Route("/{providerID}", func(r chi.Router) {
				r.Use(s.RequireProviderAccess)
				r.With(s.RequireScope("providers:read")).Get("/", h.Get)
				r.With(s.RequireScope("providers:read")).Get("/stats", h.Stats)
				r.With(s.RequireScope("policies:write")).Put("/status", h.SetStatus)
			})
		})
	}
}

// List handles GET /v1/providers.
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	providers, err := h.providers.ListActive(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: providers})
}

// Get handles GET /v1/providers/{providerID}.
func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "providerID")

	p, err := h.providers.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}

// Stats handles GET /v1/providers/{providerID}/stats. Defaults to the
// trailing 30 days when no range is given.
func (h *ProviderHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "providerID")

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "from must be a YYYY-MM-DD date", nil))
			return
		}
		from = parsed
	}
	if v := q.Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "to must be a YYYY-MM-DD date", nil))
			return
		}
		to = parsed
	}

	stats, err := h.stats.ListRange(r.Context(), id, from, to)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stats})
}

// SetStatus handles PUT /v1/providers/{providerID}/status, an agency-only
// operation (suspension stops a provider's evaluation and ingest).
func (h *ProviderHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "providerID")

	var req SetProviderStatusRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.providers.SetStatus(r.Context(), id, req.Status); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "provider status changed",
		"provider_id", id,
		"status", string(req.Status),
	)

	p, err := h.providers.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}
