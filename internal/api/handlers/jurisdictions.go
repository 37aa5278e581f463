package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"curbsight/internal/core"
	"curbsight/internal/types"
)

// JurisdictionStore is the data access contract for jurisdictions.
type JurisdictionStore interface {
	Create(ctx context.Context, j *types.Jurisdiction) error
	GetByID(ctx context.Context, id string) (*types.Jurisdiction, error)
	List(ctx context.Context) ([]*types.Jurisdiction, error)
	Delete(ctx context.Context, id string) error
}

// CreateJurisdictionRequest is the request body for jurisdiction creation.
type CreateJurisdictionRequest struct {
	AgencyKey   string `json:"agency_key" validate:"required,max=100"`
	AgencyName  string `json:"agency_name" validate:"required,max=200"`
	GeographyID string `json:"geography_id" validate:"required"`
}

// JurisdictionHandler manages operating areas.
type JurisdictionHandler struct {
	jurisdictions JurisdictionStore
	geographies   GeographyChecker
	validator     *core.Validator
	logger        *slog.Logger
}

// NewJurisdictionHandler creates a JurisdictionHandler.
func NewJurisdictionHandler(jurisdictions JurisdictionStore, geographies GeographyChecker, v *core.Validator, l *slog.Logger) *JurisdictionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &JurisdictionHandler{
		jurisdictions: jurisdictions,
		geographies:   geographies,
		validator:     v,
		logger:        l,
	}
}

// RegisterRoutes mounts jurisdiction routes. Writes are agency operations.
func (h *JurisdictionHandler) RegisterRoutes(s *core.Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/jurisdictions", func(r chi.Router) {
			r.With(s.RequireScope("geographies:write")).Post("/", h.Create)
			r.With(s.RequireScope("geographies:read")).Get("/", h.List)
			r.With(s.RequireScope("geographies:read")).Get("/{id}", h.Get)
			r.With(s.RequireScope("geographies:write")).Delete("/{id}", h.Delete)
		})
	}
}

// Create handles POST /v1/jurisdictions. The boundary geography must be
// published first.
func (h *JurisdictionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateJurisdictionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	ok, err := h.geographies.ExistAll(r.Context(), []string{req.GeographyID})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundGeography,
			"boundary geography is unpublished or unknown",
			nil,
			map[string]any{"geography_id": req.GeographyID},
		))
		return
	}

	now := time.Now().UTC()
	j := &types.Jurisdiction{
		JurisdictionID: "jur_" + uuid.NewString(),
		AgencyKey:      req.AgencyKey,
		AgencyName:     req.AgencyName,
		GeographyID:    req.GeographyID,
		Timestamp:      types.Timestamp(now.UnixMilli()),
		CreatedAt:      now,
	}

	if err := h.jurisdictions.Create(r.Context(), j); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: j})
}

// Get handles GET /v1/jurisdictions/{id}.
func (h *JurisdictionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "jurisdiction id is required", nil))
		return
	}

	j, err := h.jurisdictions.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: j})
}

// List handles GET /v1/jurisdictions.
func (h *JurisdictionHandler) List(w http.ResponseWriter, r *http.Request) {
	jurisdictions, err := h.jurisdictions.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: jurisdictions})
}

// Delete handles DELETE /v1/jurisdictions/{id} (soft delete).
func (h *JurisdictionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "jurisdiction id is required", nil))
		return
	}

	if err := h.jurisdictions.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
