package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"curbsight/internal/core"
	"curbsight/internal/geo"
	"curbsight/internal/types"
)

// GeographyStore is the data access contract for geography operations.
type GeographyStore interface {
	Create(ctx context.Context, g *types.Geography) error
	GetByID(ctx context.Context, id string) (*types.Geography, error)
	Publish(ctx context.Context, id string, at types.Timestamp) error
	ListPublished(ctx context.Context) ([]*types.Geography, error)
}

// CreateGeographyRequest is the request body for POST /v1/geographies.
type CreateGeographyRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description,omitempty" validate:"max=2000"`
	Geometry    json.RawMessage `json:"geography_json" validate:"required"`
}

// GeographyHandler manages geofence definitions. Geometry is validated at
// creation so only parseable Polygons and MultiPolygons ever reach the
// evaluation engine.
type GeographyHandler struct {
	geographies GeographyStore
	validator   *core.Validator
	logger      *slog.Logger
}

// NewGeographyHandler creates a GeographyHandler.
func NewGeographyHandler(geographies GeographyStore, v *core.Validator, l *slog.Logger) *GeographyHandler {
	if l == nil {
		l = slog.Default()
	}
	return &GeographyHandler{geographies: geographies, validator: v, logger: l}
}

// RegisterRoutes mounts geography routes.
func (h *GeographyHandler) RegisterRoutes(s *core.Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/geographies", func(r chi.Router) {
			r.With(s.RequireScope("geographies:write")).Post("/", h.Create)
			r.With(s.RequireScope("geographies:read")).Get("/", h.List)
			r.With(s.RequireScope("geographies:read")).Get("/{id}", h.Get)
			r.With(s.RequireScope("geographies:write")).Post("/{id}/publish", h.Publish)
		})
	}
}

// Create handles POST /v1/geographies. The geometry must parse as a GeoJSON
// Polygon, MultiPolygon, or a Feature wrapping one.
func (h *GeographyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateGeographyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if _, err := geo.ParseGeometry(req.Geometry); err != nil {
		core.Error(w, r, err)
		return
	}

	g := &types.Geography{
		GeographyID: "geo_" + uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Geometry:    req.Geometry,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.geographies.Create(r.Context(), g); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: g})
}

// Get handles GET /v1/geographies/{id}.
func (h *GeographyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "geography id is required", nil))
		return
	}

	g, err := h.geographies.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: g})
}

// List handles GET /v1/geographies, returning published geographies only.
func (h *GeographyHandler) List(w http.ResponseWriter, r *http.Request) {
	geographies, err := h.geographies.ListPublished(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: geographies})
}

// Publish handles POST /v1/geographies/{id}/publish. Publication is
// one-way; republishing an already-published geography is a conflict the
// repository reports.
func (h *GeographyHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "geography id is required", nil))
		return
	}

	now := types.Timestamp(time.Now().UTC().UnixMilli())
	if err := h.geographies.Publish(r.Context(), id, now); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "geography published", "geography_id", id)

	g, err := h.geographies.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: g})
}
