// Package handlers contains the HTTP handler implementations for the
// CurbSight API. Each handler depends on narrow, locally-defined repository
// interfaces so tests can inject fakes without touching the database layer.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"curbsight/internal/core"
	"curbsight/internal/db"
	"curbsight/internal/types"
)

// PolicyStore is the data access contract for policy operations.
type PolicyStore interface {
	Create(ctx context.Context, p *types.Policy) error
	GetByID(ctx context.Context, id string) (*types.Policy, error)
	Update(ctx context.Context, p *types.Policy) error
	Publish(ctx context.Context, id string, at types.Timestamp) error
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context, params db.ListPoliciesParams) ([]*types.Policy, types.PageInfo, error)
	GetBatch(ctx context.Context, ids []string) ([]*types.Policy, error)
}

// GeographyChecker verifies that every referenced geography exists and is
// published before a policy can go live.
type GeographyChecker interface {
	ExistAll(ctx context.Context, ids []string) (bool, error)
}

// CreatePolicyRequest is the request body for POST /v1/policies.
type CreatePolicyRequest struct {
	Name         string           `json:"name" validate:"required,max=200"`
	Description  string           `json:"description,omitempty" validate:"max=2000"`
	StartDate    types.Timestamp  `json:"start_date" validate:"required"`
	EndDate      *types.Timestamp `json:"end_date,omitempty"`
	Rules        []types.Rule     `json:"rules" validate:"required,min=1,max=50"`
	ProviderIDs  []string         `json:"provider_ids,omitempty"`
	PrevPolicies []string         `json:"prev_policies,omitempty"`
}

// UpdatePolicyRequest is the request body for PATCH /v1/policies/{id}.
// Pointer fields allow partial updates; only draft policies accept them.
type UpdatePolicyRequest struct {
	Name         *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Description  *string          `json:"description,omitempty" validate:"omitempty,max=2000"`
	StartDate    *types.Timestamp `json:"start_date,omitempty"`
	EndDate      *types.Timestamp `json:"end_date,omitempty"`
	Rules        *[]types.Rule    `json:"rules,omitempty" validate:"omitempty,min=1,max=50"`
	ProviderIDs  *[]string        `json:"provider_ids,omitempty"`
	PrevPolicies *[]string        `json:"prev_policies,omitempty"`
}

// PolicyHandler manages the policy lifecycle: draft, edit, publish,
// deactivate.
type PolicyHandler struct {
	policies    PolicyStore
	geographies GeographyChecker
	validator   *core.Validator
	logger      *slog.Logger
}

// NewPolicyHandler creates a PolicyHandler with the provided dependencies.
func NewPolicyHandler(policies PolicyStore, geographies GeographyChecker, v *core.Validator, l *slog.Logger) *PolicyHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PolicyHandler{
		policies:    policies,
		geographies: geographies,
		validator:   v,
		logger:      l,
	}
}

// RegisterRoutes mounts policy routes. Reads need policies:read; writes are
// agency operations behind policies:write.
func (h *PolicyHandler) RegisterRoutes(s *core.Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/policies", func(r chi.Router) {
			r.With(s.RequireScope("policies:write")).Post("/", h.Create)
			r.With(s.RequireScope("policies:read")).Get("/", h.List)

			r.Route("/{id}", func(r chi.Router) {
				r.With(s.RequireScope("policies:read")).Get("/", h.Get)
				r.With(s.RequireScope("policies:write")).Patch("/", h.Update)
				r.With(s.RequireScope("policies:write")).Post("/publish", h.Publish)
				r.With(s.RequireScope("policies:write")).Post("/deactivate", h.Deactivate)
			})
		})
	}
}

// Create handles POST /v1/policies. New policies always start as drafts;
// structural rule checks run here so bad drafts are caught early, but the
// geography existence check is deferred to publish.
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	p := &types.Policy{
		PolicyID:     "policy_" + uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Rules:        types.Rules(req.Rules),
		ProviderIDs:  req.ProviderIDs,
		PrevPolicies: req.PrevPolicies,
		Status:       types.PolicyStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.validatePolicy(p); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.policies.Create(r.Context(), p); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: p})
}

// Get handles GET /v1/policies/{id}.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "policy id is required", nil))
		return
	}

	p, err := h.policies.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}

// List handles GET /v1/policies with status, active_at, and cursor filters.
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	params := db.ListPoliciesParams{Limit: 20}

	q := r.URL.Query()
	for _, s := range q["status"] {
		switch status := types.PolicyStatus(s); status {
		case types.PolicyStatusDraft, types.PolicyStatusPublished, types.PolicyStatusDeactivated:
			params.Status = append(params.Status, status)
		default:
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "unknown policy status filter: "+s, nil))
			return
		}
	}

	if v := q.Get("active_at"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "active_at must be an epoch-millisecond timestamp", nil))
			return
		}
		ts := types.Timestamp(ms)
		params.ActiveAt = &ts
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "limit must be a number between 1 and 100", nil))
			return
		}
		params.Limit = limit
	}
	params.Cursor = q.Get("cursor")

	policies, pageInfo, err := h.policies.List(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: policies,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// Update handles PATCH /v1/policies/{id}. The repository enforces the
// draft-only guard; published policies come back as a conflict.
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "policy id is required", nil))
		return
	}

	var req UpdatePolicyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	p, err := h.policies.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if p.Status != types.PolicyStatusDraft {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeConflictPolicyPublished,
			"only draft policies can be edited",
			nil,
		))
		return
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.StartDate != nil {
		p.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		p.EndDate = req.EndDate
	}
	if req.Rules != nil {
		p.Rules = types.Rules(*req.Rules)
	}
	if req.ProviderIDs != nil {
		p.ProviderIDs = *req.ProviderIDs
	}
	if req.PrevPolicies != nil {
		p.PrevPolicies = *req.PrevPolicies
	}

	if err := h.validatePolicy(p); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.policies.Update(r.Context(), p); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}

// Publish handles POST /v1/policies/{id}/publish. Publication is the strict
// gate: structural checks, geography existence, and supersession cycle
// detection all run here, and a published policy is immutable afterwards.
func (h *PolicyHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "policy id is required", nil))
		return
	}

	p, err := h.policies.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validatePolicy(p); err != nil {
		core.Error(w, r, err)
		return
	}

	// Every geography a rule references must be published before the
	// policy can take effect.
	geoIDs := collectGeographyIDs(p.Rules)
	ok, err := h.geographies.ExistAll(r.Context(), geoIDs)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundGeography,
			"policy references unpublished or unknown geographies",
			nil,
			map[string]any{"geography_ids": geoIDs},
		))
		return
	}

	if err := h.checkSupersessionCycle(r.Context(), p); err != nil {
		core.Error(w, r, err)
		return
	}

	now := types.Timestamp(time.Now().UTC().UnixMilli())
	if err := h.policies.Publish(r.Context(), id, now); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "policy published",
		"policy_id", id,
		"rules", len(p.Rules),
		"supersedes", p.PrevPolicies,
	)

	p, err = h.policies.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: p})
}

// Deactivate handles POST /v1/policies/{id}/deactivate.
func (h *PolicyHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "policy id is required", nil))
		return
	}

	if err := h.policies.Deactivate(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "policy deactivated", "policy_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// validatePolicy applies the structural checks shared by create, update,
// and publish.
func (h *PolicyHandler) validatePolicy(p *types.Policy) error {
	if err := types.ValidatePolicyDates(p); err != nil {
		return types.NewAppError(types.ErrCodeValidationPolicyDates, err.Error(), nil)
	}
	for i := range p.Rules {
		if err := types.ValidateRule(&p.Rules[i]); err != nil {
			return types.NewAppError(types.ErrCodeValidationInvalidRule, err.Error(), nil)
		}
	}
	return nil
}

// checkSupersessionCycle loads the policies reachable through prev_policies
// and rejects publication when the references form a cycle. Supersession is
// a one-level set difference at evaluation time, so a cycle would not break
// the engine, but it is a data fault that must not enter the system.
func (h *PolicyHandler) checkSupersessionCycle(ctx context.Context, p *types.Policy) error {
	if len(p.PrevPolicies) == 0 {
		return nil
	}

	prev, err := h.policies.GetBatch(ctx, p.PrevPolicies)
	if err != nil {
		return err
	}

	graph := append([]*types.Policy{p}, prev...)
	if types.DetectPrevPolicyCycle(graph) {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationPrevPolicyCycle,
			"prev_policies references form a cycle",
			nil,
			map[string]any{"policy_id": p.PolicyID, "prev_policies": p.PrevPolicies},
		)
	}
	return nil
}

// collectGeographyIDs returns the distinct geography ids referenced by the
// rule list, in first-seen order.
func collectGeographyIDs(rules types.Rules) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rule := range rules {
		for _, id := range rule.GeographyIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
