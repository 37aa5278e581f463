package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"curbsight/internal/core"
	"curbsight/internal/engine"
	"curbsight/internal/types"
)

// SnapshotStore is the data access contract for compliance snapshot reads.
type SnapshotStore interface {
	GetByID(ctx context.Context, id string) (*types.ComplianceSnapshot, error)
	ListWindow(ctx context.Context, window types.SnapshotWindow, filters types.AggregateFilters) ([]*types.ComplianceSnapshot, error)
}

// ProviderNamer resolves provider display names for aggregate responses.
type ProviderNamer interface {
	GetByID(ctx context.Context, id string) (*types.Provider, error)
}

// EvalTrigger enqueues an on-demand evaluation job, returning its id.
type EvalTrigger interface {
	TriggerEvaluation(ctx context.Context, filters types.AggregateFilters, asOf types.Timestamp, reason string) (string, error)
}

// EvaluateRequest is the request body for POST /v1/compliance/evaluate.
type EvaluateRequest struct {
	AsOf        *types.Timestamp `json:"as_of,omitempty"`
	ProviderIDs []string         `json:"provider_ids,omitempty" validate:"max=50"`
	PolicyIDs   []string         `json:"policy_ids,omitempty" validate:"max=50"`
}

// ComplianceHandler serves snapshot reads, violation-period aggregation,
// and on-demand evaluation triggers.
type ComplianceHandler struct {
	snapshots SnapshotStore
	providers ProviderNamer
	trigger   EvalTrigger
	validator *core.Validator
	logger    *slog.Logger
}

// NewComplianceHandler creates a ComplianceHandler.
func NewComplianceHandler(snapshots SnapshotStore, providers ProviderNamer, trigger EvalTrigger, v *core.Validator, l *slog.Logger) *ComplianceHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ComplianceHandler{
		snapshots: snapshots,
		providers: providers,
		trigger:   trigger,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts compliance routes behind compliance:read; the
// evaluate trigger needs the write-side policies scope since it spends
// worker capacity.
func (h *ComplianceHandler) RegisterRoutes(s *core.Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/compliance", func(r chi.Router) {
			r.With(s.RequireScope("compliance:read")).Get("/snapshots", h.ListSnapshots)
			r.With(s.RequireScope("compliance:read")).Get("/snapshots/{id}", h.GetSnapshot)
			r.With(s.RequireScope("compliance:read")).Get("/violation_periods", h.ViolationPeriods)
			r.With(s.RequireScope("policies:write")).Post("/evaluate", h.Evaluate)
		})
	}
}

// GetSnapshot handles GET /v1/compliance/snapshots/{id}.
func (h *ComplianceHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "snapshot id is required", nil))
		return
	}

	snap, err := h.snapshots.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.authorizeProvider(r, snap.ProviderID); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snap})
}

// ListSnapshots handles GET /v1/compliance/snapshots with start_time,
// end_time, provider_id, and policy_id filters.
func (h *ComplianceHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	window, filters, err := h.queryFilters(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	snaps, err := h.snapshots.ListWindow(r.Context(), window, filters)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snaps})
}

// ViolationPeriods handles GET /v1/compliance/violation_periods. Snapshots
// in the window are grouped per (provider, policy) and folded into maximal
// runs of consecutive violating snapshots. A run still violating at the
// window's edge has a null end_time.
func (h *ComplianceHandler) ViolationPeriods(w http.ResponseWriter, r *http.Request) {
	window, filters, err := h.queryFilters(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	snaps, err := h.snapshots.ListWindow(r.Context(), window, filters)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	aggregates := make([]types.ComplianceAggregate, 0)
	names := make(map[string]string)

	for _, group := range engine.GroupSnapshots(snaps) {
		periods := engine.AggregateViolationPeriods(group)
		if len(periods) == 0 {
			continue
		}

		providerID := group[0].ProviderID
		name, cached := names[providerID]
		if !cached {
			if p, err := h.providers.GetByID(r.Context(), providerID); err == nil {
				name = p.Name
			} else {
				h.logger.WarnContext(r.Context(), "provider name lookup failed",
					"provider_id", providerID,
					"error", err,
				)
			}
			names[providerID] = name
		}

		aggregates = append(aggregates, types.ComplianceAggregate{
			ProviderID:       providerID,
			ProviderName:     name,
			PolicyID:         group[0].PolicyID,
			ViolationPeriods: periods,
		})
	}

	// Map iteration order is random; present aggregates deterministically.
	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].ProviderID != aggregates[j].ProviderID {
			return aggregates[i].ProviderID < aggregates[j].ProviderID
		}
		return aggregates[i].PolicyID < aggregates[j].PolicyID
	})

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: aggregates})
}

// Evaluate handles POST /v1/compliance/evaluate, enqueueing an evaluation
// job for the worker. Returns 202 with the job id; results land as
// snapshots once the worker finishes.
func (h *ComplianceHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	asOf := types.Timestamp(time.Now().UTC().UnixMilli())
	if req.AsOf != nil {
		asOf = *req.AsOf
	}

	filters := types.AggregateFilters{
		ProviderIDs: req.ProviderIDs,
		PolicyIDs:   req.PolicyIDs,
	}

	jobID, err := h.trigger.TriggerEvaluation(r.Context(), filters, asOf, "on_demand")
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue evaluation", err))
		return
	}

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{
		Data: map[string]any{"job_id": jobID, "as_of": asOf},
	})
}

// queryFilters parses the shared window/filter query parameters. Provider
// actors are always pinned to their own provider id regardless of the
// filter they pass.
func (h *ComplianceHandler) queryFilters(r *http.Request) (types.SnapshotWindow, types.AggregateFilters, error) {
	var window types.SnapshotWindow
	var filters types.AggregateFilters

	q := r.URL.Query()
	if v := q.Get("start_time"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return window, filters, types.NewAppError(types.ErrCodeValidationInvalidWindow, "start_time must be an epoch-millisecond timestamp", nil)
		}
		window.Start = types.Timestamp(ms)
	}
	if v := q.Get("end_time"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return window, filters, types.NewAppError(types.ErrCodeValidationInvalidWindow, "end_time must be an epoch-millisecond timestamp", nil)
		}
		window.End = types.Timestamp(ms)
	}
	if window.Start != 0 && window.End != 0 && window.End < window.Start {
		return window, filters, types.NewAppError(types.ErrCodeValidationInvalidWindow, "end_time precedes start_time", nil)
	}

	filters.ProviderIDs = q["provider_id"]
	filters.PolicyIDs = q["policy_id"]

	if actor, ok := types.GetActor(r.Context()); ok && actor.Type == types.ActorTypeProvider {
		filters.ProviderIDs = []string{actor.ProviderID}
	}

	return window, filters, nil
}

// authorizeProvider rejects provider actors reading another provider's
// snapshot.
func (h *ComplianceHandler) authorizeProvider(r *http.Request, providerID string) error {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		return types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil)
	}
	if actor.Type == types.ActorTypeProvider && actor.ProviderID != providerID {
		return types.NewAppError(types.ErrCodePermissionProviderMismatch, "Token is not authorized for this provider", nil)
	}
	return nil
}
