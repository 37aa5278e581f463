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

// TelemetryStore is the data access contract for device and event ingest.
type TelemetryStore interface {
	RegisterDevice(ctx context.Context, d *types.Device) error
	GetDevice(ctx context.Context, deviceID string) (*types.Device, error)
	DeviceMapByProvider(ctx context.Context, providerID string) (map[string]*types.Device, error)
	InsertEvents(ctx context.Context, events []types.VehicleEvent) error
	InsertTelemetry(ctx context.Context, providerID string, samples []types.Telemetry) error
}

// RegisterDeviceRequest is the request body for device registration.
type RegisterDeviceRequest struct {
	DeviceID   string                 `json:"device_id" validate:"required,max=64"`
	VehicleID  string                 `json:"vehicle_id" validate:"required,max=64"`
	Type       types.VehicleType      `json:"vehicle_type" validate:"required,vehicle_type"`
	Propulsion []types.PropulsionType `json:"propulsion_types" validate:"required,min=1"`
}

// EventBatchRequest is the request body for event ingest. Providers submit
// batches; a batch over types.MaxEventBatch is rejected whole.
type EventBatchRequest struct {
	Events []types.VehicleEvent `json:"events" validate:"required,min=1"`
}

// TelemetryBatchRequest is the request body for telemetry ingest.
type TelemetryBatchRequest struct {
	Telemetry []types.Telemetry `json:"telemetry" validate:"required,min=1"`
}

// IngestHandler accepts the provider-facing write surface: device
// registration, vehicle events, and raw telemetry.
type IngestHandler struct {
	telemetry TelemetryStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewIngestHandler creates an IngestHandler.
func NewIngestHandler(telemetry TelemetryStore, v *core.Validator, l *slog.Logger) *IngestHandler {
	if l == nil {
		l = slog.Default()
	}
	return &IngestHandler{telemetry: telemetry, validator: v, logger: l}
}

// RegisterRoutes mounts the ingest routes under the provider scope. All of
// them require events:write and a token bound to the URL provider.
func (h *IngestHandler) RegisterRoutes(s *core.Server) func(chi.Router) {
	return func(r chi.Router) {
		r.Route("/providers/{providerID}", func(r chi.Router) {
			r.Use(s.RequireProviderAccess)
			r.With(s.RequireScope("events:write")).Post("/devices", h.RegisterDevice)
			r.With(s.RequireScope("events:write")).Post("/events", h.IngestEvents)
			r.With(s.RequireScope("events:write")).Post("/telemetry", h.IngestTelemetry)
		})
	}
}

// RegisterDevice handles POST /v1/providers/{providerID}/devices.
func (h *IngestHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	var req RegisterDeviceRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	d := &types.Device{
		DeviceID:   req.DeviceID,
		ProviderID: providerID,
		VehicleID:  req.VehicleID,
		Type:       req.Type,
		Propulsion: req.Propulsion,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.telemetry.RegisterDevice(r.Context(), d); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: d})
}

// IngestEvents handles POST /v1/providers/{providerID}/events.
//
// The whole batch is validated before any row is written: size cap,
// GPS coordinate ranges, and device registration. Events for unregistered
// devices reject the batch with the offending ids so providers can fix
// their submission rather than silently losing rows.
func (h *IngestHandler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	var req EventBatchRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.Events) > types.MaxEventBatch {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchSize,
			"event batch exceeds the maximum size",
			nil,
			map[string]any{"max": types.MaxEventBatch, "received": len(req.Events)},
		))
		return
	}

	devices, err := h.telemetry.DeviceMapByProvider(r.Context(), providerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	received := types.Timestamp(time.Now().UTC().UnixMilli())
	var unknown []string
	seen := make(map[string]struct{})
	for i := range req.Events {
		ev := &req.Events[i]
		ev.ProviderID = providerID
		if ev.RecordedAt == 0 {
			ev.RecordedAt = received
		}

		if _, registered := devices[ev.DeviceID]; !registered {
			if _, dup := seen[ev.DeviceID]; !dup {
				seen[ev.DeviceID] = struct{}{}
				unknown = append(unknown, ev.DeviceID)
			}
			continue
		}

		if gps := eventGPS(ev); gps != nil {
			if gps.Lat < types.MinLat || gps.Lat > types.MaxLat || gps.Lng < types.MinLng || gps.Lng > types.MaxLng {
				core.Error(w, r, types.NewAppErrorWithDetails(
					types.ErrCodeValidationMissingField,
					"event telemetry has out-of-range coordinates",
					nil,
					map[string]any{"device_id": ev.DeviceID, "lat": gps.Lat, "lng": gps.Lng},
				))
				return
			}
		}
	}
	if len(unknown) > 0 {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundDevice,
			"batch references unregistered devices",
			nil,
			map[string]any{"device_ids": unknown},
		))
		return
	}

	if err := h.telemetry.InsertEvents(r.Context(), req.Events); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "events ingested",
		"provider_id", providerID,
		"count", len(req.Events),
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{
		Data: map[string]any{"accepted": len(req.Events)},
	})
}

// IngestTelemetry handles POST /v1/providers/{providerID}/telemetry.
func (h *IngestHandler) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")

	var req TelemetryBatchRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.Telemetry) > types.MaxEventBatch {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchSize,
			"telemetry batch exceeds the maximum size",
			nil,
			map[string]any{"max": types.MaxEventBatch, "received": len(req.Telemetry)},
		))
		return
	}

	if err := h.telemetry.InsertTelemetry(r.Context(), providerID, req.Telemetry); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{
		Data: map[string]any{"accepted": len(req.Telemetry)},
	})
}

// eventGPS returns the event's GPS fix, or nil when the event carries no
// telemetry or no fix.
func eventGPS(ev *types.VehicleEvent) *types.GPS {
	if ev.Telemetry == nil {
		return nil
	}
	return ev.Telemetry.GPS
}
