package coordination

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/waddlebot/router/internal/auth"
	"github.com/waddlebot/router/internal/httpserver"
)

// ClaimRequest is the JSON body for POST /router/coordination/claim.
type ClaimRequest struct {
	ContainerID string `json:"container_id" validate:"required,max=128"`
	Platform    string `json:"platform" validate:"required,max=32"`
	MaxClaims   int    `json:"max_claims" validate:"gte=1,lte=500"`
}

// ReleaseRequest is the JSON body for release and release-offline.
type ReleaseRequest struct {
	ContainerID string   `json:"container_id" validate:"required,max=128"`
	Platform    string   `json:"platform" validate:"max=32"`
	EntityIDs   []string `json:"entity_ids"`
}

// CheckinRequest is the JSON body for checkin and heartbeat.
type CheckinRequest struct {
	ContainerID string `json:"container_id" validate:"required,max=128"`
}

// StatusRequest is the JSON body for POST /router/coordination/status.
type StatusRequest struct {
	ContainerID string          `json:"container_id" validate:"required,max=128"`
	EntityID    string          `json:"entity_id" validate:"required"`
	IsLive      *bool           `json:"is_live"`
	ViewerCount *int            `json:"viewer_count" validate:"omitempty,gte=0"`
	Metadata    json.RawMessage `json:"metadata"`
	HasActivity bool            `json:"has_activity"`
}

// ErrorRequest is the JSON body for POST /router/coordination/error.
type ErrorRequest struct {
	ContainerID string `json:"container_id" validate:"required,max=128"`
	Platform    string `json:"platform" validate:"max=32"`
	EntityID    string `json:"entity_id" validate:"required"`
	Message     string `json:"message" validate:"required,max=2048"`
}

// PopulateRequest is the JSON body for POST /router/coordination/populate.
type PopulateRequest struct {
	ContainerID string `json:"container_id" validate:"required,max=128"`
	Platform    string `json:"platform" validate:"required,max=32"`
}

// Handler serves the coordination API used by collector containers.
type Handler struct {
	store   *Store
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a coordination Handler.
func NewHandler(store *Store, manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{store: store, manager: manager, logger: logger}
}

// Routes returns a chi.Router with the coordination routes mounted. The whole
// surface is collector-only; claims from any other account type are rejected.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAccountType(auth.TypeCollector))
	r.Post("/claim", h.handleClaim)
	r.Post("/release", h.handleRelease)
	r.Post("/checkin", h.handleCheckin)
	r.Post("/heartbeat", h.handleHeartbeat)
	r.Post("/status", h.handleStatus)
	r.Post("/error", h.handleError)
	r.Post("/release-offline", h.handleReleaseOffline)
	r.Post("/populate", h.handlePopulate)
	r.Get("/entities", h.handleEntities)
	r.Get("/stats", h.handleStats)
	return r
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.MaxClaims == 0 {
		req.MaxClaims = 10
	}

	claimed, err := h.manager.Claim(r.Context(), req.ContainerID, req.Platform, req.MaxClaims)
	if err != nil {
		h.logger.Error("claiming entities", "error", err, "container_id", req.ContainerID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to claim entities")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"container_id": req.ContainerID,
		"claimed":      claimed,
		"count":        len(claimed),
	})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	released, err := h.store.Release(r.Context(), req.ContainerID, req.EntityIDs)
	if err != nil {
		h.logger.Error("releasing claims", "error", err, "container_id", req.ContainerID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to release claims")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"released": released})
}

func (h *Handler) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var req CheckinRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	refreshed, err := h.store.Checkin(r.Context(), req.ContainerID)
	if err != nil {
		h.logger.Error("checking in", "error", err, "container_id", req.ContainerID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check in")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"refreshed": refreshed})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req CheckinRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	claimed, err := h.store.HeartbeatSnapshot(r.Context(), req.ContainerID)
	if err != nil {
		h.logger.Error("heartbeat", "error", err, "container_id", req.ContainerID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to heartbeat")
		return
	}
	if claimed == nil {
		claimed = []Entity{}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"container_id": req.ContainerID,
		"claimed":      claimed,
		"count":        len(claimed),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	err := h.store.UpdateStatus(r.Context(), req.ContainerID, req.EntityID, StatusUpdate{
		IsLive:      req.IsLive,
		ViewerCount: req.ViewerCount,
		Metadata:    req.Metadata,
		HasActivity: req.HasActivity,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "entity not claimed by this container")
			return
		}
		h.logger.Error("updating entity status", "error", err, "entity_id", req.EntityID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update status")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request) {
	var req ErrorRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	count, err := h.manager.ReportError(r.Context(), req.ContainerID, req.Platform, req.EntityID, req.Message)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "entity not claimed by this container")
			return
		}
		h.logger.Error("reporting entity error", "error", err, "entity_id", req.EntityID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to report error")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"error_count": count})
}

func (h *Handler) handleReleaseOffline(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.Platform == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "platform is required")
		return
	}

	claimed, released, err := h.manager.ReleaseOfflineAndReclaim(r.Context(), req.ContainerID, req.Platform)
	if err != nil {
		h.logger.Error("releasing offline claims", "error", err, "container_id", req.ContainerID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to release offline claims")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"released":  released,
		"reclaimed": claimed,
		"count":     len(claimed),
	})
}

func (h *Handler) handlePopulate(w http.ResponseWriter, r *http.Request) {
	var req PopulateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	created, err := h.manager.Populate(r.Context(), req.Platform)
	if err != nil {
		h.logger.Error("populating coordination rows", "error", err, "platform", req.Platform)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to populate entities")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"created": created})
}

func (h *Handler) handleEntities(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListClaimed(r.Context(),
		r.URL.Query().Get("container_id"),
		r.URL.Query().Get("platform"))
	if err != nil {
		h.logger.Error("listing coordination entities", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list entities")
		return
	}
	if items == nil {
		items = []Entity{}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"entities": items,
		"count":    len(items),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		h.logger.Error("reading coordination stats", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read stats")
		return
	}

	httpserver.Respond(w, http.StatusOK, stats)
}
