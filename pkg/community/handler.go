package community

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/waddlebot/router/internal/httpserver"
)

// BulkCheckRequest is the JSON body for POST /router/rbac/check-permissions.
type BulkCheckRequest struct {
	Checks []PermissionCheck `json:"checks" validate:"required,min=1,max=500,dive"`
}

// BulkAssignRequest is the JSON body for POST /router/rbac/assign-roles.
type BulkAssignRequest struct {
	Assignments []RoleRequest `json:"assignments" validate:"required,min=1,max=500,dive"`
}

// BulkRolesRequest is the JSON body for POST /router/rbac/get-roles.
type BulkRolesRequest struct {
	UserIDs  []string `json:"user_ids" validate:"required,min=1,max=500"`
	EntityID string   `json:"entity_id" validate:"required"`
}

// Handler serves the bulk RBAC endpoints used by moderation dashboards.
type Handler struct {
	bulk   *Bulk
	logger *slog.Logger
}

// NewHandler creates a community Handler.
func NewHandler(bulk *Bulk, logger *slog.Logger) *Handler {
	return &Handler{bulk: bulk, logger: logger}
}

// Routes returns a chi.Router with the bulk RBAC routes mounted. The caller is
// expected to gate the mount behind the admin account type.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/check-permissions", h.handleCheckPermissions)
	r.Post("/assign-roles", h.handleAssignRoles)
	r.Post("/get-roles", h.handleGetRoles)
	return r
}

func (h *Handler) handleCheckPermissions(w http.ResponseWriter, r *http.Request) {
	var req BulkCheckRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	results, err := h.bulk.CheckPermissions(r.Context(), req.Checks)
	if err != nil {
		h.logger.Error("bulk permission check", "error", err, "checks", len(req.Checks))
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check permissions")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (h *Handler) handleAssignRoles(w http.ResponseWriter, r *http.Request) {
	var req BulkAssignRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	for _, a := range req.Assignments {
		if a.EntityID == "" && a.Community == 0 {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request",
				"each assignment needs an entity_id or a community_id")
			return
		}
	}

	if err := h.bulk.AssignRoles(r.Context(), req.Assignments); err != nil {
		h.logger.Error("bulk role assignment", "error", err, "assignments", len(req.Assignments))
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to assign roles")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"assigned": len(req.Assignments)})
}

func (h *Handler) handleGetRoles(w http.ResponseWriter, r *http.Request) {
	var req BulkRolesRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	roles, err := h.bulk.GetRoles(r.Context(), req.UserIDs, req.EntityID)
	if err != nil {
		h.logger.Error("bulk role lookup", "error", err, "entity_id", req.EntityID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to resolve roles")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"entity_id": req.EntityID,
		"roles":     roles,
		"count":     len(roles),
	})
}
