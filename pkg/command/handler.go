package command

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/waddlebot/router/internal/auth"
	"github.com/waddlebot/router/internal/httpserver"
	"github.com/waddlebot/router/pkg/cache"
)

// Handler serves the commands API. Reads are open to every account type;
// writes are admin-only and invalidate the affected cache keys.
type Handler struct {
	store  *Store
	cache  *cache.Cache
	logger *slog.Logger
}

// NewHandler creates a command Handler.
func NewHandler(store *Store, c *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{store: store, cache: c, logger: logger}
}

// Routes returns a chi.Router with all command routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAccountType(auth.TypeAdmin))
		r.Post("/", h.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Put("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
			r.Put("/permissions/{entity_id}", h.handleSetPermission)
		})
	})
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListActive(r.Context(), r.URL.Query().Get("module_type"))
	if err != nil {
		h.logger.Error("listing commands", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list commands")
		return
	}
	if items == nil {
		items = []Command{}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"commands": items,
		"count":    len(items),
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	cmd, err := h.store.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating command", "error", err)
		httpserver.RespondError(w, http.StatusConflict, "conflict", "command already exists or could not be created")
		return
	}

	h.cache.Delete(cache.CommandKey(cmd.Prefix, cmd.Name))
	httpserver.Respond(w, http.StatusCreated, cmd)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid command ID")
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	cmd, err := h.store.Update(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "command not found")
			return
		}
		h.logger.Error("updating command", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update command")
		return
	}

	h.cache.Delete(cache.CommandKey(cmd.Prefix, cmd.Name))
	httpserver.Respond(w, http.StatusOK, cmd)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid command ID")
		return
	}

	// Fetch first so the cache key can be invalidated after the delete.
	cmd, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "command not found")
			return
		}
		h.logger.Error("getting command", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete command")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "command not found")
			return
		}
		h.logger.Error("deleting command", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete command")
		return
	}

	h.cache.Delete(cache.CommandKey(cmd.Prefix, cmd.Name))
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid command ID")
		return
	}
	entityID := chi.URLParam(r, "entity_id")
	if entityID == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "missing entity ID")
		return
	}

	var req PermissionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.store.SetPermission(r.Context(), id, entityID, req.Enabled, req.Config); err != nil {
		h.logger.Error("setting command permission", "error", err, "command_id", id, "entity_id", entityID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to set permission")
		return
	}

	h.cache.Delete(cache.PermissionKey(id.String(), entityID))
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"command_id": id,
		"entity_id":  entityID,
		"enabled":    req.Enabled,
	})
}
