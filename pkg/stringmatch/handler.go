package stringmatch

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/waddlebot/router/internal/auth"
	"github.com/waddlebot/router/internal/httpserver"
)

// Handler serves the string rules admin API. Every write invalidates the
// matcher's cached rule lists.
type Handler struct {
	store   *Store
	matcher *Matcher
	logger  *slog.Logger
}

// NewHandler creates a string rule Handler.
func NewHandler(store *Store, matcher *Matcher, logger *slog.Logger) *Handler {
	return &Handler{store: store, matcher: matcher, logger: logger}
}

// Routes returns a chi.Router with all string rule routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAccountType(auth.TypeAdmin))
		r.Post("/", h.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Put("/", h.handleUpdate)
			r.Delete("/", h.handleDelete)
		})
	})
	return r
}

// invalidate drops the cached rule lists a changed rule could appear in.
func (h *Handler) invalidate(entityIDs []string) {
	if len(entityIDs) == 0 {
		h.matcher.InvalidateAll()
		return
	}
	for _, id := range entityIDs {
		h.matcher.Invalidate(id)
	}
}

func ruleID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var (
		items []Rule
		err   error
	)
	if entityID := r.URL.Query().Get("entity_id"); entityID != "" {
		items, err = h.store.ListForEntity(r.Context(), entityID)
	} else {
		items, err = h.store.List(r.Context())
	}
	if err != nil {
		h.logger.Error("listing string rules", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list string rules")
		return
	}
	if items == nil {
		items = []Rule{}
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"rules": items,
		"count": len(items),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule ID")
		return
	}

	rule, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "string rule not found")
			return
		}
		h.logger.Error("getting string rule", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get string rule")
		return
	}

	httpserver.Respond(w, http.StatusOK, rule)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	rule, err := h.store.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating string rule", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create string rule")
		return
	}

	h.invalidate(rule.EntityIDs)
	httpserver.Respond(w, http.StatusCreated, rule)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule ID")
		return
	}

	var req RuleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	// The previous scope list matters too: an entity removed from the rule
	// must not keep serving the stale cached list.
	prev, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "string rule not found")
			return
		}
		h.logger.Error("getting string rule", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update string rule")
		return
	}

	rule, err := h.store.Update(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "string rule not found")
			return
		}
		h.logger.Error("updating string rule", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update string rule")
		return
	}

	h.invalidate(prev.EntityIDs)
	h.invalidate(rule.EntityIDs)
	httpserver.Respond(w, http.StatusOK, rule)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule ID")
		return
	}

	prev, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "string rule not found")
			return
		}
		h.logger.Error("getting string rule", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete string rule")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "string rule not found")
			return
		}
		h.logger.Error("deleting string rule", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete string rule")
		return
	}

	h.invalidate(prev.EntityIDs)
	httpserver.Respond(w, http.StatusNoContent, nil)
}
