package entity

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/waddlebot/router/internal/httpserver"
)

// Handler serves the read-only entities API.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates an entity Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns a chi.Router with the entity routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context(), r.URL.Query().Get("platform"))
	if err != nil {
		h.logger.Error("listing entities", "error", err)
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
