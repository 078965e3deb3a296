package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/waddlebot/router/internal/httpserver"
)

// Handler serves the service account admin API. The raw API key appears in
// exactly one response: the creation reply.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a service account Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns a chi.Router with the account routes mounted. The caller
// wraps it in the admin account-type requirement.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/deactivate", h.handleDeactivate)
		r.Delete("/", h.handleDelete)
	})
	return r
}

func accountID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing service accounts", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list accounts")
		return
	}

	resp := make([]Response, 0, len(items))
	for i := range items {
		resp = append(resp, items[i].ToResponse())
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"accounts": resp,
		"count":    len(resp),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid account ID")
		return
	}

	account, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "account not found")
			return
		}
		h.logger.Error("getting service account", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get account")
		return
	}

	httpserver.Respond(w, http.StatusOK, account.ToResponse())
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	rawKey, keyHash, keyPrefix := GenerateAPIKey()

	var expires pgtype.Timestamptz
	if req.ExpiresAt != nil {
		expires = pgtype.Timestamptz{Time: *req.ExpiresAt, Valid: true}
	}

	account, err := h.store.Create(r.Context(), CreateParams{
		Name:        req.Name,
		AccountType: req.AccountType,
		Platform:    req.Platform,
		KeyHash:     keyHash,
		KeyPrefix:   keyPrefix,
		Permissions: req.Permissions,
		RateLimit:   req.RateLimit,
		ExpiresAt:   expires,
	})
	if err != nil {
		h.logger.Error("creating service account", "error", err, "name", req.Name)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create account")
		return
	}

	httpserver.Respond(w, http.StatusCreated, CreateResponse{
		Response: account.ToResponse(),
		RawKey:   rawKey,
	})
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid account ID")
		return
	}

	if err := h.store.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "account not found or already inactive")
			return
		}
		h.logger.Error("deactivating service account", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to deactivate account")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"deactivated": true})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid account ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "account not found")
			return
		}
		h.logger.Error("deleting service account", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete account")
		return
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}
