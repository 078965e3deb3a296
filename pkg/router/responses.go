package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/waddlebot/router/internal/auth"
	"github.com/waddlebot/router/internal/httpserver"
	"github.com/waddlebot/router/pkg/command"
)

// Response actions modules may post.
const (
	ActionChat    = "chat"
	ActionMedia   = "media"
	ActionTicker  = "ticker"
	ActionForm    = "form"
	ActionGeneral = "general"
)

// ModuleResponseRequest is the JSON body modules POST to /router/responses.
type ModuleResponseRequest struct {
	ExecutionID    string          `json:"execution_id" validate:"required,uuid"`
	SessionID      string          `json:"session_id" validate:"required"`
	ModuleName     string          `json:"module_name" validate:"required,max=128"`
	Success        bool            `json:"success"`
	ResponseAction string          `json:"response_action" validate:"required,oneof=chat media ticker form general"`
	ChatMessage    string          `json:"chat_message" validate:"max=2048"`
	MediaType      string          `json:"media_type" validate:"omitempty,oneof=image video audio"`
	MediaURL       string          `json:"media_url" validate:"omitempty,url"`
	TickerText     string          `json:"ticker_text" validate:"max=512"`
	TickerDuration int             `json:"ticker_duration" validate:"gte=0,lte=3600"`
	Form           json.RawMessage `json:"form"`
	ContentType    string          `json:"content_type" validate:"max=64"`
	Content        string          `json:"content" validate:"max=8192"`
	Duration       int             `json:"duration" validate:"gte=0"`
	Style          json.RawMessage `json:"style"`
}

// actionFields validates the action-specific required fields and maps the
// request onto a ModuleResponse row.
func (r *ModuleResponseRequest) actionFields(m *command.ModuleResponse) error {
	switch r.ResponseAction {
	case ActionChat:
		if r.ChatMessage == "" {
			return errors.New("chat_message is required for chat responses")
		}
		m.ChatMessage = &r.ChatMessage
	case ActionMedia:
		if r.MediaURL == "" {
			return errors.New("media_url is required for media responses")
		}
		m.MediaURL = &r.MediaURL
		if r.MediaType != "" {
			m.MediaType = &r.MediaType
		}
	case ActionTicker:
		if r.TickerText == "" {
			return errors.New("ticker_text is required for ticker responses")
		}
		m.TickerText = &r.TickerText
		if r.TickerDuration > 0 {
			m.TickerDuration = &r.TickerDuration
		}
	case ActionForm:
		if len(r.Form) == 0 {
			return errors.New("form is required for form responses")
		}
		m.FormPayload = r.Form
	case ActionGeneral:
		if r.Content == "" {
			return errors.New("content is required for general responses")
		}
		m.Content = &r.Content
		if r.ContentType != "" {
			m.ContentType = &r.ContentType
		}
		if r.Duration > 0 {
			m.Duration = &r.Duration
		}
	}
	m.Style = r.Style
	return nil
}

// executionSource covers the execution-log operations the response endpoint
// needs.
type executionSource interface {
	GetExecution(ctx context.Context, executionID uuid.UUID) (command.Execution, error)
	InsertModuleResponse(ctx context.Context, m command.ModuleResponse) (int64, error)
	ListModuleResponses(ctx context.Context, executionID uuid.UUID) ([]command.ModuleResponse, error)
}

// sessionValidator checks that a module's session was minted for the same
// entity as the execution it answers.
type sessionValidator interface {
	Validate(ctx context.Context, sessionID, entityID string) (bool, error)
	Touch(ctx context.Context, sessionID string) error
}

// ResponsesHandler serves the out-of-band module reply endpoints.
type ResponsesHandler struct {
	executions executionSource
	sessions   sessionValidator
	logger     *slog.Logger
}

// NewResponsesHandler creates a ResponsesHandler.
func NewResponsesHandler(executions executionSource, sessions sessionValidator, logger *slog.Logger) *ResponsesHandler {
	return &ResponsesHandler{executions: executions, sessions: sessions, logger: logger}
}

// Routes returns a chi.Router with the response routes mounted. Only
// interaction and webhook accounts post replies.
func (h *ResponsesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAccountType(auth.TypeInteraction, auth.TypeWebhook))
	r.Post("/", h.handleCreate)
	r.Get("/{execution_id}", h.handleList)
	return r
}

// handleCreate accepts a module's reply: the execution must exist and the
// session must belong to the execution's entity, or the reply is rejected.
func (h *ResponsesHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req ModuleResponseRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	executionID, err := uuid.Parse(req.ExecutionID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid execution ID")
		return
	}

	exec, err := h.executions.GetExecution(r.Context(), executionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "execution not found")
			return
		}
		h.logger.Error("getting execution", "error", err, "execution_id", executionID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load execution")
		return
	}

	valid, err := h.sessions.Validate(r.Context(), req.SessionID, exec.EntityID)
	if err != nil {
		h.logger.Error("validating session", "error", err, "session_id", req.SessionID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to validate session")
		return
	}
	if !valid {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "session does not match execution entity")
		return
	}

	m := command.ModuleResponse{
		ExecutionID:    executionID,
		ModuleName:     req.ModuleName,
		Success:        req.Success,
		ResponseAction: req.ResponseAction,
	}
	if err := req.actionFields(&m); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	id, err := h.executions.InsertModuleResponse(r.Context(), m)
	if err != nil {
		h.logger.Error("inserting module response", "error", err, "execution_id", executionID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to record response")
		return
	}

	if err := h.sessions.Touch(r.Context(), req.SessionID); err != nil {
		h.logger.Warn("touching session", "error", err, "session_id", req.SessionID)
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{
		"id":           id,
		"execution_id": executionID,
	})
}

// handleList returns all replies recorded for an execution.
func (h *ResponsesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	executionID, err := uuid.Parse(chi.URLParam(r, "execution_id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid execution ID")
		return
	}

	if _, err := h.executions.GetExecution(r.Context(), executionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "execution not found")
			return
		}
		h.logger.Error("getting execution", "error", err, "execution_id", executionID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load execution")
		return
	}

	items, err := h.executions.ListModuleResponses(r.Context(), executionID)
	if err != nil {
		h.logger.Error("listing module responses", "error", err, "execution_id", executionID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list responses")
		return
	}
	if items == nil {
		items = []command.ModuleResponse{}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"execution_id": executionID,
		"responses":    items,
		"count":        len(items),
	})
}
