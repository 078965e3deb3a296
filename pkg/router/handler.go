package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/waddlebot/router/internal/auth"
	"github.com/waddlebot/router/internal/httpserver"
)

// Handler serves the event ingestion endpoints.
type Handler struct {
	processor *Processor
	batchCfg  BatchConfig
	logger    *slog.Logger
}

// NewHandler creates the event Handler.
func NewHandler(processor *Processor, batchCfg BatchConfig, logger *slog.Logger) *Handler {
	return &Handler{processor: processor, batchCfg: batchCfg, logger: logger}
}

// Routes returns a chi.Router with the event routes mounted. Ingestion is
// restricted to collector accounts; the metrics and health reads are open to
// any authenticated account.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAccountType(auth.TypeCollector))
		r.Post("/events", h.handleEvent)
		r.Post("/events/batch", h.handleBatch)
	})
	r.Get("/metrics", h.handleMetrics)
	r.Get("/health", h.handleHealth)
	return r
}

// handleEvent processes a single inbound event. Router-side rejections carry
// their pipeline status (400/403/404/429); dispatch outcomes, including backend
// failures, respond 200 with the envelope.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev InboundEvent
	if !httpserver.DecodeAndValidate(w, r, &ev) {
		return
	}

	result := h.processor.ProcessEvent(r.Context(), ev)
	httpserver.Respond(w, result.HTTPStatus(), result)
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	result := h.processor.ProcessBatch(r.Context(), req.Events, h.batchCfg)
	httpserver.Respond(w, http.StatusOK, result)
}

// handleMetrics serves the JSON counter snapshot. Prometheus metrics live on
// the operational /metrics endpoint; this one is for dashboards speaking JSON.
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, h.processor.Snapshot())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
