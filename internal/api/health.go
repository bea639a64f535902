package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/contextual-writer/internal/identity"
	"github.com/ashureev/contextual-writer/internal/model"
	"github.com/ashureev/contextual-writer/internal/prompt"
	"github.com/ashureev/contextual-writer/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health and frontend configuration endpoints.
type HealthHandler struct {
	repo    store.Repository
	backend model.Backend
	prompts *prompt.Registry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, backend model.Backend, prompts *prompt.Registry) *HealthHandler {
	return &HealthHandler{repo: repo, backend: backend, prompts: prompts}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.backend != nil {
		info := h.backend.Info()
		checks["model"] = info.Provider + "/" + info.Model
	}

	JSON(w, statusCode, status)
}

// Config returns the settings the frontend needs.
func (h *HealthHandler) Config(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"username": identity.UsernameFromContext(r.Context()),
	}
	if h.backend != nil {
		resp["model"] = h.backend.Info()
	}
	if h.prompts != nil {
		names := []string{}
		for _, def := range h.prompts.Definitions() {
			names = append(names, def.Name)
		}
		resp["prompts"] = names
	}
	JSON(w, http.StatusOK, resp)
}

// RegisterHealth registers the health check and config routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
	r.Get("/api/config", h.Config)
}
