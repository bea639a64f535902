package api

import (
	"net/http"
	"strconv"

	"github.com/ashureev/contextual-writer/internal/flow"
	"github.com/ashureev/contextual-writer/internal/identity"
	"github.com/go-chi/chi/v5"
)

// FlowHandler exposes the prompt flows as stateless JSON endpoints.
type FlowHandler struct {
	*Handler
	limiter *RateLimiter
}

// NewFlowHandler creates a flow handler. limiter may be nil.
func NewFlowHandler(base *Handler, limiter *RateLimiter) *FlowHandler {
	return &FlowHandler{Handler: base, limiter: limiter}
}

// RegisterRoutes registers flow routes.
func (h *FlowHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/flows", func(r chi.Router) {
		r.Get("/runs", h.Runs)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/suggestions", h.Suggestions)
			r.Post("/continuation", h.Continuation)
			r.Post("/revision", h.Revision)
			r.Post("/outline", h.Outline)
		})
	})
}

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 200
)

// Runs handles GET /api/flows/runs?limit=N, the caller's most recent flow
// invocations, newest first.
func (h *FlowHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.repo.ListFlowRuns(r.Context(), identity.UserIDFromContext(r.Context()), limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// prepare reads and schema-validates the body into req and resolves the credential.
func (h *FlowHandler) prepare(w http.ResponseWriter, r *http.Request, req any, credential *string) bool {
	data, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if err := flow.DecodeRequest(data, req); err != nil {
		WriteError(w, err)
		return false
	}
	key, err := h.credential(r, *credential)
	if err != nil {
		WriteError(w, err)
		return false
	}
	*credential = key
	return true
}

// Suggestions handles POST /api/flows/suggestions.
func (h *FlowHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	var req flow.SuggestionRequest
	if !h.prepare(w, r, &req, &req.Credential) {
		return
	}
	resp, err := h.flows.Suggest(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Continuation handles POST /api/flows/continuation.
func (h *FlowHandler) Continuation(w http.ResponseWriter, r *http.Request) {
	var req flow.ContinuationRequest
	if !h.prepare(w, r, &req, &req.Credential) {
		return
	}
	resp, err := h.flows.Continue(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Revision handles POST /api/flows/revision.
func (h *FlowHandler) Revision(w http.ResponseWriter, r *http.Request) {
	var req flow.RevisionRequest
	if !h.prepare(w, r, &req, &req.Credential) {
		return
	}
	resp, err := h.flows.Revise(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Outline handles POST /api/flows/outline.
func (h *FlowHandler) Outline(w http.ResponseWriter, r *http.Request) {
	var req flow.OutlineRequest
	if !h.prepare(w, r, &req, &req.Credential) {
		return
	}
	resp, err := h.flows.Outline(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}
