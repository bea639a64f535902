// Package api provides HTTP handlers for the writer API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/contextual-writer/internal/config"
	"github.com/ashureev/contextual-writer/internal/editor"
	"github.com/ashureev/contextual-writer/internal/flow"
	"github.com/ashureev/contextual-writer/internal/identity"
	"github.com/ashureev/contextual-writer/internal/store"
)

// CredentialHeader carries a per-request model API key.
const CredentialHeader = "X-Writer-Credential"

const defaultMaxBodySize = 2 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo        store.Repository
	flows       *flow.Service
	maxBodySize int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, flows *flow.Service, cfg *config.Config) *Handler {
	h := &Handler{repo: repo, flows: flows, maxBodySize: defaultMaxBodySize}
	if cfg != nil && cfg.HTTP.MaxRequestBodySize > 0 {
		h.maxBodySize = cfg.HTTP.MaxRequestBodySize
	}
	return h
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// WriteError maps err onto an HTTP status and writes it.
func WriteError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)
	Error(w, status, message)
}

func errorStatus(err error) (int, string) {
	var ve *flow.ValidationError
	var ue *flow.UpstreamError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.As(err, &ue):
		slog.Warn("Upstream model call failed", "op", ue.Op, "error", ue.Err)
		return http.StatusBadGateway, ue.Error()
	case errors.Is(err, editor.ErrStaleSelection):
		return http.StatusConflict, "selection_stale"
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, editor.ErrInvalidRange):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		slog.Error("Request failed", "error", err)
		return http.StatusInternalServerError, "internal_error"
	}
}

// readBody reads the request body up to the configured limit. On failure the
// response has been written and ok is false.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) (data []byte, ok bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request_too_large")
			return nil, false
		}
		Error(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return data, true
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	data, ok := h.readBody(w, r)
	if !ok {
		return false
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// credential resolves the model API key for a call: the request body, then
// the credential header, then the user's stored credential. An empty result
// leaves the backend to apply the server default key.
func (h *Handler) credential(r *http.Request, fromBody string) (string, error) {
	if key := strings.TrimSpace(fromBody); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(r.Header.Get(CredentialHeader)); key != "" {
		return key, nil
	}
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		return "", nil
	}
	cred, err := h.repo.GetCredential(r.Context(), userID)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", nil
	}
	return cred.APIKey, nil
}
