package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/contextual-writer/internal/domain"
	"github.com/ashureev/contextual-writer/internal/identity"
	"github.com/go-chi/chi/v5"
)

// CredentialHandler stores the user's model API key server side.
type CredentialHandler struct {
	*Handler
}

// NewCredentialHandler creates a credential handler.
func NewCredentialHandler(base *Handler) *CredentialHandler {
	return &CredentialHandler{Handler: base}
}

// RegisterRoutes registers credential routes.
func (h *CredentialHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/credential", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Put)
		r.Delete("/", h.Delete)
	})
}

type credentialResponse struct {
	Configured bool       `json:"configured"`
	Masked     string     `json:"masked,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// Get reports whether a credential is stored. The key itself is never returned.
func (h *CredentialHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	cred, err := h.repo.GetCredential(r.Context(), userID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if cred == nil {
		JSON(w, http.StatusOK, credentialResponse{})
		return
	}
	JSON(w, http.StatusOK, credentialResponse{Configured: true, Masked: cred.Masked(), UpdatedAt: &cred.UpdatedAt})
}

// Put stores the credential. An empty key removes it.
func (h *CredentialHandler) Put(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIKey string `json:"apiKey"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	key := strings.TrimSpace(body.APIKey)
	if key == "" {
		h.Delete(w, r)
		return
	}

	cred := &domain.Credential{UserID: userID, APIKey: key, UpdatedAt: time.Now()}
	if err := h.repo.PutCredential(r.Context(), cred); err != nil {
		WriteError(w, err)
		return
	}
	slog.Info("Credential stored", "user_id", userID)
	JSON(w, http.StatusOK, credentialResponse{Configured: true, Masked: cred.Masked(), UpdatedAt: &cred.UpdatedAt})
}

// Delete removes the stored credential.
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.repo.DeleteCredential(r.Context(), userID); err != nil {
		WriteError(w, err)
		return
	}
	slog.Info("Credential removed", "user_id", userID)
	JSON(w, http.StatusOK, credentialResponse{})
}
