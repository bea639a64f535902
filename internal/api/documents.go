package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/contextual-writer/internal/domain"
	"github.com/ashureev/contextual-writer/internal/editor"
	"github.com/ashureev/contextual-writer/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// DocumentHandler serves stored documents and the editor actions on them.
type DocumentHandler struct {
	*Handler
	limiter *RateLimiter
}

// NewDocumentHandler creates a document handler. limiter may be nil.
func NewDocumentHandler(base *Handler, limiter *RateLimiter) *DocumentHandler {
	return &DocumentHandler{Handler: base, limiter: limiter}
}

// RegisterRoutes registers document routes.
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/documents", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Get("/export", h.Export)
			r.Post("/saved-context", h.SaveSuggestion)

			r.Group(func(r chi.Router) {
				if h.limiter != nil {
					r.Use(h.limiter.Middleware)
				}
				r.Post("/continue", h.Continue)
				r.Post("/suggestions", h.Suggestions)
				r.Post("/revise", h.Revise)
				r.Post("/global-edit", h.GlobalEdit)
				r.Post("/outline", h.Outline)
			})
		})
	})
}

type documentInput struct {
	Title   *string `json:"title"`
	Text    *string `json:"text"`
	Context *string `json:"context"`
	Version int64   `json:"version"`
}

// List returns the caller's documents.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.repo.ListDocuments(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}
	if docs == nil {
		docs = []*domain.Document{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

// Create stores a new document.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in documentInput
	if !h.decode(w, r, &in) {
		return
	}

	doc := &domain.Document{
		ID:     uuid.NewString(),
		UserID: identity.UserIDFromContext(r.Context()),
	}
	applyInput(doc, in)

	if err := h.repo.CreateDocument(r.Context(), doc); err != nil {
		WriteError(w, err)
		return
	}
	slog.Info("Document created", "user_id", doc.UserID, "document_id", doc.ID)
	JSON(w, http.StatusCreated, doc)
}

// Get returns one document.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, doc)
}

// Update writes user edits. The body must carry the version it was based on.
func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in documentInput
	if !h.decode(w, r, &in) {
		return
	}
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	doc.Version = in.Version
	applyInput(doc, in)
	h.save(w, r, doc, nil)
}

// Delete removes a document.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.repo.DeleteDocument(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export returns the document as markdown or HTML.
func (h *DocumentHandler) Export(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}

	var body, contentType, ext string
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "md", "markdown":
		body, contentType, ext = markdownExport(doc), "text/markdown; charset=utf-8", "md"
	case "html":
		out, err := htmlExport(doc)
		if err != nil {
			WriteError(w, err)
			return
		}
		body, contentType, ext = out, "text/html; charset=utf-8", "html"
	default:
		Error(w, http.StatusBadRequest, "format must be md or html")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename(doc, ext)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// SaveSuggestion appends a suggestion to the saved context.
func (h *DocumentHandler) SaveSuggestion(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Suggestion string `json:"suggestion"`
	}
	if !h.decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Suggestion) == "" {
		Error(w, http.StatusBadRequest, "invalid input: suggestion: is required")
		return
	}
	h.mutate(w, r, "", func(_ context.Context, sess *editor.Session) (map[string]interface{}, error) {
		sess.Document().SaveSuggestion(in.Suggestion)
		return map[string]interface{}{}, nil
	})
}

type actionInput struct {
	Credential   string `json:"credential"`
	Request      string `json:"request"`
	Instructions string `json:"instructions"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
	Text         string `json:"text"`
}

// Continue appends a model continuation to the document.
func (h *DocumentHandler) Continue(w http.ResponseWriter, r *http.Request) {
	var in actionInput
	if !h.decode(w, r, &in) {
		return
	}
	h.mutate(w, r, in.Credential, func(ctx context.Context, sess *editor.Session) (map[string]interface{}, error) {
		continued, err := sess.Continue(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"continuedText": continued}, nil
	})
}

// Revise revises the span [start, end) that the client saw as text.
func (h *DocumentHandler) Revise(w http.ResponseWriter, r *http.Request) {
	var in actionInput
	if !h.decode(w, r, &in) {
		return
	}
	h.mutate(w, r, in.Credential, func(ctx context.Context, sess *editor.Session) (map[string]interface{}, error) {
		sel, err := sess.Document().Select(in.Start, in.End)
		if err != nil {
			return nil, err
		}
		if sel.Text != in.Text {
			return nil, editor.ErrStaleSelection
		}
		resp, err := sess.ReviseSelection(ctx, sel, in.Instructions)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"revisedText": resp.RevisedText, "explanation": resp.Explanation}, nil
	})
}

// GlobalEdit revises and replaces the whole document.
func (h *DocumentHandler) GlobalEdit(w http.ResponseWriter, r *http.Request) {
	var in actionInput
	if !h.decode(w, r, &in) {
		return
	}
	h.mutate(w, r, in.Credential, func(ctx context.Context, sess *editor.Session) (map[string]interface{}, error) {
		resp, err := sess.GlobalEdit(ctx, in.Instructions)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"revisedText": resp.RevisedText, "explanation": resp.Explanation}, nil
	})
}

// Suggestions returns suggestions for the document's context panel.
func (h *DocumentHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	var in actionInput
	if !h.decode(w, r, &in) {
		return
	}
	h.read(w, r, in.Credential, func(ctx context.Context, sess *editor.Session) (interface{}, error) {
		suggestions, err := sess.Suggest(ctx, in.Request)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"suggestions": suggestions}, nil
	})
}

// Outline returns a plotline outline for the document's context panel.
func (h *DocumentHandler) Outline(w http.ResponseWriter, r *http.Request) {
	var in actionInput
	if !h.decode(w, r, &in) {
		return
	}
	h.read(w, r, in.Credential, func(ctx context.Context, sess *editor.Session) (interface{}, error) {
		outline, err := sess.Outline(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"outline": outline}, nil
	})
}

func (h *DocumentHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Document, bool) {
	userID := identity.UserIDFromContext(r.Context())
	doc, err := h.repo.GetDocument(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	return doc, true
}

func (h *DocumentHandler) session(w http.ResponseWriter, r *http.Request, bodyCredential string) (*domain.Document, *editor.Session, bool) {
	doc, ok := h.load(w, r)
	if !ok {
		return nil, nil, false
	}
	key, err := h.credential(r, bodyCredential)
	if err != nil {
		WriteError(w, err)
		return nil, nil, false
	}
	ed := editor.FromState(editor.State{
		Text:         doc.Text,
		Context:      doc.ContextText,
		SavedContext: doc.SavedContext,
	})
	return doc, editor.NewSession(ed, h.flows, key), true
}

// read runs fn against the document without writing it back.
func (h *DocumentHandler) read(w http.ResponseWriter, r *http.Request, credential string, fn func(context.Context, *editor.Session) (interface{}, error)) {
	_, sess, ok := h.session(w, r, credential)
	if !ok {
		return
	}
	resp, err := fn(r.Context(), sess)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// mutate runs fn and persists the edited document at the version it was
// loaded with, so a concurrent write in between fails with a conflict.
func (h *DocumentHandler) mutate(w http.ResponseWriter, r *http.Request, credential string, fn func(context.Context, *editor.Session) (map[string]interface{}, error)) {
	doc, sess, ok := h.session(w, r, credential)
	if !ok {
		return
	}
	extra, err := fn(r.Context(), sess)
	if err != nil {
		WriteError(w, err)
		return
	}
	snap := sess.Document().Snapshot()
	doc.Text = snap.Text
	doc.ContextText = snap.Context
	doc.SavedContext = snap.SavedContext
	h.save(w, r, doc, extra)
}

func (h *DocumentHandler) save(w http.ResponseWriter, r *http.Request, doc *domain.Document, extra map[string]interface{}) {
	if err := h.repo.UpdateDocument(r.Context(), doc); err != nil {
		WriteError(w, err)
		return
	}
	if extra == nil {
		JSON(w, http.StatusOK, doc)
		return
	}
	extra["document"] = doc
	JSON(w, http.StatusOK, extra)
}

func applyInput(doc *domain.Document, in documentInput) {
	if in.Title != nil {
		doc.Title = strings.TrimSpace(*in.Title)
	}
	if in.Text != nil {
		doc.Text = *in.Text
	}
	if in.Context != nil {
		doc.ContextText = *in.Context
	}
}
