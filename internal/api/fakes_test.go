//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/contextual-writer/internal/config"
	"github.com/ashureev/contextual-writer/internal/domain"
	"github.com/ashureev/contextual-writer/internal/flow"
	"github.com/ashureev/contextual-writer/internal/identity"
	"github.com/ashureev/contextual-writer/internal/model"
	"github.com/ashureev/contextual-writer/internal/prompt"
	"github.com/ashureev/contextual-writer/internal/store"
	"github.com/go-chi/chi/v5"
)

type fakeRepo struct {
	mu          sync.Mutex
	users       map[string]*domain.User
	credentials map[string]*domain.Credential
	documents   map[string]*domain.Document
	runs        []*domain.FlowRun
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:       make(map[string]*domain.User),
		credentials: make(map[string]*domain.Credential),
		documents:   make(map[string]*domain.Document),
	}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *user
	f.users[user.UserID] = &copy
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeRepo) GetCredential(_ context.Context, userID string) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred := f.credentials[userID]
	if cred == nil {
		return nil, nil
	}
	copy := *cred
	return &copy, nil
}

func (f *fakeRepo) PutCredential(_ context.Context, cred *domain.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *cred
	f.credentials[cred.UserID] = &copy
	return nil
}

func (f *fakeRepo) DeleteCredential(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.credentials, userID)
	return nil
}

func (f *fakeRepo) CreateDocument(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.Version = 1
	copy := *doc
	f.documents[doc.ID] = &copy
	return nil
}

func (f *fakeRepo) GetDocument(_ context.Context, userID, docID string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.documents[docID]
	if doc == nil || doc.UserID != userID {
		return nil, store.ErrNotFound
	}
	copy := *doc
	return &copy, nil
}

func (f *fakeRepo) ListDocuments(_ context.Context, userID string) ([]*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var docs []*domain.Document
	for _, doc := range f.documents {
		if doc.UserID == userID {
			copy := *doc
			docs = append(docs, &copy)
		}
	}
	return docs, nil
}

func (f *fakeRepo) UpdateDocument(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.documents[doc.ID]
	if stored == nil || stored.UserID != doc.UserID {
		return store.ErrNotFound
	}
	if stored.Version != doc.Version {
		return store.ErrVersionConflict
	}
	doc.Version++
	copy := *doc
	f.documents[doc.ID] = &copy
	return nil
}

func (f *fakeRepo) DeleteDocument(_ context.Context, userID, docID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.documents[docID]
	if doc == nil || doc.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.documents, docID)
	return nil
}

func (f *fakeRepo) RecordFlowRun(_ context.Context, run *domain.FlowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRepo) ListFlowRuns(_ context.Context, userID string, limit int) ([]*domain.FlowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	runs := []*domain.FlowRun{}
	for i := len(f.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		if f.runs[i].UserID == userID {
			runs = append(runs, f.runs[i])
		}
	}
	return runs, nil
}

func (f *fakeRepo) DeleteInactiveUsers(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

func (f *fakeRepo) document(id string) *domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *f.documents[id]
	return &copy
}

// fakeBackend answers every call with respond and records what it was sent.
type fakeBackend struct {
	mu        sync.Mutex
	respond   func(req model.Request) (string, error)
	chunks    []string
	streamErr error
	requests  []model.Request
}

func (f *fakeBackend) Generate(_ context.Context, req model.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()
	if req.Credential == "" {
		return "", model.ErrMissingCredential
	}
	return respond(req)
}

func (f *fakeBackend) Stream(_ context.Context, req model.Request) iter.Seq2[string, error] {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return func(yield func(string, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield("", f.streamErr)
		}
	}
}

func (f *fakeBackend) Info() model.Info {
	return model.Info{Provider: "fake", Model: "fake-1", Streaming: true}
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeBackend) last() model.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func reply(s string) func(model.Request) (string, error) {
	return func(model.Request) (string, error) { return s, nil }
}

type testEnv struct {
	t       *testing.T
	repo    *fakeRepo
	backend *fakeBackend
	router  http.Handler
	cookie  *http.Cookie
}

func newTestEnv(t *testing.T, limiter *RateLimiter) *testEnv {
	t.Helper()

	reg, err := prompt.NewRegistry("", nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	repo := newFakeRepo()
	backend := &fakeBackend{respond: reply(`{}`)}
	flows := flow.NewService(backend, reg, flow.WithRunRecorder(repo, identity.UserIDFromContext))
	cfg := &config.Config{HTTP: config.HTTPConfig{MaxRequestBodySize: 1 << 16}}

	base := NewHandler(repo, flows, cfg)
	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	NewHealthHandler(repo, backend, reg).RegisterHealth(r)
	NewCredentialHandler(base).RegisterRoutes(r)
	NewFlowHandler(base, limiter).RegisterRoutes(r)
	NewDocumentHandler(base, limiter).RegisterRoutes(r)
	r.Get("/ws/continue", NewStreamHandler(base, limiter, "", true).ServeHTTP)

	return &testEnv{t: t, repo: repo, backend: backend, router: r}
}

// do sends a request as the same anonymous user across calls.
func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	if e.cookie == nil {
		for _, c := range rr.Result().Cookies() {
			if c.Name == identity.AnonCookieName {
				e.cookie = c
			}
		}
	}
	return rr
}

func (e *testEnv) userID() string {
	e.t.Helper()
	if e.cookie == nil {
		e.do(http.MethodGet, "/api/config", "")
	}
	return e.cookie.Value
}
