package flow

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/contextual-writer/internal/domain"
	"github.com/ashureev/contextual-writer/internal/model"
	"github.com/ashureev/contextual-writer/internal/prompt"
)

type fakeBackend struct {
	mu       sync.Mutex
	response string
	err      error
	requests []model.Request
}

func (f *fakeBackend) Generate(_ context.Context, req model.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.response, f.err
}

func (f *fakeBackend) Info() model.Info {
	return model.Info{Provider: "fake", Model: "fake"}
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type streamingBackend struct {
	fakeBackend
	chunks []string
}

func (s *streamingBackend) Stream(_ context.Context, _ model.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

type recorder struct {
	mu   sync.Mutex
	runs []*domain.FlowRun
}

func (r *recorder) RecordFlowRun(_ context.Context, run *domain.FlowRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func newTestService(t *testing.T, backend model.Backend, opts ...Option) *Service {
	t.Helper()
	reg, err := prompt.NewRegistry("", nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return NewService(backend, reg, opts...)
}

func TestInvalidInputNeverCallsModel(t *testing.T) {
	backend := &fakeBackend{response: `{"continuedText":"x"}`}
	svc := newTestService(t, backend)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"suggest blank request", func() error {
			_, err := svc.Suggest(ctx, SuggestionRequest{Request: "  ", Context: "scene", Credential: "k"})
			return err
		}},
		{"revise missing instruction", func() error {
			_, err := svc.Revise(ctx, RevisionRequest{SelectedText: "a", FullDocument: "a b", Credential: "k"})
			return err
		}},
		{"outline empty context", func() error {
			_, err := svc.Outline(ctx, OutlineRequest{Credential: "k"})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ve *ValidationError
			if err := tc.call(); !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if n := backend.calls(); n != 0 {
		t.Fatalf("expected no model calls, got %d", n)
	}
}

func TestContinueFromBlankPage(t *testing.T) {
	backend := &fakeBackend{response: `{"continuedText":"It was a dark and stormy night."}`}
	svc := newTestService(t, backend)

	resp, err := svc.Continue(context.Background(), ContinuationRequest{ExistingText: "", Credential: "k"})
	if err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if resp.ContinuedText != "It was a dark and stormy night." {
		t.Fatalf("unexpected continuation %q", resp.ContinuedText)
	}
	if n := backend.calls(); n != 1 {
		t.Fatalf("expected one model call, got %d", n)
	}
}

func TestContinuationIsAppendedVerbatim(t *testing.T) {
	backend := &fakeBackend{response: `{"continuedText":"X"}`}
	svc := newTestService(t, backend)

	existing := "Once upon a time"
	resp, err := svc.Continue(context.Background(), ContinuationRequest{ExistingText: existing, Credential: "sk-secret-123"})
	if err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if got := existing + resp.ContinuedText; got != "Once upon a timeX" {
		t.Fatalf("got %q", got)
	}

	req := backend.requests[0]
	if req.Credential != "sk-secret-123" {
		t.Errorf("credential not forwarded: %q", req.Credential)
	}
	if req.Schema == nil || req.Schema.Name != Continuation {
		t.Fatalf("expected continuation output schema, got %+v", req.Schema)
	}
	if !strings.Contains(req.User, existing) {
		t.Errorf("prompt lacks existing text: %q", req.User)
	}
	if strings.Contains(req.User, "sk-secret-123") || strings.Contains(req.System, "sk-secret-123") {
		t.Error("credential leaked into prompt")
	}
}

func TestSuggestDecodesFencedOutput(t *testing.T) {
	backend := &fakeBackend{response: "```json\n{\"suggestions\":[{\"suggestion\":\"Give the keeper a secret\",\"reasoning\":\"Adds tension\"},{\"suggestion\":\"Storm\",\"reasoning\":\"Raises stakes\"}]}\n```"}
	svc := newTestService(t, backend)

	resp, err := svc.Suggest(context.Background(), SuggestionRequest{Request: "plot idea", Context: "a lighthouse", Credential: "k"})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(resp.Suggestions) != 2 || resp.Suggestions[0].Suggestion != "Give the keeper a secret" {
		t.Fatalf("unexpected suggestions: %+v", resp.Suggestions)
	}
}

func TestOutputMismatchIsUpstreamError(t *testing.T) {
	cases := map[string]string{
		"wrong field":  `{"continued":"X"}`,
		"wrong type":   `{"continuedText":42}`,
		"not json":     `Once upon a time`,
		"empty output": ``,
	}
	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(t, &fakeBackend{response: response})
			_, err := svc.Continue(context.Background(), ContinuationRequest{ExistingText: "a", Credential: "k"})
			var ue *UpstreamError
			if !errors.As(err, &ue) {
				t.Fatalf("expected UpstreamError, got %v", err)
			}
			var ve *ValidationError
			if errors.As(err, &ve) {
				t.Fatalf("output mismatch must not look like invalid input: %v", err)
			}
		})
	}
}

func TestBackendFailureIsUpstreamError(t *testing.T) {
	boom := errors.New("503 from provider")
	svc := newTestService(t, &fakeBackend{err: boom})

	_, err := svc.Outline(context.Background(), OutlineRequest{Context: "a heist", Credential: "k"})
	var ue *UpstreamError
	if !errors.As(err, &ue) || !errors.Is(err, boom) {
		t.Fatalf("expected UpstreamError wrapping cause, got %v", err)
	}
	if ue.Op != Outline {
		t.Errorf("Op = %q, want %q", ue.Op, Outline)
	}
}

func TestMissingCredentialIsValidationError(t *testing.T) {
	svc := newTestService(t, &fakeBackend{err: model.ErrMissingCredential})

	_, err := svc.Revise(context.Background(), RevisionRequest{SelectedText: "a", FullDocument: "a b", RevisionRequest: "Rewrite"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "credential" {
		t.Fatalf("expected credential ValidationError, got %v", err)
	}
}

func TestRevisionAgainstMock(t *testing.T) {
	svc := newTestService(t, model.Mock{})

	resp, err := svc.Revise(context.Background(), RevisionRequest{
		SelectedText:    "The sea was calm.",
		FullDocument:    "The sea was calm. Then the bell rang.",
		RevisionRequest: "Make it ominous",
	})
	if err != nil {
		t.Fatalf("Revise failed: %v", err)
	}
	if resp.RevisedText == "" {
		t.Fatal("expected revised text")
	}
}

func TestContinueStreamYieldsChunks(t *testing.T) {
	backend := &streamingBackend{chunks: []string{" there", " was", " a lighthouse."}}
	svc := newTestService(t, backend)

	var sb strings.Builder
	for chunk, err := range svc.ContinueStream(context.Background(), ContinuationRequest{ExistingText: "Once upon a time", Credential: "k"}) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		sb.WriteString(chunk)
	}
	if sb.String() != " there was a lighthouse." {
		t.Fatalf("got %q", sb.String())
	}
}

func TestContinueStreamEmptyIsUpstreamError(t *testing.T) {
	svc := newTestService(t, &streamingBackend{})

	var last error
	for _, err := range svc.ContinueStream(context.Background(), ContinuationRequest{ExistingText: "a", Credential: "k"}) {
		last = err
	}
	var ue *UpstreamError
	if !errors.As(last, &ue) {
		t.Fatalf("expected UpstreamError, got %v", last)
	}
}

func TestContinueStreamFallsBackToGenerate(t *testing.T) {
	backend := &fakeBackend{response: `{"continuedText":" and then"}`}
	svc := newTestService(t, backend)

	var chunks []string
	for chunk, err := range svc.ContinueStream(context.Background(), ContinuationRequest{ExistingText: "a", Credential: "k"}) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 1 || chunks[0] != " and then" {
		t.Fatalf("unexpected chunks %q", chunks)
	}
}

func TestRunsAreRecordedPerUser(t *testing.T) {
	rec := &recorder{}
	backend := &fakeBackend{response: `{"outline":"1. Setup"}`}
	svc := newTestService(t, backend, WithRunRecorder(rec, func(ctx context.Context) string {
		id, _ := ctx.Value(userKey{}).(string)
		return id
	}))

	ctx := context.WithValue(context.Background(), userKey{}, "u1")
	if _, err := svc.Outline(ctx, OutlineRequest{Context: "c", Credential: "k"}); err != nil {
		t.Fatalf("Outline failed: %v", err)
	}
	_, _ = svc.Outline(ctx, OutlineRequest{Credential: "k"})
	_, _ = svc.Outline(context.Background(), OutlineRequest{Context: "c", Credential: "k"})

	if len(rec.runs) != 2 {
		t.Fatalf("expected 2 recorded runs, got %d", len(rec.runs))
	}
	if rec.runs[0].Status != domain.FlowRunOK || rec.runs[1].Status != domain.FlowRunValidationError {
		t.Fatalf("unexpected statuses: %s, %s", rec.runs[0].Status, rec.runs[1].Status)
	}
	if rec.runs[0].UserID != "u1" || rec.runs[0].Flow != Outline {
		t.Fatalf("unexpected run: %+v", rec.runs[0])
	}
}

type userKey struct{}
