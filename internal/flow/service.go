package flow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/contextual-writer/internal/domain"
	"github.com/ashureev/contextual-writer/internal/model"
	"github.com/ashureev/contextual-writer/internal/prompt"
)

// Flow names as recorded in flow runs and logs.
const (
	Suggestions  = "suggestions"
	Continuation = "continuation"
	Revision     = "revision"
	Outline      = "outline"
)

const jsonInstruction = "Respond only with a JSON object that matches the provided schema."

type definition struct {
	name   string
	prompt string
	in     any
	out    any
}

func (d definition) input() *schema  { return schemaFor(d.name+"_input", d.in) }
func (d definition) output() *schema { return schemaFor(d.name+"_output", d.out) }

var (
	suggestionsFlow  = definition{Suggestions, prompt.ContextualSuggestions, &SuggestionRequest{}, &SuggestionResponse{}}
	continuationFlow = definition{Continuation, prompt.TextContinuation, &ContinuationRequest{}, &ContinuationResponse{}}
	revisionFlow     = definition{Revision, prompt.TargetedRevision, &RevisionRequest{}, &RevisionResponse{}}
	outlineFlow      = definition{Outline, prompt.PlotlineOutline, &OutlineRequest{}, &OutlineResponse{}}
)

// RunRecorder persists one record per flow invocation.
type RunRecorder interface {
	RecordFlowRun(ctx context.Context, run *domain.FlowRun) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithRunRecorder records every invocation for the user returned by userID.
// Calls without a user are not recorded.
func WithRunRecorder(rec RunRecorder, userID func(context.Context) string) Option {
	return func(s *Service) {
		s.recorder = rec
		s.userID = userID
	}
}

// Service runs the prompt flows against a model backend. It holds no
// per-call state and is safe for concurrent use.
type Service struct {
	backend  model.Backend
	prompts  *prompt.Registry
	logger   *slog.Logger
	timeout  time.Duration
	recorder RunRecorder
	userID   func(context.Context) string
}

// NewService creates a flow service.
func NewService(backend model.Backend, prompts *prompt.Registry, opts ...Option) *Service {
	s := &Service{
		backend: backend,
		prompts: prompts,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the model backend the service calls.
func (s *Service) Backend() model.Backend {
	return s.backend
}

// Suggest returns ranked suggestions for the request and context.
func (s *Service) Suggest(ctx context.Context, req SuggestionRequest) (resp SuggestionResponse, err error) {
	defer s.track(ctx, Suggestions, time.Now(), &err)
	if err = req.Validate(); err != nil {
		return resp, err
	}
	return invoke[SuggestionResponse](ctx, s, suggestionsFlow, req, req.Credential)
}

// Continue returns only the new text that follows req.ExistingText.
func (s *Service) Continue(ctx context.Context, req ContinuationRequest) (resp ContinuationResponse, err error) {
	defer s.track(ctx, Continuation, time.Now(), &err)
	if err = req.Validate(); err != nil {
		return resp, err
	}
	return invoke[ContinuationResponse](ctx, s, continuationFlow, req, req.Credential)
}

// Revise returns replacement text for req.SelectedText.
func (s *Service) Revise(ctx context.Context, req RevisionRequest) (resp RevisionResponse, err error) {
	defer s.track(ctx, Revision, time.Now(), &err)
	if err = req.Validate(); err != nil {
		return resp, err
	}
	return invoke[RevisionResponse](ctx, s, revisionFlow, req, req.Credential)
}

// Outline returns a markdown plotline outline for the context.
func (s *Service) Outline(ctx context.Context, req OutlineRequest) (resp OutlineResponse, err error) {
	defer s.track(ctx, Outline, time.Now(), &err)
	if err = req.Validate(); err != nil {
		return resp, err
	}
	return invoke[OutlineResponse](ctx, s, outlineFlow, req, req.Credential)
}

// ContinueStream yields the continuation in chunks as the model produces it.
// Backends that cannot stream yield the whole continuation once.
func (s *Service) ContinueStream(ctx context.Context, req ContinuationRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var err error
		defer s.track(ctx, Continuation, time.Now(), &err)

		if err = req.Validate(); err != nil {
			yield("", err)
			return
		}

		streamer, ok := s.backend.(model.Streamer)
		if !ok {
			var resp ContinuationResponse
			resp, err = invoke[ContinuationResponse](ctx, s, continuationFlow, req, req.Credential)
			if err != nil {
				yield("", err)
				return
			}
			yield(resp.ContinuedText, nil)
			return
		}

		rendered, rerr := s.prompts.Render(continuationFlow.prompt, req)
		if rerr != nil {
			err = fmt.Errorf("%s: %w", Continuation, rerr)
			yield("", err)
			return
		}

		ctx, cancel := s.withTimeout(ctx)
		defer cancel()

		var total int
		for chunk, serr := range streamer.Stream(ctx, model.Request{
			System:     rendered.System,
			User:       rendered.User,
			Credential: req.Credential,
		}) {
			if serr != nil {
				err = s.upstream(Continuation, serr)
				yield("", err)
				return
			}
			total += len(chunk)
			if !yield(chunk, nil) {
				return
			}
		}
		if total == 0 {
			err = &UpstreamError{Op: Continuation, Err: errors.New("model returned an empty continuation")}
			yield("", err)
		}
	}
}

func invoke[T any](ctx context.Context, s *Service, def definition, data any, credential string) (T, error) {
	var out T

	rendered, err := s.prompts.Render(def.prompt, data)
	if err != nil {
		return out, fmt.Errorf("%s: %w", def.name, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	outSchema := def.output()
	response, err := s.backend.Generate(ctx, model.Request{
		System:     strings.TrimSpace(rendered.System + "\n\n" + jsonInstruction),
		User:       rendered.User,
		Credential: credential,
		Schema: &model.Schema{
			Name:       def.name,
			Definition: outSchema.definition,
		},
	})
	if err != nil {
		return out, s.upstream(def.name, err)
	}

	if err := decodeOutput(response, outSchema, &out); err != nil {
		return out, &UpstreamError{Op: def.name, Err: err}
	}
	return out, nil
}

// upstream classifies a backend error. A missing credential is caught before
// any request leaves the process, so it is reported as invalid input.
func (s *Service) upstream(op string, err error) error {
	if errors.Is(err, model.ErrMissingCredential) {
		return &ValidationError{Field: "credential", Reason: "is required"}
	}
	return &UpstreamError{Op: op, Err: err}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) track(ctx context.Context, name string, start time.Time, errp *error) {
	err := *errp
	elapsed := time.Since(start)

	status := domain.FlowRunOK
	var ve *ValidationError
	switch {
	case err == nil:
	case errors.As(err, &ve):
		status = domain.FlowRunValidationError
	default:
		status = domain.FlowRunUpstreamError
	}

	attrs := []any{"flow", name, "status", status, "duration_ms", elapsed.Milliseconds()}
	if err != nil {
		s.logger.Warn("Flow failed", append(attrs, "error", err)...)
	} else {
		s.logger.Info("Flow completed", attrs...)
	}

	if s.recorder == nil || s.userID == nil {
		return
	}
	userID := s.userID(ctx)
	if userID == "" {
		return
	}
	run := &domain.FlowRun{
		UserID:     userID,
		Flow:       name,
		Status:     status,
		DurationMs: elapsed.Milliseconds(),
	}
	if err != nil {
		run.Error = err.Error()
	}
	// The request context may already be cancelled by the time the run is recorded.
	if rerr := s.recorder.RecordFlowRun(context.WithoutCancel(ctx), run); rerr != nil {
		s.logger.Error("Failed to record flow run", "flow", name, "error", rerr)
	}
}
