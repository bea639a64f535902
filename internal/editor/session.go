package editor

import (
	"context"
	"strings"

	"github.com/ashureev/contextual-writer/internal/flow"
)

// SuggestionPrompt is the request sent when suggestions are asked for from the context panel.
const SuggestionPrompt = "Suggest character development and plot ideas"

// Flows is the subset of the flow service a session drives.
type Flows interface {
	Suggest(ctx context.Context, req flow.SuggestionRequest) (flow.SuggestionResponse, error)
	Continue(ctx context.Context, req flow.ContinuationRequest) (flow.ContinuationResponse, error)
	Revise(ctx context.Context, req flow.RevisionRequest) (flow.RevisionResponse, error)
	Outline(ctx context.Context, req flow.OutlineRequest) (flow.OutlineResponse, error)
}

// Session ties a document to the flows. The document lock is never held
// across a model call, so overlapping calls each apply their result to the
// document as it stands when they return.
type Session struct {
	doc        *Document
	flows      Flows
	credential string
}

// NewSession creates a session. credential may be empty when the flows have a default key.
func NewSession(doc *Document, flows Flows, credential string) *Session {
	return &Session{doc: doc, flows: flows, credential: credential}
}

// Document returns the session's document.
func (s *Session) Document() *Document {
	return s.doc
}

// Continue appends a continuation of the current text and returns the new text.
func (s *Session) Continue(ctx context.Context) (string, error) {
	snap := s.doc.Snapshot()
	resp, err := s.flows.Continue(ctx, flow.ContinuationRequest{
		ExistingText: snap.Text,
		SavedContext: snap.SavedContext,
		Credential:   s.credential,
	})
	if err != nil {
		return "", err
	}
	s.doc.ApplyContinuation(resp.ContinuedText)
	return resp.ContinuedText, nil
}

// Suggest asks for suggestions based on the context panel text. An empty
// request uses SuggestionPrompt.
func (s *Session) Suggest(ctx context.Context, request string) ([]flow.Suggestion, error) {
	if strings.TrimSpace(request) == "" {
		request = SuggestionPrompt
	}
	resp, err := s.flows.Suggest(ctx, flow.SuggestionRequest{
		Request:    request,
		Context:    s.doc.Snapshot().Context,
		Credential: s.credential,
	})
	if err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

// ReviseSelection revises the selected span and splices the result back at
// the captured offsets.
func (s *Session) ReviseSelection(ctx context.Context, sel Selection, instructions string) (flow.RevisionResponse, error) {
	resp, err := s.flows.Revise(ctx, flow.RevisionRequest{
		SelectedText:    sel.Text,
		FullDocument:    s.doc.Snapshot().Text,
		RevisionRequest: instruction(instructions),
		Credential:      s.credential,
	})
	if err != nil {
		return resp, err
	}
	return resp, s.doc.ApplyRevision(sel, resp.RevisedText)
}

// GlobalEdit revises the whole text and replaces it with the result.
func (s *Session) GlobalEdit(ctx context.Context, instructions string) (flow.RevisionResponse, error) {
	text := s.doc.Snapshot().Text
	resp, err := s.flows.Revise(ctx, flow.RevisionRequest{
		SelectedText:    text,
		FullDocument:    text,
		RevisionRequest: instruction(instructions),
		Credential:      s.credential,
	})
	if err != nil {
		return resp, err
	}
	s.doc.ApplyGlobalEdit(resp.RevisedText)
	return resp, nil
}

// Outline returns a plotline outline for the context panel text. The document is not modified.
func (s *Session) Outline(ctx context.Context) (string, error) {
	resp, err := s.flows.Outline(ctx, flow.OutlineRequest{
		Context:    s.doc.Snapshot().Context,
		Credential: s.credential,
	})
	if err != nil {
		return "", err
	}
	return resp.Outline, nil
}

func instruction(s string) string {
	if strings.TrimSpace(s) == "" {
		return DefaultInstruction
	}
	return s
}
