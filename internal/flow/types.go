// Package flow implements the prompt flows: each one validates an input
// record, renders a prompt, calls the model once and validates its output.
package flow

import (
	"errors"
	"strings"
)

// SuggestionRequest asks for ranked ideas for the current writing context.
type SuggestionRequest struct {
	Request    string `json:"request" jsonschema_description:"The user request for a suggestion (e.g., character development, plot idea)."`
	Context    string `json:"context" jsonschema_description:"The current writing context (e.g., current scene, character descriptions)."`
	Credential string `json:"credential,omitempty" jsonschema_description:"The API key to use for the call."`
}

// Validate checks the fields the prompt depends on.
func (r SuggestionRequest) Validate() error {
	return required("request", r.Request)
}

// Suggestion is one idea with the model's reasoning for it.
type Suggestion struct {
	Suggestion string `json:"suggestion" jsonschema_description:"A suggested idea."`
	Reasoning  string `json:"reasoning" jsonschema_description:"The reasoning behind the suggestion."`
}

// SuggestionResponse is ordered best first.
type SuggestionResponse struct {
	Suggestions []Suggestion `json:"suggestions" jsonschema_description:"A ranked list of contextual suggestions."`
}

// ContinuationRequest asks the model to continue existing text.
type ContinuationRequest struct {
	ExistingText string `json:"existingText" jsonschema_description:"The existing text to continue from."`
	SavedContext string `json:"savedContext,omitempty" jsonschema_description:"Saved context to influence the continuation."`
	Credential   string `json:"credential,omitempty" jsonschema_description:"The API key to use for the call."`
}

// Validate accepts empty existing text so a blank page can be started; the
// field itself must still be present in JSON input.
func (ContinuationRequest) Validate() error {
	return nil
}

// ContinuationResponse carries only the new text; callers append it.
type ContinuationResponse struct {
	ContinuedText string `json:"continuedText" jsonschema_description:"The AI-generated continuation of the text."`
}

// RevisionRequest asks for a revision of SelectedText within FullDocument.
type RevisionRequest struct {
	SelectedText    string `json:"selectedText" jsonschema_description:"The text selected by the user for revision."`
	FullDocument    string `json:"fullDocument" jsonschema_description:"The entire document content for context."`
	RevisionRequest string `json:"revisionRequest" jsonschema_description:"The specific revision request from the user (e.g., rewrite, enhance, simplify)."`
	Credential      string `json:"credential,omitempty" jsonschema_description:"The API key to use for the call."`
}

// Validate checks the fields the prompt depends on.
func (r RevisionRequest) Validate() error {
	return errors.Join(
		required("selectedText", r.SelectedText),
		required("fullDocument", r.FullDocument),
		required("revisionRequest", r.RevisionRequest),
	)
}

// RevisionResponse is the replacement text for the selection.
type RevisionResponse struct {
	RevisedText string `json:"revisedText" jsonschema_description:"The revised text based on the user request."`
	Explanation string `json:"explanation,omitempty" jsonschema_description:"An explanation of the revisions made, if any."`
}

// OutlineRequest asks for a plotline outline of the given context.
type OutlineRequest struct {
	Context    string `json:"context" jsonschema_description:"The writing context to base the plotline outline on."`
	Credential string `json:"credential,omitempty" jsonschema_description:"The API key to use for the call."`
}

// Validate checks the fields the prompt depends on.
func (r OutlineRequest) Validate() error {
	return required("context", r.Context)
}

// OutlineResponse is a markdown outline.
type OutlineResponse struct {
	Outline string `json:"outline" jsonschema_description:"The generated plotline outline."`
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
