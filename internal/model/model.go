// Package model talks to the hosted language model that backs the flows.
package model

import (
	"context"
	"errors"
	"iter"
)

// ErrMissingCredential is returned when neither the call nor the backend carries an API key.
var ErrMissingCredential = errors.New("model credential missing")

// Schema asks the backend for JSON output matching Definition.
type Schema struct {
	Name        string
	Description string
	Definition  any
}

// Request is one prompt sent to the model.
type Request struct {
	System     string
	User       string
	Credential string
	Schema     *Schema
}

// Info describes a backend for logs and the frontend config endpoint.
type Info struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Streaming bool   `json:"streaming"`
}

// Backend generates a completion for a single prompt. One call, one attempt.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
	Info() Info
}

// Streamer is implemented by backends that can deliver plain-text output incrementally.
type Streamer interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Settings configures a concrete backend.
type Settings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// New builds the backend named by s.Provider.
func New(s Settings) (Backend, error) {
	switch s.Provider {
	case "openai", "":
		return NewOpenAI(s)
	case "mock":
		return &Mock{}, nil
	default:
		return nil, errors.New("model provider " + s.Provider + " not supported")
	}
}
