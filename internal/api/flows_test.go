//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ashureev/contextual-writer/internal/domain"
	"github.com/ashureev/contextual-writer/internal/flow"
	"github.com/ashureev/contextual-writer/internal/model"
)

func TestSuggestionsFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.respond = reply(`{"suggestions":[{"suggestion":"Give the keeper a secret","reasoning":"Adds tension"}]}`)

	rr := env.do(http.MethodPost, "/api/flows/suggestions", `{"request":"plot idea","context":"a lighthouse","credential":"k"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp flow.SuggestionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Suggestions) != 1 || resp.Suggestions[0].Reasoning != "Adds tension" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestFlowRejectsMalformedInputBeforeModelCall(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := map[string]struct {
		path string
		body string
	}{
		"wrong type":       {"/api/flows/suggestions", `{"request":5,"context":"c","credential":"k"}`},
		"missing field":    {"/api/flows/revision", `{"selectedText":"a","fullDocument":"a","credential":"k"}`},
		"blank field":      {"/api/flows/suggestions", `{"request":"   ","context":"c","credential":"k"}`},
		"absent text":      {"/api/flows/continuation", `{"savedContext":"notes","credential":"k"}`},
		"not json":         {"/api/flows/outline", `context=heist`},
		"empty body":       {"/api/flows/outline", ``},
		"missing key":      {"/api/flows/outline", `{"context":"a heist"}`},
		"array not object": {"/api/flows/continuation", `["Once upon a time"]`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rr := env.do(http.MethodPost, tc.path, tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}

	// The backend sees the missing-key call but rejects it before any request leaves the process.
	for _, req := range env.backend.requests {
		if req.Credential != "" {
			t.Fatalf("unexpected model call with credential: %+v", req)
		}
	}
}

func TestContinuationFromEmptyEditor(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.respond = reply(`{"continuedText":"The lighthouse had been dark for years."}`)

	rr := env.do(http.MethodPost, "/api/flows/continuation", `{"existingText":"","credential":"k"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp flow.ContinuationResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ContinuedText != "The lighthouse had been dark for years." {
		t.Fatalf("unexpected response %+v", resp)
	}
	if n := env.backend.calls(); n != 1 {
		t.Fatalf("expected one model call, got %d", n)
	}
}

func TestFlowUpstreamFailuresAreBadGateway(t *testing.T) {
	env := newTestEnv(t, nil)

	env.backend.respond = func(model.Request) (string, error) { return "", errors.New("provider unavailable") }
	rr := env.do(http.MethodPost, "/api/flows/outline", `{"context":"a heist","credential":"k"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on backend error, got %d", rr.Code)
	}

	env.backend.respond = reply(`{"plot":"missing outline field"}`)
	rr = env.do(http.MethodPost, "/api/flows/outline", `{"context":"a heist","credential":"k"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on schema mismatch, got %d", rr.Code)
	}
}

func TestCredentialResolutionOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.respond = reply(`{"continuedText":"X"}`)
	body := func(cred string) string {
		if cred == "" {
			return `{"existingText":"Once upon a time"}`
		}
		return `{"existingText":"Once upon a time","credential":"` + cred + `"}`
	}

	if rr := env.do(http.MethodPut, "/api/credential", `{"apiKey":"stored-key"}`); rr.Code != http.StatusOK {
		t.Fatalf("store credential: %d %s", rr.Code, rr.Body.String())
	}

	cases := []struct {
		name   string
		body   string
		header string
		want   string
	}{
		{"stored", body(""), "", "stored-key"},
		{"header beats stored", body(""), "header-key", "header-key"},
		{"body beats header", body("body-key"), "header-key", "body-key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var headers []string
			if tc.header != "" {
				headers = []string{CredentialHeader, tc.header}
			}
			rr := env.do(http.MethodPost, "/api/flows/continuation", tc.body, headers...)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if got := env.backend.last().Credential; got != tc.want {
				t.Fatalf("credential = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFlowRunsRecordedForCaller(t *testing.T) {
	env := newTestEnv(t, nil)
	env.backend.respond = reply(`{"outline":"1. Setup"}`)

	env.do(http.MethodPost, "/api/flows/outline", `{"context":"a heist","credential":"k"}`)
	env.do(http.MethodPost, "/api/flows/outline", `{"context":" ","credential":"k"}`)

	rr := env.do(http.MethodGet, "/api/flows/runs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var listed struct {
		Runs []domain.FlowRun `json:"runs"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(listed.Runs))
	}
	if listed.Runs[0].Status != domain.FlowRunValidationError || listed.Runs[1].Status != domain.FlowRunOK {
		t.Fatalf("expected newest first, got %s %s", listed.Runs[0].Status, listed.Runs[1].Status)
	}

	rr = env.do(http.MethodGet, "/api/flows/runs?limit=1", "")
	listed.Runs = nil
	if err := json.NewDecoder(rr.Body).Decode(&listed); err != nil || len(listed.Runs) != 1 {
		t.Fatalf("expected 1 run with limit=1, got %d (err=%v)", len(listed.Runs), err)
	}

	if rr := env.do(http.MethodGet, "/api/flows/runs?limit=lots", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestFlowRateLimited(t *testing.T) {
	env := newTestEnv(t, NewRateLimiter(2, 2*time.Minute))
	env.backend.respond = reply(`{"outline":"1. Setup"}`)

	for i := 0; i < 2; i++ {
		if rr := env.do(http.MethodPost, "/api/flows/outline", `{"context":"c","credential":"k"}`); rr.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := env.do(http.MethodPost, "/api/flows/outline", `{"context":"c","credential":"k"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}
