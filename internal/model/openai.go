package model

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI implements Backend on any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	model      string
	baseURL    string
	defaultKey string
	httpClient *http.Client
}

// NewOpenAI validates settings and returns the backend. The API key is optional
// here because callers usually send their own credential per call.
func NewOpenAI(s Settings) (*OpenAI, error) {
	if s.Model == "" {
		return nil, errors.New("llm model is required")
	}
	return &OpenAI{
		model:      s.Model,
		baseURL:    s.BaseURL,
		defaultKey: s.APIKey,
	}, nil
}

// WithHTTPClient sets the HTTP client used for outbound calls.
func (o *OpenAI) WithHTTPClient(c *http.Client) *OpenAI {
	o.httpClient = c
	return o
}

// Info describes the backend.
func (o *OpenAI) Info() Info {
	return Info{Provider: "openai", Model: o.model, Streaming: true}
}

func (o *OpenAI) client(credential string) (openai.Client, error) {
	key := credential
	if key == "" {
		key = o.defaultKey
	}
	if key == "" {
		return openai.Client{}, ErrMissingCredential
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(o.httpClient))
	}
	return openai.NewClient(opts...), nil
}

func (o *OpenAI) params(req Request) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.Schema.Name,
					Description: openai.String(req.Schema.Description),
					Schema:      req.Schema.Definition,
					Strict:      openai.Bool(false),
				},
			},
		}
	}
	return params
}

// Generate sends the prompt and returns the first choice's content.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	client, err := o.client(req.Credential)
	if err != nil {
		return "", err
	}

	resp, err := client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream sends the prompt and yields content deltas as they arrive.
// req.Schema is ignored; streamed output is plain text.
func (o *OpenAI) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		client, err := o.client(req.Credential)
		if err != nil {
			yield("", err)
			return
		}

		req.Schema = nil
		stream := client.Chat.Completions.NewStreaming(ctx, o.params(req))
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(chunk.Choices[0].Delta.Content, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("chat completion stream: %w", err))
		}
	}
}

var _ Streamer = (*OpenAI)(nil)
