package model

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"strings"
)

// Mock is a local stand-in that never calls a hosted model. When the request
// carries a schema it synthesizes a JSON value that satisfies it; otherwise
// it echoes a short continuation.
type Mock struct{}

// Info describes the backend.
func (Mock) Info() Info {
	return Info{Provider: "mock", Model: "mock", Streaming: true}
}

// Generate returns canned output derived from the prompt.
func (m Mock) Generate(_ context.Context, req Request) (string, error) {
	if req.Schema == nil {
		return mockText(req.User), nil
	}

	raw, err := json.Marshal(req.Schema.Definition)
	if err != nil {
		return "", fmt.Errorf("mock: marshal schema: %w", err)
	}
	var node map[string]any
	if err := json.Unmarshal(raw, &node); err != nil {
		return "", fmt.Errorf("mock: decode schema: %w", err)
	}

	out, err := json.Marshal(sample(node, mockText(req.User)))
	if err != nil {
		return "", fmt.Errorf("mock: encode sample: %w", err)
	}
	return string(out), nil
}

// Stream yields the mock text word by word.
func (m Mock) Stream(_ context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, word := range strings.SplitAfter(mockText(req.User), " ") {
			if !yield(word, nil) {
				return
			}
		}
	}
}

func mockText(userPrompt string) string {
	words := strings.Fields(userPrompt)
	if len(words) > 6 {
		words = words[len(words)-6:]
	}
	return " [mock] " + strings.Join(words, " ")
}

// sample builds a value that satisfies the JSON schema node.
func sample(node map[string]any, text string) any {
	switch node["type"] {
	case "object":
		props, _ := node["properties"].(map[string]any)
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := make(map[string]any, len(props))
		for _, k := range keys {
			child, _ := props[k].(map[string]any)
			obj[k] = sample(child, text)
		}
		return obj
	case "array":
		items, _ := node["items"].(map[string]any)
		return []any{sample(items, text), sample(items, text+" (alt)")}
	case "integer", "number":
		return 0
	case "boolean":
		return false
	default:
		return text
	}
}

var _ Streamer = Mock{}
