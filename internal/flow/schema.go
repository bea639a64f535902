package flow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

// schema pairs the reflected JSON schema of a Go type with its compiled validator.
type schema struct {
	name       string
	definition map[string]any
	compiled   *validator.Schema
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*schema{}
)

var reflector = &jsonschema.Reflector{
	Anonymous:                 true,
	DoNotReference:            true,
	AllowAdditionalProperties: true,
}

// schemaFor reflects and compiles the schema for v's type once per name.
func schemaFor(name string, v any) *schema {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[name]; ok {
		return s
	}

	reflected := reflector.Reflect(v)
	reflected.Version = ""
	raw, err := json.Marshal(reflected)
	if err != nil {
		panic(fmt.Sprintf("flow: marshal schema %s: %v", name, err))
	}

	var definition map[string]any
	if err := json.Unmarshal(raw, &definition); err != nil {
		panic(fmt.Sprintf("flow: decode schema %s: %v", name, err))
	}

	url := "mem://flow/" + name + ".json"
	c := validator.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("flow: add schema %s: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("flow: compile schema %s: %v", name, err))
	}

	s := &schema{name: name, definition: definition, compiled: compiled}
	schemaCache[name] = s
	return s
}

// validate decodes data and checks it against the schema without touching any Go type.
func (s *schema) validate(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	if dec.More() {
		return &ValidationError{Reason: "trailing data after JSON value"}
	}

	if err := s.compiled.Validate(doc); err != nil {
		var ve *validator.ValidationError
		if errors.As(err, &ve) {
			return leafError(ve)
		}
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}

// leafError reduces the validator's error tree to its first concrete cause.
func leafError(ve *validator.ValidationError) *ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	return &ValidationError{Field: strings.ReplaceAll(field, "/", "."), Reason: ve.Message}
}

// DecodeRequest validates raw JSON against the schema of v's type and then
// decodes it into v. v must point to one of the flow request types.
func DecodeRequest(data []byte, v any) error {
	var s *schema
	switch v.(type) {
	case *SuggestionRequest:
		s = suggestionsFlow.input()
	case *ContinuationRequest:
		s = continuationFlow.input()
	case *RevisionRequest:
		s = revisionFlow.input()
	case *OutlineRequest:
		s = outlineFlow.input()
	default:
		return fmt.Errorf("flow: no schema for %T", v)
	}

	if err := s.validate(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}

// stripFences removes a markdown code fence some models wrap around JSON.
func stripFences(response string) string {
	response = strings.TrimSpace(response)
	if !strings.HasPrefix(response, "```") {
		return response
	}
	response = strings.TrimPrefix(response, "```")
	if i := strings.IndexByte(response, '\n'); i >= 0 {
		response = response[i+1:]
	} else {
		response = strings.TrimPrefix(response, "json")
	}
	response = strings.TrimSuffix(strings.TrimSpace(response), "```")
	return strings.TrimSpace(response)
}

// decodeOutput checks model output against the schema and decodes it into out.
func decodeOutput(response string, s *schema, out any) error {
	data := []byte(stripFences(response))
	if err := s.validate(data); err != nil {
		return fmt.Errorf("output does not match %s schema: %v", s.name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s output: %w", s.name, err)
	}
	return nil
}
