package flow

import "fmt"

// ValidationError reports an input record that is missing a field or has the
// wrong shape. It is always returned before any model call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// UpstreamError reports a failed model call or model output that does not
// match the flow's output schema.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func required(field, value string) error {
	if isBlank(value) {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}
