package domain

import "time"

// FlowRunStatus is the outcome of a single flow invocation.
type FlowRunStatus string

const (
	// FlowRunOK marks a call that returned a validated result.
	FlowRunOK FlowRunStatus = "ok"
	// FlowRunValidationError marks a call rejected before or after the model call on shape.
	FlowRunValidationError FlowRunStatus = "validation_error"
	// FlowRunUpstreamError marks a call that failed at the model backend.
	FlowRunUpstreamError FlowRunStatus = "upstream_error"
)

// FlowRun records one flow invocation.
type FlowRun struct {
	ID         int64         `json:"id"`
	UserID     string        `json:"user_id"`
	Flow       string        `json:"flow"`
	Status     FlowRunStatus `json:"status"`
	DurationMs int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
