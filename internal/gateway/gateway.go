// Package gateway is the thin seam between the accounting core and the
// external generation provider. It submits jobs and fetches status; it
// never touches balances. Charging policy lives with the callers: tokens
// are debited only after the provider accepts or completes a job, never
// before, so a failed submit costs the user nothing.
package gateway

import (
	"context"
	"fmt"
)

// JobState is the normalized provider state machine:
// pending -> running -> {success, fail}.
type JobState string

const (
	StatePending JobState = "pending"
	StateRunning JobState = "running"
	StateSuccess JobState = "success"
	StateFail    JobState = "fail"
)

// Terminal reports whether the state permits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateSuccess || s == StateFail
}

// NormalizeState maps provider-specific status vocabulary onto the
// JobState machine. The second return is false for vocabulary we have
// never seen, which callers treat as still-running rather than guessing
// a terminal outcome.
func NormalizeState(raw string) (JobState, bool) {
	switch raw {
	case "pending", "waiting", "queued", "created", "submitted":
		return StatePending, true
	case "running", "processing", "generating", "in_progress", "inprogress":
		return StateRunning, true
	case "success", "succeeded", "completed", "complete", "done":
		return StateSuccess, true
	case "fail", "failed", "error", "cancelled", "canceled":
		return StateFail, true
	default:
		return StateRunning, false
	}
}

// JobSpec is the submission payload forwarded to the provider.
type JobSpec struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model"`
	AspectRatio    string  `json:"aspect_ratio"`
	Resolution     string  `json:"resolution,omitempty"`
	OutputCount    int     `json:"output_count"`
	PresetID       *string `json:"preset_id,omitempty"`
	SourceImageRef *string `json:"source_image_ref,omitempty"`
	// CallbackURL is where the provider pushes terminal-state callbacks.
	CallbackURL string `json:"callback_url,omitempty"`
}

// SubmitResult is either an inline (sync) result or an async task handle.
type SubmitResult struct {
	// Images holds result references for synchronous completions.
	Images []string
	// ExternalTaskID is set for asynchronous acceptance.
	ExternalTaskID string
}

// Async reports whether the provider handed back a task id instead of
// inline results.
func (r *SubmitResult) Async() bool {
	return r.ExternalTaskID != ""
}

// JobStatus is one normalized status fetch.
type JobStatus struct {
	State        JobState
	Images       []string
	ErrorMessage string
	Progress     float64
}

// ProviderError carries the provider's own message for any submission or
// poll failure. It is never swallowed: callers surface it verbatim.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// Provider is the external collaborator contract.
type Provider interface {
	Submit(ctx context.Context, spec JobSpec) (*SubmitResult, error)
	Poll(ctx context.Context, externalTaskID string) (*JobStatus, error)
}
