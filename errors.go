package chorus

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for collaborator resolution and request shaping.
var (
	// ErrNoAgent is returned when no agent can be resolved.
	ErrNoAgent = errors.New("no agent configured: pass one to NewReasoningPipeline, set via context, or SetAgent")

	// ErrEmptyPrompt is returned by Process for a request without a prompt.
	ErrEmptyPrompt = errors.New("pipeline request requires a prompt")
)

// ConfigError reports an invalid or contradictory PipelineConfig. It is the
// only error class that propagates to the caller as a hard failure, and only
// at construction time; once Process starts, faults are localized into
// failed stage results.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid pipeline config: %s: %s", e.Field, e.Reason)
}

// CollaboratorError wraps a failure from a downstream collaborator call.
// It is captured per stage and never propagated raw past Process.
type CollaboratorError struct {
	Stage StageType
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("stage %s: collaborator call failed: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// CacheError wraps a storage-layer cache fault. Stages treat it as a cache
// miss; it never corrupts the pipeline result.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// IsCancellation reports whether err represents a caller-requested
// cancellation or deadline expiry. Stages interrupted this way transition to
// failed with a cancellation-kind error rather than hanging.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
