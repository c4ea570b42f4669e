// Package errdefs defines the typed errors shared by the deployment
// components.  Each remote-service manager raises one of these; the
// orchestrator annotates them with step context but never swallows them,
// so CLI and library callers can branch on the concrete kind.
package errdefs

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/smithy-go"
)

// BuildError reports a failed container image build.  LogRef points at the
// remote build log (CloudWatch deep link for CodeBuild builds) rather than
// raw output.
type BuildError struct {
	Reason string
	LogRef string
}

func (e *BuildError) Error() string {
	if e.LogRef != "" {
		return fmt.Sprintf("build failed: %s (logs: %s)", e.Reason, e.LogRef)
	}
	return fmt.Sprintf("build failed: %s", e.Reason)
}

// ArchitectureError reports a local build host whose CPU architecture does
// not match what the runtime requires.  It is raised before anything is
// built or pushed.
type ArchitectureError struct {
	Want string
	Got  string
}

func (e *ArchitectureError) Error() string {
	return fmt.Sprintf("build host architecture is %s, runtime requires %s", e.Got, e.Want)
}

// PermissionError means the caller's own credentials are insufficient for
// Op.  It is fatal and never retried.
type PermissionError struct {
	Op  string
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s: %v", e.Op, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ConflictError reports a name collision that the idempotent create-or-reuse
// fallback could not resolve.
type ConflictError struct {
	Resource string
	Name     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists and could not be adopted", e.Resource, e.Name)
}

// TimeoutError reports that a bounded wait (remote build, poll-for-ready,
// poll-for-deleted) exceeded its ceiling.  The remote resource is left in
// place; the caller decides whether to keep waiting or delete.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}

// UnavailableError wraps a transient remote-service failure.  This is the
// only kind eligible for automatic retry with backoff.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("remote service unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// InstanceError is terminal: the runtime instance reached a failed status.
// Reason carries whatever the remote service reported.
type InstanceError struct {
	Status string
	Reason string
}

func (e *InstanceError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("runtime instance entered status %s", e.Status)
	}
	return fmt.Sprintf("runtime instance entered status %s: %s", e.Status, e.Reason)
}

// StepError annotates a component failure with the deployment step that
// raised it and the partial state accumulated so far, so a re-run can resume
// from that point instead of starting over.
type StepError struct {
	Step  string
	State map[string]string
	Err   error
}

func (e *StepError) Error() string {
	if len(e.State) == 0 {
		return fmt.Sprintf("step %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %s: %v (partial state: %v)", e.Step, e.Err, e.State)
}

func (e *StepError) Unwrap() error { return e.Err }

// transientCodes are smithy error codes that indicate a retryable condition
// rather than a caller mistake.
var transientCodes = map[string]bool{
	"ThrottlingException":           true,
	"Throttling":                    true,
	"TooManyRequestsException":      true,
	"RequestTimeout":                true,
	"RequestTimeoutException":       true,
	"ServiceUnavailable":            true,
	"ServiceUnavailableException":   true,
	"InternalServerException":       true,
	"InternalError":                 true,
	"InternalFailure":               true,
	"ServiceInternalErrorException": true,
}

var deniedCodes = map[string]bool{
	"AccessDenied":          true,
	"AccessDeniedException": true,
	"UnauthorizedOperation": true,
	"NotAuthorized":         true,
}

// Classify maps a raw AWS SDK error onto the taxonomy: throttling and
// server-side faults become UnavailableError, authorization failures become
// PermissionError, everything else passes through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		code := ae.ErrorCode()
		switch {
		case transientCodes[code]:
			return &UnavailableError{Err: err}
		case deniedCodes[code]:
			return &PermissionError{Op: op, Err: err}
		}
	}
	return err
}

// IsRetryable reports whether err may be retried automatically.
func IsRetryable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
