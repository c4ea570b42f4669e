// Package runtime manages AgentCore runtime instances: create-or-update,
// poll until ready, invoke, and delete.
package runtime

import "strings"

// Status is the lifecycle state of a runtime instance as this tool models
// it.  Remote statuses are service-defined opaque strings and are mapped in
// via FromRemote.
type Status string

const (
	StatusAbsent   Status = "ABSENT"
	StatusCreating Status = "CREATING"
	StatusUpdating Status = "UPDATING"
	StatusReady    Status = "READY"
	StatusFailed   Status = "FAILED"
	StatusDeleting Status = "DELETING"
	StatusDeleted  Status = "DELETED"
	StatusUnknown  Status = "UNKNOWN"
)

// FromRemote maps a service-reported status string onto the local lifecycle.
// Unrecognized in-flight statuses map to StatusUnknown, which the waiter
// treats as "keep polling".
func FromRemote(s string) Status {
	switch strings.ToUpper(s) {
	case "CREATING":
		return StatusCreating
	case "UPDATING":
		return StatusUpdating
	case "READY":
		return StatusReady
	case "CREATE_FAILED", "UPDATE_FAILED", "DELETE_FAILED", "FAILED":
		return StatusFailed
	case "DELETING":
		return StatusDeleting
	case "DELETED":
		return StatusDeleted
	case "":
		return StatusAbsent
	default:
		return StatusUnknown
	}
}

// Terminal reports whether s is an end state for a create or update wait.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Instance is a runtime instance as observed from the control plane.
type Instance struct {
	// ID is the service-assigned runtime identifier.
	ID string
	// ARN is the invocable resource name.
	ARN string
	// Name is the deployment name the instance was created under.
	Name string
	// Status is the mapped lifecycle state.
	Status Status
	// RemoteStatus is the raw service status string behind Status.
	RemoteStatus string
	// Reason carries the service-supplied failure detail, when any.
	Reason string
	// ImageURI is the container image the instance runs.
	ImageURI string
}

// LookupOutcome tags the result of a lookup-by-name.
type LookupOutcome int

const (
	// LookupAbsent means no instance with that name exists.
	LookupAbsent LookupOutcome = iota
	// LookupExisting means an instance exists; Lookup.ID identifies it.
	LookupExisting
)

// Lookup is the tagged result of FindByName.  Callers branch on Outcome
// explicitly instead of catching a conflict error as control flow.
type Lookup struct {
	Outcome LookupOutcome
	ID      string
	ARN     string
}
