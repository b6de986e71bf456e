// ABOUTME: Typed error taxonomy for caller-facing supervisor failures
// ABOUTME: Background failures are persisted into durable state instead

package supervisor

import (
	"fmt"
	"strings"
)

// NotFoundError indicates a referenced installation or session does not exist.
type NotFoundError struct {
	Kind string // "installation", "session", "agent definition"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidStateError indicates an operation is not valid for the entity's
// current lifecycle state.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in status %q", e.Op, e.Status)
}

// PermissionError indicates the installer did not grant every permission the
// agent definition requires.
type PermissionError struct {
	AgentID string
	Missing []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("agent %s requires missing permissions: %s", e.AgentID, strings.Join(e.Missing, ", "))
}

// AgentNotRunningError indicates an event was sent to an installation with
// no running session.
type AgentNotRunningError struct {
	InstallationID string
}

func (e *AgentNotRunningError) Error() string {
	return fmt.Sprintf("no running session for installation %s", e.InstallationID)
}

// AdapterMissingError indicates an internal consistency failure: the live
// registry has no adapter for a token a session row claims is running.
type AdapterMissingError struct {
	SessionToken string
}

func (e *AdapterMissingError) Error() string {
	return "no live adapter registered for session token"
}

// AdapterError wraps a failure raised by the pluggable adapter itself.
type AdapterError struct {
	Op  string // "connect", "disconnect", "send", "receive"
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}
