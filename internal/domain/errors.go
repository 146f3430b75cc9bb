package domain

import (
	"errors"
	"fmt"
)

// ErrClassifierUnavailable marks a content-classifier failure. Callers
// fail safe to the most restrictive verdict when they see it.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// ErrAgentBusy is returned when an agent task is submitted while another
// one is still running.
var ErrAgentBusy = errors.New("an agent task is already running")

// ErrNotFound is returned for lookups of unknown packages or schedule ids.
var ErrNotFound = errors.New("not found")

// ValidationError rejects a config, rule or schedule write. Prior state
// is always retained when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AutomationFailure records a failed device action. The state machine
// proceeds regardless; the failure is logged and user-visible.
type AutomationFailure struct {
	Action string
	Err    error
}

func (e *AutomationFailure) Error() string {
	return fmt.Sprintf("device action %s failed: %v", e.Action, e.Err)
}

func (e *AutomationFailure) Unwrap() error { return e.Err }
