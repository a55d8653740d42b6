package statecraft

import (
	"errors"
	"fmt"
)

// ErrQueueCleared is the distinguished error delivered to the futures of
// queued events discarded by ClearQueue, SendPriority, Rollback or Restore.
var ErrQueueCleared = errors.New("statecraft: queue cleared")

// ErrInvalidSnapshot rejects Restore calls with a malformed snapshot
var ErrInvalidSnapshot = errors.New("statecraft: invalid snapshot")

// ErrUnknownStatePath rejects Restore calls naming a path outside the tree
var ErrUnknownStatePath = errors.New("statecraft: unknown state path")

// QueueClearedError carries the discarded event's type. It unwraps to
// ErrQueueCleared so callers can match with errors.Is.
type QueueClearedError struct {
	Event EventType
}

func (e *QueueClearedError) Error() string {
	return fmt.Sprintf("statecraft: queue cleared before event %q was processed", e.Event)
}

// Unwrap returns ErrQueueCleared
func (e *QueueClearedError) Unwrap() error {
	return ErrQueueCleared
}

// ActionError wraps a failure inside a blocking action batch. The batch
// halts at the failing action; context mutations already applied by earlier
// actions remain in place and the active path is left uncommitted.
type ActionError struct {
	// Name is the registry name of the failing action, empty for inline ones
	Name string
	// Index is the position of the failing action within its batch
	Index int
	Err   error
}

func (e *ActionError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("statecraft: action %q (batch index %d): %v", e.Name, e.Index, e.Err)
	}
	return fmt.Sprintf("statecraft: action at batch index %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying action failure
func (e *ActionError) Unwrap() error {
	return e.Err
}
