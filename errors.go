package turbotask

import (
	"errors"
	"fmt"
)

// ReadOwnOutputError is returned when a task attempts to read its own
// output as a dependency. It is
// fatal at the engine boundary: it indicates a caller bug, never a
// recoverable runtime condition.
type ReadOwnOutputError struct {
	Task TaskId
}

func (e *ReadOwnOutputError) Error() string {
	return fmt.Sprintf("turbotask: task %d attempted to read its own output", e.Task)
}

// TaskFailureError is a value-level error produced by a task's function. It
// is memoized identically to a successful value: readers see it via Read,
// and it participates in identity comparison for dirtying.
type TaskFailureError struct {
	Task   TaskId
	Reason error
}

func (e *TaskFailureError) Error() string {
	return fmt.Sprintf("turbotask: task %d failed: %v", e.Task, e.Reason)
}

func (e *TaskFailureError) Unwrap() error {
	return e.Reason
}

// identityKey returns the comparable key used to decide whether two
// TaskFailureErrors represent the "same" failure for identity short-circuit
// purposes.
func (e *TaskFailureError) identityKey() any {
	return e.Reason.Error()
}

// sameErrorIdentity reports whether a and b should be treated as the same
// failure for dirtying purposes, mirroring sameIdentity's treatment of
// RawRef. Only *TaskFailureError carries an identity key; any other error
// type (or a nil on either side) is always treated as changed.
func sameErrorIdentity(a, b error) (same bool) {
	fa, ok := a.(*TaskFailureError)
	if !ok {
		return false
	}
	fb, ok := b.(*TaskFailureError)
	if !ok {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return fa.identityKey() == fb.identityKey()
}

// staleCompletionError is internal: a task completion arrived for a
// superseded execution epoch and was discarded. It never escapes the engine
// to a caller; Task.executionResult and Task.executionCompleted discard a
// stale epoch by returning early and do not construct this value.
type staleCompletionError struct {
	Task          TaskId
	ExpectedEpoch uint64
	GotEpoch      uint64
}

func (e *staleCompletionError) Error() string {
	return fmt.Sprintf("turbotask: stale completion for task %d (expected epoch %d, got %d)", e.Task, e.ExpectedEpoch, e.GotEpoch)
}

// CycleError is surfaced to a strongly-consistent reader when waiting would
// block on a scope that contains the waiter itself.
type CycleError struct {
	Reader TaskId
	Scope  ScopeId
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("turbotask: strongly consistent read by task %d would cycle through scope %d", e.Reader, e.Scope)
}

// ErrRetryWait signals that a strongly-consistent wait must be retried. No
// Backend operation returns it: a wait handle from a strongly-consistent
// read stays pending until the scope's unfinished count reaches zero, even
// if the scope becomes inactive or the waiter is invalidated meanwhile.
var ErrRetryWait = errors.New("turbotask: strongly consistent wait must be retried")

// ErrSlotNotFound indicates a TaskId/ScopeId/JobId was looked up after its
// owning entity was released — a fatal internal-invariant violation, never
// expected in correct usage of the Backend facade.
var ErrSlotNotFound = errors.New("turbotask: slot not found")
