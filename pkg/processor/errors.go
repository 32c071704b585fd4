package processor

import (
	"errors"
	"fmt"

	apperrors "github.com/duynguyendang/kbfuse/pkg/common/errors"
)

// ErrCancelled marks a processor stopped by pipeline-wide cancellation.
var ErrCancelled = errors.New("processor cancelled")

// ParameterError reports a parameter set that does not fit the processor's
// declared schema.
type ParameterError struct {
	Processor ID
	Type      string
	Field     string
	Reason    string
	Cause     error
}

func (e *ParameterError) Error() string {
	msg := fmt.Sprintf("processor %q (%s): invalid parameters", e.Processor, e.Type)
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ParameterError) Unwrap() []error {
	if e.Cause == nil {
		return []error{apperrors.ErrInvalidInput}
	}
	return []error{e.Cause, apperrors.ErrInvalidInput}
}

// NotReadyError is returned when results are read before SUCCEEDED.
type NotReadyError struct {
	Processor ID
	State     State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("processor %q results not ready (state %s)", e.Processor, e.State)
}

func (e *NotReadyError) Unwrap() error { return apperrors.ErrNotReady }

// ProcessorFailure is the terminal cause recorded on a FAILED processor.
type ProcessorFailure struct {
	Processor ID
	Cause     error
}

func (e *ProcessorFailure) Error() string {
	return fmt.Sprintf("processor %q failed: %v", e.Processor, e.Cause)
}

func (e *ProcessorFailure) Unwrap() error { return e.Cause }

// DependencyFailedError is the cause of a processor that never ran because
// an ancestor failed. Dependency names the ancestor whose own computation
// failed.
type DependencyFailedError struct {
	Dependency ID
	Cause      error
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("dependency %q failed: %v", e.Dependency, e.Cause)
}

func (e *DependencyFailedError) Unwrap() error { return e.Cause }

// InvalidTransitionError reports a lifecycle transition the state machine
// does not allow. It indicates a scheduler bug.
type InvalidTransitionError struct {
	Processor ID
	From, To  State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("processor %q: invalid transition %s -> %s", e.Processor, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return apperrors.ErrConflict }
