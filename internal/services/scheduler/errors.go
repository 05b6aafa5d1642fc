package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrScheduleMissing  = errors.New("schedule is missing")
	ErrInvalidThreshold = errors.New("slow warning threshold must be positive")
	ErrDuplicateJob     = errors.New("job already registered")
	ErrUnknownJob       = errors.New("unknown job")
	ErrNegativeDelay    = errors.New("timer delay must not be negative")
	ErrTimerDisposed    = errors.New("timer disposed")
	ErrDisposed         = errors.New("scheduler disposed")
	ErrNilJob           = errors.New("factory returned nil job")
)

// DefectError reports a failure outside the job body (rearm, acquire, tick
// bookkeeping). It means the scheduling invariants may no longer hold.
type DefectError struct {
	Job string
	Op  string
	Err error
}

func (e *DefectError) Error() string {
	return fmt.Sprintf("scheduler %s: %s: %v", e.Job, e.Op, e.Err)
}

func (e *DefectError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a job body.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("job panicked: %v", e.Value) }

// IsDefect reports whether err carries a scheduler defect.
func IsDefect(err error) bool {
	var d *DefectError
	return errors.As(err, &d)
}
