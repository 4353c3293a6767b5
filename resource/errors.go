package resource

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyStarted is returned by a second StartAll on the same orchestrator.
	ErrAlreadyStarted = errors.New("resource: orchestrator already started")
	// ErrRegistrySealed is returned when registering after an orchestrator was created.
	ErrRegistrySealed = errors.New("resource: registry is sealed")
	// ErrInvalidDescriptor wraps descriptor validation failures.
	ErrInvalidDescriptor = errors.New("resource: invalid descriptor")
	// ErrTimeout is the cause recorded when a start or stop exceeds its timeout.
	ErrTimeout = errors.New("resource: lifecycle timeout")
	// ErrStartPending is the stop failure of an instance whose Start was still
	// running when its stop timeout expired. Stop runs once Start returns.
	ErrStartPending = errors.New("resource: start still running, stop deferred")
)

// DuplicateKeyError means the key is already registered.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("resource: duplicate key %q", e.Key)
}

// NotFoundError means no descriptor is registered under the key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource: key %q not found", e.Key)
}

// NotRunningError means a handle was requested for an instance that is not Running.
type NotRunningError struct {
	Key   string
	State State
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("resource: %q is not running (state=%s)", e.Key, e.State)
}

// StartFailure records why one resource failed to start.
type StartFailure struct {
	Key string
	Err error
}

func (e *StartFailure) Error() string {
	return fmt.Sprintf("resource: start %q: %v", e.Key, e.Err)
}

func (e *StartFailure) Unwrap() error { return e.Err }

// StopFailure is one entry of an AggregateStopFailure.
type StopFailure struct {
	Key string
	Err error
}

func (e StopFailure) Error() string {
	return fmt.Sprintf("stop %q: %v", e.Key, e.Err)
}

func (e StopFailure) Unwrap() error { return e.Err }

// AggregateStopFailure lists every resource whose Stop failed during one StopAll.
type AggregateStopFailure struct {
	Failures []StopFailure
}

func (e *AggregateStopFailure) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("resource: %d resource(s) failed to stop: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Keys returns the failed keys in stop order.
func (e *AggregateStopFailure) Keys() []string {
	keys := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		keys[i] = f.Key
	}
	return keys
}

func (e *AggregateStopFailure) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// HandleTypeError means HandleAs could not convert the handle to the requested type.
type HandleTypeError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *HandleTypeError) Error() string {
	return fmt.Sprintf("resource: handle type mismatch for %q: expected=%s actual=%s", e.Key, e.Expected, e.Actual)
}

// InjectError describes a field Inject could not populate.
type InjectError struct {
	Field string
	Key   string
	Err   error
}

func (e *InjectError) Error() string {
	return fmt.Sprintf("resource: inject field %s (key %q): %v", e.Field, e.Key, e.Err)
}

func (e *InjectError) Unwrap() error { return e.Err }
