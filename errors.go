package ffibridge

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a [Bridge] after [Bridge.Close].
	ErrClosed = errors.New("ffibridge: bridge closed")

	// ErrSchedulerFreed is returned when work is handed to a [Scheduler] that
	// has already been freed.
	ErrSchedulerFreed = errors.New("ffibridge: scheduler freed")

	// ErrSchedulerGone is returned by [Bridge.Dispatch] for a token that no
	// longer resolves to a live scheduler. It is expected during teardown.
	ErrSchedulerGone = errors.New("ffibridge: scheduler gone")

	// ErrHandleGone is returned when dereferencing a released handle.
	ErrHandleGone = errors.New("ffibridge: handle gone")

	// ErrHandleUnavailable is returned when dereferencing a weak handle whose
	// target has been collected.
	ErrHandleUnavailable = errors.New("ffibridge: handle target no longer available")

	// ErrHandleType is returned by [DerefAs] when the target has another type.
	ErrHandleType = errors.New("ffibridge: handle target has unexpected type")

	// ErrRoundTripTimeout is the cause of every [TimeoutError] produced by a
	// round trip.
	ErrRoundTripTimeout = errors.New("ffibridge: round trip timed out")

	// ErrNotDelivered is returned by a round trip whose handler could not be
	// scheduled, because the scheduler was freed.
	ErrNotDelivered = errors.New("ffibridge: round trip not delivered")

	// ErrGoexit completes a round trip whose handler called runtime.Goexit.
	ErrGoexit = errors.New("ffibridge: handler exited via runtime.Goexit")

	// ErrPanic matches every [PanicError] via [errors.Is].
	ErrPanic = errors.New("ffibridge: handler panicked")

	// ErrInvalidLogLevel is returned for a level outside All..Off.
	ErrInvalidLogLevel = errors.New("ffibridge: invalid log level")

	// ErrInvalidSubscription is returned by log registrations missing a
	// scheduler or a sink.
	ErrInvalidSubscription = errors.New("ffibridge: log subscription needs a scheduler and a sink")

	// ErrNoDefaultLogger is returned when the default log subscriber is used
	// before [LogRegistry.InitDefault].
	ErrNoDefaultLogger = errors.New("ffibridge: default logger not initialized")
)

// Option validation errors.
var (
	ErrZeroRoundTripTimeout = errors.New("ffibridge: round trip timeout must not be zero")
	ErrDropWarningRate      = errors.New("ffibridge: drop warning rates must be positive")
	ErrUnknownAffinity      = errors.New("ffibridge: unknown affinity")
	ErrNegativeReentrancy   = errors.New("ffibridge: max reentrancy must not be negative")
)

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("ffibridge: handler panicked: %v", e.Value)
}

// Unwrap returns the panic value, if it was an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Is reports true for [ErrPanic].
func (e PanicError) Is(target error) bool {
	return target == ErrPanic
}

// TimeoutError is returned when a bounded wait expires.
type TimeoutError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "ffibridge: operation timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
