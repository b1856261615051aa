package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedType is returned by the codec for values it cannot encode.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrCycleGuardViolation reports a malformed reference graph. The
	// encoder never produces one; seeing it means corrupted input.
	ErrCycleGuardViolation = errors.New("cycle guard violation")

	// ErrUnknownCorrelationID marks a response whose request is no longer
	// pending. It is logged and dropped, never surfaced to callers.
	ErrUnknownCorrelationID = errors.New("unknown correlation id")

	// ErrMethodInvocation wraps a failure raised by a bound host method.
	ErrMethodInvocation = errors.New("method invocation failed")

	// ErrContextUnavailable is returned when operating on a released
	// script context.
	ErrContextUnavailable = errors.New("script context unavailable")

	// ErrContextBusy is returned when a context is entered while already
	// entered.
	ErrContextBusy = errors.New("script context already entered")

	// ErrObjectNotFound is returned when a call targets an object or
	// method that is not registered.
	ErrObjectNotFound = errors.New("object not found")

	// ErrClosed is returned by loops and transports after Close.
	ErrClosed = errors.New("closed")
)

// ScriptError is a failed script evaluation reported by the renderer.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	// first line only; the rest is the stack
	msg, _, _ := strings.Cut(e.Message, "\n")
	return "script error: " + msg
}

// MethodError is a failed host method call, carried back to script as the
// rejection message of the pending promise.
type MethodError struct {
	Object string
	Method string
	Err    error
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Object, e.Method, e.Err)
}

func (e *MethodError) Unwrap() []error {
	return []error{ErrMethodInvocation, e.Err}
}
