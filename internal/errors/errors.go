// Package errors provides centralized error definitions and error handling utilities
// for the shadowbridge codebase. It defines the bridge's failure taxonomy, a tagged
// error type carrying that taxonomy, and classification helpers used at every
// boundary where errors are caught and logged.
//
// # Failure Kinds
//
// Every error raised by the bridge runtime is tagged with exactly one [Kind]:
//   - KindConnectionFailure: device or transport unreachable
//   - KindMalformedShadow: desired state missing or invalid
//   - KindUnauthorizedSubscription: the transport refused access
//   - KindWriteFailure: the device rejected or failed a tag write
//   - KindStreamClosed: the delta stream ended
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewConnectionError("read tags", cause).WithTag("TurbineSensors.*")
//	err := errors.NewMalformedShadowError("desired.opcda.flag missing")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrUnauthorized) { ... }
//
//	switch errors.KindOf(err) {
//	case errors.KindConnectionFailure:
//	    ...
//	}
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: the next poll cycle or delta event may succeed
//   - Fatal: the process must abort startup (only unauthorized subscriptions)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind tags an error with its place in the bridge's failure taxonomy.
type Kind int

const (
	// KindUnknown is reported for errors that carry no bridge tag.
	KindUnknown Kind = iota
	// KindConnectionFailure means the device or the shadow transport was unreachable.
	KindConnectionFailure
	// KindMalformedShadow means the shadow document lacked a usable desired state.
	KindMalformedShadow
	// KindUnauthorizedSubscription means the transport rejected our credentials.
	KindUnauthorizedSubscription
	// KindWriteFailure means the device rejected or failed a tag write.
	KindWriteFailure
	// KindStreamClosed means the delta stream was closed by the transport.
	KindStreamClosed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnectionFailure:
		return "connection_failure"
	case KindMalformedShadow:
		return "malformed_shadow"
	case KindUnauthorizedSubscription:
		return "unauthorized_subscription"
	case KindWriteFailure:
		return "write_failure"
	case KindStreamClosed:
		return "stream_closed"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// One sentinel per kind so callers can use errors.Is without a type assertion.
var (
	// ErrConnectionFailure matches any KindConnectionFailure error.
	ErrConnectionFailure = New("connection failure")
	// ErrMalformedShadow matches any KindMalformedShadow error.
	ErrMalformedShadow = New("malformed shadow document")
	// ErrUnauthorized matches any KindUnauthorizedSubscription error.
	ErrUnauthorized = New("unauthorized")
	// ErrWriteFailure matches any KindWriteFailure error.
	ErrWriteFailure = New("tag write failed")
	// ErrStreamClosed matches any KindStreamClosed error.
	ErrStreamClosed = New("stream closed")
)

// General sentinel errors
var (
	// ErrNotConnected indicates a device operation on a client with no session.
	ErrNotConnected = New("not connected")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindConnectionFailure:
		return ErrConnectionFailure
	case KindMalformedShadow:
		return ErrMalformedShadow
	case KindUnauthorizedSubscription:
		return ErrUnauthorized
	case KindWriteFailure:
		return ErrWriteFailure
	case KindStreamClosed:
		return ErrStreamClosed
	default:
		return nil
	}
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// -----------------------------------------------------------------------------
// BridgeError
// -----------------------------------------------------------------------------

// BridgeError is the tagged error raised by the bridge runtime and its adapters.
//
// Example:
//
//	err := errors.NewWriteError("write set-point", cause).WithTag("TurbineSensors.Flag")
//	fmt.Println(err) // "write_failure [tag=TurbineSensors.Flag]: write set-point: <cause>"
type BridgeError struct {
	baseError
	Kind   Kind
	Thing  string
	Shadow string
	Tag    string
	Topic  string
}

func newBridgeError(kind Kind, message string, cause error, sev Severity, retryable bool) *BridgeError {
	return &BridgeError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  sev,
			retryable: retryable,
		},
		Kind: kind,
	}
}

// NewConnectionError creates a KindConnectionFailure error.
// The next cycle or event may succeed, so it is retryable.
func NewConnectionError(message string, cause error) *BridgeError {
	return newBridgeError(KindConnectionFailure, message, cause, SeverityWarning, true)
}

// NewMalformedShadowError creates a KindMalformedShadow error.
func NewMalformedShadowError(message string) *BridgeError {
	return newBridgeError(KindMalformedShadow, message, nil, SeverityWarning, false)
}

// NewUnauthorizedError creates a KindUnauthorizedSubscription error.
func NewUnauthorizedError(message string, cause error) *BridgeError {
	return newBridgeError(KindUnauthorizedSubscription, message, cause, SeverityCritical, false)
}

// NewWriteError creates a KindWriteFailure error. A later identical delta retries
// the write, so it is retryable.
func NewWriteError(message string, cause error) *BridgeError {
	return newBridgeError(KindWriteFailure, message, cause, SeverityError, true)
}

// NewStreamClosedError creates a KindStreamClosed error.
func NewStreamClosedError(message string, cause error) *BridgeError {
	return newBridgeError(KindStreamClosed, message, cause, SeverityWarning, false)
}

// WithCause sets the underlying error.
func (e *BridgeError) WithCause(cause error) *BridgeError {
	e.cause = cause
	return e
}

// WithThing adds the thing name to the error context.
func (e *BridgeError) WithThing(thing string) *BridgeError {
	e.Thing = thing
	return e
}

// WithShadow adds the shadow name to the error context.
func (e *BridgeError) WithShadow(shadow string) *BridgeError {
	e.Shadow = shadow
	return e
}

// WithTag adds a tag name or pattern to the error context.
func (e *BridgeError) WithTag(tag string) *BridgeError {
	e.Tag = tag
	return e
}

// WithTopic adds a transport topic to the error context.
func (e *BridgeError) WithTopic(topic string) *BridgeError {
	e.Topic = topic
	return e
}

// Error returns the formatted error message.
func (e *BridgeError) Error() string {
	var parts []string
	if e.Thing != "" {
		parts = append(parts, fmt.Sprintf("thing=%s", e.Thing))
	}
	if e.Shadow != "" {
		parts = append(parts, fmt.Sprintf("shadow=%s", e.Shadow))
	}
	if e.Tag != "" {
		parts = append(parts, fmt.Sprintf("tag=%s", e.Tag))
	}
	if e.Topic != "" {
		parts = append(parts, fmt.Sprintf("topic=%s", e.Topic))
	}

	prefix := e.Kind.String()
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is matches the kind's sentinel, another *BridgeError of the same kind,
// or anything the cause matches.
func (e *BridgeError) Is(target error) bool {
	if t, ok := target.(*BridgeError); ok {
		return t.Kind == e.Kind
	}
	if s := sentinelFor(e.Kind); s != nil && target == s {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// KindOf returns the kind of the first *BridgeError in err's chain.
// Plain errors wrapping one of the kind sentinels are classified too.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var be *BridgeError
	if As(err, &be) {
		return be.Kind
	}

	for _, k := range []Kind{
		KindConnectionFailure,
		KindMalformedShadow,
		KindUnauthorizedSubscription,
		KindWriteFailure,
		KindStreamClosed,
	} {
		if Is(err, sentinelFor(k)) {
			return k
		}
	}
	return KindUnknown
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on the next cycle or event.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var be *BridgeError
	if As(err, &be) {
		return be.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsFatal reports whether err must abort startup.
func IsFatal(err error) bool {
	return KindOf(err) == KindUnauthorizedSubscription
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that are not a *BridgeError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var be *BridgeError
	if As(err, &be) {
		return be.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to publish reported state")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
