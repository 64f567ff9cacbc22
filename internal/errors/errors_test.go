package errors

import (
	"errors"
	"fmt"
	"testing"
)

// -----------------------------------------------------------------------------
// Severity / Kind Tests
// -----------------------------------------------------------------------------

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindConnectionFailure, "connection_failure"},
		{KindMalformedShadow, "malformed_shadow"},
		{KindUnauthorizedSubscription, "unauthorized_subscription"},
		{KindWriteFailure, "write_failure"},
		{KindStreamClosed, "stream_closed"},
		{KindUnknown, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// BridgeError Tests
// -----------------------------------------------------------------------------

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name      string
		err       *BridgeError
		kind      Kind
		severity  Severity
		retryable bool
	}{
		{"connection", NewConnectionError("read", cause), KindConnectionFailure, SeverityWarning, true},
		{"malformed", NewMalformedShadowError("missing"), KindMalformedShadow, SeverityWarning, false},
		{"unauthorized", NewUnauthorizedError("subscribe", cause), KindUnauthorizedSubscription, SeverityCritical, false},
		{"write", NewWriteError("write", cause), KindWriteFailure, SeverityError, true},
		{"stream", NewStreamClosedError("closed", nil), KindStreamClosed, SeverityWarning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Severity() != tt.severity {
				t.Errorf("Severity() = %v, want %v", tt.err.Severity(), tt.severity)
			}
			if tt.err.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", tt.err.IsRetryable(), tt.retryable)
			}
		})
	}
}

func TestBridgeError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *BridgeError
		want string
	}{
		{
			name: "basic error",
			err:  NewMalformedShadowError("desired.opcda.flag missing"),
			want: "malformed_shadow: desired.opcda.flag missing",
		},
		{
			name: "with cause",
			err:  NewConnectionError("read tags", ErrNotConnected),
			want: "connection_failure: read tags: not connected",
		},
		{
			name: "with context",
			err:  NewWriteError("write set-point", ErrTimeout).WithTag("TurbineSensors.Flag"),
			want: "write_failure [tag=TurbineSensors.Flag]: write set-point: operation timed out",
		},
		{
			name: "with all fields",
			err: NewUnauthorizedError("subscribe", nil).
				WithThing("gw-1").
				WithShadow("opc").
				WithTopic("$aws/things/gw-1/shadow/name/opc/update/delta"),
			want: "unauthorized_subscription [thing=gw-1, shadow=opc, topic=$aws/things/gw-1/shadow/name/opc/update/delta]: subscribe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBridgeError_Is(t *testing.T) {
	err := NewWriteError("write", ErrTimeout).WithTag("T")

	if !Is(err, ErrWriteFailure) {
		t.Error("Is(ErrWriteFailure) = false, want true")
	}
	if !Is(err, &BridgeError{Kind: KindWriteFailure}) {
		t.Error("Is(&BridgeError{KindWriteFailure}) = false, want true")
	}
	if !Is(err, ErrTimeout) {
		t.Error("Is(ErrTimeout) = false, want true (cause)")
	}
	if Is(err, ErrConnectionFailure) {
		t.Error("Is(ErrConnectionFailure) = true, want false")
	}
	if Is(err, &BridgeError{Kind: KindMalformedShadow}) {
		t.Error("Is(&BridgeError{KindMalformedShadow}) = true, want false")
	}
}

func TestBridgeError_Unwrap(t *testing.T) {
	cause := ErrNotConnected
	err := NewConnectionError("read", cause)

	if unwrapped := Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("x"), KindUnknown},
		{"bridge error", NewWriteError("w", nil), KindWriteFailure},
		{"wrapped bridge error", fmt.Errorf("outer: %w", NewUnauthorizedError("s", nil)), KindUnauthorizedSubscription},
		{"wrapped sentinel", fmt.Errorf("outer: %w", ErrStreamClosed), KindStreamClosed},
		{"joined", Join(errors.New("a"), NewMalformedShadowError("m")), KindMalformedShadow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"timeout sentinel", fmt.Errorf("op: %w", ErrTimeout), true},
		{"connection", NewConnectionError("c", nil), true},
		{"write", NewWriteError("w", nil), true},
		{"malformed", NewMalformedShadowError("m"), false},
		{"unauthorized", NewUnauthorizedError("u", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(fmt.Errorf("start: %w", NewUnauthorizedError("subscribe", nil))) {
		t.Error("IsFatal(unauthorized) = false, want true")
	}
	if IsFatal(NewConnectionError("c", nil)) {
		t.Error("IsFatal(connection) = true, want false")
	}
	if IsFatal(nil) {
		t.Error("IsFatal(nil) = true, want false")
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("GetSeverity(nil) = %v, want %v", got, SeverityDebug)
	}
	if got := GetSeverity(errors.New("x")); got != SeverityError {
		t.Errorf("GetSeverity(plain) = %v, want %v", got, SeverityError)
	}
	if got := GetSeverity(NewUnauthorizedError("u", nil)); got != SeverityCritical {
		t.Errorf("GetSeverity(unauthorized) = %v, want %v", got, SeverityCritical)
	}
}

// -----------------------------------------------------------------------------
// Wrap Tests
// -----------------------------------------------------------------------------

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	err := Wrap(NewMalformedShadowError("m"), "decode")
	if got := err.Error(); got != "decode: malformed_shadow: m" {
		t.Errorf("Wrap().Error() = %q", got)
	}
	if !Is(err, ErrMalformedShadow) {
		t.Error("wrapped error should still match its sentinel")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrapf(ErrTimeout, "cycle %d", 3)
	if got := err.Error(); got != "cycle 3: operation timed out" {
		t.Errorf("Wrapf().Error() = %q", got)
	}
}
