package device

import (
	"context"
	"errors"
	"fmt"
)

// NotFoundError represents an error when a GATT resource is not exposed by a device
type NotFoundError struct {
	Resource string   // "characteristic", "service"
	UUIDs    []string // One or more UUIDs
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[len(e.UUIDs)-1])
}

// ErrorKind classifies a gateway failure
type ErrorKind string

const (
	KindDeviceNotFound        ErrorKind = "device_not_found"
	KindNotAuthorized         ErrorKind = "not_authorized"
	KindLinkFailure           ErrorKind = "link_failure"
	KindPairing               ErrorKind = "pairing_error"
	KindAuthorization         ErrorKind = "authorization_error"
	KindUnknownCharacteristic ErrorKind = "unknown_characteristic"
	KindTimeout               ErrorKind = "timeout"
	KindBusy                  ErrorKind = "busy"
	KindInvalidState          ErrorKind = "invalid_state"
)

// Error is the single error type surfaced by the registry, the connection manager and the
// characteristic gateway. Transport errors travel in Err and never escape unwrapped.
type Error struct {
	Kind     ErrorKind
	Identity string
	Op       string // "connect", "pair", "authorize", "read", "write", ...
	Msg      string
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Identity != "" {
		msg = fmt.Sprintf("%s (device %s)", msg, e.Identity)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, compared by kind
var (
	ErrDeviceNotFound        = &Error{Kind: KindDeviceNotFound}
	ErrNotAuthorized         = &Error{Kind: KindNotAuthorized}
	ErrLinkFailure           = &Error{Kind: KindLinkFailure}
	ErrPairing               = &Error{Kind: KindPairing}
	ErrAuthorization         = &Error{Kind: KindAuthorization}
	ErrUnknownCharacteristic = &Error{Kind: KindUnknownCharacteristic}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrBusy                  = &Error{Kind: KindBusy}
	ErrInvalidState          = &Error{Kind: KindInvalidState}
)

// Transport-level conditions reported by Link implementations
var (
	ErrNotConnected = errors.New("device not connected")
	ErrLinkClosed   = errors.New("link closed")
)

// NewError builds an Error of the given kind. A deadline in the cause chain turns the
// error into a timeout, whatever kind was requested.
func NewError(kind ErrorKind, identity, op string, cause error) *Error {
	if cause != nil && errors.Is(cause, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Identity: identity, Op: op, Err: cause}
}

// KindOf returns the kind of a gateway error, or "" for foreign errors
func KindOf(err error) ErrorKind {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	return ""
}
