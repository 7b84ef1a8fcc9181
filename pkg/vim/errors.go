package vim

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for retry and reporting logic.
type ErrorKind string

const (
	// KindTransport is a network or RPC failure. Generally retryable.
	KindTransport ErrorKind = "transport"

	// KindNotFound is an absent object or property where a collaborator
	// treats absence as a rejection (e.g. lookup by IP).
	KindNotFound ErrorKind = "not_found"

	// KindTimeout is an exceeded wait or retry budget.
	KindTimeout ErrorKind = "timeout"

	// KindGuestTransient is a busy or not yet ready guest agent.
	KindGuestTransient ErrorKind = "guest_transient"

	// KindRemoteTask is a polled task or property that reached an explicit
	// error state. Payload carries the server's diagnostic info.
	KindRemoteTask ErrorKind = "remote_task"

	// KindConfiguration is a registered proxy type that could not be built.
	// Never retried.
	KindConfiguration ErrorKind = "configuration"

	// KindNotLoggedIn is an operation against an endpoint without a session.
	KindNotLoggedIn ErrorKind = "not_logged_in"

	// KindInvalidArgument is a caller error detected before any I/O.
	KindInvalidArgument ErrorKind = "invalid_argument"
)

// Error is a classified error with enough context to cross-reference the
// failure with the server's own task and event history.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Op is the operation being performed (e.g. "waitState", "upload").
	Op string `json:"op,omitempty"`

	// Object is the managed object involved, if any.
	Object ObjectRef `json:"object,omitempty"`

	// Code is an optional vendor fault code.
	Code string `json:"code,omitempty"`

	// Payload is the diagnostic value attached to remote task failures.
	Payload any `json:"payload,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Op != "" {
		msg += " (op=" + e.Op
		if !e.Object.IsZero() {
			msg += ", object=" + e.Object.String()
		}
		msg += ")"
	} else if !e.Object.IsZero() {
		msg += " (object=" + e.Object.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

// NewError creates a classified error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewTransportError creates a transport error.
func NewTransportError(message string, err error) *Error {
	return NewError(KindTransport, message, err)
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string) *Error {
	return NewError(KindNotFound, message, nil)
}

// NewTimeoutError creates a timeout error wrapping the last observed failure.
func NewTimeoutError(message string, last error) *Error {
	return NewError(KindTimeout, message, last)
}

// NewRemoteTaskError creates a remote task error carrying the diagnostic payload.
func NewRemoteTaskError(message string, payload any) *Error {
	return &Error{Kind: KindRemoteTask, Message: message, Payload: payload}
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, err error) *Error {
	return NewError(KindConfiguration, message, err)
}

// WithObject adds the managed object reference.
func (e *Error) WithObject(ref ObjectRef) *Error {
	e.Object = ref
	return e
}

// WithOp adds the operation name.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithCode adds a vendor fault code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithPayload attaches a diagnostic payload.
func (e *Error) WithPayload(payload any) *Error {
	e.Payload = payload
	return e
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsNotFound reports whether err is a not-found error or a not-found fault.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound || FaultKindOf(err) == FaultNotFound
}

// IsTimeout reports whether err is a timeout error.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsGuestTransient reports whether err is a transient guest agent error.
func IsGuestTransient(err error) bool {
	return KindOf(err) == KindGuestTransient || FaultKindOf(err) == FaultGuestBusy
}

// IsRemoteTask reports whether err is a remote task error.
func IsRemoteTask(err error) bool { return KindOf(err) == KindRemoteTask }

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

// IsNotLoggedIn reports whether err is a missing session error.
func IsNotLoggedIn(err error) bool { return KindOf(err) == KindNotLoggedIn }

// PayloadOf returns the payload of the first *Error in the chain.
func PayloadOf(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Payload
	}
	return nil
}
