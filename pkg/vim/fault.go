package vim

import (
	"errors"
	"strings"
	"syscall"
)

// FaultKind classifies a server-reported fault.
type FaultKind string

const (
	FaultNotFound         FaultKind = "FileNotFound"
	FaultAlreadyExists    FaultKind = "FileAlreadyExists"
	FaultGuestBusy        FaultKind = "GuestOperationsUnavailable"
	FaultHostUnreachable  FaultKind = "HostUnreachable"
	FaultNotAuthenticated FaultKind = "NotAuthenticated"
	FaultOther            FaultKind = "Other"
)

// Fault is an upstream fault classified by the client implementation.
type Fault struct {
	Kind FaultKind

	// Code is the vendor fault code when the server reports one
	// (e.g. "3016" for a busy guest agent).
	Code string

	Message string
	Err     error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	msg := string(f.Kind)
	if f.Code != "" {
		msg += " (" + f.Code + ")"
	}
	if f.Message != "" {
		msg += ": " + f.Message
	}
	if f.Err != nil && f.Message == "" {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Guest agent fault code reported while the agent is starting or busy.
const codeGuestBusy = "3016"

// FaultKindOf returns the kind of the first *Fault in the chain, or "".
func FaultKindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// classified reports whether err carries a structured fault, in which case
// substring fallbacks must not override it.
func classified(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

func messageContains(err error, needles ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, n := range needles {
		if strings.Contains(msg, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// IsNotFoundFault reports whether err means the guest path does not exist.
func IsNotFoundFault(err error) bool {
	if err == nil {
		return false
	}
	if classified(err) {
		return FaultKindOf(err) == FaultNotFound
	}
	return messageContains(err, " was not found", "FileNotFound")
}

// IsAlreadyExistsFault reports whether err means the guest path already exists.
func IsAlreadyExistsFault(err error) bool {
	if err == nil {
		return false
	}
	if classified(err) {
		return FaultKindOf(err) == FaultAlreadyExists
	}
	return messageContains(err, "already exists", "FileAlreadyExists")
}

// IsGuestBusyFault reports whether err means the guest agent is not ready.
func IsGuestBusyFault(err error) bool {
	if err == nil {
		return false
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == FaultGuestBusy || f.Code == codeGuestBusy
	}
	if KindOf(err) == KindGuestTransient {
		return true
	}
	return messageContains(err, codeGuestBusy)
}

// IsHostUnreachable reports whether err means the transfer host could not be
// reached at the network level.
func IsHostUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	if FaultKindOf(err) == FaultHostUnreachable {
		return true
	}
	if classified(err) {
		return false
	}
	return messageContains(err, "EHOSTUNREACH", "no route to host", "host is unreachable")
}

// IsNotAuthenticated reports whether err means the session is no longer valid.
func IsNotAuthenticated(err error) bool {
	if err == nil {
		return false
	}
	if classified(err) {
		return FaultKindOf(err) == FaultNotAuthenticated
	}
	return messageContains(err, "NotAuthenticated", "not authenticated")
}
