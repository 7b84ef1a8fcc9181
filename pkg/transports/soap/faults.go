package soap

import (
	"strings"

	vsoap "github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// translate wraps a govmomi error as a transport error. Server faults are
// classified into a *vim.Fault so the predicates in package vim see them
// without falling back to message matching.
func translate(op string, err error) *vim.Error {
	if f := classify(err); f != nil {
		return vim.NewTransportError(op+" failed", f).WithOp(op).WithCode(f.Code)
	}
	return vim.NewTransportError(op+" failed", err).WithOp(op)
}

// classify returns the fault carried by err, or nil for network-level
// failures.
func classify(err error) *vim.Fault {
	var (
		fault   any
		message string
	)
	switch {
	case vsoap.IsSoapFault(err):
		sf := vsoap.ToSoapFault(err)
		fault = sf.VimFault()
		message = sf.String
	case vsoap.IsVimFault(err):
		fault = vsoap.ToVimFault(err)
	default:
		return nil
	}

	f := &vim.Fault{
		Kind:    faultKind(fault),
		Message: message,
		Err:     err,
	}
	if f.Message == "" {
		f.Message = localizedMessage(fault)
	}
	f.Code = guestCode(f.Message)
	if f.Code != "" && f.Kind == vim.FaultOther {
		f.Kind = vim.FaultGuestBusy
	}
	return f
}

func faultKind(fault any) vim.FaultKind {
	switch fault.(type) {
	case types.FileNotFound, *types.FileNotFound:
		return vim.FaultNotFound
	case types.FileAlreadyExists, *types.FileAlreadyExists:
		return vim.FaultAlreadyExists
	case types.GuestOperationsUnavailable, *types.GuestOperationsUnavailable:
		return vim.FaultGuestBusy
	case types.HostNotReachable, *types.HostNotReachable,
		types.HostNotConnected, *types.HostNotConnected:
		return vim.FaultHostUnreachable
	case types.NotAuthenticated, *types.NotAuthenticated:
		return vim.FaultNotAuthenticated
	}
	return vim.FaultOther
}

func localizedMessage(fault any) string {
	if mf, ok := fault.(types.BaseMethodFault); ok {
		for _, m := range mf.GetMethodFault().FaultMessage {
			if m.Message != "" {
				return m.Message
			}
		}
	}
	return ""
}

// busyGuestCode is the vmx error code of a guest agent that is starting up.
const busyGuestCode = "3016"

func guestCode(message string) string {
	if strings.Contains(message, busyGuestCode) {
		return busyGuestCode
	}
	return ""
}
