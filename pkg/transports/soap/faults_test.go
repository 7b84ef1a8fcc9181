package soap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vsoap "github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/openfroyo/vmorch/pkg/vim"
)

func soapFault(fault types.AnyType, message string) error {
	f := &vsoap.Fault{Code: "ServerFaultCode", String: message}
	f.Detail.Fault = fault
	return vsoap.WrapSoapFault(f)
}

func TestClassify(t *testing.T) {
	withMessage := &types.FileNotFound{
		FileFault: types.FileFault{
			VimFault: types.VimFault{
				MethodFault: types.MethodFault{
					FaultMessage: []types.LocalizableMessage{{Key: "msg.file.notfound", Message: "File /tmp/x was not found"}},
				},
			},
			File: "/tmp/x",
		},
	}

	tests := []struct {
		name     string
		err      error
		kind     vim.FaultKind
		code     string
		message  string
		notFound bool
		exists   bool
		busy     bool
	}{
		{
			name:     "file not found",
			err:      soapFault(types.FileNotFound{}, "File /tmp/x was not found"),
			kind:     vim.FaultNotFound,
			message:  "File /tmp/x was not found",
			notFound: true,
		},
		{
			name:    "file already exists",
			err:     soapFault(types.FileAlreadyExists{}, "File /tmp already exists"),
			kind:    vim.FaultAlreadyExists,
			message: "File /tmp already exists",
			exists:  true,
		},
		{
			name: "guest operations unavailable",
			err:  soapFault(types.GuestOperationsUnavailable{}, "The guest operations agent could not be contacted."),
			kind: vim.FaultGuestBusy,
			busy: true,
		},
		{
			name:    "busy agent system error",
			err:     soapFault(types.SystemError{Reason: "vix error codes = (3016, 0)."}, "A general system error occurred: vix error codes = (3016, 0)."),
			kind:    vim.FaultGuestBusy,
			code:    "3016",
			busy:    true,
			message: "A general system error occurred: vix error codes = (3016, 0).",
		},
		{
			name: "tools out of date",
			err:  soapFault(types.GuestComponentsOutOfDate{}, "The guest operations agent is out of date."),
			kind: vim.FaultOther,
		},
		{
			name:     "vim fault message",
			err:      vsoap.WrapVimFault(withMessage),
			kind:     vim.FaultNotFound,
			message:  "File /tmp/x was not found",
			notFound: true,
		},
		{
			name: "vim fault not authenticated",
			err:  vsoap.WrapVimFault(&types.NotAuthenticated{}),
			kind: vim.FaultNotAuthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := classify(tt.err)
			require.NotNil(t, f)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.code, f.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, f.Message)
			}
			assert.Equal(t, tt.err, f.Err)

			err := translate("op", tt.err)
			assert.True(t, vim.IsTransport(err))
			assert.Equal(t, tt.notFound, vim.IsNotFoundFault(err), "not found")
			assert.Equal(t, tt.exists, vim.IsAlreadyExistsFault(err), "already exists")
			assert.Equal(t, tt.busy, vim.IsGuestBusyFault(err), "busy")
		})
	}
}

func TestClassifyNetworkError(t *testing.T) {
	assert.Nil(t, classify(errors.New("dial tcp 10.0.0.1:443: connect: connection refused")))
}
