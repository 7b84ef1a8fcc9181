package vim

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewTimeoutError("waitState timed out", errors.New("still running")).
		WithOp("waitState").
		WithObject(Ref("Task", "task-7"))

	assert.Equal(t, "[timeout] waitState timed out (op=waitState, object=Task:task-7): still running", err.Error())
	assert.True(t, IsTimeout(err))
	assert.False(t, IsTransport(err))
}

func TestErrorChain(t *testing.T) {
	payload := map[string]any{"state": "error"}
	inner := NewRemoteTaskError("task failed", payload).WithCode("TaskFault")
	wrapped := fmt.Errorf("power on: %w", inner)

	assert.True(t, IsRemoteTask(wrapped))
	assert.Equal(t, payload, PayloadOf(wrapped))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindRemoteTask}))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindRemoteTask, Code: "TaskFault"}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: KindRemoteTask, Code: "Other"}))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestFaultPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		exists    bool
		busy      bool
		unreach   bool
		notAuthed bool
	}{
		{name: "nil", err: nil},
		{name: "structured not found", err: &Fault{Kind: FaultNotFound}, notFound: true},
		{name: "structured exists", err: &Fault{Kind: FaultAlreadyExists}, exists: true},
		{name: "structured busy", err: &Fault{Kind: FaultGuestBusy}, busy: true},
		{name: "busy by code", err: &Fault{Kind: FaultOther, Code: "3016"}, busy: true},
		{name: "structured unreachable", err: &Fault{Kind: FaultHostUnreachable}, unreach: true},
		{name: "structured not authenticated", err: &Fault{Kind: FaultNotAuthenticated}, notAuthed: true},
		{name: "errno unreachable", err: fmt.Errorf("dial: %w", syscall.EHOSTUNREACH), unreach: true},
		{name: "unclassified not found", err: errors.New("File /tmp/x was not found"), notFound: true},
		{name: "unclassified fault name", err: errors.New("fault: FileNotFound"), notFound: true},
		{name: "unrelated not found", err: errors.New("vm not found")},
		{name: "unclassified exists", err: errors.New("directory already exists"), exists: true},
		{name: "unclassified busy", err: errors.New("guest fault 3016"), busy: true},
		{name: "unclassified unreachable", err: errors.New("connect EHOSTUNREACH 10.0.0.1:443"), unreach: true},
		{name: "classified other ignores text", err: &Fault{Kind: FaultOther, Message: "thing not found"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFoundFault(tt.err), "not found")
			assert.Equal(t, tt.exists, IsAlreadyExistsFault(tt.err), "already exists")
			assert.Equal(t, tt.busy, IsGuestBusyFault(tt.err), "busy")
			assert.Equal(t, tt.unreach, IsHostUnreachable(tt.err), "unreachable")
			assert.Equal(t, tt.notAuthed, IsNotAuthenticated(tt.err), "not authenticated")
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("poweredOn", "poweredOn"))
	assert.False(t, Equal("poweredOn", "poweredOff"))
	assert.True(t, Equal(int64(3), 3))
	assert.True(t, Equal(int32(0), uint64(0)))
	assert.False(t, Equal(1, "1"))
	assert.True(t, Equal([]any{int64(1), "a"}, []any{1, "a"}))
	assert.True(t, Equal(map[string]any{"a": int64(1)}, map[string]any{"a": 1}))
	assert.False(t, Equal(map[string]any{"a": 1}, map[string]any{"b": 1}))
	assert.True(t, Equal(Ref("VirtualMachine", "vm-1"), Ref("VirtualMachine", "vm-1")))
	assert.True(t, Equal(nil, nil))
}

func TestPath(t *testing.T) {
	v := map[string]any{"runtime": map[string]any{"host": Ref("HostSystem", "host-9")}}

	got, ok := Path(v, "runtime", "host")
	require.True(t, ok)
	assert.Equal(t, Ref("HostSystem", "host-9"), got)

	_, ok = Path(v, "runtime", "missing")
	assert.False(t, ok)
	_, ok = Path("scalar", "x")
	assert.False(t, ok)
}
