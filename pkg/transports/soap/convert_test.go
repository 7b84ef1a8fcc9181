package soap

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/openfroyo/vmorch/pkg/vim"
)

func TestConvertScalars(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "nil", in: nil, want: nil},
		{name: "string", in: "linux", want: "linux"},
		{name: "enum", in: types.VirtualMachinePowerStatePoweredOn, want: "poweredOn"},
		{name: "int32", in: int32(7), want: int64(7)},
		{name: "bool pointer", in: types.NewBool(true), want: true},
		{name: "time", in: now, want: now},
		{name: "moref", in: types.ManagedObjectReference{Type: "HostSystem", Value: "host-7"}, want: vim.Ref("HostSystem", "host-7")},
		{
			name: "moref array",
			in: types.ArrayOfManagedObjectReference{ManagedObjectReference: []types.ManagedObjectReference{
				{Type: "VirtualMachine", Value: "vm-1"},
			}},
			want: []any{vim.Ref("VirtualMachine", "vm-1")},
		},
		{name: "string array", in: types.ArrayOfString{String: []string{"a", "b"}}, want: []any{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Convert(tt.in))
		})
	}
}

func TestConvertStructFlattensBaseTypes(t *testing.T) {
	host := types.ManagedObjectReference{Type: "HostSystem", Value: "host-7"}
	runtime := types.VirtualMachineRuntimeInfo{
		Host:       &host,
		PowerState: types.VirtualMachinePowerStatePoweredOff,
	}

	got, ok := Convert(runtime).(map[string]any)
	require.True(t, ok)

	assert.Equal(t, vim.Ref("HostSystem", "host-7"), got["host"])
	assert.Equal(t, "poweredOff", got["powerState"])
	_, hasBoot := got["bootTime"]
	assert.False(t, hasBoot, "unset optional fields are left out")
	assert.True(t, vim.Equal(vim.Ref("HostSystem", "host-7"), got["host"]))
}

func TestConvertSnapshotTree(t *testing.T) {
	snap := types.ManagedObjectReference{Type: "VirtualMachineSnapshot", Value: "snapshot-1"}
	tree := []types.VirtualMachineSnapshotTree{{
		Name:     "base",
		Snapshot: snap,
		ChildSnapshotList: []types.VirtualMachineSnapshotTree{
			{Name: "child", Snapshot: types.ManagedObjectReference{Type: "VirtualMachineSnapshot", Value: "snapshot-2"}},
		},
	}}

	got, ok := Convert(tree).([]any)
	require.True(t, ok)
	require.Len(t, got, 1)

	node := got[0].(map[string]any)
	assert.Equal(t, "base", node["name"])
	assert.Equal(t, vim.Ref("VirtualMachineSnapshot", "snapshot-1"), node["snapshot"])

	children := node["childSnapshotList"].([]any)
	require.Len(t, children, 1)
	assert.Equal(t, "child", children[0].(map[string]any)["name"])
}

func TestMoRefRoundTrip(t *testing.T) {
	ref := vim.Ref("Task", "task-12")
	assert.Equal(t, ref, fromMoRef(toMoRef(ref)))
	assert.True(t, fromMoRefPtr(nil).IsZero())
}

func TestServiceContent(t *testing.T) {
	sm := types.ManagedObjectReference{Type: "SessionManager", Value: "SessionManager"}
	gom := types.ManagedObjectReference{Type: "GuestOperationsManager", Value: "guestOperationsManager"}

	sc := serviceContent(types.ServiceContent{
		About:                  types.AboutInfo{ApiType: vim.APITypeHostAgent, ApiVersion: "8.0.3.0"},
		PropertyCollector:      types.ManagedObjectReference{Type: "PropertyCollector", Value: "ha-property-collector"},
		RootFolder:             types.ManagedObjectReference{Type: "Folder", Value: "ha-folder-root"},
		SessionManager:         &sm,
		GuestOperationsManager: &gom,
	})

	assert.True(t, sc.IsHostAgent())
	assert.Equal(t, "8.0.3.0", sc.APIVersion)
	assert.Equal(t, vim.Ref("SessionManager", "SessionManager"), sc.SessionManager)
	assert.Equal(t, vim.Ref("GuestOperationsManager", "guestOperationsManager"), sc.GuestOperationsManager)
	assert.True(t, sc.SearchIndex.IsZero())
}

func TestFaultKinds(t *testing.T) {
	tests := []struct {
		name  string
		fault any
		want  vim.FaultKind
	}{
		{name: "file not found", fault: &types.FileNotFound{}, want: vim.FaultNotFound},
		{name: "file exists", fault: types.FileAlreadyExists{}, want: vim.FaultAlreadyExists},
		{name: "guest busy", fault: &types.GuestOperationsUnavailable{}, want: vim.FaultGuestBusy},
		{name: "tools out of date", fault: &types.GuestComponentsOutOfDate{}, want: vim.FaultOther},
		{name: "host not reachable", fault: &types.HostNotReachable{}, want: vim.FaultHostUnreachable},
		{name: "not authenticated", fault: &types.NotAuthenticated{}, want: vim.FaultNotAuthenticated},
		{name: "other", fault: &types.InvalidArgument{}, want: vim.FaultOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, faultKind(tt.fault))
		})
	}
}

func TestTranslateNetworkError(t *testing.T) {
	err := translate("login", errors.New("connection refused"))

	assert.True(t, vim.IsTransport(err))
	assert.Equal(t, "login", err.Op)
	assert.Nil(t, classify(err.Err))
}

func TestGuestCode(t *testing.T) {
	assert.Equal(t, "3016", guestCode("vix error codes = (3016, 0)"))
	assert.Empty(t, guestCode("A general system error occurred"))
}
