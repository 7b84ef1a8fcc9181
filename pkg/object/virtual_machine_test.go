package object

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/vmorch/pkg/vim"
	"github.com/openfroyo/vmorch/pkg/vim/vimtest"
)

func newTestVM(t *testing.T, client *vimtest.Client, ref vim.ObjectRef) *VirtualMachine {
	t.Helper()
	p, err := fastRegistry().Proxy(client, ref)
	require.NoError(t, err)
	vm, err := AsVirtualMachine(p)
	require.NoError(t, err)
	return vm
}

func TestPowerOn(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-1")
	client.Set(ref, "runtime.powerState", PowerStateOff)
	vm := newTestVM(t, client, ref)

	require.NoError(t, vm.PowerOn(ctx, time.Second))
	assert.Equal(t, 1, client.Calls("PowerOnVM"))

	state, err := vm.PowerState(ctx)
	require.NoError(t, err)
	assert.Equal(t, PowerStateOn, state)

	// already on: no task
	require.NoError(t, vm.PowerOn(ctx, SkipStateWait))
	assert.Equal(t, 1, client.Calls("PowerOnVM"))
}

func TestPowerOffTaskFailure(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-2")
	client.Set(ref, "runtime.powerState", PowerStateOn)
	client.FailNext("PowerOffVM", &vim.Fault{Kind: vim.FaultOther, Message: "InvalidPowerState"})
	vm := newTestVM(t, client, ref)

	err := vm.PowerOff(ctx, SkipStateWait)
	require.Error(t, err)
	assert.True(t, vim.IsTransport(err))
}

func TestShutdownGuest(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-3")
	client.Set(ref, "runtime.powerState", PowerStateOn)
	client.Set(ref, "summary.guest.toolsRunningStatus", ToolsRunning)
	vm := newTestVM(t, client, ref)

	require.NoError(t, vm.ShutdownGuest(ctx, time.Second))
	assert.Equal(t, 1, client.Calls("ShutdownGuest"))
}

func TestReboot(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-4")
	client.Set(ref, "runtime.powerState", PowerStateOn)
	client.Set(ref, "summary.guest.toolsRunningStatus", ToolsRunning)
	vm := newTestVM(t, client, ref)

	require.NoError(t, vm.Reboot(ctx, 2*time.Second))
	assert.Equal(t, 1, client.Calls("ShutdownGuest"))
	assert.Equal(t, 1, client.Calls("PowerOnVM"))
	assert.Zero(t, client.Calls("PowerOffVM"))
}

func TestIsWindows(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		guestID string
		want    bool
		wantErr bool
	}{
		{guestID: "windows2019srv_64Guest", want: true},
		{guestID: "ubuntu64Guest", want: false},
		{guestID: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.guestID, func(t *testing.T) {
			client := vimtest.NewClient("vc.example.com")
			ref := vim.Ref("VirtualMachine", "vm-5")
			if tt.guestID != "" {
				client.Set(ref, "config.guestId", tt.guestID)
			}
			got, err := newTestVM(t, client, ref).IsWindows(ctx)
			if tt.wantErr {
				assert.True(t, vim.IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-6")
	vm := newTestVM(t, client, ref)

	none, err := vm.CurrentSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, vm.CreateSnapshot(ctx, "base", "clean install", false, false))
	require.NoError(t, vm.CreateSnapshot(ctx, "patched", "", false, true))

	current, err := vm.CurrentSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vm-6-snapshot-patched", current.Ref().Value)

	base, err := vm.FindSnapshot(ctx, "base")
	require.NoError(t, err)
	require.NotNil(t, base)
	assert.Equal(t, "vm-6-snapshot-base", base.Ref().Value)

	missing, err := vm.FindSnapshot(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindSnapshotNested(t *testing.T) {
	child := vim.Ref("VirtualMachineSnapshot", "snapshot-2")
	tree := []any{
		map[string]any{
			"name":     "root",
			"snapshot": vim.Ref("VirtualMachineSnapshot", "snapshot-1"),
			"childSnapshotList": []any{
				map[string]any{"name": "child", "snapshot": child},
			},
		},
	}

	got, ok := findSnapshot(tree, "child")
	require.True(t, ok)
	assert.Equal(t, child, got)
}

func TestHostInventory(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient("vc.example.com")
	host := vim.Ref("HostSystem", "host-1")
	compute := vim.Ref("ComputeResource", "domain-s1")
	folder := vim.Ref("Folder", "group-h4")
	dc := vim.Ref("Datacenter", "datacenter-2")
	pool := vim.Ref("ResourcePool", "resgroup-8")
	vmFolder := vim.Ref("Folder", "group-v3")
	client.Set(host, "parent", compute)
	client.Set(compute, "parent", folder)
	client.Set(compute, "resourcePool", pool)
	client.Set(folder, "parent", dc)
	client.Set(dc, "vmFolder", vmFolder)

	p, err := NewRegistry().Proxy(client, host)
	require.NoError(t, err)
	h := p.(*HostSystem)

	gotDC, err := h.Datacenter(ctx)
	require.NoError(t, err)
	assert.Equal(t, dc, gotDC.Ref())

	gotPool, err := h.ResourcePool(ctx)
	require.NoError(t, err)
	assert.Equal(t, pool, gotPool.Ref())

	gotFolder, err := h.VMFolder(ctx)
	require.NoError(t, err)
	assert.Equal(t, vmFolder, gotFolder.Ref())
}

func TestLicenses(t *testing.T) {
	client := vimtest.NewClient("vc.example.com")
	client.Set(vimtest.LicenseManager, "licenses", []any{
		map[string]any{"licenseKey": "AAAAA-BBBBB", "name": "vSphere 8 Enterprise Plus", "total": int32(32)},
	})

	p, err := NewRegistry().Proxy(client, vimtest.LicenseManager)
	require.NoError(t, err)

	licenses, err := p.(*LicenseManager).Licenses(context.Background())
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, "AAAAA-BBBBB", licenses[0].(map[string]any)["licenseKey"])
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-20")
	client.Set(ref, "name", "scratch")
	vm := newTestVM(t, client, ref)
	logs := captureLog(t)

	require.NoError(t, vm.Destroy(ctx))
	assert.Equal(t, 1, client.Calls("Destroy"))
	_, ok := client.Value(ref, "name")
	assert.False(t, ok)
	assert.NotContains(t, logs.String(), "without a timeout")
}

func TestDestroyFailure(t *testing.T) {
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-21")
	client.FailNext("Destroy", &vim.Fault{Kind: vim.FaultOther, Message: "InvalidState"})
	vm := newTestVM(t, client, ref)

	err := vm.Destroy(context.Background())
	require.Error(t, err)
	assert.True(t, vim.IsTransport(err))
}

func TestCreateSnapshotUsesTaskTimeout(t *testing.T) {
	client := vimtest.NewClient("vc.example.com")
	vm := newTestVM(t, client, vim.Ref("VirtualMachine", "vm-22"))
	logs := captureLog(t)

	require.NoError(t, vm.CreateSnapshot(context.Background(), "base", "", false, false))
	assert.NotContains(t, logs.String(), "without a timeout")
}

func TestInstallTools(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-23")
	client.Set(ref, "summary.guest.toolsRunningStatus", ToolsRunning)
	vm := newTestVM(t, client, ref)

	require.NoError(t, vm.InstallTools(ctx, time.Second))
	assert.Equal(t, 1, client.Calls("MountToolsInstaller"))

	client.FailNext("MountToolsInstaller", &vim.Fault{Kind: vim.FaultOther, Message: "InvalidState"})
	err := vm.InstallTools(ctx, time.Second)
	require.Error(t, err)
	assert.True(t, vim.IsTransport(err))
}

func TestInstallToolsTimeout(t *testing.T) {
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-24")
	client.Set(ref, "summary.guest.toolsRunningStatus", "guestToolsNotRunning")
	vm := newTestVM(t, client, ref)

	err := vm.InstallTools(context.Background(), 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, vim.IsTimeout(err))
}

func TestMarkAsTemplate(t *testing.T) {
	ctx := context.Background()
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-25")
	vm := newTestVM(t, client, ref)

	require.NoError(t, vm.MarkAsTemplate(ctx))
	v, ok := client.Value(ref, "config.template")
	require.True(t, ok)
	assert.Equal(t, true, v)

	client.FailNext("MarkAsTemplate", &vim.Fault{Kind: vim.FaultOther, Message: "NotSupported"})
	err := vm.MarkAsTemplate(ctx)
	require.Error(t, err)
	assert.True(t, vim.IsTransport(err))
}

var (
	recorderOnce sync.Once
	recorder     *tracetest.SpanRecorder
)

func spanRecorder() *tracetest.SpanRecorder {
	recorderOnce.Do(func() {
		recorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	})
	return recorder
}

func TestWaitStateSpan(t *testing.T) {
	rec := spanRecorder()
	client := vimtest.NewClient("vc.example.com")
	ref := vim.Ref("VirtualMachine", "vm-26")
	client.Set(ref, "runtime.powerState", PowerStateOff)
	vm := newTestVM(t, client, ref)

	require.NoError(t, vm.WaitState(context.Background(), "runtime.powerState", PowerStateOff, time.Second, 0))
	err := vm.WaitState(context.Background(), "runtime.powerState", PowerStateOn, 10*time.Millisecond, time.Millisecond)
	require.Error(t, err)

	var statuses []string
	for _, s := range rec.Ended() {
		if s.Name() != "object.waitState" {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv.Key == attribute.Key("vsphere.object") && kv.Value.AsString() == ref.String() {
				statuses = append(statuses, s.Status().Code.String())
			}
		}
	}
	assert.Equal(t, []string{"Unset", "Error"}, statuses)
}
