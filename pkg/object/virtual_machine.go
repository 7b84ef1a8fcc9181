package object

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// Power states reported in runtime.powerState.
const (
	PowerStateOn        = "poweredOn"
	PowerStateOff       = "poweredOff"
	PowerStateSuspended = "suspended"
)

// ToolsRunning is the value of summary.guest.toolsRunningStatus once the
// guest tools are up.
const ToolsRunning = "guestToolsRunning"

// SkipStateWait passed as a timeout to power operations returns as soon as
// the server task completes, without waiting for the power state.
const SkipStateWait time.Duration = -1

const (
	taskTimeout       = 30 * time.Second
	powerStateTimeout = 2 * time.Minute
	rebootTimeout     = 5 * time.Minute
	shutdownToolsWait = 10 * time.Second
)

// VirtualMachine is a virtual machine proxy.
type VirtualMachine struct {
	*Common
}

func newVirtualMachine(base *Common) (Proxy, error) {
	return &VirtualMachine{Common: base}, nil
}

// AsVirtualMachine returns p as a VirtualMachine proxy.
func AsVirtualMachine(p Proxy) (*VirtualMachine, error) {
	if vm, ok := p.(*VirtualMachine); ok {
		return vm, nil
	}
	if p == nil {
		return nil, vim.NewError(vim.KindInvalidArgument, "no virtual machine", nil)
	}
	if p.Ref().Type != TypeVirtualMachine {
		return nil, vim.NewError(vim.KindInvalidArgument,
			fmt.Sprintf("%s is not a virtual machine", p.Ref()), nil)
	}
	return &VirtualMachine{Common: p.Base()}, nil
}

// PowerState reads runtime.powerState.
func (vm *VirtualMachine) PowerState(ctx context.Context) (string, error) {
	return vm.GetString(ctx, "runtime.powerState")
}

func (vm *VirtualMachine) task(ctx context.Context, op string, ref vim.ObjectRef, err error) (*Task, error) {
	if err != nil {
		return nil, vim.NewTransportError(op+" failed", err).WithObject(vm.ref).WithOp(op)
	}
	p, err := vm.Proxy(ref)
	if err != nil {
		return nil, err
	}
	task, ok := p.(*Task)
	if !ok {
		task = &Task{Common: p.Base()}
	}

	select {
	case <-time.After(vm.registry.Tuning().TaskSettle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return task, nil
}

func (vm *VirtualMachine) changePower(ctx context.Context, op, want string, timeout time.Duration,
	start func(context.Context, vim.ObjectRef) (vim.ObjectRef, error)) error {

	current, err := vm.PowerState(ctx)
	if err != nil {
		return err
	}
	if current == want {
		log.Debug().
			Str("component", "object").
			Str("vm", vm.ref.Value).
			Str("state", current).
			Msg("power state already reached")
		return nil
	}

	ref, err := start(ctx, vm.ref)
	task, err := vm.task(ctx, op, ref, err)
	if err != nil {
		return err
	}
	if err := task.Wait(ctx, taskTimeout); err != nil {
		return fmt.Errorf("%s %s: %w", op, vm.ref.Value, err)
	}

	if timeout == SkipStateWait {
		return nil
	}
	if timeout == 0 {
		timeout = powerStateTimeout
	}
	return vm.WaitState(ctx, "runtime.powerState", want, timeout, 0)
}

// PowerOn powers the VM on. It is a no-op for a running VM. After the power
// task succeeds it waits up to timeout (two minutes when zero) for the power
// state; SkipStateWait returns right after the task.
func (vm *VirtualMachine) PowerOn(ctx context.Context, timeout time.Duration) error {
	return vm.changePower(ctx, "powerOn", PowerStateOn, timeout, vm.client.PowerOnVM)
}

// PowerOff powers the VM off. See PowerOn for the timeout semantics.
func (vm *VirtualMachine) PowerOff(ctx context.Context, timeout time.Duration) error {
	return vm.changePower(ctx, "powerOff", PowerStateOff, timeout, vm.client.PowerOffVM)
}

// ShutdownGuest asks the guest OS to shut down and waits for power off.
func (vm *VirtualMachine) ShutdownGuest(ctx context.Context, timeout time.Duration) error {
	current, err := vm.PowerState(ctx)
	if err != nil {
		return err
	}
	if current == PowerStateOff {
		return nil
	}

	if err := vm.WaitForTools(ctx, shutdownToolsWait); err != nil {
		return err
	}
	if err := vm.client.ShutdownGuest(ctx, vm.ref); err != nil {
		return vim.NewTransportError("shutdownGuest failed", err).WithObject(vm.ref).WithOp("shutdownGuest")
	}

	if timeout == SkipStateWait {
		return nil
	}
	if timeout == 0 {
		timeout = powerStateTimeout
	}
	return vm.WaitState(ctx, "runtime.powerState", PowerStateOff, timeout, 0)
}

// Reboot shuts the guest down (falling back to a hard power off), powers the
// VM back on and waits for the guest tools, all within timeout (five minutes
// when zero).
func (vm *VirtualMachine) Reboot(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = rebootTimeout
	}
	deadline := time.Now().Add(timeout)
	left := func() time.Duration {
		d := time.Until(deadline)
		if d <= 0 {
			return time.Millisecond
		}
		return d
	}

	if err := vm.ShutdownGuest(ctx, timeout/2); err != nil {
		log.Warn().
			Str("component", "object").
			Str("vm", vm.ref.Value).
			Err(err).
			Msg("guest shutdown failed, powering off")
		if err := vm.PowerOff(ctx, left()); err != nil {
			return err
		}
	}
	if err := vm.PowerOn(ctx, left()); err != nil {
		return err
	}
	return vm.WaitForTools(ctx, left())
}

// Destroy deletes the VM and waits for the task.
func (vm *VirtualMachine) Destroy(ctx context.Context) error {
	ref, err := vm.client.Destroy(ctx, vm.ref)
	task, err := vm.task(ctx, "destroy", ref, err)
	if err != nil {
		return err
	}
	return task.Wait(ctx, vm.registry.Tuning().TaskTimeout)
}

// WaitForTools waits until the guest tools report running.
func (vm *VirtualMachine) WaitForTools(ctx context.Context, timeout time.Duration) error {
	return vm.WaitState(ctx, "summary.guest.toolsRunningStatus", ToolsRunning, timeout, 0)
}

// InstallTools mounts the tools installer and waits for the tools.
func (vm *VirtualMachine) InstallTools(ctx context.Context, timeout time.Duration) error {
	if err := vm.client.MountToolsInstaller(ctx, vm.ref); err != nil {
		return vim.NewTransportError("mountToolsInstaller failed", err).WithObject(vm.ref).WithOp("installTools")
	}
	return vm.WaitForTools(ctx, timeout)
}

// IPAddress reads the primary guest IP address, "" when unknown.
func (vm *VirtualMachine) IPAddress(ctx context.Context) (string, error) {
	return vm.GetString(ctx, "summary.guest.ipAddress")
}

// GuestID reads config.guestId.
func (vm *VirtualMachine) GuestID(ctx context.Context) (string, error) {
	return vm.GetString(ctx, "config.guestId")
}

// IsWindows reports whether the configured guest OS is a Windows family OS.
func (vm *VirtualMachine) IsWindows(ctx context.Context) (bool, error) {
	id, err := vm.GuestID(ctx)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, vim.NewNotFoundError("cannot determine guest OS: config.guestId is empty").
			WithObject(vm.ref).
			WithOp("isWindows")
	}
	return strings.Contains(strings.ToLower(id), "windows"), nil
}

// CreateSnapshot takes a snapshot and waits for it.
func (vm *VirtualMachine) CreateSnapshot(ctx context.Context, name, description string, memory, quiesce bool) error {
	ref, err := vm.client.CreateSnapshot(ctx, vm.ref, name, description, memory, quiesce)
	task, err := vm.task(ctx, "createSnapshot", ref, err)
	if err != nil {
		return err
	}
	return task.Wait(ctx, vm.registry.Tuning().TaskTimeout)
}

// CurrentSnapshot returns the current snapshot, or nil when there is none.
func (vm *VirtualMachine) CurrentSnapshot(ctx context.Context) (Proxy, error) {
	return vm.GetProxy(ctx, "snapshot.currentSnapshot")
}

// FindSnapshot searches the snapshot tree by name. An empty name returns
// the current snapshot; no match returns nil.
func (vm *VirtualMachine) FindSnapshot(ctx context.Context, name string) (Proxy, error) {
	if name == "" {
		return vm.CurrentSnapshot(ctx)
	}
	tree, err := vm.GetRaw(ctx, "snapshot.rootSnapshotList")
	if err != nil {
		return nil, err
	}
	ref, ok := findSnapshot(tree, name)
	if !ok {
		return nil, nil
	}
	return vm.Proxy(ref)
}

func findSnapshot(tree any, name string) (vim.ObjectRef, bool) {
	nodes, _ := tree.([]any)
	for _, n := range nodes {
		node, ok := n.(map[string]any)
		if !ok {
			continue
		}
		if vim.String(node["name"]) == name {
			if ref, ok := node["snapshot"].(vim.ObjectRef); ok {
				return ref, true
			}
		}
		if ref, ok := findSnapshot(node["childSnapshotList"], name); ok {
			return ref, true
		}
	}
	return vim.ObjectRef{}, false
}

// MarkAsTemplate converts the VM into a template.
func (vm *VirtualMachine) MarkAsTemplate(ctx context.Context) error {
	if err := vm.client.MarkAsTemplate(ctx, vm.ref); err != nil {
		return vim.NewTransportError("markAsTemplate failed", err).WithObject(vm.ref).WithOp("markAsTemplate")
	}
	return nil
}

// Host returns the host the VM runs on, or nil when unknown.
func (vm *VirtualMachine) Host(ctx context.Context) (*HostSystem, error) {
	p, err := vm.GetProxy(ctx, "summary.runtime.host")
	if err != nil || p == nil {
		return nil, err
	}
	if host, ok := p.(*HostSystem); ok {
		return host, nil
	}
	return &HostSystem{Common: p.Base()}, nil
}
