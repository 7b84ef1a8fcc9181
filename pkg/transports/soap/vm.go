package soap

import (
	"context"

	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// PowerOnVM implements vim.VirtualMachineAPI.
func (c *Client) PowerOnVM(ctx context.Context, vm vim.ObjectRef) (vim.ObjectRef, error) {
	res, err := methods.PowerOnVM_Task(ctx, c.vc, &types.PowerOnVM_Task{This: toMoRef(vm)})
	if err != nil {
		return vim.ObjectRef{}, translate("powerOn", err).WithObject(vm)
	}
	return fromMoRef(res.Returnval), nil
}

// PowerOffVM implements vim.VirtualMachineAPI.
func (c *Client) PowerOffVM(ctx context.Context, vm vim.ObjectRef) (vim.ObjectRef, error) {
	res, err := methods.PowerOffVM_Task(ctx, c.vc, &types.PowerOffVM_Task{This: toMoRef(vm)})
	if err != nil {
		return vim.ObjectRef{}, translate("powerOff", err).WithObject(vm)
	}
	return fromMoRef(res.Returnval), nil
}

// ShutdownGuest implements vim.VirtualMachineAPI.
func (c *Client) ShutdownGuest(ctx context.Context, vm vim.ObjectRef) error {
	if _, err := methods.ShutdownGuest(ctx, c.vc, &types.ShutdownGuest{This: toMoRef(vm)}); err != nil {
		return translate("shutdownGuest", err).WithObject(vm)
	}
	return nil
}

// Destroy implements vim.VirtualMachineAPI.
func (c *Client) Destroy(ctx context.Context, ref vim.ObjectRef) (vim.ObjectRef, error) {
	res, err := methods.Destroy_Task(ctx, c.vc, &types.Destroy_Task{This: toMoRef(ref)})
	if err != nil {
		return vim.ObjectRef{}, translate("destroy", err).WithObject(ref)
	}
	return fromMoRef(res.Returnval), nil
}

// CreateSnapshot implements vim.VirtualMachineAPI.
func (c *Client) CreateSnapshot(ctx context.Context, vm vim.ObjectRef, name, description string, memory, quiesce bool) (vim.ObjectRef, error) {
	res, err := methods.CreateSnapshot_Task(ctx, c.vc, &types.CreateSnapshot_Task{
		This:        toMoRef(vm),
		Name:        name,
		Description: description,
		Memory:      memory,
		Quiesce:     quiesce,
	})
	if err != nil {
		return vim.ObjectRef{}, translate("createSnapshot", err).WithObject(vm)
	}
	return fromMoRef(res.Returnval), nil
}

// MarkAsTemplate implements vim.VirtualMachineAPI.
func (c *Client) MarkAsTemplate(ctx context.Context, vm vim.ObjectRef) error {
	if _, err := methods.MarkAsTemplate(ctx, c.vc, &types.MarkAsTemplate{This: toMoRef(vm)}); err != nil {
		return translate("markAsTemplate", err).WithObject(vm)
	}
	return nil
}

// MountToolsInstaller implements vim.VirtualMachineAPI.
func (c *Client) MountToolsInstaller(ctx context.Context, vm vim.ObjectRef) error {
	if _, err := methods.MountToolsInstaller(ctx, c.vc, &types.MountToolsInstaller{This: toMoRef(vm)}); err != nil {
		return translate("mountToolsInstaller", err).WithObject(vm)
	}
	return nil
}
