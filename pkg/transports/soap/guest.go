package soap

import (
	"context"

	"github.com/vmware/govmomi/vim25/methods"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/openfroyo/vmorch/pkg/vim"
)

func guestAuth(auth vim.GuestAuth) types.BaseGuestAuthentication {
	return &types.NamePasswordAuthentication{
		GuestAuthentication: types.GuestAuthentication{InteractiveSession: auth.InteractiveSession},
		Username:            auth.Username,
		Password:            auth.Password,
	}
}

// ValidateCredentialsInGuest implements vim.GuestAPI.
func (c *Client) ValidateCredentialsInGuest(ctx context.Context, authManager, vm vim.ObjectRef, auth vim.GuestAuth) error {
	_, err := methods.ValidateCredentialsInGuest(ctx, c.vc, &types.ValidateCredentialsInGuest{
		This: toMoRef(authManager),
		Vm:   toMoRef(vm),
		Auth: guestAuth(auth),
	})
	if err != nil {
		return translate("validateCredentialsInGuest", err).WithObject(vm)
	}
	return nil
}

// StartProgramInGuest implements vim.GuestAPI.
func (c *Client) StartProgramInGuest(ctx context.Context, processManager, vm vim.ObjectRef, auth vim.GuestAuth, spec vim.ProgramSpec) (int64, error) {
	res, err := methods.StartProgramInGuest(ctx, c.vc, &types.StartProgramInGuest{
		This: toMoRef(processManager),
		Vm:   toMoRef(vm),
		Auth: guestAuth(auth),
		Spec: &types.GuestProgramSpec{
			ProgramPath:      spec.Path,
			Arguments:        spec.Arguments,
			WorkingDirectory: spec.WorkingDirectory,
			EnvVariables:     spec.Env,
		},
	})
	if err != nil {
		return 0, translate("startProgramInGuest", err).WithObject(vm)
	}
	return res.Returnval, nil
}

// ListProcessesInGuest implements vim.GuestAPI.
func (c *Client) ListProcessesInGuest(ctx context.Context, processManager, vm vim.ObjectRef, auth vim.GuestAuth, pids []int64) ([]vim.GuestProcessInfo, error) {
	res, err := methods.ListProcessesInGuest(ctx, c.vc, &types.ListProcessesInGuest{
		This: toMoRef(processManager),
		Vm:   toMoRef(vm),
		Auth: guestAuth(auth),
		Pids: pids,
	})
	if err != nil {
		return nil, translate("listProcessesInGuest", err).WithObject(vm)
	}

	infos := make([]vim.GuestProcessInfo, 0, len(res.Returnval))
	for _, p := range res.Returnval {
		infos = append(infos, vim.GuestProcessInfo{
			Name:      p.Name,
			Pid:       p.Pid,
			Owner:     p.Owner,
			CmdLine:   p.CmdLine,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
			ExitCode:  p.ExitCode,
		})
	}
	return infos, nil
}

// InitiateFileTransferToGuest implements vim.GuestAPI.
func (c *Client) InitiateFileTransferToGuest(ctx context.Context, fileManager, vm vim.ObjectRef, auth vim.GuestAuth, guestPath string, size int64, overwrite bool) (string, error) {
	res, err := methods.InitiateFileTransferToGuest(ctx, c.vc, &types.InitiateFileTransferToGuest{
		This:           toMoRef(fileManager),
		Vm:             toMoRef(vm),
		Auth:           guestAuth(auth),
		GuestFilePath:  guestPath,
		FileAttributes: &types.GuestFileAttributes{},
		FileSize:       size,
		Overwrite:      overwrite,
	})
	if err != nil {
		return "", translate("initiateFileTransferToGuest", err).WithObject(vm)
	}
	return res.Returnval, nil
}

// InitiateFileTransferFromGuest implements vim.GuestAPI.
func (c *Client) InitiateFileTransferFromGuest(ctx context.Context, fileManager, vm vim.ObjectRef, auth vim.GuestAuth, guestPath string) (vim.FileTransferInfo, error) {
	res, err := methods.InitiateFileTransferFromGuest(ctx, c.vc, &types.InitiateFileTransferFromGuest{
		This:          toMoRef(fileManager),
		Vm:            toMoRef(vm),
		Auth:          guestAuth(auth),
		GuestFilePath: guestPath,
	})
	if err != nil {
		return vim.FileTransferInfo{}, translate("initiateFileTransferFromGuest", err).WithObject(vm)
	}
	return vim.FileTransferInfo{
		URL:  res.Returnval.Url,
		Size: res.Returnval.Size,
	}, nil
}

// MakeDirectoryInGuest implements vim.GuestAPI.
func (c *Client) MakeDirectoryInGuest(ctx context.Context, fileManager, vm vim.ObjectRef, auth vim.GuestAuth, dir string, createParents bool) error {
	_, err := methods.MakeDirectoryInGuest(ctx, c.vc, &types.MakeDirectoryInGuest{
		This:                    toMoRef(fileManager),
		Vm:                      toMoRef(vm),
		Auth:                    guestAuth(auth),
		DirectoryPath:           dir,
		CreateParentDirectories: createParents,
	})
	if err != nil {
		return translate("makeDirectoryInGuest", err).WithObject(vm)
	}
	return nil
}

// DeleteDirectoryInGuest implements vim.GuestAPI.
func (c *Client) DeleteDirectoryInGuest(ctx context.Context, fileManager, vm vim.ObjectRef, auth vim.GuestAuth, dir string, recursive bool) error {
	_, err := methods.DeleteDirectoryInGuest(ctx, c.vc, &types.DeleteDirectoryInGuest{
		This:          toMoRef(fileManager),
		Vm:            toMoRef(vm),
		Auth:          guestAuth(auth),
		DirectoryPath: dir,
		Recursive:     recursive,
	})
	if err != nil {
		return translate("deleteDirectoryInGuest", err).WithObject(vm)
	}
	return nil
}
