package vim

import (
	"context"
	"time"
)

// Client is the typed RPC client the orchestration layer is built on.
// Every call either returns a value or a transport-level failure; faults
// reported by the server are surfaced as *Fault where the implementation can
// classify them.
type Client interface {
	// Address returns the endpoint address the client was dialed with.
	Address() string

	// ServiceContent returns the service content fetched at dial time.
	ServiceContent() ServiceContent

	SessionAPI
	PropertyAPI
	GuestAPI
	VirtualMachineAPI
}

// SessionAPI covers session login, logout and liveness.
type SessionAPI interface {
	// Login authenticates the client's underlying connection.
	Login(ctx context.Context, user, password string) error

	// Logout terminates the current session.
	Logout(ctx context.Context) error

	// CurrentTime is a cheap authenticated call used as a liveness probe.
	CurrentTime(ctx context.Context) (time.Time, error)
}

// PropertyAPI covers property collection and inventory search.
type PropertyAPI interface {
	// RetrieveProperties reads the given paths of a single object.
	// An object with none of the paths set yields an empty slice.
	RetrieveProperties(ctx context.Context, ref ObjectRef, paths []string) ([]Property, error)

	// RetrieveView creates a recursive container view of the given types
	// under container and returns the requested paths of every member,
	// following continuation tokens.
	RetrieveView(ctx context.Context, container ObjectRef, kinds []string, paths []string) ([]ObjectContent, error)

	// FindByIP searches the inventory for a host or VM by IP address.
	// A nil reference with nil error means no match.
	FindByIP(ctx context.Context, datacenter *ObjectRef, ip string, vmSearch bool) (*ObjectRef, error)
}

// GuestAPI covers the guest operations sub-managers.
type GuestAPI interface {
	ValidateCredentialsInGuest(ctx context.Context, authManager, vm ObjectRef, auth GuestAuth) error
	StartProgramInGuest(ctx context.Context, processManager, vm ObjectRef, auth GuestAuth, spec ProgramSpec) (int64, error)
	ListProcessesInGuest(ctx context.Context, processManager, vm ObjectRef, auth GuestAuth, pids []int64) ([]GuestProcessInfo, error)
	InitiateFileTransferToGuest(ctx context.Context, fileManager, vm ObjectRef, auth GuestAuth, guestPath string, size int64, overwrite bool) (string, error)
	InitiateFileTransferFromGuest(ctx context.Context, fileManager, vm ObjectRef, auth GuestAuth, guestPath string) (FileTransferInfo, error)
	MakeDirectoryInGuest(ctx context.Context, fileManager, vm ObjectRef, auth GuestAuth, dir string, createParents bool) error
	DeleteDirectoryInGuest(ctx context.Context, fileManager, vm ObjectRef, auth GuestAuth, dir string, recursive bool) error
}

// VirtualMachineAPI covers the VM lifecycle methods used by typed proxies.
// Methods returning an ObjectRef return the reference of the started Task.
type VirtualMachineAPI interface {
	PowerOnVM(ctx context.Context, vm ObjectRef) (ObjectRef, error)
	PowerOffVM(ctx context.Context, vm ObjectRef) (ObjectRef, error)
	ShutdownGuest(ctx context.Context, vm ObjectRef) error
	Destroy(ctx context.Context, ref ObjectRef) (ObjectRef, error)
	CreateSnapshot(ctx context.Context, vm ObjectRef, name, description string, memory, quiesce bool) (ObjectRef, error)
	MarkAsTemplate(ctx context.Context, vm ObjectRef) error
	MountToolsInstaller(ctx context.Context, vm ObjectRef) error
}

// Dialer opens an unauthenticated client for an endpoint address.
type Dialer func(ctx context.Context, address string) (Client, error)
