package object

import (
	"context"
	"time"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// HostSystem is an ESXi host proxy.
type HostSystem struct {
	*Common
}

func newHostSystem(base *Common) (Proxy, error) {
	return &HostSystem{Common: base}, nil
}

// Name reads the host name.
func (h *HostSystem) Name(ctx context.Context) (string, error) {
	return h.GetString(ctx, "name")
}

// Datacenter returns the datacenter containing the host.
func (h *HostSystem) Datacenter(ctx context.Context) (*Datacenter, error) {
	p, err := h.Parent(ctx, TypeDatacenter)
	if err != nil || p == nil {
		return nil, err
	}
	if dc, ok := p.(*Datacenter); ok {
		return dc, nil
	}
	return &Datacenter{Common: p.Base()}, nil
}

// VMFolder returns the VM folder of the host's datacenter.
func (h *HostSystem) VMFolder(ctx context.Context) (Proxy, error) {
	dc, err := h.Datacenter(ctx)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, vim.NewNotFoundError("host is not in a datacenter").WithObject(h.ref).WithOp("vmFolder")
	}
	return dc.VMFolder(ctx)
}

// ResourcePool returns the root resource pool of the host's cluster, or of
// its standalone compute resource.
func (h *HostSystem) ResourcePool(ctx context.Context) (Proxy, error) {
	resource, err := h.Parent(ctx, TypeClusterComputeResource)
	if err != nil {
		return nil, err
	}
	if resource == nil {
		resource, err = h.Parent(ctx, TypeComputeResource)
		if err != nil {
			return nil, err
		}
	}
	if resource == nil {
		return nil, vim.NewNotFoundError("host has no compute resource").WithObject(h.ref).WithOp("resourcePool")
	}
	return resource.Base().GetProxy(ctx, "resourcePool")
}

// Datacenter is a datacenter proxy.
type Datacenter struct {
	*Common
}

func newDatacenter(base *Common) (Proxy, error) {
	return &Datacenter{Common: base}, nil
}

// VMFolder returns the datacenter's root VM folder.
func (d *Datacenter) VMFolder(ctx context.Context) (Proxy, error) {
	return d.GetProxy(ctx, "vmFolder")
}

// HttpNfcLease states.
const (
	LeaseStateInitializing = "initializing"
	LeaseStateReady        = "ready"
	LeaseStateDone         = "done"
	LeaseStateError        = "error"
)

// HttpNfcLease is an import/export lease proxy.
type HttpNfcLease struct {
	*Common
}

func newHttpNfcLease(base *Common) (Proxy, error) {
	return &HttpNfcLease{Common: base}, nil
}

// WaitReady waits for the lease to become ready. A lease entering the error
// state fails with a remote task error carrying the lease info.
func (l *HttpNfcLease) WaitReady(ctx context.Context, timeout time.Duration) error {
	return l.WaitState(ctx, "state", LeaseStateReady, timeout, 0)
}

// LicenseManager is the license manager proxy.
type LicenseManager struct {
	*Common
}

func newLicenseManager(base *Common) (Proxy, error) {
	return &LicenseManager{Common: base}, nil
}

// Licenses returns the installed licenses as a list of property trees.
func (m *LicenseManager) Licenses(ctx context.Context) ([]any, error) {
	v, err := m.Get(ctx, "licenses")
	if err != nil {
		return nil, err
	}
	list, _ := v.([]any)
	return list, nil
}
