package object

import (
	"context"
	"time"
)

// Type tags of the built-in typed proxies.
const (
	TypeVirtualMachine = "VirtualMachine"
	TypeTask           = "Task"
	TypeHostSystem     = "HostSystem"
	TypeDatacenter     = "Datacenter"
	TypeHttpNfcLease   = "HttpNfcLease"
	TypeLicenseManager = "LicenseManager"

	TypeClusterComputeResource = "ClusterComputeResource"
	TypeComputeResource        = "ComputeResource"
)

// Task states reported in info.state.
const (
	TaskStateQueued  = "queued"
	TaskStateRunning = "running"
	TaskStateSuccess = "success"
	TaskStateError   = "error"
)

// Task is a server-side asynchronous operation.
type Task struct {
	*Common
}

func newTask(base *Common) (Proxy, error) {
	return &Task{Common: base}, nil
}

// Wait blocks until the task succeeds. A failed task returns a remote task
// error carrying the task info.
func (t *Task) Wait(ctx context.Context, timeout time.Duration) error {
	return t.WaitState(ctx, "info.state", TaskStateSuccess, timeout, 0)
}

// Result reads info.result, resolving references.
func (t *Task) Result(ctx context.Context) (any, error) {
	return t.Get(ctx, "info.result")
}
