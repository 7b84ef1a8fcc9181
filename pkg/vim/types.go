// Package vim defines the boundary between the orchestration layer and the
// vSphere management API: managed object references, the generic property
// value tree, the upstream client interface and the error taxonomy shared by
// every package in the module.
package vim

import (
	"fmt"
	"time"
)

// ObjectRef identifies a server-side managed object.
// Identity is the (Type, Value) pair; references are only meaningful for the
// endpoint that issued them.
type ObjectRef struct {
	// Type is the managed object type tag (e.g. "VirtualMachine", "Task").
	Type string `json:"type" yaml:"type"`

	// Value is the opaque server-assigned identifier (e.g. "vm-42").
	Value string `json:"value" yaml:"value"`
}

// String returns the reference in "Type:Value" form.
func (r ObjectRef) String() string {
	return r.Type + ":" + r.Value
}

// IsZero reports whether the reference is unset.
func (r ObjectRef) IsZero() bool {
	return r.Type == "" && r.Value == ""
}

// Ref builds a reference from a type tag and an identifier.
func Ref(kind, value string) ObjectRef {
	return ObjectRef{Type: kind, Value: value}
}

// API types reported in AboutInfo.apiType.
const (
	APITypeVirtualCenter = "VirtualCenter"
	APITypeHostAgent     = "HostAgent"
)

// ServiceContent is the subset of the service instance content the
// orchestration layer needs.
type ServiceContent struct {
	// APIType is "VirtualCenter" for vCenter and "HostAgent" for a standalone ESXi host.
	APIType string

	// APIVersion is the server API version string.
	APIVersion string

	ServiceInstance        ObjectRef
	PropertyCollector      ObjectRef
	RootFolder             ObjectRef
	ViewManager            ObjectRef
	SessionManager         ObjectRef
	SearchIndex            ObjectRef
	LicenseManager         ObjectRef
	GuestOperationsManager ObjectRef
}

// IsHostAgent reports whether the endpoint is a standalone ESXi host.
func (s ServiceContent) IsHostAgent() bool {
	return s.APIType == APITypeHostAgent
}

// Property is a single path/value pair returned by a property read.
type Property struct {
	Name  string
	Value any
}

// ObjectContent is one object of a multi-object property read.
type ObjectContent struct {
	Ref        ObjectRef
	Properties []Property
}

// Lookup returns the value of the named property.
func (o ObjectContent) Lookup(name string) (any, bool) {
	for _, p := range o.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// GuestAuth carries name/password authentication for guest operations.
type GuestAuth struct {
	Username           string
	Password           string
	InteractiveSession bool
}

// String hides the password.
func (a GuestAuth) String() string {
	return fmt.Sprintf("GuestAuth{user=%s}", a.Username)
}

// ProgramSpec describes a program started inside the guest.
type ProgramSpec struct {
	// Path is the absolute path of the program in the guest.
	Path string

	// Arguments is the raw argument string passed to the program.
	Arguments string

	// WorkingDirectory is optional.
	WorkingDirectory string

	// Env is an optional list of NAME=value pairs.
	Env []string
}

// GuestProcessInfo describes a process as reported by the guest agent.
type GuestProcessInfo struct {
	Name      string
	Pid       int64
	Owner     string
	CmdLine   string
	StartTime time.Time

	// EndTime is nil while the process is still running.
	EndTime *time.Time

	// ExitCode is only meaningful when EndTime is set.
	ExitCode int32
}

// Exited reports whether the process has terminated.
func (p GuestProcessInfo) Exited() bool {
	return p.EndTime != nil
}

// FileTransferInfo describes a download ticket.
type FileTransferInfo struct {
	// URL is the single-use ticket URL, possibly with a "*" host placeholder.
	URL string

	// Size is the file size in bytes.
	Size int64
}
