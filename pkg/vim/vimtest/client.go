// Package vimtest provides an in-memory vim.Client for tests.
//
// The fake keeps a property store keyed by object reference, counts calls per
// method, lets tests queue failures for any method, and optionally attaches a
// Guest that serves file transfer tickets over a local HTTP server and runs
// guest programs with a tiny shell interpreter.
package vimtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// Well-known references of the fake service content.
var (
	RootFolder             = vim.Ref("Folder", "group-d1")
	PropertyCollector      = vim.Ref("PropertyCollector", "propertyCollector")
	ViewManager            = vim.Ref("ViewManager", "ViewManager")
	SessionManager         = vim.Ref("SessionManager", "SessionManager")
	SearchIndex            = vim.Ref("SearchIndex", "SearchIndex")
	LicenseManager         = vim.Ref("LicenseManager", "LicenseManager")
	GuestOperationsManager = vim.Ref("GuestOperationsManager", "guestOperationsManager")
	GuestAuthManager       = vim.Ref("GuestAuthManager", "guestOperationsAuthManager")
	GuestProcessManager    = vim.Ref("GuestProcessManager", "guestOperationsProcessManager")
	GuestFileManager       = vim.Ref("GuestFileManager", "guestOperationsFileManager")
)

// Client is an in-memory vim.Client.
type Client struct {
	mu       sync.Mutex
	address  string
	content  vim.ServiceContent
	props    map[vim.ObjectRef]map[string]any
	calls    map[string]int
	failures map[string][]error
	user     string
	password string
	loggedIn bool
	nextTask int
	guest    *Guest

	// LoginFunc, when set, runs after failure injection and before the
	// session is recorded. Tests use it to slow logins down.
	LoginFunc func(ctx context.Context, user, password string) error

	// FindByIPFunc, when set, answers FindByIP.
	FindByIPFunc func(ctx context.Context, datacenter *vim.ObjectRef, ip string, vmSearch bool) (*vim.ObjectRef, error)

	// Now is the clock reported by CurrentTime.
	Now func() time.Time
}

var _ vim.Client = (*Client)(nil)

// NewClient creates a fake vCenter endpoint at address.
func NewClient(address string) *Client {
	c := &Client{
		address:  address,
		props:    make(map[vim.ObjectRef]map[string]any),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
		Now:      time.Now,
		content: vim.ServiceContent{
			APIType:                vim.APITypeVirtualCenter,
			APIVersion:             "8.0.3.0",
			ServiceInstance:        vim.Ref("ServiceInstance", "ServiceInstance"),
			PropertyCollector:      PropertyCollector,
			RootFolder:             RootFolder,
			ViewManager:            ViewManager,
			SessionManager:         SessionManager,
			SearchIndex:            SearchIndex,
			LicenseManager:         LicenseManager,
			GuestOperationsManager: GuestOperationsManager,
		},
	}

	c.Set(GuestOperationsManager, "authManager", GuestAuthManager)
	c.Set(GuestOperationsManager, "processManager", GuestProcessManager)
	c.Set(GuestOperationsManager, "fileManager", GuestFileManager)
	return c
}

// Dialer returns a vim.Dialer that always hands out c.
func (c *Client) Dialer() vim.Dialer {
	return func(ctx context.Context, address string) (vim.Client, error) {
		c.record("Dial")
		if err := c.fail("Dial"); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// SetAPIType switches the endpoint between vCenter and standalone ESXi.
func (c *Client) SetAPIType(apiType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content.APIType = apiType
}

// Set stores a property value. Paths are stored verbatim; reads of a dotted
// path fall back to walking the value stored under its first segment.
func (c *Client) Set(ref vim.ObjectRef, path string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.props[ref] == nil {
		c.props[ref] = make(map[string]any)
	}
	c.props[ref][path] = value
}

// Unset removes a property.
func (c *Client) Unset(ref vim.ObjectRef, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.props[ref], path)
}

// Value returns a stored property.
func (c *Client) Value(ref vim.ObjectRef, path string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(ref, path)
}

// FailNext queues errors returned by the next calls of method, in order.
func (c *Client) FailNext(method string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[method] = append(c.failures[method], errs...)
}

// Calls returns how many times method was invoked.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// User returns the user of the current session, or "".
func (c *Client) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedIn {
		return ""
	}
	return c.user
}

// ExpireSession drops the server-side session so the next liveness probe fails.
func (c *Client) ExpireSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedIn = false
}

// AttachGuest routes every guest operation to g.
func (c *Client) AttachGuest(g *Guest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guest = g
}

func (c *Client) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
}

func (c *Client) fail(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.failures[method]
	if len(q) == 0 {
		return nil
	}
	c.failures[method] = q[1:]
	return q[0]
}

// begin counts the call and pops any queued failure.
func (c *Client) begin(method string) error {
	c.record(method)
	return c.fail(method)
}

func (c *Client) lookup(ref vim.ObjectRef, path string) (any, bool) {
	props := c.props[ref]
	if props == nil {
		return nil, false
	}
	if v, ok := props[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	for i := len(parts) - 1; i > 0; i-- {
		head := strings.Join(parts[:i], ".")
		if v, ok := props[head]; ok {
			return vim.Path(v, parts[i:]...)
		}
	}
	return nil, false
}

// Address implements vim.Client.
func (c *Client) Address() string {
	return c.address
}

// ServiceContent implements vim.Client.
func (c *Client) ServiceContent() vim.ServiceContent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// Login implements vim.SessionAPI.
func (c *Client) Login(ctx context.Context, user, password string) error {
	if err := c.begin("Login"); err != nil {
		return err
	}
	if c.LoginFunc != nil {
		if err := c.LoginFunc(ctx, user, password); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user, c.password, c.loggedIn = user, password, true
	return nil
}

// Logout implements vim.SessionAPI.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.begin("Logout"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedIn {
		return &vim.Fault{Kind: vim.FaultNotAuthenticated, Message: "no session"}
	}
	c.loggedIn = false
	return nil
}

// CurrentTime implements vim.SessionAPI.
func (c *Client) CurrentTime(ctx context.Context) (time.Time, error) {
	if err := c.begin("CurrentTime"); err != nil {
		return time.Time{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedIn {
		return time.Time{}, &vim.Fault{Kind: vim.FaultNotAuthenticated, Message: "The session is not authenticated."}
	}
	return c.Now(), nil
}

// RetrieveProperties implements vim.PropertyAPI.
func (c *Client) RetrieveProperties(ctx context.Context, ref vim.ObjectRef, paths []string) ([]vim.Property, error) {
	if err := c.begin("RetrieveProperties"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []vim.Property
	for _, p := range paths {
		if v, ok := c.lookup(ref, p); ok {
			out = append(out, vim.Property{Name: p, Value: v})
		}
	}
	return out, nil
}

// RetrieveView implements vim.PropertyAPI. The container is ignored; every
// stored object of a matching type is a member.
func (c *Client) RetrieveView(ctx context.Context, container vim.ObjectRef, kinds []string, paths []string) ([]vim.ObjectContent, error) {
	if err := c.begin("RetrieveView"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	wanted := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	var refs []vim.ObjectRef
	for ref := range c.props {
		if wanted[ref.Type] {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })

	out := make([]vim.ObjectContent, 0, len(refs))
	for _, ref := range refs {
		oc := vim.ObjectContent{Ref: ref}
		for _, p := range paths {
			if v, ok := c.lookup(ref, p); ok {
				oc.Properties = append(oc.Properties, vim.Property{Name: p, Value: v})
			}
		}
		out = append(out, oc)
	}
	return out, nil
}

// FindByIP implements vim.PropertyAPI. Without a hook it matches the
// "guest.ipAddress" property of VMs or the "name" property of hosts.
func (c *Client) FindByIP(ctx context.Context, datacenter *vim.ObjectRef, ip string, vmSearch bool) (*vim.ObjectRef, error) {
	if err := c.begin("FindByIP"); err != nil {
		return nil, err
	}
	if c.FindByIPFunc != nil {
		return c.FindByIPFunc(ctx, datacenter, ip, vmSearch)
	}
	kind, path := "HostSystem", "name"
	if vmSearch {
		kind, path = "VirtualMachine", "guest.ipAddress"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for ref := range c.props {
		if ref.Type != kind {
			continue
		}
		if v, ok := c.lookup(ref, path); ok && v == ip {
			found := ref
			return &found, nil
		}
	}
	return nil, nil
}

func (c *Client) newTask(state string, result any) vim.ObjectRef {
	c.mu.Lock()
	c.nextTask++
	ref := vim.Ref("Task", fmt.Sprintf("task-%d", c.nextTask))
	c.mu.Unlock()

	info := map[string]any{"state": state, "key": ref.Value}
	if result != nil {
		info["result"] = result
	}
	c.Set(ref, "info", info)
	return ref
}

// PowerOnVM implements vim.VirtualMachineAPI.
func (c *Client) PowerOnVM(ctx context.Context, vm vim.ObjectRef) (vim.ObjectRef, error) {
	if err := c.begin("PowerOnVM"); err != nil {
		return vim.ObjectRef{}, err
	}
	c.Set(vm, "runtime.powerState", "poweredOn")
	return c.newTask("success", nil), nil
}

// PowerOffVM implements vim.VirtualMachineAPI.
func (c *Client) PowerOffVM(ctx context.Context, vm vim.ObjectRef) (vim.ObjectRef, error) {
	if err := c.begin("PowerOffVM"); err != nil {
		return vim.ObjectRef{}, err
	}
	c.Set(vm, "runtime.powerState", "poweredOff")
	return c.newTask("success", nil), nil
}

// ShutdownGuest implements vim.VirtualMachineAPI.
func (c *Client) ShutdownGuest(ctx context.Context, vm vim.ObjectRef) error {
	if err := c.begin("ShutdownGuest"); err != nil {
		return err
	}
	c.Set(vm, "runtime.powerState", "poweredOff")
	return nil
}

// Destroy implements vim.VirtualMachineAPI.
func (c *Client) Destroy(ctx context.Context, ref vim.ObjectRef) (vim.ObjectRef, error) {
	if err := c.begin("Destroy"); err != nil {
		return vim.ObjectRef{}, err
	}
	c.mu.Lock()
	delete(c.props, ref)
	c.mu.Unlock()
	return c.newTask("success", nil), nil
}

// CreateSnapshot implements vim.VirtualMachineAPI.
func (c *Client) CreateSnapshot(ctx context.Context, vm vim.ObjectRef, name, description string, memory, quiesce bool) (vim.ObjectRef, error) {
	if err := c.begin("CreateSnapshot"); err != nil {
		return vim.ObjectRef{}, err
	}
	snap := vim.Ref("VirtualMachineSnapshot", fmt.Sprintf("%s-snapshot-%s", vm.Value, name))
	c.Set(vm, "snapshot.currentSnapshot", snap)

	tree, _ := c.Value(vm, "snapshot.rootSnapshotList")
	list, _ := tree.([]any)
	list = append(list, map[string]any{
		"name":        name,
		"description": description,
		"snapshot":    snap,
	})
	c.Set(vm, "snapshot.rootSnapshotList", list)
	return c.newTask("success", snap), nil
}

// MarkAsTemplate implements vim.VirtualMachineAPI.
func (c *Client) MarkAsTemplate(ctx context.Context, vm vim.ObjectRef) error {
	if err := c.begin("MarkAsTemplate"); err != nil {
		return err
	}
	c.Set(vm, "config.template", true)
	return nil
}

// MountToolsInstaller implements vim.VirtualMachineAPI.
func (c *Client) MountToolsInstaller(ctx context.Context, vm vim.ObjectRef) error {
	return c.begin("MountToolsInstaller")
}

func (c *Client) attachedGuest() (*Guest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guest == nil {
		return nil, fmt.Errorf("vimtest: no guest attached")
	}
	return c.guest, nil
}

// ValidateCredentialsInGuest implements vim.GuestAPI.
func (c *Client) ValidateCredentialsInGuest(ctx context.Context, authManager, vm vim.ObjectRef, auth vim.GuestAuth) error {
	if err := c.begin("ValidateCredentialsInGuest"); err != nil {
		return err
	}
	g, err := c.attachedGuest()
	if err != nil {
		return err
	}
	return g.validate(auth)
}

// StartProgramInGuest implements vim.GuestAPI.
func (c *Client) StartProgramInGuest(ctx context.Context, processManager, vm vim.ObjectRef, auth vim.GuestAuth, spec vim.ProgramSpec) (int64, error) {
	if err := c.begin("StartProgramInGuest"); err != nil {
		return 0, err
	}
	g, err := c.attachedGuest()
	if err != nil {
		return 0, err
	}
	return g.start(auth, spec)
}

// ListProcessesInGuest implements vim.GuestAPI.
func (c *Client) ListProcessesInGuest(ctx context.Context, processManager, vm vim.ObjectRef, auth vim.GuestAuth, pids []int64) ([]vim.GuestProcessInfo, error) {
	if err := c.begin("ListProcessesInGuest"); err != nil {
		return nil, err
	}
	g, err := c.attachedGuest()
	if err != nil {
		return nil, err
	}
	return g.list(pids), nil
}

// InitiateFileTransferToGuest implements vim.GuestAPI.
func (c *Client) InitiateFileTransferToGuest(ctx context.Context, fileManager, vm vim.ObjectRef, auth vim.GuestAuth, guestPath string, size int64, overwrite bool) (string, error) {
	if err := c.begin("InitiateFileTransferToGuest"); err != nil {
		return "", err
	}
	g, err := c.attachedGuest()
	if err != nil {
		return "", err
	}
	return g.ticketTo(guestPath, size, overwrite)
}

// InitiateFileTransferFromGuest implements vim.GuestAPI.
func (c *Client) InitiateFileTransferFromGuest(ctx context.Context, fileManager, vm vim.ObjectRef, auth vim.GuestAuth, guestPath string) (vim.FileTransferInfo, error) {
	if err := c.begin("InitiateFileTransferFromGuest"); err != nil {
		return vim.FileTransferInfo{}, err
	}
	g, err := c.attachedGuest()
	if err != nil {
		return vim.FileTransferInfo{}, err
	}
	return g.ticketFrom(guestPath)
}

// MakeDirectoryInGuest implements vim.GuestAPI.
func (c *Client) MakeDirectoryInGuest(ctx context.Context, fileManager, vm vim.ObjectRef, auth vim.GuestAuth, dir string, createParents bool) error {
	if err := c.begin("MakeDirectoryInGuest"); err != nil {
		return err
	}
	g, err := c.attachedGuest()
	if err != nil {
		return err
	}
	return g.mkdir(dir, createParents)
}

// DeleteDirectoryInGuest implements vim.GuestAPI.
func (c *Client) DeleteDirectoryInGuest(ctx context.Context, fileManager, vm vim.ObjectRef, auth vim.GuestAuth, dir string, recursive bool) error {
	if err := c.begin("DeleteDirectoryInGuest"); err != nil {
		return err
	}
	g, err := c.attachedGuest()
	if err != nil {
		return err
	}
	return g.rmdir(dir, recursive)
}
