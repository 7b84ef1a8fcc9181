// Package vsphere is the application entry point of vmorch: one Client per
// endpoint owning the session manager and the proxy registry.
package vsphere

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/vmorch/pkg/guest"
	"github.com/openfroyo/vmorch/pkg/object"
	"github.com/openfroyo/vmorch/pkg/session"
	"github.com/openfroyo/vmorch/pkg/vim"
)

// Client is the application context of one endpoint.
type Client struct {
	address  string
	user     string
	password string

	sessions  *session.Manager
	registry  *object.Registry
	guestOpts []guest.Option
}

// Option configures a Client.
type Option func(*options)

type options struct {
	sessions     *session.Manager
	sessionOpts  []session.Option
	registryOpts []object.Option
	guestOpts    []guest.Option
}

// WithSessionManager shares m between clients so that logins to one
// endpoint are deduplicated across all of them. Session options are ignored
// when it is set.
func WithSessionManager(m *session.Manager) Option {
	return func(o *options) { o.sessions = m }
}

// WithSessionOptions configures the session manager built by New.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// WithRegistryOptions configures the proxy registry.
func WithRegistryOptions(opts ...object.Option) Option {
	return func(o *options) { o.registryOpts = append(o.registryOpts, opts...) }
}

// WithGuestOptions sets the options of every guest manager built by Guest.
func WithGuestOptions(opts ...guest.Option) Option {
	return func(o *options) { o.guestOpts = append(o.guestOpts, opts...) }
}

// New creates a client for address. No connection is made until Login.
// dial is only used when no shared session manager is given.
func New(address, user, password string, dial vim.Dialer, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sessions := o.sessions
	if sessions == nil {
		sessions = session.NewManager(dial, o.sessionOpts...)
	}
	return &Client{
		address:   address,
		user:      user,
		password:  password,
		sessions:  sessions,
		registry:  object.NewRegistry(o.registryOpts...),
		guestOpts: o.guestOpts,
	}
}

// Address returns the endpoint address.
func (c *Client) Address() string { return c.address }

// Registry returns the proxy registry.
func (c *Client) Registry() *object.Registry { return c.registry }

// Login logs in with the configured credentials. Repeated logins reuse the
// session.
func (c *Client) Login(ctx context.Context) error {
	_, err := c.sessions.Login(ctx, c.address, c.user, c.password)
	return err
}

// Logout ends the session. It is a no-op when not logged in.
func (c *Client) Logout(ctx context.Context) error {
	return c.sessions.Logout(ctx, c.address)
}

// IsLoggedIn reports whether the client holds a session.
func (c *Client) IsLoggedIn() bool {
	return c.sessions.IsLoggedIn(c.address)
}

// ValidateLogin checks the credentials against the server with a fresh
// login, discarding any cached session first.
func (c *Client) ValidateLogin(ctx context.Context) error {
	if err := c.sessions.Logout(ctx, c.address); err != nil {
		log.Debug().Str("component", "vsphere").Err(err).Msg("ignoring logout failure before validation")
	}
	return c.Login(ctx)
}

// Close logs out of the endpoint.
func (c *Client) Close(ctx context.Context) {
	if err := c.sessions.Logout(ctx, c.address); err != nil {
		log.Debug().Str("component", "vsphere").Str("address", c.address).Err(err).Msg("logout on close failed")
	}
}

// Sessions returns the session manager.
func (c *Client) Sessions() *session.Manager { return c.sessions }

// Conn returns the authenticated upstream client, refreshing the session
// when it is stale.
func (c *Client) Conn(ctx context.Context) (vim.Client, error) {
	return c.sessions.Ensure(ctx, c.address)
}

// IsVCenter reports whether the endpoint is a vCenter rather than a
// standalone ESXi host.
func (c *Client) IsVCenter(ctx context.Context) (bool, error) {
	conn, err := c.Conn(ctx)
	if err != nil {
		return false, err
	}
	return conn.ServiceContent().APIType == vim.APITypeVirtualCenter, nil
}

// Object returns the proxy of ref.
func (c *Client) Object(ctx context.Context, ref vim.ObjectRef) (object.Proxy, error) {
	conn, err := c.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return c.registry.Proxy(conn, ref)
}

// VirtualMachine returns the VM proxy of ref.
func (c *Client) VirtualMachine(ctx context.Context, ref vim.ObjectRef) (*object.VirtualMachine, error) {
	p, err := c.Object(ctx, ref)
	if err != nil {
		return nil, err
	}
	return object.AsVirtualMachine(p)
}

// FindByIP returns the VM whose guest reports ip. No match is an error.
func (c *Client) FindByIP(ctx context.Context, ip string) (*object.VirtualMachine, error) {
	p, err := c.findByIP(ctx, ip, true)
	if err != nil {
		return nil, err
	}
	return object.AsVirtualMachine(p)
}

// FindHostByIP returns the host system with address ip. No match is an
// error.
func (c *Client) FindHostByIP(ctx context.Context, ip string) (*object.HostSystem, error) {
	p, err := c.findByIP(ctx, ip, false)
	if err != nil {
		return nil, err
	}
	host, ok := p.(*object.HostSystem)
	if !ok {
		return nil, vim.NewError(vim.KindInvalidArgument, fmt.Sprintf("%s is not a host system", p.Ref()), nil)
	}
	return host, nil
}

func (c *Client) findByIP(ctx context.Context, ip string, vmSearch bool) (object.Proxy, error) {
	conn, err := c.Conn(ctx)
	if err != nil {
		return nil, err
	}
	ref, err := conn.FindByIP(ctx, nil, ip, vmSearch)
	if err != nil {
		return nil, vim.NewTransportError("search by ip failed", err).WithOp("findByIp")
	}
	if ref == nil {
		kind := "host"
		if vmSearch {
			kind = "virtual machine"
		}
		return nil, vim.NewNotFoundError(fmt.Sprintf("no %s with ip %s", kind, ip)).WithOp("findByIp")
	}
	return c.registry.Proxy(conn, *ref)
}

// FindVMsByName lists the VMs named name. A pattern written as /expr/ is
// matched as a regular expression against every VM name instead.
func (c *Client) FindVMsByName(ctx context.Context, name string) ([]*object.VirtualMachine, error) {
	match, err := nameMatcher(name)
	if err != nil {
		return nil, err
	}

	conn, err := c.Conn(ctx)
	if err != nil {
		return nil, err
	}
	contents, err := conn.RetrieveView(ctx, conn.ServiceContent().RootFolder,
		[]string{object.TypeVirtualMachine}, []string{"name"})
	if err != nil {
		return nil, vim.NewTransportError("failed to list virtual machines", err).WithOp("findByName")
	}

	var vms []*object.VirtualMachine
	for _, oc := range contents {
		v, _ := oc.Lookup("name")
		if !match(vim.String(v)) {
			continue
		}
		p, err := c.registry.Proxy(conn, oc.Ref)
		if err != nil {
			return nil, err
		}
		vm, err := object.AsVirtualMachine(p)
		if err != nil {
			return nil, err
		}
		vms = append(vms, vm)
	}

	log.Debug().
		Str("component", "vsphere").
		Str("pattern", name).
		Int("scanned", len(contents)).
		Int("matched", len(vms)).
		Msg("searched virtual machines by name")
	return vms, nil
}

func nameMatcher(pattern string) (func(string) bool, error) {
	if len(pattern) > 1 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		re, err := regexp.Compile(pattern[1 : len(pattern)-1])
		if err != nil {
			return nil, vim.NewError(vim.KindInvalidArgument, "invalid name pattern "+pattern, err)
		}
		return re.MatchString, nil
	}
	return func(s string) bool { return s == pattern }, nil
}

// FindVM resolves a single VM by IP address or exact name.
func (c *Client) FindVM(ctx context.Context, nameOrIP string) (*object.VirtualMachine, error) {
	if net.ParseIP(nameOrIP) != nil {
		return c.FindByIP(ctx, nameOrIP)
	}
	vms, err := c.FindVMsByName(ctx, nameOrIP)
	if err != nil {
		return nil, err
	}
	switch len(vms) {
	case 0:
		return nil, vim.NewNotFoundError("no virtual machine named " + nameOrIP)
	case 1:
		return vms[0], nil
	}
	return nil, vim.NewError(vim.KindInvalidArgument,
		fmt.Sprintf("%d virtual machines match %s", len(vms), nameOrIP), nil)
}

// LicenseManager returns the license manager proxy.
func (c *Client) LicenseManager(ctx context.Context) (*object.LicenseManager, error) {
	conn, err := c.Conn(ctx)
	if err != nil {
		return nil, err
	}
	ref := conn.ServiceContent().LicenseManager
	if ref.IsZero() {
		return nil, vim.NewNotFoundError("endpoint has no license manager")
	}
	p, err := c.registry.Proxy(conn, ref)
	if err != nil {
		return nil, err
	}
	lm, ok := p.(*object.LicenseManager)
	if !ok {
		return nil, vim.NewConfigurationError(fmt.Sprintf("%s is not a license manager", ref), nil)
	}
	return lm, nil
}

// Guest returns a guest operations manager for vm. Options given here
// follow the client-wide guest options.
func (c *Client) Guest(vm *object.VirtualMachine, cred guest.Credential, opts ...guest.Option) *guest.Manager {
	all := append(append([]guest.Option{}, c.guestOpts...), opts...)
	return guest.New(vm, cred, all...)
}
