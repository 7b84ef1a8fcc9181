// Package soap implements vim.Client on top of the govmomi SOAP stack.
package soap

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/methods"
	vsoap "github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// Client is a vim.Client backed by a govmomi vim25 connection.
type Client struct {
	address string
	vc      *vim25.Client
	content vim.ServiceContent
}

var _ vim.Client = (*Client)(nil)

// Dialer returns a vim.Dialer opening SOAP connections with cfg.
func Dialer(cfg Config) vim.Dialer {
	return func(ctx context.Context, address string) (vim.Client, error) {
		return Dial(ctx, address, cfg)
	}
}

// Dial connects to the SDK endpoint of address and fetches its service
// content. The returned client is not logged in.
func Dial(ctx context.Context, address string, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, vim.NewConfigurationError("invalid soap configuration", err)
	}

	u, err := vsoap.ParseURL(address)
	if err != nil {
		return nil, vim.NewConfigurationError("invalid endpoint address "+address, err)
	}

	sc := vsoap.NewClient(u, cfg.Insecure)
	if !cfg.Insecure && cfg.Thumbprint != "" {
		sc.SetThumbprint(u.Host, cfg.Thumbprint)
	}
	if cfg.UserAgent != "" {
		sc.UserAgent = cfg.UserAgent
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	vc, err := vim25.NewClient(ctx, sc)
	if err != nil {
		return nil, translate("dial "+address, err)
	}

	log.Debug().
		Str("component", "soap").
		Str("address", address).
		Str("api_type", vc.ServiceContent.About.ApiType).
		Str("api_version", vc.ServiceContent.About.ApiVersion).
		Msg("connected")

	return &Client{
		address: address,
		vc:      vc,
		content: serviceContent(vc.ServiceContent),
	}, nil
}

func serviceContent(sc types.ServiceContent) vim.ServiceContent {
	return vim.ServiceContent{
		APIType:                sc.About.ApiType,
		APIVersion:             sc.About.ApiVersion,
		ServiceInstance:        vim.Ref("ServiceInstance", "ServiceInstance"),
		PropertyCollector:      fromMoRef(sc.PropertyCollector),
		RootFolder:             fromMoRef(sc.RootFolder),
		ViewManager:            fromMoRefPtr(sc.ViewManager),
		SessionManager:         fromMoRefPtr(sc.SessionManager),
		SearchIndex:            fromMoRefPtr(sc.SearchIndex),
		LicenseManager:         fromMoRefPtr(sc.LicenseManager),
		GuestOperationsManager: fromMoRefPtr(sc.GuestOperationsManager),
	}
}

// Address implements vim.Client.
func (c *Client) Address() string { return c.address }

// ServiceContent implements vim.Client.
func (c *Client) ServiceContent() vim.ServiceContent { return c.content }

// Login implements vim.SessionAPI.
func (c *Client) Login(ctx context.Context, user, password string) error {
	_, err := methods.Login(ctx, c.vc, &types.Login{
		This:     toMoRef(c.content.SessionManager),
		UserName: user,
		Password: password,
	})
	if err != nil {
		return translate("login", err)
	}
	return nil
}

// Logout implements vim.SessionAPI.
func (c *Client) Logout(ctx context.Context) error {
	_, err := methods.Logout(ctx, c.vc, &types.Logout{This: toMoRef(c.content.SessionManager)})
	if err != nil {
		return translate("logout", err)
	}
	return nil
}

// CurrentTime implements vim.SessionAPI.
func (c *Client) CurrentTime(ctx context.Context) (time.Time, error) {
	t, err := methods.GetCurrentTime(ctx, c.vc)
	if err != nil {
		return time.Time{}, translate("currentTime", err)
	}
	if t == nil {
		return time.Time{}, nil
	}
	return *t, nil
}
