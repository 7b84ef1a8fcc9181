package object

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// Proxy is a client-side handle for one managed object.
type Proxy interface {
	// Ref returns the wrapped reference.
	Ref() vim.ObjectRef

	// Client returns the client handle the proxy was built with.
	Client() vim.Client

	// Base returns the generic proxy underlying a typed one.
	Base() *Common

	// Get reads one property. The value has its references resolved to
	// proxies. A property the server does not report yields (nil, nil).
	Get(ctx context.Context, path string) (any, error)

	// GetMany reads several properties in one request. Values are returned
	// as read, without reference resolution.
	GetMany(ctx context.Context, paths ...string) (map[string]any, error)

	// Parent returns the direct parent when tag is empty, otherwise the
	// nearest ancestor of type tag. (nil, nil) when there is none.
	Parent(ctx context.Context, tag string) (Proxy, error)

	// WaitState polls path until it equals target.
	WaitState(ctx context.Context, path string, target any, timeout, interval time.Duration) error
}

// Common is the generic proxy. It is immutable and safe for concurrent use.
type Common struct {
	ref      vim.ObjectRef
	client   vim.Client
	registry *Registry
}

var _ Proxy = (*Common)(nil)

// Ref implements Proxy.
func (c *Common) Ref() vim.ObjectRef { return c.ref }

// Client implements Proxy.
func (c *Common) Client() vim.Client { return c.client }

// Base implements Proxy.
func (c *Common) Base() *Common { return c }

// Registry returns the registry that built the proxy.
func (c *Common) Registry() *Registry { return c.registry }

// String returns the reference in "Type:Value" form.
func (c *Common) String() string { return c.ref.String() }

// Get implements Proxy.
func (c *Common) Get(ctx context.Context, path string) (any, error) {
	raw, ok, err := c.read(ctx, path)
	if err != nil || !ok {
		return nil, err
	}
	resolved, err := c.registry.Resolve(c.client, raw)
	if err != nil {
		return nil, fmt.Errorf("resolve %s of %s: %w", path, c.ref, err)
	}
	return resolved, nil
}

// GetRaw reads one property without resolving references.
func (c *Common) GetRaw(ctx context.Context, path string) (any, error) {
	raw, _, err := c.read(ctx, path)
	return raw, err
}

func (c *Common) read(ctx context.Context, path string) (any, bool, error) {
	props, err := c.client.RetrieveProperties(ctx, c.ref, []string{path})
	if err != nil {
		return nil, false, vim.NewTransportError("failed to read property "+path, err).
			WithObject(c.ref).
			WithOp("get")
	}
	log.Debug().
		Str("component", "object").
		Str("object", c.ref.String()).
		Str("path", path).
		Int("props", len(props)).
		Msg("property read")

	for _, p := range props {
		if p.Name == path {
			return p.Value, true, nil
		}
	}
	if len(props) > 0 {
		return props[0].Value, true, nil
	}
	return nil, false, nil
}

// GetMany implements Proxy.
func (c *Common) GetMany(ctx context.Context, paths ...string) (map[string]any, error) {
	out := make(map[string]any, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	props, err := c.client.RetrieveProperties(ctx, c.ref, paths)
	if err != nil {
		return nil, vim.NewTransportError("failed to read properties", err).
			WithObject(c.ref).
			WithOp("getMany")
	}
	for _, p := range props {
		out[p.Name] = p.Value
	}
	return out, nil
}

// Parent implements Proxy.
func (c *Common) Parent(ctx context.Context, tag string) (Proxy, error) {
	var cur Proxy = c
	for {
		v, err := cur.Base().Get(ctx, "parent")
		if err != nil {
			return nil, err
		}
		p, ok := v.(Proxy)
		if !ok {
			return nil, nil
		}
		if tag == "" || p.Ref().Type == tag {
			return p, nil
		}
		cur = p
	}
}

// GetString reads a string property. A missing property yields "".
func (c *Common) GetString(ctx context.Context, path string) (string, error) {
	v, err := c.GetRaw(ctx, path)
	if err != nil {
		return "", err
	}
	return vim.String(v), nil
}

// GetProxy reads a reference-valued property and returns its proxy, or nil
// when the property is unset.
func (c *Common) GetProxy(ctx context.Context, path string) (Proxy, error) {
	v, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	p, _ := v.(Proxy)
	return p, nil
}

// Proxy builds a sibling proxy on the same client and registry.
func (c *Common) Proxy(ref vim.ObjectRef) (Proxy, error) {
	return c.registry.Proxy(c.client, ref)
}
