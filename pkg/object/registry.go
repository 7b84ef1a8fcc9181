// Package object turns opaque managed object references into client-side
// proxies.
//
// A Registry maps type tags ("VirtualMachine", "Task", ...) to constructors.
// Unregistered tags resolve to the generic *Common proxy, which offers
// property reads, parent traversal and state polling for any object. Typed
// proxies embed *Common and add the operations of their type.
package object

import (
	"fmt"
	"sync"

	"github.com/openfroyo/vmorch/pkg/vim"
)

// Constructor builds a typed proxy around a base proxy.
type Constructor func(base *Common) (Proxy, error)

// Registry maps type tags to proxy constructors. It is safe for concurrent use.
type Registry struct {
	// mu protects ctors.
	mu sync.RWMutex

	// ctors maps type tag to constructor. A nil constructor marks a tag that
	// is known but could not be loaded.
	ctors map[string]Constructor

	// tuning controls the default poll interval of WaitState.
	tuning PollTuning
}

// Option configures a Registry.
type Option func(*Registry)

// WithPollTuning overrides the default WaitState timing.
func WithPollTuning(t PollTuning) Option {
	return func(r *Registry) {
		r.tuning = t.withDefaults()
	}
}

// NewRegistry creates a registry with the built-in typed proxies registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ctors:  make(map[string]Constructor),
		tuning: DefaultPollTuning(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.ctors[TypeVirtualMachine] = newVirtualMachine
	r.ctors[TypeTask] = newTask
	r.ctors[TypeHostSystem] = newHostSystem
	r.ctors[TypeDatacenter] = newDatacenter
	r.ctors[TypeHttpNfcLease] = newHttpNfcLease
	r.ctors[TypeLicenseManager] = newLicenseManager
	return r
}

// Register installs a constructor for a type tag, replacing any previous one.
func (r *Registry) Register(tag string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[tag] = ctor
}

// Registered reports whether a constructor is installed for tag.
func (r *Registry) Registered(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[tag]
	return ok
}

// Tuning returns the registry's poll tuning.
func (r *Registry) Tuning() PollTuning {
	return r.tuning
}

// Proxy builds the proxy for a single reference. An unregistered type tag
// yields a *Common proxy. A registered tag whose constructor is missing or
// fails yields a configuration error; the base proxy is never substituted.
func (r *Registry) Proxy(client vim.Client, ref vim.ObjectRef) (Proxy, error) {
	base := &Common{ref: ref, client: client, registry: r}

	r.mu.RLock()
	ctor, ok := r.ctors[ref.Type]
	r.mu.RUnlock()

	if !ok {
		return base, nil
	}
	if ctor == nil {
		return nil, vim.NewConfigurationError(
			fmt.Sprintf("proxy type %s is registered without a constructor", ref.Type), nil).
			WithObject(ref)
	}

	p, err := ctor(base)
	if err != nil {
		return nil, vim.NewConfigurationError(
			fmt.Sprintf("failed to construct proxy for %s", ref.Type), err).
			WithObject(ref)
	}
	return p, nil
}

// Resolve replaces every object reference in raw with its proxy, keeping the
// shape of slices and maps. Values that are not references pass through.
// Resolve performs no I/O.
func (r *Registry) Resolve(client vim.Client, raw any) (any, error) {
	switch v := raw.(type) {
	case vim.ObjectRef:
		return r.Proxy(client, v)
	case *vim.ObjectRef:
		if v == nil {
			return nil, nil
		}
		return r.Proxy(client, *v)
	case []vim.ObjectRef:
		out := make([]Proxy, 0, len(v))
		for _, ref := range v {
			p, err := r.Proxy(client, ref)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.Resolve(client, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := r.Resolve(client, item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return raw, nil
	}
}
