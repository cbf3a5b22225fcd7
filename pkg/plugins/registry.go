package plugins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openstratus/stratus/pkg/credentials"
)

// ErrNotFound is returned when no plugin is registered for a CSP.
var ErrNotFound = errors.New("plugin not found")

// Registry holds the active CSP plugins.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// plugins maps CSP identifier to plugin instance.
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Register adds a plugin. A second plugin for the same CSP is rejected.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	csp := p.Csp()
	if _, exists := r.plugins[csp]; exists {
		return fmt.Errorf("plugin for csp %s already registered", csp)
	}

	r.plugins[csp] = p
	return nil
}

// Resolve returns the plugin for a CSP.
func (r *Registry) Resolve(csp string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[csp]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, csp)
	}
	return p, nil
}

// Csps returns the registered CSP identifiers, sorted.
func (r *Registry) Csps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.plugins))
	for csp := range r.plugins {
		out = append(out, csp)
	}
	sort.Strings(out)
	return out
}

// CredentialResolver adapts the registry to the credentials.Resolver
// interface by routing each key to its CSP's plugin.
func (r *Registry) CredentialResolver() credentials.Resolver {
	return credentials.ResolverFunc(func(ctx context.Context, key credentials.Key) (*credentials.Credential, error) {
		p, err := r.Resolve(key.Csp)
		if err != nil {
			return nil, err
		}
		return p.ResolveCredential(ctx, key.Principal, key.Kind)
	})
}
