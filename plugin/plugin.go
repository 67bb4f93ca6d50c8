// Package plugin implements the Plugin ABI of spec.md §6: each plugin
// exposes get_info/initialize/is_supported/mount, keyed by a 128-bit
// stable identity. Plugin *discovery* (finding and loading shared
// objects) stays out of scope, per spec.md §1; this package is the
// in-process contract and registration table that sources/* adapters
// plug themselves into.
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mwantia/unionfs/source"
)

// Info is what get_info reports about a plugin.
type Info struct {
	ID          uuid.UUID
	Name        string
	Version     string
	Description string
}

// MountInitInfo is the information handed to is_supported and mount: the
// per-source configuration entry from config.SourceRef. Path and Options
// are passed as the SourceRef gives them; nothing resolves Path against a
// base directory on the way here.
type MountInitInfo struct {
	Path    string
	Options map[string]string
}

// Plugin is the ABI a source adapter implements to register itself.
type Plugin interface {
	GetInfo() Info
	Initialize(ctx context.Context) error
	IsSupported(init MountInitInfo) bool
	Mount(ctx context.Context, init MountInitInfo) (source.Mount, error)
}

// Registry is the in-process table of loaded plugin factories. It is
// distinct from registry.Registry, which tracks live *mounts*, not
// plugin implementations.
type Registry struct {
	mu      sync.RWMutex
	plugins map[uuid.UUID]Plugin
}

// NewRegistry creates an empty plugin table.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[uuid.UUID]Plugin)}
}

// Register adds p to the table, keyed by its stable ID. Fails if that ID
// is already registered.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.GetInfo().ID
	if _, exists := r.plugins[id]; exists {
		return fmt.Errorf("plugin: id %s already registered", id)
	}
	r.plugins[id] = p
	return nil
}

// Unregister removes a plugin by ID.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, id)
}

// Get looks up a plugin by its stable ID.
func (r *Registry) Get(id uuid.UUID) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// FindByName looks up a plugin by its GetInfo().Name, for loaders that
// configure sources by human-readable name rather than raw UUID.
func (r *Registry) FindByName(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.GetInfo().Name == name {
			return p, true
		}
	}
	return nil, false
}

// List returns Info for every registered plugin, snapshot-consistent.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.GetInfo())
	}
	return out
}
