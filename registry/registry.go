// Package registry implements the MountRegistry of spec.md §4.7: the
// process-wide table of live mounts keyed by mount-point, with explicit
// init/uninit lifecycle and the bridge terminal-callback purge.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mwantia/unionfs/config"
	"github.com/mwantia/unionfs/log"
	"github.com/mwantia/unionfs/metadata"
	"github.com/mwantia/unionfs/mount"
	"github.com/mwantia/unionfs/plugin"
	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
)

// MountInfo is a snapshot view of one live mount, returned by List/Info.
type MountInfo struct {
	ID         uuid.UUID
	MountPoint string
	State      mount.State
	Writable   bool
}

// Registry is the process-wide MountRegistry singleton. Callers
// typically hold exactly one instance (e.g. as a package-level var in
// the bridge binary); it is not itself a global here, matching the
// design note to pass the registry handle explicitly rather than rely on
// hidden globals.
type Registry struct {
	mu          sync.RWMutex
	initialized bool
	byID        map[uuid.UUID]*mount.Composite
	byPoint     map[string]uuid.UUID

	plugins *plugin.Registry
	logger  *log.Logger
}

// New creates a Registry. Init must be called before Add.
func New(logger *log.Logger) *Registry {
	return &Registry{
		plugins: plugin.NewRegistry(),
		logger:  logger.Named("registry"),
	}
}

// Init prepares the registry for use. Must precede any Add.
func (r *Registry) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return fmt.Errorf("registry: already initialized")
	}
	r.byID = make(map[uuid.UUID]*mount.Composite)
	r.byPoint = make(map[string]uuid.UUID)
	r.initialized = true
	return nil
}

// Uninit force-unmounts every live mount and releases registry state.
func (r *Registry) Uninit(ctx context.Context) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return fmt.Errorf("registry: not initialized")
	}
	mounts := make([]*mount.Composite, 0, len(r.byID))
	for _, m := range r.byID {
		mounts = append(mounts, m)
	}
	r.mu.Unlock()

	for _, m := range mounts {
		if err := m.Unmount(ctx, false); err != nil {
			r.logger.VFSError(log.Warn, fmt.Sprintf("force-unmount of %q failed", m.MountPoint()), err)
		}
	}

	r.mu.Lock()
	r.byID = nil
	r.byPoint = nil
	r.initialized = false
	r.mu.Unlock()
	return nil
}

// Plugins returns the in-process plugin table backing ListPlugins.
func (r *Registry) Plugins() *plugin.Registry { return r.plugins }

// Add validates cfg, constructs and starts a CompositeMount, and
// registers it by mount-point. Fails with AlreadyExists if the resolved
// mount-point is occupied, per spec.md §4.7.
func (r *Registry) Add(ctx context.Context, cfg *config.Options, sources []source.Mount, metaBackend metadata.Backend) (uuid.UUID, error) {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return uuid.Nil, fmt.Errorf("registry: not initialized")
	}
	if _, exists := r.byPoint[cfg.MountPoint]; exists {
		r.mu.Unlock()
		return uuid.Nil, vfserrors.AlreadyExists("add", cfg.MountPoint)
	}
	r.mu.Unlock()

	m, err := mount.New(cfg, sources, metaBackend, r.logger)
	if err != nil {
		return uuid.Nil, err
	}
	if err := m.Start(ctx); err != nil {
		return uuid.Nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPoint[cfg.MountPoint]; exists {
		// Lost a race with a concurrent Add between the unlock above and
		// here; unwind the mount we just started.
		_ = m.Unmount(ctx, false)
		return uuid.Nil, vfserrors.AlreadyExists("add", cfg.MountPoint)
	}
	r.byID[m.ID] = m
	r.byPoint[cfg.MountPoint] = m.ID
	return m.ID, nil
}

// Remove drives a mount to Unmounting/Destroyed and purges it.
func (r *Registry) Remove(ctx context.Context, id uuid.UUID, safe bool) error {
	r.mu.RLock()
	m, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return vfserrors.NotExists("remove", id.String())
	}

	if err := m.Unmount(ctx, safe); err != nil {
		return err
	}
	r.purge(id)
	return nil
}

// purge implements the bridge terminal-callback contract of spec.md
// §4.7: once a mount reports its unmount complete, drop its MountRecord
// and mount-point reverse mapping.
func (r *Registry) purge(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byID[id]; ok {
		delete(r.byPoint, m.MountPoint())
		delete(r.byID, id)
	}
}

// List returns a snapshot of every live mount.
func (r *Registry) List() []MountInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MountInfo, 0, len(r.byID))
	for id, m := range r.byID {
		out = append(out, MountInfo{ID: id, MountPoint: m.MountPoint(), State: m.State(), Writable: m.Writable()})
	}
	return out
}

// Info returns a snapshot view of one mount.
func (r *Registry) Info(id uuid.UUID) (*MountInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byID[id]
	if !ok {
		return nil, vfserrors.NotExists("info", id.String())
	}
	return &MountInfo{ID: id, MountPoint: m.MountPoint(), State: m.State(), Writable: m.Writable()}, nil
}

// Get returns the live Composite for id, for bridge dispatch.
func (r *Registry) Get(id uuid.UUID) (*mount.Composite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byID[id]
	if !ok {
		return nil, vfserrors.NotExists("get", id.String())
	}
	return m, nil
}

// ListPlugins snapshots the in-process plugin table.
func (r *Registry) ListPlugins() []plugin.Info {
	return r.plugins.List()
}
