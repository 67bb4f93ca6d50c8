// Package mount implements the CompositeMount of spec.md §4.5: the
// per-mount orchestrator tying together a RenameStore, a source stack, a
// MetadataStore, and a CopyUpEngine behind the state machine and
// concurrency model of §4.5/§5.
package mount

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mwantia/unionfs/config"
	"github.com/mwantia/unionfs/copyup"
	"github.com/mwantia/unionfs/log"
	"github.com/mwantia/unionfs/metadata"
	"github.com/mwantia/unionfs/rename"
	"github.com/mwantia/unionfs/resolver"
	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
)

// Composite is one mounted union view. Exactly one exists per mount
// point, owned by registry.Registry for its lifetime.
type Composite struct {
	ID  uuid.UUID
	cfg *config.Options
	log *log.Logger

	sources    []source.Mount // rank 0 first, writable
	copyEngine *copyup.Engine
	metaStore  *metadata.Store

	// mu guards ren, tombstones, and copiedUp — the single read-write
	// lock of spec.md §4.5. Lookups take the read side; rename, delete,
	// and copy-up completion take the write side.
	mu         sync.RWMutex
	ren        *rename.Store
	tombstones *resolver.TombstoneSet
	copiedUp   map[string]struct{}

	stateMu sync.Mutex
	state   State

	filesMu sync.Mutex
	files   map[FileContextId]*FileContext
}

// New constructs a Composite in the Created state. sources[0] must be
// writable if cfg.Writable is true. metaBackend backs the MetadataStore
// persistence file (normally sources[0] itself, via an adapter
// implementing metadata.Backend).
func New(cfg *config.Options, sources []source.Mount, metaBackend metadata.Backend, logger *log.Logger) (*Composite, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("mount: at least one source is required")
	}
	if cfg.Writable && !sources[0].Writable() {
		return nil, fmt.Errorf("mount: rank-0 source %q is not writable", sources[0].Name())
	}

	id := uuid.New()
	return &Composite{
		ID:         id,
		cfg:        cfg,
		log:        logger.Named(fmt.Sprintf("%s#%s", cfg.MountPoint, id.String()[:8])),
		sources:    sources,
		copyEngine: copyup.New(),
		metaStore:  metadata.NewStore(metaBackend, cfg.Metadata),
		copiedUp:   make(map[string]struct{}),
		state:      Created,
		files:      make(map[FileContextId]*FileContext),
	}, nil
}

func (m *Composite) transition(to State) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if err := checkTransition(m.state, to); err != nil {
		return err
	}
	m.log.Debug("state %s -> %s", m.state, to)
	m.state = to
	return nil
}

// State returns the current lifecycle stage.
func (m *Composite) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Composite) requireRunning() error {
	if m.State() != Running {
		return vfserrors.Cancelled("mount", m.cfg.MountPoint)
	}
	return nil
}

// Start drives Created -> Initializing -> Running, replaying the
// MetadataStore to reconstruct the RenameStore and tombstone set. On any
// failure it transitions to Failed and returns the error.
func (m *Composite) Start(ctx context.Context) error {
	if err := m.transition(Initializing); err != nil {
		return err
	}

	ren, snap, err := m.metaStore.Load(m.cfg.CaseSensitive)
	if err != nil {
		_ = m.transition(Failed)
		return vfserrors.MetadataCorrupt("start", m.cfg.MountPoint, err)
	}

	tomb := resolver.NewTombstoneSet(m.cfg.CaseSensitive)
	for _, t := range snap.Tombstones {
		tomb.Add(t)
	}
	copied := make(map[string]struct{}, len(snap.CopiedUp))
	for _, c := range snap.CopiedUp {
		copied[c] = struct{}{}
	}

	m.mu.Lock()
	m.ren = ren
	m.tombstones = tomb
	m.copiedUp = copied
	m.mu.Unlock()

	if err := m.transition(Running); err != nil {
		_ = m.transition(Failed)
		return err
	}
	m.log.Info("mount %q running with %d sources", m.cfg.MountPoint, len(m.sources))
	return nil
}

// Unmount drives Running -> Unmounting -> Destroyed. With safe=true it
// does not wait for open FileContexts: if any remain it returns an error
// at once and the mount stays in Unmounting. safe=false force-closes
// every remaining handle.
func (m *Composite) Unmount(ctx context.Context, safe bool) error {
	if err := m.transition(Unmounting); err != nil {
		return err
	}

	m.filesMu.Lock()
	remaining := make([]*FileContext, 0, len(m.files))
	for _, fc := range m.files {
		remaining = append(remaining, fc)
	}
	m.filesMu.Unlock()

	if len(remaining) > 0 {
		if safe {
			return fmt.Errorf("mount: %d open file contexts remain on safe unmount", len(remaining))
		}
		for _, fc := range remaining {
			_ = m.sources[fc.rank].Close(ctx, fc.handle)
			m.filesMu.Lock()
			delete(m.files, fc.id)
			m.filesMu.Unlock()
		}
	}

	if err := m.persistMetadataLocked(); err != nil {
		m.log.VFSError(log.Warn, "final metadata flush failed", err)
	}

	return m.transition(Destroyed)
}

// newResolverLocked builds a Resolver over the currently-held lock's
// view. Callers must hold m.mu (read or write) already.
func (m *Composite) newResolverLocked() *resolver.Resolver {
	return resolver.New(m.sources, m.ren, m.tombstones, m.cfg.CaseSensitive)
}

func (m *Composite) persistMetadataLocked() error {
	copied := make([]string, 0, len(m.copiedUp))
	for c := range m.copiedUp {
		copied = append(copied, c)
	}
	if err := m.metaStore.Save(m.ren, m.tombstones.All(), copied); err != nil {
		return vfserrors.PluginError("metadata", m.cfg.MountPoint, err)
	}
	return nil
}

// GetFileInfo implements the metadata operation class (spec.md §4.3
// step 2).
func (m *Composite) GetFileInfo(ctx context.Context, virtual string) (*source.Info, error) {
	if err := m.requireRunning(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	loc, err := m.newResolverLocked().Metadata(ctx, virtual)
	if err != nil {
		return nil, err
	}
	return loc.Info, nil
}

// ListFiles implements the enumerate operation class (spec.md §4.3
// step 3). Enumeration is a snapshot under the read lock, per §5 — it is
// not linearizable against a rename that begins mid-enumeration.
func (m *Composite) ListFiles(ctx context.Context, virtual string, fn func(name string, info *source.Info) bool) error {
	if err := m.requireRunning(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.newResolverLocked().Enumerate(ctx, virtual, func(c resolver.Child) bool {
		return fn(c.Name, c.Info)
	})
}

// Open implements the read and write operation classes' handle-opening
// half. On a write-mode open whose authoritative source is below rank 0,
// it triggers CopyUpEngine eagerly, or stashes a deferred intent marker
// under cfg.DeferCopyEnabled.
func (m *Composite) Open(ctx context.Context, virtual string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (FileContextId, *source.Info, error) {
	if err := m.requireRunning(); err != nil {
		return uuid.Nil, nil, err
	}

	switch disposition {
	case source.DispositionCreate:
		return m.openCreate(ctx, virtual, access, share)
	case source.DispositionCreateOrOpen:
		id, info, err := m.openExisting(ctx, virtual, access, share)
		if err == nil {
			return id, info, nil
		}
		if !vfserrors.Is(err, vfserrors.KindNotExists) {
			return uuid.Nil, nil, err
		}
		return m.openCreate(ctx, virtual, access, share)
	default:
		return m.openExisting(ctx, virtual, access, share)
	}
}

func (m *Composite) openExisting(ctx context.Context, virtual string, access source.AccessMode, share source.ShareMode) (FileContextId, *source.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.newResolverLocked()
	loc, err := res.Metadata(ctx, virtual)
	if err != nil {
		return uuid.Nil, nil, err
	}

	rank, real, deferred := loc.Rank, loc.Real, false
	if access.CanWrite() && rank != 0 {
		if !m.cfg.Writable {
			return uuid.Nil, nil, vfserrors.AccessDenied("open", virtual)
		}
		if m.cfg.DeferCopyEnabled {
			deferred = true
		} else {
			if err := m.doCopyUp(ctx, virtual, rank, real); err != nil {
				return uuid.Nil, nil, err
			}
			rank = 0
		}
	}

	handle, info, err := m.sources[rank].Open(ctx, real, access, share, source.DispositionOpenExisting)
	if err != nil {
		return uuid.Nil, nil, vfserrors.PluginError("open", virtual, err)
	}

	fc := &FileContext{
		id: uuid.New(), virtual: virtual, rank: rank, real: real,
		handle: handle, access: access, share: share, pendingCopyUp: deferred,
	}
	m.filesMu.Lock()
	m.files[fc.id] = fc
	m.filesMu.Unlock()

	return fc.id, info, nil
}

func (m *Composite) openCreate(ctx context.Context, virtual string, access source.AccessMode, share source.ShareMode) (FileContextId, *source.Info, error) {
	if !m.cfg.Writable {
		return uuid.Nil, nil, vfserrors.AccessDenied("open", virtual)
	}

	m.mu.Lock()
	res := m.newResolverLocked()
	real, clearTomb, err := res.PrepareCreate(ctx, virtual)
	if err != nil {
		m.mu.Unlock()
		return uuid.Nil, nil, err
	}

	if err := m.sources[0].CreateFile(ctx, real, source.FileMode(0644)); err != nil {
		m.mu.Unlock()
		return uuid.Nil, nil, vfserrors.PluginError("create", virtual, err)
	}
	if clearTomb {
		m.tombstones.Remove(virtual)
	}
	if err := m.persistMetadataLocked(); err != nil {
		m.mu.Unlock()
		return uuid.Nil, nil, err
	}
	m.mu.Unlock()

	handle, info, err := m.sources[0].Open(ctx, real, access, share, source.DispositionOpenExisting)
	if err != nil {
		return uuid.Nil, nil, vfserrors.PluginError("open", virtual, err)
	}

	fc := &FileContext{id: uuid.New(), virtual: virtual, rank: 0, real: real, handle: handle, access: access, share: share}
	m.filesMu.Lock()
	m.files[fc.id] = fc
	m.filesMu.Unlock()

	return fc.id, info, nil
}

func (m *Composite) lookup(id FileContextId) (*FileContext, error) {
	m.filesMu.Lock()
	defer m.filesMu.Unlock()
	fc, ok := m.files[id]
	if !ok {
		return nil, vfserrors.New(vfserrors.KindInternal, "lookup", "", fmt.Errorf("unknown file context %s", id))
	}
	return fc, nil
}

// Close releases a FileContext.
func (m *Composite) Close(ctx context.Context, id FileContextId) error {
	fc, err := m.lookup(id)
	if err != nil {
		return err
	}

	fc.mu.Lock()
	err = m.sources[fc.rank].Close(ctx, fc.handle)
	fc.mu.Unlock()

	m.filesMu.Lock()
	delete(m.files, id)
	m.filesMu.Unlock()

	if err != nil {
		return vfserrors.PluginError("close", fc.virtual, err)
	}
	return nil
}

// Read reads through a FileContext, triggering a pending deferred
// copy-up first if one is outstanding.
func (m *Composite) Read(ctx context.Context, id FileContextId, offset int64, buf []byte) (int, error) {
	fc, err := m.lookup(id)
	if err != nil {
		return 0, err
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.pendingCopyUp {
		if err := m.triggerDeferredCopyUp(ctx, fc); err != nil {
			return 0, err
		}
	}

	n, err := m.sources[fc.rank].Read(ctx, fc.handle, offset, buf)
	if err != nil {
		return n, vfserrors.PluginError("read", fc.virtual, err)
	}
	return n, nil
}

// Write writes through a FileContext, triggering a pending deferred
// copy-up first if one is outstanding.
func (m *Composite) Write(ctx context.Context, id FileContextId, offset int64, buf []byte) (int, error) {
	fc, err := m.lookup(id)
	if err != nil {
		return 0, err
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.pendingCopyUp {
		if err := m.triggerDeferredCopyUp(ctx, fc); err != nil {
			return 0, err
		}
	}

	n, err := m.sources[fc.rank].Write(ctx, fc.handle, offset, buf)
	if err != nil {
		return n, vfserrors.PluginError("write", fc.virtual, err)
	}
	return n, nil
}

func (m *Composite) triggerDeferredCopyUp(ctx context.Context, fc *FileContext) error {
	oldRank, oldHandle, real := fc.rank, fc.handle, fc.real

	if err := m.copyUpLocked(ctx, fc.virtual, oldRank, real); err != nil {
		return err
	}

	_ = m.sources[oldRank].Close(ctx, oldHandle)
	newHandle, _, err := m.sources[0].Open(ctx, real, fc.access, fc.share, source.DispositionOpenExisting)
	if err != nil {
		return vfserrors.PluginError("open", fc.virtual, err)
	}

	fc.rank = 0
	fc.handle = newHandle
	fc.pendingCopyUp = false
	return nil
}

// doCopyUp runs the CopyUpEngine and records the advisory completion
// marker plus a fresh metadata snapshot. Assumes m.mu is already held
// (write side) by the caller.
func (m *Composite) doCopyUp(ctx context.Context, virtual string, fromRank int, real string) error {
	result, err := m.copyEngine.Run(ctx, m.sources[0], m.sources[fromRank], real)
	if err != nil {
		return vfserrors.PluginError("copyup", virtual, err)
	}
	if !result.Skipped {
		m.copiedUp[virtual] = struct{}{}
		if err := m.persistMetadataLocked(); err != nil {
			return err
		}
	}
	return nil
}

// copyUpLocked is doCopyUp for callers that are NOT already holding m.mu.
func (m *Composite) copyUpLocked(ctx context.Context, virtual string, fromRank int, real string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doCopyUp(ctx, virtual, fromRank, real)
}

// SetTimes, SetAttrs, SetSize implement metadata mutation at source 0
// (via mutate, which first copies the file up to rank 0 when it lives
// only in a lower source, since these are writable-source-only
// operations).
func (m *Composite) SetTimes(ctx context.Context, virtual string, access, modify, create source.Int64Opt) error {
	return m.mutate(ctx, virtual, func(real string) error {
		return m.sources[0].SetTimes(ctx, real, access, modify, create)
	})
}

func (m *Composite) SetAttrs(ctx context.Context, virtual string, mode source.FileMode) error {
	return m.mutate(ctx, virtual, func(real string) error {
		return m.sources[0].SetAttrs(ctx, real, mode)
	})
}

func (m *Composite) SetSize(ctx context.Context, virtual string, size int64) error {
	return m.mutate(ctx, virtual, func(real string) error {
		return m.sources[0].SetSize(ctx, real, size)
	})
}

// mutate resolves virtual for a write and, triggering copy-up if needed,
// applies fn against the rank-0 real path.
func (m *Composite) mutate(ctx context.Context, virtual string, fn func(real string) error) error {
	if !m.cfg.Writable {
		return vfserrors.AccessDenied("mutate", virtual)
	}

	m.mu.Lock()
	res := m.newResolverLocked()
	plan, err := res.PrepareWrite(ctx, virtual)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if plan.NeedsCopyUp {
		if err := m.copyUpLocked(ctx, virtual, plan.CopyUpRank, plan.CopyUpReal); err != nil {
			return err
		}
	}

	if err := fn(plan.Real); err != nil {
		return vfserrors.PluginError("mutate", virtual, err)
	}
	return nil
}

// CreateDir implements operation class 5 for directories.
func (m *Composite) CreateDir(ctx context.Context, virtual string, mode source.FileMode) error {
	if !m.cfg.Writable {
		return vfserrors.AccessDenied("create", virtual)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.newResolverLocked()
	real, clearTomb, err := res.PrepareCreate(ctx, virtual)
	if err != nil {
		return err
	}
	if err := m.sources[0].CreateDir(ctx, real, mode); err != nil {
		return vfserrors.PluginError("create", virtual, err)
	}
	if clearTomb {
		m.tombstones.Remove(virtual)
	}
	return m.persistMetadataLocked()
}

// Delete implements operation class 6.
func (m *Composite) Delete(ctx context.Context, virtual string, recursive bool) error {
	if !m.cfg.Writable {
		return vfserrors.AccessDenied("delete", virtual)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.newResolverLocked()

	if !recursive {
		if loc, err := res.Metadata(ctx, virtual); err == nil && loc.Info.Type == source.TypeDirectory {
			empty := true
			_ = res.Enumerate(ctx, virtual, func(resolver.Child) bool {
				empty = false
				return false
			})
			if !empty {
				return vfserrors.New(vfserrors.KindAccessDenied, "delete", virtual, fmt.Errorf("directory not empty"))
			}
		}
	}

	plan, err := res.PrepareDelete(ctx, virtual)
	if err != nil {
		return err
	}

	if plan.Rank0Only {
		if err := m.sources[0].Delete(ctx, plan.Real, recursive); err != nil {
			return vfserrors.PluginError("delete", virtual, err)
		}
	} else {
		m.ren.RemoveEntry(virtual)
	}
	if plan.NeedsTombstone {
		m.tombstones.Add(virtual)
	}
	delete(m.copiedUp, virtual)

	return m.persistMetadataLocked()
}

// Rename implements the atomic cross-layer rename of spec.md §4.1/§4.4:
// if src's authoritative source is below rank 0 and deferCopyEnabled is
// false, a copy-up runs first so the renamed file always lives at rank 0
// going forward only when the mount isn't deferring; otherwise the
// RenameStore entry alone redirects future resolution.
func (m *Composite) Rename(ctx context.Context, src, dst string) error {
	if !m.cfg.Writable {
		return vfserrors.AccessDenied("rename", src)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.newResolverLocked()
	loc, err := res.Metadata(ctx, src)
	if err != nil {
		return err
	}

	real := loc.Real
	if loc.Rank > 0 && !m.cfg.DeferCopyEnabled {
		if err := m.doCopyUp(ctx, src, loc.Rank, real); err != nil {
			return err
		}
	}

	if err := m.ren.Rename(src, dst, real); err != nil {
		return wrapRenameErr(err, src, dst)
	}
	if copied, ok := m.copiedUp[src]; ok {
		delete(m.copiedUp, src)
		m.copiedUp[dst] = copied
	}

	return m.persistMetadataLocked()
}

func wrapRenameErr(err error, src, dst string) error {
	switch err {
	case rename.ErrAlreadyExists:
		return vfserrors.AlreadyExists("rename", dst)
	case rename.ErrNotExists:
		return vfserrors.NotExists("rename", src)
	case rename.ErrInvalid:
		return vfserrors.InvalidRename("rename", src, err)
	default:
		return vfserrors.Internal("rename", src, err)
	}
}

// VolumeInfo reports source 0's volume information, overridden field by
// field per cfg.VolumeInfo's mask (spec.md §6).
func (m *Composite) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	if err := m.requireRunning(); err != nil {
		return nil, err
	}

	base, err := m.sources[0].VolumeInfo(ctx)
	if err != nil {
		return nil, vfserrors.PluginError("volumeinfo", m.cfg.MountPoint, err)
	}

	ov := m.cfg.VolumeInfo
	if ov == nil {
		return base, nil
	}

	out := *base
	if ov.Mask.Has(config.VolumeName) {
		out.Name = ov.Name
	}
	if ov.Mask.Has(config.VolumeSerial) {
		out.Serial = ov.Serial
	}
	if ov.Mask.Has(config.VolumeMaxComponentLen) {
		out.MaxComponentLen = ov.MaxComponentLen
	}
	if ov.Mask.Has(config.VolumeFSFlags) {
		out.Flags = ov.Flags
	}
	if ov.Mask.Has(config.VolumeFSName) {
		out.FileSystemName = ov.FileSystemName
	}
	if ov.Mask.Has(config.VolumeFreeBytes) {
		out.FreeBytes = ov.FreeBytes
	}
	if ov.Mask.Has(config.VolumeTotalBytes) {
		out.TotalBytes = ov.TotalBytes
	}
	if ov.Mask.Has(config.VolumeTotalFreeBytes) {
		out.TotalFreeBytes = ov.TotalFreeBytes
	}
	return &out, nil
}

// MountPoint returns the configured mount point, used by MountRegistry
// for its keying.
func (m *Composite) MountPoint() string { return m.cfg.MountPoint }

// Writable reports whether this mount accepts mutation.
func (m *Composite) Writable() bool { return m.cfg.Writable }
