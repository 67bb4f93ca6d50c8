package registry

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/mwantia/unionfs/config"
	"github.com/mwantia/unionfs/log"
	"github.com/mwantia/unionfs/plugin"
	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
)

// fakeRootMount is a minimal writable source.Mount that also implements
// metadata.Backend, standing in for sources/local in registry tests.
type fakeRootMount struct {
	files map[string][]byte
	dirs  map[string]bool
	meta  map[string][]byte
}

func newFakeRootMount() *fakeRootMount {
	return &fakeRootMount{files: map[string][]byte{}, dirs: map[string]bool{"": true}, meta: map[string][]byte{}}
}

func (f *fakeRootMount) Name() string   { return "root" }
func (f *fakeRootMount) Writable() bool { return true }

func (f *fakeRootMount) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	if f.dirs[real] {
		return &source.Info{Name: real, Type: source.TypeDirectory, Mode: source.ModeDir | 0755}, nil
	}
	if data, ok := f.files[real]; ok {
		return &source.Info{Name: real, Type: source.TypeFile, Size: int64(len(data))}, nil
	}
	return nil, vfserrors.NotExists("getfileinfo", real)
}

func (f *fakeRootMount) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	return nil
}

func (f *fakeRootMount) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	info, err := f.GetFileInfo(ctx, real)
	if err != nil {
		return nil, nil, err
	}
	return real, info, nil
}

func (f *fakeRootMount) Close(ctx context.Context, h source.Handle) error { return nil }

func (f *fakeRootMount) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	return 0, io.EOF
}

func (f *fakeRootMount) Write(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	return len(buf), nil
}

func (f *fakeRootMount) SetTimes(ctx context.Context, real string, access, modify, create source.Int64Opt) error {
	return nil
}
func (f *fakeRootMount) SetAttrs(ctx context.Context, real string, mode source.FileMode) error {
	return nil
}
func (f *fakeRootMount) SetSize(ctx context.Context, real string, size int64) error { return nil }

func (f *fakeRootMount) CreateFile(ctx context.Context, real string, mode source.FileMode) error {
	f.files[real] = []byte{}
	return nil
}

func (f *fakeRootMount) CreateDir(ctx context.Context, real string, mode source.FileMode) error {
	f.dirs[real] = true
	return nil
}

func (f *fakeRootMount) Delete(ctx context.Context, real string, recursive bool) error {
	delete(f.files, real)
	return nil
}

func (f *fakeRootMount) ExportStart(ctx context.Context, real string) (source.Portation, error) {
	return nil, vfserrors.NotExists("exportstart", real)
}
func (f *fakeRootMount) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	return 0, io.EOF
}
func (f *fakeRootMount) ExportFinish(ctx context.Context, p source.Portation, success bool) error {
	return nil
}

func (f *fakeRootMount) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{Name: "root"}, nil
}
func (f *fakeRootMount) Capabilities() []source.Capability { return nil }

func (f *fakeRootMount) ReadMetadataFile(name string) ([]byte, error) { return f.meta[name], nil }
func (f *fakeRootMount) WriteMetadataFileAtomic(name string, data []byte) error {
	f.meta[name] = append([]byte(nil), data...)
	return nil
}

func newTestRegistry() *Registry {
	return New(log.NewLogger("registry-test", log.Debug, "", true))
}

func testCfg(mountPoint string) *config.Options {
	return config.New(mountPoint, []config.SourceRef{{Name: "root"}})
}

func TestRegistryAddRequiresInit(t *testing.T) {
	r := newTestRegistry()
	root := newFakeRootMount()
	_, err := r.Add(context.Background(), testCfg("/mnt/a"), []source.Mount{root}, root)
	if err == nil {
		t.Fatalf("expected Add to fail before Init")
	}
}

func TestRegistryAddAndGet(t *testing.T) {
	r := newTestRegistry()
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	root := newFakeRootMount()

	id, err := r.Add(context.Background(), testCfg("/mnt/a"), []source.Mount{root}, root)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	m, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.MountPoint() != "/mnt/a" {
		t.Fatalf("expected mount point /mnt/a, got %q", m.MountPoint())
	}
}

func TestRegistryAddRejectsDuplicateMountPoint(t *testing.T) {
	r := newTestRegistry()
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	root1 := newFakeRootMount()
	root2 := newFakeRootMount()

	if _, err := r.Add(context.Background(), testCfg("/mnt/a"), []source.Mount{root1}, root1); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := r.Add(context.Background(), testCfg("/mnt/a"), []source.Mount{root2}, root2); err == nil {
		t.Fatalf("expected second Add at the same mount point to fail")
	}
}

func TestRegistryRemovePurgesMount(t *testing.T) {
	r := newTestRegistry()
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	root := newFakeRootMount()
	id, err := r.Add(context.Background(), testCfg("/mnt/a"), []source.Mount{root}, root)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := r.Remove(context.Background(), id, true); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Get(id); err == nil {
		t.Fatalf("expected purged mount to be unreachable via Get")
	}

	// The mount point should be free again.
	root2 := newFakeRootMount()
	if _, err := r.Add(context.Background(), testCfg("/mnt/a"), []source.Mount{root2}, root2); err != nil {
		t.Fatalf("re-Add after Remove: %v", err)
	}
}

func TestRegistryUninitForceUnmountsEverything(t *testing.T) {
	r := newTestRegistry()
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	root := newFakeRootMount()
	if _, err := r.Add(context.Background(), testCfg("/mnt/a"), []source.Mount{root}, root); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := r.Uninit(context.Background()); err != nil {
		t.Fatalf("Uninit: %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected no mounts after Uninit, got %d", len(r.List()))
	}
}

func TestRegistryListPluginsReflectsRegistered(t *testing.T) {
	r := newTestRegistry()
	p := fakePlugin{id: uuid.New(), name: "fake"}
	if err := r.Plugins().Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}

	found := false
	for _, info := range r.ListPlugins() {
		if info.Name == "fake" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected registered plugin to appear in ListPlugins")
	}
}

type fakePlugin struct {
	id   uuid.UUID
	name string
}

func (p fakePlugin) GetInfo() plugin.Info { return plugin.Info{ID: p.id, Name: p.name} }
func (p fakePlugin) Initialize(ctx context.Context) error { return nil }
func (p fakePlugin) IsSupported(init plugin.MountInitInfo) bool { return true }
func (p fakePlugin) Mount(ctx context.Context, init plugin.MountInitInfo) (source.Mount, error) {
	return newFakeRootMount(), nil
}
