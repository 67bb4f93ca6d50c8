package mount

import (
	"context"
	"io"
	"testing"

	"github.com/mwantia/unionfs/config"
	"github.com/mwantia/unionfs/log"
	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
)

// testMount is a minimal in-memory source.Mount for composite-mount
// lifecycle and operation tests.
type testMount struct {
	name     string
	writable bool
	files    map[string][]byte
	dirs     map[string]bool
	meta     map[string][]byte
}

func newTestMount(name string, writable bool) *testMount {
	return &testMount{
		name: name, writable: writable,
		files: map[string][]byte{}, dirs: map[string]bool{"": true}, meta: map[string][]byte{},
	}
}

func (t *testMount) putFile(path string, data []byte) { t.files[path] = data }
func (t *testMount) putDir(path string)                { t.dirs[path] = true }

func (t *testMount) Name() string   { return t.name }
func (t *testMount) Writable() bool { return t.writable }

func (t *testMount) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	if t.dirs[real] {
		return &source.Info{Name: real, Type: source.TypeDirectory, Mode: source.ModeDir | 0755}, nil
	}
	if data, ok := t.files[real]; ok {
		return &source.Info{Name: real, Type: source.TypeFile, Size: int64(len(data)), Mode: 0644}, nil
	}
	return nil, vfserrors.NotExists("getfileinfo", real)
}

func (t *testMount) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	prefix := real
	if prefix != "" {
		prefix += "/"
	}
	for path, data := range t.files {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix && !hasSlashAfterIdx(path, len(prefix)) {
			if !fn(&source.Info{Name: path[len(prefix):], Type: source.TypeFile, Size: int64(len(data))}) {
				return nil
			}
		}
	}
	return nil
}

func hasSlashAfterIdx(s string, from int) bool {
	for i := from; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}

func (t *testMount) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	if disposition == source.DispositionTruncateExisting {
		t.files[real] = nil
	}
	info, err := t.GetFileInfo(ctx, real)
	if err != nil {
		return nil, nil, err
	}
	return real, info, nil
}

func (t *testMount) Close(ctx context.Context, h source.Handle) error { return nil }

func (t *testMount) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	data := t.files[h.(string)]
	if offset >= int64(len(data)) {
		return 0, io.EOF
	}
	return copy(buf, data[offset:]), nil
}

func (t *testMount) Write(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	if !t.writable {
		return 0, vfserrors.AccessDenied("write", "")
	}
	path := h.(string)
	data := t.files[path]
	needed := int(offset) + len(buf)
	if needed > len(data) {
		grown := make([]byte, needed)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], buf)
	t.files[path] = data
	return len(buf), nil
}

func (t *testMount) SetTimes(ctx context.Context, real string, access, modify, create source.Int64Opt) error {
	return nil
}
func (t *testMount) SetAttrs(ctx context.Context, real string, mode source.FileMode) error { return nil }
func (t *testMount) SetSize(ctx context.Context, real string, size int64) error {
	data := t.files[real]
	resized := make([]byte, size)
	copy(resized, data)
	t.files[real] = resized
	return nil
}

func (t *testMount) CreateFile(ctx context.Context, real string, mode source.FileMode) error {
	if !t.writable {
		return vfserrors.AccessDenied("createfile", real)
	}
	if _, ok := t.files[real]; ok {
		return vfserrors.AlreadyExists("createfile", real)
	}
	t.files[real] = []byte{}
	return nil
}

func (t *testMount) CreateDir(ctx context.Context, real string, mode source.FileMode) error {
	if !t.writable {
		return vfserrors.AccessDenied("createdir", real)
	}
	if t.dirs[real] {
		return vfserrors.AlreadyExists("createdir", real)
	}
	t.dirs[real] = true
	return nil
}

func (t *testMount) Delete(ctx context.Context, real string, recursive bool) error {
	if !t.writable {
		return vfserrors.AccessDenied("delete", real)
	}
	if _, ok := t.files[real]; ok {
		delete(t.files, real)
		return nil
	}
	if t.dirs[real] {
		delete(t.dirs, real)
		return nil
	}
	return vfserrors.NotExists("delete", real)
}

type testCursor struct {
	data   []byte
	cursor int
}

func (t *testMount) ExportStart(ctx context.Context, real string) (source.Portation, error) {
	data, ok := t.files[real]
	if !ok {
		return nil, vfserrors.NotExists("exportstart", real)
	}
	return &testCursor{data: data}, nil
}

func (t *testMount) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	c := p.(*testCursor)
	if c.cursor >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(buf, c.data[c.cursor:])
	c.cursor += n
	return n, nil
}

func (t *testMount) ExportFinish(ctx context.Context, p source.Portation, success bool) error { return nil }

func (t *testMount) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{Name: t.name}, nil
}

func (t *testMount) Capabilities() []source.Capability {
	caps := []source.Capability{source.CapabilityStreaming}
	if t.writable {
		caps = append(caps, source.CapabilityWritable)
	}
	return caps
}

// testMount also implements metadata.Backend over its private meta map.
func (t *testMount) ReadMetadataFile(name string) ([]byte, error) { return t.meta[name], nil }

func (t *testMount) WriteMetadataFileAtomic(name string, data []byte) error {
	cp := append([]byte(nil), data...)
	t.meta[name] = cp
	return nil
}

func newTestLogger() *log.Logger {
	return log.NewLogger("test", log.Debug, "", true)
}

func startedComposite(t *testing.T, top, bottom *testMount) *Composite {
	t.Helper()
	sources := []source.Mount{top}
	if bottom != nil {
		sources = append(sources, bottom)
	}
	refs := make([]config.SourceRef, len(sources))
	for i := range sources {
		refs[i] = config.SourceRef{Name: sources[i].Name()}
	}
	cfg := config.New("/mnt/test", refs)

	c, err := New(cfg, sources, top, newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func TestCompositeLifecycle(t *testing.T) {
	top := newTestMount("top", true)
	c := startedComposite(t, top, nil)

	if c.State() != Running {
		t.Fatalf("expected Running after Start, got %s", c.State())
	}
	if err := c.Unmount(context.Background(), true); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if c.State() != Destroyed {
		t.Fatalf("expected Destroyed after Unmount, got %s", c.State())
	}
}

func TestCompositeRejectsOperationsBeforeRunning(t *testing.T) {
	top := newTestMount("top", true)
	cfg := config.New("/mnt/test", []config.SourceRef{{Name: "top"}})
	c, err := New(cfg, []source.Mount{top}, top, newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.GetFileInfo(context.Background(), "/anything"); err == nil {
		t.Fatalf("expected an error before Start/Running")
	}
}

func TestCompositeWriteTriggersEagerCopyUp(t *testing.T) {
	top := newTestMount("top", true)
	bottom := newTestMount("bottom", false)
	bottom.putFile("shared.txt", []byte("original"))

	c := startedComposite(t, top, bottom)

	id, _, err := c.Open(context.Background(), "/shared.txt", source.AccessWrite, source.ShareWrite, source.DispositionOpenExisting)
	if err != nil {
		t.Fatalf("Open for write: %v", err)
	}
	if _, ok := top.files["shared.txt"]; !ok {
		t.Fatalf("expected eager copy-up to materialize file at rank 0")
	}
	if err := c.Close(context.Background(), id); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCompositeDeferredCopyUpHappensOnFirstReadWrite(t *testing.T) {
	top := newTestMount("top", true)
	bottom := newTestMount("bottom", false)
	bottom.putFile("deferred.txt", []byte("lower data"))

	sources := []source.Mount{top, bottom}
	refs := []config.SourceRef{{Name: "top"}, {Name: "bottom"}}
	cfg := config.New("/mnt/test", refs, config.WithDeferCopyEnabled(true))
	c, err := New(cfg, sources, top, newTestLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, _, err := c.Open(context.Background(), "/deferred.txt", source.AccessWrite, source.ShareWrite, source.DispositionOpenExisting)
	if err != nil {
		t.Fatalf("Open for write: %v", err)
	}
	if _, ok := top.files["deferred.txt"]; ok {
		t.Fatalf("copy-up must not happen before the first read/write under deferral")
	}

	buf := make([]byte, 64)
	if _, err := c.Read(context.Background(), id, 0, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := top.files["deferred.txt"]; !ok {
		t.Fatalf("expected deferred copy-up to materialize on first Read")
	}
}

func TestCompositeRenameCarriesOverCopyUpMarker(t *testing.T) {
	top := newTestMount("top", true)
	bottom := newTestMount("bottom", false)
	bottom.putFile("before.txt", []byte("data"))

	c := startedComposite(t, top, bottom)

	if err := c.Rename(context.Background(), "/before.txt", "/after.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	info, err := c.GetFileInfo(context.Background(), "/after.txt")
	if err != nil {
		t.Fatalf("GetFileInfo after rename: %v", err)
	}
	if info.Size != 4 {
		t.Fatalf("expected renamed file size 4, got %d", info.Size)
	}
	if _, err := c.GetFileInfo(context.Background(), "/before.txt"); err == nil {
		t.Fatalf("old path must no longer resolve after rename")
	}
	if _, ok := c.copiedUp["/after.txt"]; !ok {
		t.Fatalf("expected copy-up marker to move to the renamed path")
	}
	if _, ok := c.copiedUp["/before.txt"]; ok {
		t.Fatalf("copy-up marker must not remain at the old path")
	}
}

func TestCompositeDeleteNonEmptyDirRejected(t *testing.T) {
	top := newTestMount("top", true)
	top.putDir("dir")
	top.putFile("dir/child.txt", []byte("x"))

	c := startedComposite(t, top, nil)

	if err := c.Delete(context.Background(), "/dir", false); err == nil {
		t.Fatalf("expected non-recursive delete of a non-empty directory to be rejected")
	}
}

func TestCompositeDeleteBelowRankNeedsTombstone(t *testing.T) {
	top := newTestMount("top", true)
	bottom := newTestMount("bottom", false)
	bottom.putFile("buried.txt", []byte("data"))

	c := startedComposite(t, top, bottom)

	if err := c.Delete(context.Background(), "/buried.txt", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.GetFileInfo(context.Background(), "/buried.txt"); err == nil {
		t.Fatalf("deleted lower-rank file must be hidden by a tombstone")
	}
}
