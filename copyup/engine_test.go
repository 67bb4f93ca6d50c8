package copyup

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
)

// memMount is a minimal in-memory source.Mount used only to exercise
// Engine.Run: it supports streaming export/import but deliberately has no
// io.Seeker-like random access, matching the archive/CUE adapters' shape
// (offset-ordered writes only).
type memMount struct {
	writable bool
	files    map[string][]byte
	info     map[string]*source.Info
	dirs     map[string]bool
}

func newMemMount(writable bool) *memMount {
	return &memMount{writable: writable, files: map[string][]byte{}, info: map[string]*source.Info{}, dirs: map[string]bool{"": true}}
}

func (m *memMount) put(path string, data []byte, modTime time.Time) {
	m.files[path] = data
	m.info[path] = &source.Info{Name: path, Type: source.TypeFile, Size: int64(len(data)), ModTime: modTime, Mode: 0644}
}

func (m *memMount) Name() string   { return "mem" }
func (m *memMount) Writable() bool { return m.writable }

func (m *memMount) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	if m.dirs[real] {
		return &source.Info{Name: real, Type: source.TypeDirectory, Mode: source.ModeDir | 0755}, nil
	}
	info, ok := m.info[real]
	if !ok {
		return nil, vfserrors.NotExists("getfileinfo", real)
	}
	cp := *info
	return &cp, nil
}

func (m *memMount) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	return nil
}

func (m *memMount) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	if disposition == source.DispositionTruncateExisting {
		m.files[real] = nil
	}
	info, err := m.GetFileInfo(ctx, real)
	if err != nil {
		return nil, nil, err
	}
	return real, info, nil
}

func (m *memMount) Close(ctx context.Context, h source.Handle) error { return nil }

func (m *memMount) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	data := m.files[h.(string)]
	if offset >= int64(len(data)) {
		return 0, io.EOF
	}
	return copy(buf, data[offset:]), nil
}

func (m *memMount) Write(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	path := h.(string)
	data := m.files[path]
	needed := int(offset) + len(buf)
	if needed > len(data) {
		grown := make([]byte, needed)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], buf)
	m.files[path] = data
	if info, ok := m.info[path]; ok {
		info.Size = int64(len(data))
	} else {
		m.info[path] = &source.Info{Name: path, Type: source.TypeFile, Size: int64(len(data)), Mode: 0644}
	}
	return len(buf), nil
}

func (m *memMount) SetTimes(ctx context.Context, real string, access, modify, create source.Int64Opt) error {
	info, ok := m.info[real]
	if !ok {
		return vfserrors.NotExists("settimes", real)
	}
	if modify.Set {
		info.ModTime = time.Unix(modify.Value, 0)
	}
	if access.Set {
		info.AccessTime = time.Unix(access.Value, 0)
	}
	return nil
}

func (m *memMount) SetAttrs(ctx context.Context, real string, mode source.FileMode) error {
	if info, ok := m.info[real]; ok {
		info.Mode = mode
	}
	return nil
}

func (m *memMount) SetSize(ctx context.Context, real string, size int64) error {
	data := m.files[real]
	resized := make([]byte, size)
	copy(resized, data)
	m.files[real] = resized
	if info, ok := m.info[real]; ok {
		info.Size = size
	}
	return nil
}

func (m *memMount) CreateFile(ctx context.Context, real string, mode source.FileMode) error {
	if !m.writable {
		return vfserrors.AccessDenied("createfile", real)
	}
	if _, ok := m.info[real]; ok {
		return vfserrors.AlreadyExists("createfile", real)
	}
	m.files[real] = []byte{}
	m.info[real] = &source.Info{Name: real, Type: source.TypeFile, Mode: mode}
	return nil
}

func (m *memMount) CreateDir(ctx context.Context, real string, mode source.FileMode) error {
	if m.dirs[real] {
		return vfserrors.AlreadyExists("createdir", real)
	}
	m.dirs[real] = true
	return nil
}

func (m *memMount) Delete(ctx context.Context, real string, recursive bool) error {
	delete(m.files, real)
	delete(m.info, real)
	return nil
}

// streamCursor tracks strictly-increasing export offsets, the same
// contract the archive/CUE adapters rely on.
type streamCursor struct {
	data   []byte
	cursor int
}

func (m *memMount) ExportStart(ctx context.Context, real string) (source.Portation, error) {
	data, ok := m.files[real]
	if !ok {
		return nil, vfserrors.NotExists("exportstart", real)
	}
	return &streamCursor{data: data}, nil
}

func (m *memMount) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	c := p.(*streamCursor)
	if c.cursor >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(buf, c.data[c.cursor:])
	c.cursor += n
	return n, nil
}

func (m *memMount) ExportFinish(ctx context.Context, p source.Portation, success bool) error {
	return nil
}

func (m *memMount) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{Name: "mem"}, nil
}

func (m *memMount) Capabilities() []source.Capability {
	return []source.Capability{source.CapabilityStreaming}
}

func TestRunCopiesContent(t *testing.T) {
	src := newMemMount(false)
	dst := newMemMount(true)
	src.put("file.txt", []byte("hello world"), time.Unix(1000, 0))

	e := New()
	result, err := e.Run(context.Background(), dst, src, "file.txt")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Skipped {
		t.Fatalf("first copy-up must not be skipped")
	}
	if !bytes.Equal(dst.files["file.txt"], []byte("hello world")) {
		t.Fatalf("dst content mismatch: %q", dst.files["file.txt"])
	}
}

func TestRunIsIdempotent(t *testing.T) {
	src := newMemMount(false)
	dst := newMemMount(true)
	modTime := time.Unix(2000, 0)
	src.put("file.txt", []byte("data"), modTime)

	e := New()
	if _, err := e.Run(context.Background(), dst, src, "file.txt"); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	result, err := e.Run(context.Background(), dst, src, "file.txt")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("second copy-up with identical size/mtime must be skipped")
	}
}

func TestRunCreatesAncestorDirectories(t *testing.T) {
	src := newMemMount(false)
	dst := newMemMount(true)
	src.put("a/b/c/file.txt", []byte("nested"), time.Unix(3000, 0))

	e := New()
	if _, err := e.Run(context.Background(), dst, src, "a/b/c/file.txt"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, dir := range []string{"a", "a/b", "a/b/c"} {
		if !dst.dirs[dir] {
			t.Fatalf("expected ancestor directory %q to exist", dir)
		}
	}
}

func TestRunStreamsInOffsetOrder(t *testing.T) {
	src := newMemMount(false)
	dst := newMemMount(true)
	big := bytes.Repeat([]byte("x"), DefaultChunkSize*2+37)
	src.put("big.bin", big, time.Unix(4000, 0))

	e := New()
	if _, err := e.Run(context.Background(), dst, src, "big.bin"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(dst.files["big.bin"], big) {
		t.Fatalf("streamed content length mismatch: got %d want %d", len(dst.files["big.bin"]), len(big))
	}
}
