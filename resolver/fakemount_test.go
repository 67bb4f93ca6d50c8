package resolver

import (
	"context"
	"io"

	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
)

// fakeMount is a minimal in-memory source.Mount for resolver tests: a
// flat map from real path to either file bytes or a directory marker.
type fakeMount struct {
	name     string
	writable bool
	files    map[string][]byte
	dirs     map[string]bool
}

func newFakeMount(name string, writable bool) *fakeMount {
	return &fakeMount{name: name, writable: writable, files: make(map[string][]byte), dirs: map[string]bool{"": true}}
}

func (f *fakeMount) putFile(path string, data []byte) { f.files[path] = data }
func (f *fakeMount) putDir(path string)                { f.dirs[path] = true }

func (f *fakeMount) Name() string   { return f.name }
func (f *fakeMount) Writable() bool { return f.writable }

func (f *fakeMount) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	if f.dirs[real] {
		return &source.Info{Name: real, Type: source.TypeDirectory, Mode: source.ModeDir | 0555}, nil
	}
	if data, ok := f.files[real]; ok {
		return &source.Info{Name: real, Type: source.TypeFile, Size: int64(len(data)), Mode: 0644}, nil
	}
	return nil, vfserrors.NotExists("getfileinfo", real)
}

func (f *fakeMount) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	if !f.dirs[real] {
		return vfserrors.NotExists("listfiles", real)
	}
	prefix := real
	if prefix != "" {
		prefix += "/"
	}
	for path, data := range f.files {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix && !hasSlashAfter(path, len(prefix)) {
			name := path[len(prefix):]
			if !fn(&source.Info{Name: name, Type: source.TypeFile, Size: int64(len(data)), Mode: 0644}) {
				return nil
			}
		}
	}
	return nil
}

func hasSlashAfter(s string, from int) bool {
	for i := from; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}

func (f *fakeMount) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	info, err := f.GetFileInfo(ctx, real)
	if err != nil {
		return nil, nil, err
	}
	return real, info, nil
}

func (f *fakeMount) Close(ctx context.Context, h source.Handle) error { return nil }

func (f *fakeMount) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	data := f.files[h.(string)]
	if offset >= int64(len(data)) {
		return 0, io.EOF
	}
	return copy(buf, data[offset:]), nil
}

func (f *fakeMount) Write(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	if !f.writable {
		return 0, vfserrors.AccessDenied("write", "")
	}
	path := h.(string)
	data := f.files[path]
	needed := int(offset) + len(buf)
	if needed > len(data) {
		grown := make([]byte, needed)
		copy(grown, data)
		data = grown
	}
	copy(data[offset:], buf)
	f.files[path] = data
	return len(buf), nil
}

func (f *fakeMount) SetTimes(ctx context.Context, real string, access, modify, create source.Int64Opt) error {
	return nil
}
func (f *fakeMount) SetAttrs(ctx context.Context, real string, mode source.FileMode) error {
	return nil
}
func (f *fakeMount) SetSize(ctx context.Context, real string, size int64) error {
	data := f.files[real]
	resized := make([]byte, size)
	copy(resized, data)
	f.files[real] = resized
	return nil
}

func (f *fakeMount) CreateFile(ctx context.Context, real string, mode source.FileMode) error {
	if !f.writable {
		return vfserrors.AccessDenied("createfile", real)
	}
	if _, ok := f.files[real]; ok {
		return vfserrors.AlreadyExists("createfile", real)
	}
	f.files[real] = []byte{}
	return nil
}

func (f *fakeMount) CreateDir(ctx context.Context, real string, mode source.FileMode) error {
	if !f.writable {
		return vfserrors.AccessDenied("createdir", real)
	}
	f.dirs[real] = true
	return nil
}

func (f *fakeMount) Delete(ctx context.Context, real string, recursive bool) error {
	if !f.writable {
		return vfserrors.AccessDenied("delete", real)
	}
	if _, ok := f.files[real]; ok {
		delete(f.files, real)
		return nil
	}
	if f.dirs[real] {
		delete(f.dirs, real)
		return nil
	}
	return vfserrors.NotExists("delete", real)
}

func (f *fakeMount) ExportStart(ctx context.Context, real string) (source.Portation, error) {
	if _, ok := f.files[real]; !ok {
		return nil, vfserrors.NotExists("exportstart", real)
	}
	return &fakeCursor{data: f.files[real]}, nil
}

type fakeCursor struct {
	data   []byte
	cursor int
}

func (f *fakeMount) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	c := p.(*fakeCursor)
	if c.cursor >= len(c.data) {
		return 0, io.EOF
	}
	n := copy(buf, c.data[c.cursor:])
	c.cursor += n
	return n, nil
}

func (f *fakeMount) ExportFinish(ctx context.Context, p source.Portation, success bool) error {
	return nil
}

func (f *fakeMount) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{Name: f.name}, nil
}

func (f *fakeMount) Capabilities() []source.Capability {
	caps := []source.Capability{source.CapabilityStreaming}
	if f.writable {
		caps = append(caps, source.CapabilityWritable)
	}
	return caps
}
