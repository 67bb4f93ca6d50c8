// Package local implements source.Mount over a real directory on disk —
// the writable rank-0 source of a typical mount, grounded on the
// teacher's mount/backend/local/backend.go. It also implements
// metadata.Backend directly, since the MetadataStore's persistence file
// lives inside this same directory and the write-to-temp-then-rename
// atomicity the spec requires is exactly what a local filesystem gives
// for free.
package local

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
)

// Source is a source.Mount rooted at a real directory.
type Source struct {
	root     string
	writable bool
}

// New opens root, which must already exist and be a directory.
func New(root string, writable bool) (*Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, vfserrors.New(vfserrors.KindInternal, "local.New", root, os.ErrInvalid)
	}
	return &Source{root: filepath.Clean(root), writable: writable}, nil
}

func (s *Source) Name() string   { return "local" }
func (s *Source) Writable() bool { return s.writable }

func (s *Source) resolve(real string) string {
	return filepath.Join(s.root, filepath.FromSlash(real))
}

func toInfo(fi os.FileInfo) *source.Info {
	mode := source.FileMode(fi.Mode().Perm())
	typ := source.TypeFile
	if fi.IsDir() {
		typ = source.TypeDirectory
		mode |= source.ModeDir
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		typ = source.TypeSymlink
		mode |= source.ModeLink
	}
	return &source.Info{
		Name:    fi.Name(),
		Type:    typ,
		Size:    fi.Size(),
		Mode:    mode,
		ModTime: fi.ModTime(),
	}
}

func (s *Source) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	fi, err := os.Stat(s.resolve(real))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vfserrors.NotExists("getfileinfo", real)
		}
		return nil, vfserrors.PluginError("getfileinfo", real, err)
	}
	return toInfo(fi), nil
}

func (s *Source) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	entries, err := os.ReadDir(s.resolve(real))
	if err != nil {
		if os.IsNotExist(err) {
			return vfserrors.NotExists("listfiles", real)
		}
		return vfserrors.PluginError("listfiles", real, err)
	}

	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if !fn(toInfo(fi)) {
			break
		}
	}
	return nil
}

func openFlags(access source.AccessMode, disposition source.Disposition) int {
	flag := os.O_RDONLY
	switch {
	case access.CanRead() && access.CanWrite():
		flag = os.O_RDWR
	case access.CanWrite():
		flag = os.O_WRONLY
	}

	switch disposition {
	case source.DispositionCreate:
		flag |= os.O_CREATE | os.O_EXCL
	case source.DispositionCreateOrOpen:
		flag |= os.O_CREATE
	case source.DispositionTruncateExisting:
		flag |= os.O_TRUNC
	}
	return flag
}

func (s *Source) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	if access.CanWrite() && !s.writable {
		return nil, nil, vfserrors.AccessDenied("open", real)
	}

	f, err := os.OpenFile(s.resolve(real), openFlags(access, disposition), 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, vfserrors.NotExists("open", real)
		}
		if os.IsExist(err) {
			return nil, nil, vfserrors.AlreadyExists("open", real)
		}
		return nil, nil, vfserrors.PluginError("open", real, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, vfserrors.PluginError("open", real, err)
	}
	return f, toInfo(fi), nil
}

func (s *Source) Close(ctx context.Context, h source.Handle) error {
	return h.(*os.File).Close()
}

func (s *Source) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	return h.(*os.File).ReadAt(buf, offset)
}

func (s *Source) Write(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	if !s.writable {
		return 0, vfserrors.AccessDenied("write", "")
	}
	return h.(*os.File).WriteAt(buf, offset)
}

func (s *Source) SetTimes(ctx context.Context, real string, access, modify, create source.Int64Opt) error {
	if !s.writable {
		return vfserrors.AccessDenied("settimes", real)
	}

	path := s.resolve(real)
	if _, err := os.Stat(path); err != nil {
		return vfserrors.NotExists("settimes", real)
	}

	// os.Chtimes leaves a time unchanged when given the zero time.Time.
	var atime, mtime time.Time
	if access.Set {
		atime = time.Unix(access.Value, 0)
	}
	if modify.Set {
		mtime = time.Unix(modify.Value, 0)
	}
	// create time has no portable os-package setter; silently not applied.
	return os.Chtimes(path, atime, mtime)
}

func (s *Source) SetAttrs(ctx context.Context, real string, mode source.FileMode) error {
	if !s.writable {
		return vfserrors.AccessDenied("setattrs", real)
	}
	return os.Chmod(s.resolve(real), os.FileMode(mode.Perm()))
}

func (s *Source) SetSize(ctx context.Context, real string, size int64) error {
	if !s.writable {
		return vfserrors.AccessDenied("setsize", real)
	}
	return os.Truncate(s.resolve(real), size)
}

func (s *Source) CreateFile(ctx context.Context, real string, mode source.FileMode) error {
	if !s.writable {
		return vfserrors.AccessDenied("createfile", real)
	}

	f, err := os.OpenFile(s.resolve(real), os.O_CREATE|os.O_EXCL|os.O_WRONLY, os.FileMode(mode.Perm()))
	if err != nil {
		if os.IsExist(err) {
			return vfserrors.AlreadyExists("createfile", real)
		}
		return vfserrors.PluginError("createfile", real, err)
	}
	return f.Close()
}

func (s *Source) CreateDir(ctx context.Context, real string, mode source.FileMode) error {
	if !s.writable {
		return vfserrors.AccessDenied("createdir", real)
	}

	if err := os.Mkdir(s.resolve(real), os.FileMode(mode.Perm())); err != nil {
		if os.IsExist(err) {
			return vfserrors.AlreadyExists("createdir", real)
		}
		return vfserrors.PluginError("createdir", real, err)
	}
	return nil
}

func (s *Source) Delete(ctx context.Context, real string, recursive bool) error {
	if !s.writable {
		return vfserrors.AccessDenied("delete", real)
	}

	path := s.resolve(real)
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return vfserrors.NotExists("delete", real)
		}
		return vfserrors.PluginError("delete", real, err)
	}
	return nil
}

type portation struct {
	f *os.File
}

func (s *Source) ExportStart(ctx context.Context, real string) (source.Portation, error) {
	f, err := os.Open(s.resolve(real))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vfserrors.NotExists("exportstart", real)
		}
		return nil, vfserrors.PluginError("exportstart", real, err)
	}
	return &portation{f: f}, nil
}

func (s *Source) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	return p.(*portation).f.Read(buf)
}

func (s *Source) ExportFinish(ctx context.Context, p source.Portation, success bool) error {
	return p.(*portation).f.Close()
}

func (s *Source) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{
		Name:            "local",
		FileSystemName:  "local",
		MaxComponentLen: 255,
	}, nil
}

func (s *Source) Capabilities() []source.Capability {
	caps := []source.Capability{source.CapabilityStreaming}
	if s.writable {
		caps = append(caps, source.CapabilityWritable)
	}
	return caps
}

// ReadMetadataFile implements metadata.Backend: a missing file is an
// empty, no-error snapshot (first mount).
func (s *Source) ReadMetadataFile(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// WriteMetadataFileAtomic implements metadata.Backend via
// write-to-temp-then-rename, per spec.md §4.6.
func (s *Source) WriteMetadataFileAtomic(name string, data []byte) error {
	path := filepath.Join(s.root, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
