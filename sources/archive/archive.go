// Package archive implements a read-only source.Mount over a ZIP or TAR
// (optionally gzip-compressed) file, virtualizing its entries as a
// synthetic namespace — grounded on
// original_source/MFPSArchive/ArchiveSourceMountFile.cpp. Decompression
// uses github.com/klauspost/compress's faster drop-in flate and gzip
// implementations in place of the standard library's.
//
// The whole archive is decoded into memory at Open time: archives are
// immutable and, per spec.md §4.2, a VirtualView adapter is covered only
// by its contract — there is no requirement to stream lazily from disk on
// every read.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	kgzip "github.com/klauspost/compress/gzip"

	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
	"github.com/mwantia/unionfs/vpath"
)

func init() {
	// Drop in the faster decompressor for every zip.Reader created in
	// this process, including ones this package doesn't own.
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

type entry struct {
	info     *source.Info
	data     []byte
	children map[string]string // child name -> full entry key
}

// Source is a fully-decoded, in-memory archive namespace.
type Source struct {
	entries map[string]*entry
}

func dirInfo(name string) *source.Info {
	return &source.Info{Name: name, Type: source.TypeDirectory, Mode: source.ModeDir | 0555}
}

func newSource() *Source {
	return &Source{entries: map[string]*entry{"": {info: dirInfo(""), children: map[string]string{}}}}
}

func (s *Source) ensureDir(key string) *entry {
	if e, ok := s.entries[key]; ok {
		return e
	}
	e := &entry{info: dirInfo(vpath.Base(key)), children: map[string]string{}}
	s.entries[key] = e

	parent := s.ensureDir(vpath.Dir(key))
	parent.children[vpath.Base(key)] = key
	return e
}

func (s *Source) addFile(key string, data []byte, modTime time.Time) {
	parent := s.ensureDir(vpath.Dir(key))
	name := vpath.Base(key)
	e := &entry{
		info: &source.Info{Name: name, Type: source.TypeFile, Size: int64(len(data)), Mode: 0444, ModTime: modTime},
		data: data,
	}
	s.entries[key] = e
	parent.children[name] = key
}

// Open reads the archive at path, detecting format from its extension:
// ".zip", ".tar", ".tar.gz"/".tgz".
func Open(path string) (*Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return fromZip(raw)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gz, err := kgzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, vfserrors.PluginError("archive.open", path, err)
		}
		defer gz.Close()
		return fromTar(gz)
	case strings.HasSuffix(lower, ".tar"):
		return fromTar(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("archive: unsupported extension for %q", path)
	}
}

func fromZip(raw []byte) (*Source, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, vfserrors.PluginError("archive.open", "", err)
	}

	s := newSource()
	for _, f := range zr.File {
		key := vpath.Clean(strings.ReplaceAll(f.Name, "\\", "/"))
		if f.FileInfo().IsDir() {
			s.ensureDir(key)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, vfserrors.PluginError("archive.read", key, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, vfserrors.PluginError("archive.read", key, err)
		}
		s.addFile(key, content, f.Modified)
	}
	return s, nil
}

func fromTar(r io.Reader) (*Source, error) {
	tr := tar.NewReader(r)
	s := newSource()

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, vfserrors.PluginError("archive.read", "", err)
		}

		key := vpath.Clean(strings.ReplaceAll(hdr.Name, "\\", "/"))
		switch hdr.Typeflag {
		case tar.TypeDir:
			s.ensureDir(key)
		case tar.TypeReg:
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, vfserrors.PluginError("archive.read", key, err)
			}
			s.addFile(key, content, hdr.ModTime)
		}
	}
	return s, nil
}

func (s *Source) Name() string   { return "archive" }
func (s *Source) Writable() bool { return false }

func (s *Source) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	e, ok := s.entries[vpath.Clean(real)]
	if !ok {
		return nil, vfserrors.NotExists("getfileinfo", real)
	}
	return e.info, nil
}

func (s *Source) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	e, ok := s.entries[vpath.Clean(real)]
	if !ok {
		return vfserrors.NotExists("listfiles", real)
	}
	if e.info.Type != source.TypeDirectory {
		return vfserrors.New(vfserrors.KindInternal, "listfiles", real, fmt.Errorf("not a directory"))
	}

	for _, childKey := range e.children {
		if !fn(s.entries[childKey].info) {
			break
		}
	}
	return nil
}

func (s *Source) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	if access.CanWrite() {
		return nil, nil, vfserrors.AccessDenied("open", real)
	}

	e, ok := s.entries[vpath.Clean(real)]
	if !ok {
		return nil, nil, vfserrors.NotExists("open", real)
	}
	if e.info.Type == source.TypeDirectory {
		return nil, nil, vfserrors.New(vfserrors.KindInternal, "open", real, fmt.Errorf("is a directory"))
	}
	return bytes.NewReader(e.data), e.info, nil
}

func (s *Source) Close(ctx context.Context, h source.Handle) error { return nil }

func (s *Source) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	return h.(*bytes.Reader).ReadAt(buf, offset)
}

func (s *Source) Write(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	return 0, vfserrors.AccessDenied("write", "")
}

func (s *Source) SetTimes(ctx context.Context, real string, access, modify, create source.Int64Opt) error {
	return vfserrors.AccessDenied("settimes", real)
}

func (s *Source) SetAttrs(ctx context.Context, real string, mode source.FileMode) error {
	return vfserrors.AccessDenied("setattrs", real)
}

func (s *Source) SetSize(ctx context.Context, real string, size int64) error {
	return vfserrors.AccessDenied("setsize", real)
}

func (s *Source) CreateFile(ctx context.Context, real string, mode source.FileMode) error {
	return vfserrors.AccessDenied("createfile", real)
}

func (s *Source) CreateDir(ctx context.Context, real string, mode source.FileMode) error {
	return vfserrors.AccessDenied("createdir", real)
}

func (s *Source) Delete(ctx context.Context, real string, recursive bool) error {
	return vfserrors.AccessDenied("delete", real)
}

func (s *Source) ExportStart(ctx context.Context, real string) (source.Portation, error) {
	e, ok := s.entries[vpath.Clean(real)]
	if !ok || e.info.Type == source.TypeDirectory {
		return nil, vfserrors.NotExists("exportstart", real)
	}
	return bytes.NewReader(e.data), nil
}

func (s *Source) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	return p.(*bytes.Reader).Read(buf)
}

func (s *Source) ExportFinish(ctx context.Context, p source.Portation, success bool) error {
	return nil
}

func (s *Source) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{Name: "archive", FileSystemName: "archive", MaxComponentLen: 255}, nil
}

func (s *Source) Capabilities() []source.Capability {
	return []source.Capability{source.CapabilityStreaming}
}
