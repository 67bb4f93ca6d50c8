// Package consulkv implements a read-only source.Mount that projects one
// HashiCorp Consul KV prefix as a synthetic directory tree: each key
// becomes a virtual file (split on "/" into intermediate directories),
// grounded on the teacher's mount/backend/consul ConsulBackend, which
// used Consul KV as a flat object store under a configurable prefix.
package consulkv

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	capi "github.com/hashicorp/consul/api"

	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
	"github.com/mwantia/unionfs/vpath"
)

// Config mirrors the teacher's ConsulBackendConfig fields relevant to a
// read-only view.
type Config struct {
	Address    string
	Token      string
	Datacenter string
	Namespace  string
	Prefix     string
}

// Source is a read-only snapshot of one Consul KV prefix, refreshed on
// every directory-shape operation (GetFileInfo/ListFiles) by re-listing
// the prefix — Consul's KV store has no directory concept of its own, so
// the tree is entirely synthetic and rebuilt from flat keys each time.
type Source struct {
	kv     *capi.KV
	prefix string
}

// New builds a Consul KV client for cfg. It sends no request to Consul,
// so neither the server nor the prefix is checked until first use.
func New(cfg Config) (*Source, error) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8500"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}

	clientCfg := capi.DefaultConfig()
	clientCfg.Address = cfg.Address
	if cfg.Token != "" {
		clientCfg.Token = cfg.Token
	}
	if cfg.Datacenter != "" {
		clientCfg.Datacenter = cfg.Datacenter
	}
	if cfg.Namespace != "" {
		clientCfg.Namespace = cfg.Namespace
	}

	client, err := capi.NewClient(clientCfg)
	if err != nil {
		return nil, err
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Source{kv: client.KV(), prefix: prefix}, nil
}

func (s *Source) Name() string   { return "consulkv" }
func (s *Source) Writable() bool { return false }

func (s *Source) fullKey(real string) string {
	return s.prefix + strings.TrimPrefix(vpath.Clean(real), "/")
}

// node is one entry of the synthetic tree built from a KV listing.
type node struct {
	name  string
	isDir bool
	value []byte
	mtime time.Time
}

// list fetches every key under the given virtual directory's prefix and
// returns its immediate children only, synthesizing directories for any
// key with further "/" segments below it.
func (s *Source) list(ctx context.Context, real string) ([]node, error) {
	dirKey := s.fullKey(real)
	if dirKey != "" && !strings.HasSuffix(dirKey, "/") {
		dirKey += "/"
	}

	pairs, _, err := s.kv.List(dirKey, (&capi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, vfserrors.PluginError("list", real, err)
	}

	seen := make(map[string]*node)
	for _, p := range pairs {
		rel := strings.TrimPrefix(p.Key, dirKey)
		if rel == "" {
			continue
		}
		parts := strings.SplitN(rel, "/", 2)
		name := parts[0]
		if name == "" {
			continue
		}
		if existing, ok := seen[name]; ok {
			if len(parts) > 1 {
				existing.isDir = true
			}
			continue
		}
		n := &node{name: name, isDir: len(parts) > 1, value: p.Value, mtime: modifyIndexTime(p.ModifyIndex)}
		seen[name] = n
	}

	out := make([]node, 0, len(seen))
	for _, n := range seen {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

// modifyIndexTime has no direct wall-clock meaning in Consul's KV; we
// use the zero time rather than fabricate one.
func modifyIndexTime(uint64) time.Time { return time.Time{} }

func (s *Source) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	clean := vpath.Clean(real)
	if clean == "" {
		return &source.Info{Name: "", Type: source.TypeDirectory, Mode: source.ModeDir | 0555}, nil
	}

	key := s.fullKey(real)
	pair, _, err := s.kv.Get(key, (&capi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, vfserrors.PluginError("getfileinfo", real, err)
	}
	if pair != nil {
		return &source.Info{Name: vpath.Base(clean), Type: source.TypeFile, Size: int64(len(pair.Value)), Mode: 0444}, nil
	}

	// No exact key; it may still be a synthetic directory if any key has
	// it as a prefix.
	children, err := s.list(ctx, vpath.Dir(clean))
	if err != nil {
		return nil, err
	}
	base := vpath.Base(clean)
	for _, c := range children {
		if c.name == base && c.isDir {
			return &source.Info{Name: base, Type: source.TypeDirectory, Mode: source.ModeDir | 0555}, nil
		}
	}
	return nil, vfserrors.NotExists("getfileinfo", real)
}

func (s *Source) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	children, err := s.list(ctx, real)
	if err != nil {
		return err
	}
	for _, c := range children {
		info := &source.Info{Name: c.name, Mode: 0444}
		if c.isDir {
			info.Type = source.TypeDirectory
			info.Mode = source.ModeDir | 0555
		} else {
			info.Type = source.TypeFile
			info.Size = int64(len(c.value))
		}
		if !fn(info) {
			break
		}
	}
	return nil
}

func (s *Source) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	if access.CanWrite() {
		return nil, nil, vfserrors.AccessDenied("open", real)
	}

	pair, _, err := s.kv.Get(s.fullKey(real), (&capi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, nil, vfserrors.PluginError("open", real, err)
	}
	if pair == nil {
		return nil, nil, vfserrors.NotExists("open", real)
	}
	info := &source.Info{Name: vpath.Base(vpath.Clean(real)), Type: source.TypeFile, Size: int64(len(pair.Value)), Mode: 0444}
	return pair.Value, info, nil
}

func (s *Source) Close(ctx context.Context, h source.Handle) error { return nil }

func (s *Source) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	data := h.([]byte)
	if offset >= int64(len(data)) {
		return 0, nil
	}
	return copy(buf, data[offset:]), nil
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
	pair, _, err := s.kv.Get(s.fullKey(real), (&capi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, vfserrors.PluginError("exportstart", real, err)
	}
	if pair == nil {
		return nil, vfserrors.NotExists("exportstart", real)
	}
	return &exportCursor{data: pair.Value}, nil
}

type exportCursor struct {
	data   []byte
	cursor int
}

func (s *Source) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	ec := p.(*exportCursor)
	if ec.cursor >= len(ec.data) {
		return 0, io.EOF
	}
	n := copy(buf, ec.data[ec.cursor:])
	ec.cursor += n
	return n, nil
}

func (s *Source) ExportFinish(ctx context.Context, p source.Portation, success bool) error {
	return nil
}

func (s *Source) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{Name: "consulkv", FileSystemName: "consulkv", MaxComponentLen: 512}, nil
}

func (s *Source) Capabilities() []source.Capability {
	return []source.Capability{source.CapabilityStreaming}
}
