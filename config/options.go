// Package config defines the mount configuration struct of spec.md §6:
// the option set an external loader (out of scope for this module)
// constructs and passes to registry.Registry.Add. Parsing a config
// file format is explicitly not this package's job.
package config

import (
	"fmt"
	"path/filepath"
)

// VolumeMask enumerates which fields of VolumeOverride replace source
// 0's own VolumeInfo values, per spec.md §6.
type VolumeMask uint32

const (
	VolumeName VolumeMask = 1 << iota
	VolumeSerial
	VolumeMaxComponentLen
	VolumeFSFlags
	VolumeFSName
	VolumeFreeBytes
	VolumeTotalBytes
	VolumeTotalFreeBytes
)

// Has reports whether bit is set in the mask.
func (m VolumeMask) Has(bit VolumeMask) bool { return m&bit != 0 }

// VolumeOverride supplies mount-level replacements for volume
// information, selected bit-by-bit via Mask.
type VolumeOverride struct {
	Mask            VolumeMask
	Name            string
	Serial          uint32
	MaxComponentLen uint32
	FileSystemName  string
	Flags           uint32
	FreeBytes       uint64
	TotalBytes      uint64
	TotalFreeBytes  uint64
}

// SourceRef names one entry in the ordered source stack. Index 0 is
// writable; the rest are read-only. Name identifies which plugin builds
// the source.Mount (looked up by name in a plugin.Registry); Path
// and Options are passed through to that plugin's mount() call verbatim.
type SourceRef struct {
	Name    string
	Path    string
	Options map[string]string
}

// Options is the mount configuration struct per spec.md §6's option
// table.
type Options struct {
	MountPoint       string
	Metadata         string
	Writable         bool
	DeferCopyEnabled bool
	CaseSensitive    bool
	Sources          []SourceRef
	VolumeInfo       *VolumeOverride
}

// Option mutates an Options under construction, in the functional-options
// idiom.
type Option func(*Options)

// New builds Options for mountPoint over sources, applying opts in order.
// Defaults: writable, eager copy-up, case-sensitive, no volume override.
func New(mountPoint string, sources []SourceRef, opts ...Option) *Options {
	o := &Options{
		MountPoint:    mountPoint,
		Metadata:      ".unionfs-metadata",
		Writable:      true,
		CaseSensitive: true,
		Sources:       sources,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithMetadataFile(name string) Option {
	return func(o *Options) { o.Metadata = name }
}

func WithWritable(writable bool) Option {
	return func(o *Options) { o.Writable = writable }
}

func WithDeferCopyEnabled(enabled bool) Option {
	return func(o *Options) { o.DeferCopyEnabled = enabled }
}

func WithCaseSensitive(caseSensitive bool) Option {
	return func(o *Options) { o.CaseSensitive = caseSensitive }
}

func WithVolumeInfo(v *VolumeOverride) Option {
	return func(o *Options) { o.VolumeInfo = v }
}

// Validate checks the option set is internally consistent, independent
// of any particular loader.
func (o *Options) Validate() error {
	if o.MountPoint == "" {
		return fmt.Errorf("config: mountPoint is required")
	}
	if len(o.Sources) == 0 {
		return fmt.Errorf("config: at least one source is required")
	}
	if o.Metadata == "" {
		return fmt.Errorf("config: metadata filename is required")
	}
	return nil
}

// ResolveRelativeTo resolves every relative source path against baseDir.
// It never mutates process state (no os.Chdir) — paths are joined
// explicitly, so concurrent mounts resolving different base directories
// never race against each other.
func (o *Options) ResolveRelativeTo(baseDir string) {
	for i := range o.Sources {
		if !filepath.IsAbs(o.Sources[i].Path) {
			o.Sources[i].Path = filepath.Join(baseDir, o.Sources[i].Path)
		}
	}
}
