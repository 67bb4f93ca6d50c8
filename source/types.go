// Package source defines the SourceMount contract (spec.md §4.2): the
// capability set every backing namespace — real directory, archive,
// CUE-sheet view, S3 bucket, whatever — must expose to participate in a
// composite mount's source stack. The core consumes this interface; it
// never implements a production source itself (those live under
// sources/*, grounded on the teacher's mount/backend/* adapters, as
// reference implementations; the engine's own tests use in-package fakes
// instead and do not exercise them).
package source

import "time"

// FileType identifies the kind of object a source exposes.
type FileType int

const (
	TypeFile FileType = iota
	TypeDirectory
	TypeSymlink
	TypeDevice
	TypeSocket
)

// FileMode mirrors Go's io/fs.FileMode bit layout closely enough for the
// composite mount's own bookkeeping while staying independent of it, so
// sources can be implemented against this package alone.
type FileMode uint32

const (
	ModeDir  FileMode = 1 << 31
	ModeLink FileMode = 1 << 30
	ModePerm FileMode = 0777
)

func (m FileMode) IsDir() bool  { return m&ModeDir != 0 }
func (m FileMode) IsLink() bool { return m&ModeLink != 0 }
func (m FileMode) Perm() FileMode {
	return m & ModePerm
}

// Info is the metadata a source returns for GetFileInfo/ListFiles.
type Info struct {
	Name    string
	Type    FileType
	Size    int64
	Mode    FileMode
	ModTime time.Time
	// AccessTime and CreateTime are best-effort; zero when the source
	// doesn't track them (e.g. most archive views).
	AccessTime time.Time
	CreateTime time.Time
}

// AccessMode is the open()-style access flags a caller requests.
type AccessMode uint8

const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
)

func (a AccessMode) CanRead() bool  { return a&AccessRead != 0 }
func (a AccessMode) CanWrite() bool { return a&AccessWrite != 0 }

// ShareMode describes what concurrent access the caller tolerates from
// other opens of the same real path; sources that can't honor sharing
// finer than "exclusive" are free to ignore anything stricter.
type ShareMode uint8

const (
	ShareRead ShareMode = 1 << iota
	ShareWrite
	ShareDelete
)

// Disposition is the create/open disposition (CREATE_NEW, OPEN_EXISTING,
// etc., expressed without the Win32 naming).
type Disposition int

const (
	DispositionOpenExisting Disposition = iota
	DispositionCreate
	DispositionCreateOrOpen
	DispositionTruncateExisting
)

// Handle identifies an open stream within a single source. Its meaning is
// entirely up to the source implementation — the engine treats it
// opaquely and always pairs it with the FileContext that produced it.
type Handle any

// VolumeInfo is what Mount.VolumeInfo reports, and what a mount's
// volumeInfo override (spec.md §6) may replace fields of.
type VolumeInfo struct {
	Name                string
	Serial              uint32
	MaxComponentLen      uint32
	FileSystemName      string
	Flags               uint32
	FreeBytes           uint64
	TotalBytes          uint64
	TotalFreeBytes      uint64
}

// Capability is one optional feature a source may or may not support
// (e.g. whether a source streams rather than seeks), as reported by
// Mount.Capabilities. CopyUpEngine and Resolver do not consult it.
type Capability string

const (
	CapabilityWritable  Capability = "writable"
	CapabilityStreaming Capability = "streaming" // export-only, no random seek
)
