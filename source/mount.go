package source

import (
	"context"
	"io"
)

// Portation is the per-copy-up streaming state a source hands back from
// ExportStart and must accept on every subsequent ExportData/ExportFinish
// call. Sources that can only stream (archives, CUE views) use it to
// track their read cursor without requiring Seek.
type Portation any

// Mount is the SourceMount trait of spec.md §4.2. Every method takes the
// real path already translated by the Resolver — a source never sees a
// virtual path. Read-only sources must fail every mutating method with
// vfserrors.AccessDenied. All methods must be safe to call concurrently
// from distinct FileContexts/Portations; ordering within one such context
// is the caller's responsibility (the composite mount serializes it).
type Mount interface {
	// Name identifies the source for logging and error messages.
	Name() string

	// Writable reports whether this source accepts mutation. A source
	// stack's rank-0 member must be Writable; all others must not be.
	Writable() bool

	// GetFileInfo returns attributes for realPath, or an error wrapping
	// vfserrors.ErrNotExists if nothing exists there.
	GetFileInfo(ctx context.Context, realPath string) (*Info, error)

	// ListFiles invokes fn once per child of the directory at realPath,
	// stopping early (without error) if fn returns false.
	ListFiles(ctx context.Context, realPath string, fn func(*Info) bool) error

	// Open prepares realPath for a stream of I/O under access/share, per
	// disposition, and returns a source-private Handle plus the file's
	// current Info (for callers that need the size/mode right away).
	Open(ctx context.Context, realPath string, access AccessMode, share ShareMode, disposition Disposition) (Handle, *Info, error)

	// Close releases a Handle returned by Open.
	Close(ctx context.Context, h Handle) error

	// Read fills buf starting at offset. A short read is only permitted
	// at EOF, per io.ReaderAt's contract.
	Read(ctx context.Context, h Handle, offset int64, buf []byte) (int, error)

	// Write stores buf starting at offset. Fails with
	// vfserrors.ErrAccessDenied on a read-only source.
	Write(ctx context.Context, h Handle, offset int64, buf []byte) (int, error)

	// SetTimes updates access/modify times; zero values are left alone.
	SetTimes(ctx context.Context, realPath string, access, modify, create Int64Opt) error
	// SetAttrs updates the Unix-style mode bits.
	SetAttrs(ctx context.Context, realPath string, mode FileMode) error
	// SetSize truncates or extends the file at realPath.
	SetSize(ctx context.Context, realPath string, size int64) error

	// CreateFile creates a new regular file at realPath.
	CreateFile(ctx context.Context, realPath string, mode FileMode) error
	// CreateDir creates a new directory at realPath.
	CreateDir(ctx context.Context, realPath string, mode FileMode) error
	// Delete removes the file or (if recursive) directory tree at
	// realPath.
	Delete(ctx context.Context, realPath string, recursive bool) error

	// ExportStart begins a bounded, ordered streaming read of realPath for
	// copy-up, returning an opaque Portation.
	ExportStart(ctx context.Context, realPath string) (Portation, error)
	// ExportData reads the next chunk into buf (sized by the caller,
	// typically 64KiB-1MiB per spec.md §4.4), returning
	// io.EOF once the stream is exhausted.
	ExportData(ctx context.Context, p Portation, buf []byte) (int, error)
	// ExportFinish releases a Portation. success indicates whether the
	// caller consumed the whole stream without error.
	ExportFinish(ctx context.Context, p Portation, success bool) error

	// VolumeInfo reports this source's filesystem-level attributes.
	VolumeInfo(ctx context.Context) (*VolumeInfo, error)

	// Capabilities reports optional features (see Capability).
	Capabilities() []Capability
}

// Int64Opt carries the "zero values are left alone" convention for
// SetTimes without overloading int64's own zero value, which is a
// legitimate timestamp (the Unix epoch).
type Int64Opt struct {
	Value int64
	Set   bool
}

// Int64(v) wraps v as a present value.
func Int64(v int64) Int64Opt { return Int64Opt{Value: v, Set: true} }

// NoInt64 is the "leave alone" sentinel for SetTimes fields.
var NoInt64 = Int64Opt{}

// ReaderAt adapts a Mount+Handle pair to io.ReaderAt for callers that
// want the standard interface. CopyUpEngine does not use it; it streams
// through ExportStart/ExportData/ExportFinish.
type ReaderAt struct {
	Ctx    context.Context
	Mount  Mount
	Handle Handle
}

func (r ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.Mount.Read(r.Ctx, r.Handle, off, p)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
