// Package vfserrors defines the error taxonomy surfaced by the composite
// mount engine: a set of sentinel errors grouped by kind, plus constructor
// helpers that wrap a sentinel with path/operation context while staying
// unwrappable via errors.Is.
package vfserrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the taxonomy in the engine design: the
// resolver, copy-up engine, and metadata store all report one of these.
type Kind int

const (
	KindInternal Kind = iota
	KindNotExists
	KindAlreadyExists
	KindAccessDenied
	KindInvalidRename
	KindPluginError
	KindMetadataCorrupt
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotExists:
		return "NotExists"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindAccessDenied:
		return "AccessDenied"
	case KindInvalidRename:
		return "InvalidRename"
	case KindPluginError:
		return "PluginError"
	case KindMetadataCorrupt:
		return "MetadataCorrupt"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Sentinel errors. Use errors.Is against these; Error.Unwrap returns them.
var (
	ErrNotExists       = errors.New("vfs: not exists")
	ErrAlreadyExists   = errors.New("vfs: already exists")
	ErrAccessDenied    = errors.New("vfs: access denied")
	ErrInvalidRename   = errors.New("vfs: invalid rename")
	ErrPluginError     = errors.New("vfs: plugin error")
	ErrMetadataCorrupt = errors.New("vfs: metadata corrupt")
	ErrCancelled       = errors.New("vfs: cancelled")
	ErrInternal        = errors.New("vfs: internal invariant violation")
)

func kindSentinel(k Kind) error {
	switch k {
	case KindNotExists:
		return ErrNotExists
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindAccessDenied:
		return ErrAccessDenied
	case KindInvalidRename:
		return ErrInvalidRename
	case KindPluginError:
		return ErrPluginError
	case KindMetadataCorrupt:
		return ErrMetadataCorrupt
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrInternal
	}
}

// Error is the composite error type surfaced to the bridge. It always
// unwraps to one of the sentinel Kind errors above, optionally carries an
// inner plugin-specific error, and can carry a Win32-equivalent code for
// callers that need to map back onto a Windows-style bridge.
type Error struct {
	Kind    Kind
	Op      string
	Path    string
	Inner   error
	WinCode uint32
}

func (e *Error) Error() string {
	sentinel := kindSentinel(e.Kind)
	switch {
	case e.Op != "" && e.Path != "" && e.Inner != nil:
		return fmt.Sprintf("%s: %s %q: %v", sentinel, e.Op, e.Path, e.Inner)
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s: %s %q", sentinel, e.Op, e.Path)
	case e.Path != "":
		return fmt.Sprintf("%s: %q", sentinel, e.Path)
	case e.Inner != nil:
		return fmt.Sprintf("%s: %v", sentinel, e.Inner)
	default:
		return sentinel.Error()
	}
}

func (e *Error) Unwrap() error {
	return kindSentinel(e.Kind)
}

// New builds an *Error of the given kind for op on path, optionally
// wrapping an inner (plugin-specific) error.
func New(kind Kind, op, path string, inner error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Inner: inner}
}

// WithWinCode attaches a Win32-equivalent code and returns the receiver,
// for the bridge error-code carrying requirement (see external interfaces).
func (e *Error) WithWinCode(code uint32) *Error {
	e.WinCode = code
	return e
}

// Convenience constructors mirroring the teacher's per-domain helper style
// (data/errors/path.go, data/errors/backend.go).

func NotExists(op, path string) *Error {
	return New(KindNotExists, op, path, nil)
}

func AlreadyExists(op, path string) *Error {
	return New(KindAlreadyExists, op, path, nil)
}

func AccessDenied(op, path string) *Error {
	return New(KindAccessDenied, op, path, nil)
}

func InvalidRename(op, path string, reason error) *Error {
	return New(KindInvalidRename, op, path, reason)
}

func PluginError(op, path string, inner error) *Error {
	return New(KindPluginError, op, path, inner)
}

func MetadataCorrupt(op, path string, inner error) *Error {
	return New(KindMetadataCorrupt, op, path, inner)
}

func Cancelled(op, path string) *Error {
	return New(KindCancelled, op, path, nil)
}

func Internal(op, path string, inner error) *Error {
	return New(KindInternal, op, path, inner)
}

// Is reports whether err (or anything it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kindSentinel(kind))
}
